package brokerrpc

import (
	"testing"
	"time"

	"github.com/dermesser/brokerrpc/cacher/memcacher"
	"github.com/dermesser/brokerrpc/transport/memtransport"
	"github.com/dermesser/brokerrpc/wire"
)

func TestNewBrokerOptionsDefaults(t *testing.T) {
	tr := memtransport.New(memtransport.NewBus())
	o := NewBrokerOptions("node-1", tr, wire.NewProtobufSerializer())

	if o.RequestRetry != 1 {
		t.Fatalf("expected default RequestRetry 1, got %d", o.RequestRetry)
	}
	if o.HeartbeatInterval != 10*time.Second {
		t.Fatalf("unexpected default HeartbeatInterval: %v", o.HeartbeatInterval)
	}
	if o.Cacher != nil {
		t.Fatal("expected no default Cacher")
	}
}

func TestOptionsFunctionalOverrides(t *testing.T) {
	tr := memtransport.New(memtransport.NewBus())
	o := NewBrokerOptions("node-1", tr, wire.NewProtobufSerializer(),
		WithRequestRetry(3),
		WithRequestTimeout(time.Second),
		WithCacher(memcacher.New()),
	)
	if o.RequestRetry != 3 {
		t.Fatalf("expected RequestRetry 3, got %d", o.RequestRetry)
	}
	if o.RequestTimeout != time.Second {
		t.Fatalf("expected RequestTimeout 1s, got %v", o.RequestTimeout)
	}
	if o.Cacher == nil {
		t.Fatal("expected Cacher to be set")
	}
}

func TestOptionsSettersMutateAfterConstruction(t *testing.T) {
	tr := memtransport.New(memtransport.NewBus())
	o := NewBrokerOptions("node-1", tr, wire.NewProtobufSerializer())
	o.SetRequestRetry(5)
	o.SetRequestTimeout(3 * time.Second)
	if o.RequestRetry != 5 || o.RequestTimeout != 3*time.Second {
		t.Fatalf("setters did not take effect: %+v", o)
	}
}
