package memtransport

import (
	"context"
	"testing"
	"time"

	"github.com/dermesser/brokerrpc/transport"
	"github.com/dermesser/brokerrpc/wire"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	a := New(bus)
	b := New(bus)
	ctx := context.Background()
	a.Connect(ctx)
	b.Connect(ctx)

	received := make(chan *wire.Packet, 1)
	topic := transport.ForNode(transport.KindRequest, "node-b")
	if err := b.Subscribe(topic, func(p *wire.Packet) { received <- p }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pkt := &wire.Packet{Kind: wire.KindRequest, Request: &wire.RequestPayload{Action: "math.add"}}
	if err := a.Publish(ctx, topic, pkt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got.Request.Action != "math.add" {
			t.Fatalf("unexpected payload: %+v", got.Request)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestDisconnectStopsDelivery(t *testing.T) {
	bus := NewBus()
	a := New(bus)
	b := New(bus)
	ctx := context.Background()
	a.Connect(ctx)
	b.Connect(ctx)

	topic := transport.Global(transport.KindHeartbeat)
	received := make(chan struct{}, 1)
	b.Subscribe(topic, func(p *wire.Packet) { received <- struct{}{} })
	b.Disconnect(ctx)

	a.Publish(ctx, topic, &wire.Packet{Kind: wire.KindHeartbeat, Heartbeat: &wire.HeartbeatPayload{}})

	select {
	case <-received:
		t.Fatal("expected no delivery after disconnect")
	case <-time.After(100 * time.Millisecond):
	}
}
