package transit

import (
	"context"
	"testing"
	"time"

	"github.com/dermesser/brokerrpc/transport/memtransport"
	"github.com/dermesser/brokerrpc/wire"
)

type stubDispatcher struct {
	invoke func(ctx context.Context, req *wire.RequestPayload) ([]byte, *wire.ResponseError)
	events chan *wire.EventPayload
	infos  chan *wire.InfoPayload
}

func newStubDispatcher() *stubDispatcher {
	return &stubDispatcher{events: make(chan *wire.EventPayload, 4), infos: make(chan *wire.InfoPayload, 4)}
}

func (s *stubDispatcher) InvokeLocal(ctx context.Context, req *wire.RequestPayload) ([]byte, *wire.ResponseError) {
	if s.invoke != nil {
		return s.invoke(ctx, req)
	}
	return []byte("ok"), nil
}
func (s *stubDispatcher) HandleEvent(ctx context.Context, sender string, ev *wire.EventPayload) {
	s.events <- ev
}
func (s *stubDispatcher) HandleInfo(nodeID string, info *wire.InfoPayload)      { s.infos <- info }
func (s *stubDispatcher) HandleHeartbeat(nodeID string, hb *wire.HeartbeatPayload) {}
func (s *stubDispatcher) HandleDisconnect(nodeID string, unexpected bool)      {}
func (s *stubDispatcher) HandleDiscover(nodeID string)                        {}

func TestSendRequestRoundTrip(t *testing.T) {
	bus := memtransport.NewBus()
	ctx := context.Background()

	clientDisp := newStubDispatcher()
	client := New(Config{LocalNodeID: "client", Transport: memtransport.New(bus), Dispatcher: clientDisp, HeartbeatInterval: time.Hour})
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	defer client.Disconnect(ctx)

	serverDisp := newStubDispatcher()
	serverDisp.invoke = func(ctx context.Context, req *wire.RequestPayload) ([]byte, *wire.ResponseError) {
		return []byte("pong:" + req.Action), nil
	}
	server := New(Config{LocalNodeID: "server", Transport: memtransport.New(bus), Dispatcher: serverDisp, HeartbeatInterval: time.Hour})
	if err := server.Connect(ctx); err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	defer server.Disconnect(ctx)

	data, respErr, err := client.SendRequest(ctx, "server", wire.RequestPayload{
		RequestID: "rq-1", Action: "math.add",
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if respErr != nil {
		t.Fatalf("unexpected response error: %+v", respErr)
	}
	if string(data) != "pong:math.add" {
		t.Fatalf("unexpected data: %s", data)
	}
}

func TestSendRequestTimeout(t *testing.T) {
	bus := memtransport.NewBus()
	ctx := context.Background()

	clientDisp := newStubDispatcher()
	client := New(Config{LocalNodeID: "client", Transport: memtransport.New(bus), Dispatcher: clientDisp, HeartbeatInterval: time.Hour})
	client.Connect(ctx)
	defer client.Disconnect(ctx)

	_, respErr, err := client.SendRequest(ctx, "ghost", wire.RequestPayload{RequestID: "rq-2", Action: "x"}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if respErr == nil || respErr.Kind != wire.KindRequestTimeout {
		t.Fatalf("expected REQUEST_TIMEOUT, got %+v", respErr)
	}
}

func TestPublishEventReachesDispatcher(t *testing.T) {
	bus := memtransport.NewBus()
	ctx := context.Background()

	aDisp := newStubDispatcher()
	a := New(Config{LocalNodeID: "a", Transport: memtransport.New(bus), Dispatcher: aDisp, HeartbeatInterval: time.Hour})
	a.Connect(ctx)
	defer a.Disconnect(ctx)

	bDisp := newStubDispatcher()
	b := New(Config{LocalNodeID: "b", Transport: memtransport.New(bus), Dispatcher: bDisp, HeartbeatInterval: time.Hour})
	b.Connect(ctx)
	defer b.Disconnect(ctx)

	if err := a.PublishEvent(ctx, "", wire.EventPayload{Event: "user.created"}); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	select {
	case ev := <-bDisp.events:
		if ev.Event != "user.created" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
