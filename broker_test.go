package brokerrpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dermesser/brokerrpc/transport/memtransport"
	"github.com/dermesser/brokerrpc/wire"
)

func newTestBroker(nodeID string, tr *memtransport.Transport, opts ...Option) *Broker {
	o := NewBrokerOptions(nodeID, tr, wire.NewProtobufSerializer(), opts...)
	o.SetHeartbeatInterval(time.Hour)
	o.SetHeartbeatTimeout(time.Hour)
	o.SetRequestTimeout(2 * time.Second)
	return New(o)
}

func TestCallLocalAction(t *testing.T) {
	bus := memtransport.NewBus()
	b := newTestBroker("solo", memtransport.New(bus))
	b.DefineAction("math", "1", "add", false, nil, func(ctx *Context, params []byte) ([]byte, error) {
		return append([]byte("sum:"), params...), nil
	})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(context.Background())

	data, err := b.Call("math.add", []byte("42"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(data) != "sum:42" {
		t.Fatalf("unexpected result: %s", data)
	}
}

func TestCallUnknownActionIsServiceNotFound(t *testing.T) {
	bus := memtransport.NewBus()
	b := newTestBroker("solo", memtransport.New(bus))
	b.Start(context.Background())
	defer b.Stop(context.Background())

	_, err := b.Call("ghost.action", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	be, ok := err.(*BrokerError)
	if !ok || be.Kind != KindServiceNotFound {
		t.Fatalf("expected KindServiceNotFound, got %+v", err)
	}
}

func TestCallRemoteAction(t *testing.T) {
	bus := memtransport.NewBus()

	server := newTestBroker("server", memtransport.New(bus))
	server.DefineAction("math", "1", "double", false, nil, func(ctx *Context, params []byte) ([]byte, error) {
		return append([]byte("2x:"), params...), nil
	})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	defer server.Stop(context.Background())

	client := newTestBroker("client", memtransport.New(bus))
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Stop(context.Background())

	// Give the client's registry a chance to learn about the server's
	// action via the server's initial INFO broadcast.
	time.Sleep(50 * time.Millisecond)

	data, err := client.Call("math.double", []byte("21"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(data) != "2x:21" {
		t.Fatalf("unexpected result: %s", data)
	}
}

func TestCallOnUnavailableActionAfterDisconnect(t *testing.T) {
	bus := memtransport.NewBus()

	server := newTestBroker("server", memtransport.New(bus))
	server.DefineAction("greet", "1", "hello", false, nil, func(ctx *Context, params []byte) ([]byte, error) {
		return []byte("hi"), nil
	})
	server.Start(context.Background())

	client := newTestBroker("client", memtransport.New(bus))
	client.Start(context.Background())
	defer client.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	if _, err := client.Call("greet.hello", nil); err != nil {
		t.Fatalf("first Call: %v", err)
	}

	server.Stop(context.Background())
	time.Sleep(50 * time.Millisecond)

	_, err := client.Call("greet.hello", nil)
	if err == nil {
		t.Fatal("expected error after server disconnect")
	}
	// The disconnect cascade removes the endpoint entirely (not merely
	// marks it unavailable), so the action entry disappears and selection
	// fails with ServiceNotFound rather than ServiceNotAvailable.
	be, ok := err.(*BrokerError)
	if !ok || be.Kind != KindServiceNotFound {
		t.Fatalf("expected KindServiceNotFound, got %+v", err)
	}
}

func TestEmitGroupBalancedAcrossLocalSubscribers(t *testing.T) {
	bus := memtransport.NewBus()
	b := newTestBroker("solo", memtransport.New(bus))

	received := make(chan string, 8)
	b.DefineEvent("a", "1", "workers", "job.created", func(ctx *Context, data []byte) error {
		received <- "a:" + string(data)
		return nil
	})
	b.DefineEvent("b", "1", "workers", "job.created", func(ctx *Context, data []byte) error {
		received <- "b:" + string(data)
		return nil
	})
	b.Start(context.Background())
	defer b.Stop(context.Background())

	if err := b.Emit("job.created", []byte("x")); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
	select {
	case <-received:
		t.Fatal("group-balanced emit delivered to more than one subscriber in the same group")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastReachesEveryLocalSubscriber(t *testing.T) {
	bus := memtransport.NewBus()
	b := newTestBroker("solo", memtransport.New(bus))

	received := make(chan string, 8)
	b.DefineEvent("a", "1", "", "user.created", func(ctx *Context, data []byte) error {
		received <- "a"
		return nil
	})
	b.DefineEvent("b", "1", "", "user.created", func(ctx *Context, data []byte) error {
		received <- "b"
		return nil
	})
	b.Start(context.Background())
	defer b.Stop(context.Background())

	if err := b.Broadcast("user.created", []byte("x")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case who := <-received:
			seen[who] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for broadcast delivery, saw %v so far", seen)
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected both subscribers to receive the broadcast, got %v", seen)
	}
}

func TestNodeHealthReflectsLameduck(t *testing.T) {
	bus := memtransport.NewBus()
	b := newTestBroker("solo", memtransport.New(bus))
	b.Start(context.Background())
	defer b.Stop(context.Background())

	data, err := b.Call("$node.health", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(data) == "" {
		t.Fatal("expected non-empty health payload")
	}

	b.SetLameduck(true)
	data2, err := b.Call("$node.health", nil)
	if err != nil {
		t.Fatalf("Call after lameduck: %v", err)
	}
	if string(data) == string(data2) {
		t.Fatal("expected health payload to change once lameduck is set")
	}
}

func TestLoadshedRejectsNewCalls(t *testing.T) {
	bus := memtransport.NewBus()
	b := newTestBroker("solo", memtransport.New(bus))
	b.DefineAction("svc", "1", "op", false, nil, func(ctx *Context, params []byte) ([]byte, error) {
		return []byte("ok"), nil
	})
	b.Start(context.Background())
	defer b.Stop(context.Background())

	b.SetLoadshed(true)
	_, err := b.Call("svc.op", nil)
	if err == nil {
		t.Fatal("expected error while loadshedding")
	}
	be, ok := err.(*BrokerError)
	if !ok || be.Kind != KindServiceNotAvailable {
		t.Fatalf("expected KindServiceNotAvailable, got %+v", err)
	}
}

func TestNestedCallViaContext(t *testing.T) {
	bus := memtransport.NewBus()
	b := newTestBroker("solo", memtransport.New(bus))
	b.DefineAction("math", "1", "inc", false, nil, func(ctx *Context, params []byte) ([]byte, error) {
		return []byte("1"), nil
	})
	b.DefineAction("math", "1", "incTwice", false, nil, func(ctx *Context, params []byte) ([]byte, error) {
		first, err := ctx.Call("math.inc", nil)
		if err != nil {
			return nil, err
		}
		second, err := ctx.Call("math.inc", nil)
		if err != nil {
			return nil, err
		}
		return append(first, second...), nil
	})
	b.Start(context.Background())
	defer b.Stop(context.Background())

	data, err := b.Call("math.incTwice", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(data) != "11" {
		t.Fatalf("unexpected result: %s", data)
	}
}

// TestCallRetriesSingleEndpointOnTimeout exercises the case where the acting
// node has exactly one endpoint for the called action: excluding it after a
// timed-out attempt must not make retry selection fail outright, and the
// error returned after the retry budget is exhausted must be the real
// dispatch failure (a timeout), not a selection error.
func TestCallRetriesSingleEndpointOnTimeout(t *testing.T) {
	bus := memtransport.NewBus()

	var attempts int64
	server := newTestBroker("server", memtransport.New(bus))
	server.DefineAction("slow", "1", "op", false, nil, func(ctx *Context, params []byte) ([]byte, error) {
		atomic.AddInt64(&attempts, 1)
		time.Sleep(time.Second)
		return []byte("too late"), nil
	})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	defer server.Stop(context.Background())

	client := newTestBroker("client", memtransport.New(bus))
	client.opts.SetRequestTimeout(50 * time.Millisecond)
	client.opts.SetRequestRetry(1)
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	_, err := client.Call("slow.op", nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	be, ok := err.(*BrokerError)
	if !ok || be.Kind != KindRequestTimeout {
		t.Fatalf("expected KindRequestTimeout, got %+v", err)
	}

	// Give the server's second, still-sleeping invocation time to register
	// before we count attempts.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&attempts); got != 2 {
		t.Fatalf("expected exactly 2 dispatch attempts (initial + one retry), got %d", got)
	}
}
