package brokerrpc

import (
	"context"
	"testing"

	"github.com/dermesser/brokerrpc/transport/memtransport"
)

func TestMiddlewareRunsInRegistrationOrder(t *testing.T) {
	bus := memtransport.NewBus()
	b := newTestBroker("solo", memtransport.New(bus))
	b.DefineAction("svc", "1", "op", false, nil, func(ctx *Context, params []byte) ([]byte, error) {
		return []byte("base"), nil
	})

	var order []string
	b.Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx *Context) ([]byte, error) {
			order = append(order, "first-in")
			data, err := next(ctx)
			order = append(order, "first-out")
			return data, err
		}
	})
	b.Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx *Context) ([]byte, error) {
			order = append(order, "second-in")
			data, err := next(ctx)
			order = append(order, "second-out")
			return data, err
		}
	})

	b.Start(context.Background())
	defer b.Stop(context.Background())

	if _, err := b.Call("svc.op", nil); err != nil {
		t.Fatalf("Call: %v", err)
	}

	want := []string{"first-in", "second-in", "second-out", "first-out"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestUsePanicsAfterStart(t *testing.T) {
	bus := memtransport.NewBus()
	b := newTestBroker("solo", memtransport.New(bus))
	b.Start(context.Background())
	defer b.Stop(context.Background())

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic registering middleware after Start")
		}
	}()
	b.Use(func(next HandlerFunc) HandlerFunc { return next })
}

func TestMiddlewareCanShortCircuit(t *testing.T) {
	bus := memtransport.NewBus()
	b := newTestBroker("solo", memtransport.New(bus))
	b.DefineAction("svc", "1", "op", false, nil, func(ctx *Context, params []byte) ([]byte, error) {
		t.Fatal("base handler should not run when middleware short-circuits")
		return nil, nil
	})
	b.Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx *Context) ([]byte, error) {
			return []byte("short-circuited"), nil
		}
	})
	b.Start(context.Background())
	defer b.Stop(context.Background())

	data, err := b.Call("svc.op", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(data) != "short-circuited" {
		t.Fatalf("unexpected result: %s", data)
	}
}

