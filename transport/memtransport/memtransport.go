// Package memtransport is an in-process Transport backed by a shared bus,
// used by tests in place of a real network transport. There is no ecosystem pub/sub library for pure in-process
// delivery between goroutines in the same process; this is deliberately
// built on the standard library the way the teacher lineage's own local
// dispatch queue is, since no third-party dependency in the retrieval pack
// addresses this concern.
package memtransport

import (
	"context"
	"sync"

	"github.com/dermesser/brokerrpc/transport"
	"github.com/dermesser/brokerrpc/wire"
)

// Bus is the shared medium a set of in-process brokers publish to and
// subscribe from. Create one Bus per simulated cluster.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]transport.Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]transport.Handler)}
}

func (b *Bus) subscribe(topic string, h transport.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

func (b *Bus) publish(topic string, pkt *wire.Packet) {
	b.mu.RLock()
	hs := append([]transport.Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()
	for _, h := range hs {
		h(pkt)
	}
}

func (b *Bus) unsubscribeAll(topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
	}
}

// Transport is one broker's connection to a Bus.
type Transport struct {
	bus    *Bus
	mu     sync.Mutex
	topics []string
	closed bool
}

func New(bus *Bus) *Transport {
	return &Transport{bus: bus}
}

func (t *Transport) Connect(ctx context.Context) error {
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.bus.unsubscribeAll(t.topics)
	t.topics = nil
	return nil
}

func (t *Transport) Subscribe(topic transport.Topic, handler transport.Handler) error {
	t.mu.Lock()
	t.topics = append(t.topics, topic.String())
	t.mu.Unlock()
	t.bus.subscribe(topic.String(), handler)
	return nil
}

func (t *Transport) Publish(ctx context.Context, topic transport.Topic, pkt *wire.Packet) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil
	}
	t.bus.publish(topic.String(), pkt)
	return nil
}
