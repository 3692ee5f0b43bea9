package transit

import (
	"sync"
	"time"

	"github.com/dermesser/brokerrpc/wire"
)

// result is what a pending slot resolves to: either data or a
// ResponseError, exactly one of which is set.
type result struct {
	data []byte
	err  *wire.ResponseError
}

// pendingSlot is the record of one in-flight request awaiting a RESPONSE.
// Resolution is single-shot: whichever of resolve/reject/timeout fires
// first wins, guarded by once, matching the concurrency model's "exactly
// one of {resolve, reject, timeout} ever fires" invariant.
type pendingSlot struct {
	once   sync.Once
	done   chan result
	timer  *time.Timer
	nodeID string
}

func newPendingSlot(nodeID string) *pendingSlot {
	return &pendingSlot{done: make(chan result, 1), nodeID: nodeID}
}

func (s *pendingSlot) resolve(r result) {
	s.once.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.done <- r
	})
}

// pendingTable is the requestId -> pendingSlot map described by the
// component design's transit layer (C9).
type pendingTable struct {
	mu    sync.Mutex
	slots map[string]*pendingSlot
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[string]*pendingSlot)}
}

// register creates and stores a slot for requestID, arming a timer that
// rejects with a REQUEST_TIMEOUT-shaped error after timeout elapses.
func (t *pendingTable) register(requestID, nodeID string, timeout time.Duration) *pendingSlot {
	slot := newPendingSlot(nodeID)

	t.mu.Lock()
	t.slots[requestID] = slot
	t.mu.Unlock()

	slot.timer = time.AfterFunc(timeout, func() {
		slot.resolve(result{err: &wire.ResponseError{
			Kind:    wire.KindRequestTimeout,
			Message: "timed out waiting for response",
			NodeID:  nodeID,
		}})
	})
	return slot
}

func (t *pendingTable) forget(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, requestID)
}

func (t *pendingTable) resolve(requestID string, r result) bool {
	t.mu.Lock()
	slot, ok := t.slots[requestID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	slot.resolve(r)
	return true
}

// rejectAll resolves every currently pending slot with the given error. Its
// one caller is Transit.Disconnect, which passes BROKER_STOPPING on broker
// Stop.
func (t *pendingTable) rejectAll(kind wire.Kind, message string) {
	t.mu.Lock()
	slots := make([]*pendingSlot, 0, len(t.slots))
	for _, s := range t.slots {
		slots = append(slots, s)
	}
	t.mu.Unlock()

	for _, s := range slots {
		s.resolve(result{err: &wire.ResponseError{Kind: kind, Message: message, NodeID: s.nodeID}})
	}
}

// rejectForNode resolves every slot awaiting a response from nodeID with a
// NODE_DISCONNECTED error, used when the registry reports that node gone.
func (t *pendingTable) rejectForNode(nodeID string) {
	t.mu.Lock()
	var slots []*pendingSlot
	for _, s := range t.slots {
		if s.nodeID == nodeID {
			slots = append(slots, s)
		}
	}
	t.mu.Unlock()

	for _, s := range slots {
		s.resolve(result{err: &wire.ResponseError{
			Kind:    wire.KindNodeDisconnected,
			Message: "target node disconnected",
			NodeID:  nodeID,
		}})
	}
}
