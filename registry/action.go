package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dermesser/brokerrpc/wire"
)

// LocalHandler is the invocation contract for a locally hosted action. It
// takes raw, already-validated params and the call's propagated metadata,
// and returns raw result bytes or an error. The broker package is
// responsible for translating between this and its own Context type; the
// registry stays agnostic of that so it can be tested and reused without
// pulling in the broker's call-orchestration code.
type LocalHandler func(ctx context.Context, params []byte, meta map[string]string) ([]byte, error)

// Endpoint is a (node, service, action) tuple that can serve a call,
// together with its circuit breaker state and load counters.
type Endpoint struct {
	Node           *Node
	ServiceName    string
	ServiceVersion string
	Action         wire.ActionDescriptor
	Local          bool
	Handler        LocalHandler

	breaker *breaker

	requests uint64
	inFlight int64

	mu            sync.Mutex
	lastFailureAt time.Time
}

func newEndpoint(n *Node, svcName, svcVer string, action wire.ActionDescriptor, local bool, h LocalHandler, cfg BreakerConfig) *Endpoint {
	return &Endpoint{
		Node:           n,
		ServiceName:    svcName,
		ServiceVersion: svcVer,
		Action:         action,
		Local:          local,
		Handler:        h,
		breaker:        newBreaker(cfg),
	}
}

func (e *Endpoint) Requests() uint64 { return atomic.LoadUint64(&e.requests) }
func (e *Endpoint) InFlight() int64  { return atomic.LoadInt64(&e.inFlight) }
func (e *Endpoint) State() BreakerState {
	return e.breaker.currentState()
}
func (e *Endpoint) LastFailureAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFailureAt
}

// AvailableView reports availability for read-only listing purposes: the
// node must be up and the circuit must not be OPEN. It does not perform the
// OPEN->HALF_OPEN probe transition; only SelectEndpoint does that, since
// listing an endpoint should not itself consume the single half-open probe
// slot.
func (e *Endpoint) AvailableView() bool {
	return e.Node.Available && e.State() != StateOpen
}

func (e *Endpoint) beginRequest() {
	atomic.AddUint64(&e.requests, 1)
	atomic.AddInt64(&e.inFlight, 1)
}

func (e *Endpoint) endRequest(retryableFailure bool) {
	atomic.AddInt64(&e.inFlight, -1)
	now := time.Now()
	if retryableFailure {
		e.mu.Lock()
		e.lastFailureAt = now
		e.mu.Unlock()
		e.breaker.recordFailure(now)
	} else {
		e.breaker.recordSuccess()
	}
}

// RecordSuccess and RecordFailure are the public counterparts of
// beginRequest/endRequest, used by the broker after a call
// resolves. failure should be reported only for the failure kinds the
// component design counts against the breaker (transport timeout,
// retryable broker errors) -- never for validation errors or user errors.
func (e *Endpoint) RecordSuccess() { e.endRequest(false) }
func (e *Endpoint) RecordFailure() { e.endRequest(true) }
func (e *Endpoint) RecordDispatch() { e.beginRequest() }

// updateDescriptor refreshes the descriptor and handler for an already
// existing endpoint in place. It never touches breaker, requests, inFlight
// or lastFailureAt, so a reconcile that re-announces the same or a changed
// descriptor for a node that's already registered does not reset the
// endpoint's live circuit-breaker state or counters.
func (e *Endpoint) updateDescriptor(svcName, svcVer string, action wire.ActionDescriptor, local bool, h LocalHandler) {
	e.ServiceName = svcName
	e.ServiceVersion = svcVer
	e.Action = action
	e.Local = local
	e.Handler = h
}

// ActionEntry is, for one globally known action name, the ordered list of
// endpoints that can serve it (one per hosting node) plus the strategy used
// to pick among them. The candidate order is insertion order (first node to
// register for this action comes first) and stays fixed across calls, since
// RoundRobinStrategy's cursor only walks in round-robin fashion if it's
// handed the same sequence every time -- a map's range order is randomized
// per iteration in Go and cannot back this without breaking that guarantee.
type ActionEntry struct {
	Name      string
	endpoints map[string]*Endpoint // nodeID -> Endpoint, for O(1) lookup
	order     []string             // nodeID, in first-registration order
	strategy  Strategy
}

func newActionEntry(name string, strategy Strategy) *ActionEntry {
	return &ActionEntry{Name: name, endpoints: make(map[string]*Endpoint), strategy: strategy}
}

func (a *ActionEntry) put(e *Endpoint) {
	if _, exists := a.endpoints[e.Node.ID]; !exists {
		a.order = append(a.order, e.Node.ID)
	}
	a.endpoints[e.Node.ID] = e
}
func (a *ActionEntry) remove(nodeID string) {
	if _, ok := a.endpoints[nodeID]; !ok {
		return
	}
	delete(a.endpoints, nodeID)
	for i, id := range a.order {
		if id == nodeID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}
func (a *ActionEntry) get(nodeID string) (*Endpoint, bool) {
	e, ok := a.endpoints[nodeID]
	return e, ok
}
func (a *ActionEntry) all() []*Endpoint {
	out := make([]*Endpoint, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.endpoints[id])
	}
	return out
}
func (a *ActionEntry) empty() bool { return len(a.endpoints) == 0 }

// selectableNowSingle applies the same selectability check as
// selectableNow, for the single-endpoint pinned-node path.
func (e *Endpoint) selectableNowSingle(now time.Time) bool {
	return e.Node.Available && e.breaker.selectable(now)
}

// selectableNow filters to endpoints whose node is up and whose circuit
// permits a call right now, applying the breaker's OPEN->HALF_OPEN
// transition as a side effect (this is the "on select" moment the
// component design calls out for that transition). Candidates are walked in
// the entry's stable order, so a Strategy with its own cursor (e.g.
// RoundRobinStrategy) sees the same sequence on every call.
func (a *ActionEntry) selectableNow(now time.Time) []*Endpoint {
	var out []*Endpoint
	for _, id := range a.order {
		e := a.endpoints[id]
		if e.Node.Available && e.breaker.selectable(now) {
			out = append(out, e)
		}
	}
	return out
}

// actionCatalog maps action name -> ActionEntry. No lock of its own; callers
// hold Registry.mu.
type actionCatalog struct {
	entries         map[string]*ActionEntry
	strategyFactory func() Strategy
	breakerCfg      BreakerConfig
}

func newActionCatalog(strategyFactory func() Strategy, breakerCfg BreakerConfig) *actionCatalog {
	return &actionCatalog{entries: make(map[string]*ActionEntry), strategyFactory: strategyFactory, breakerCfg: breakerCfg}
}

func (c *actionCatalog) entry(name string) (*ActionEntry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

func (c *actionCatalog) entryOrCreate(name string) *ActionEntry {
	e, ok := c.entries[name]
	if !ok {
		e = newActionEntry(name, c.strategyFactory())
		c.entries[name] = e
	}
	return e
}

// upsert adds the endpoint for (actionName, node) if it doesn't exist yet,
// or updates its descriptor and handler in place if it does -- a repeat
// reconcile of an already-known endpoint must not reset its breaker state
// or counters.
func (c *actionCatalog) upsert(actionName string, n *Node, svcName, svcVer string, action wire.ActionDescriptor, local bool, h LocalHandler) *Endpoint {
	entry := c.entryOrCreate(actionName)
	if existing, ok := entry.get(n.ID); ok {
		existing.updateDescriptor(svcName, svcVer, action, local, h)
		return existing
	}
	e := newEndpoint(n, svcName, svcVer, action, local, h, c.breakerCfg)
	entry.put(e)
	return e
}

// removeNode removes any endpoint for nodeID from actionName's entry,
// pruning the entry entirely if it becomes empty.
func (c *actionCatalog) removeNode(actionName, nodeID string) {
	entry, ok := c.entries[actionName]
	if !ok {
		return
	}
	entry.remove(nodeID)
	if entry.empty() {
		delete(c.entries, actionName)
	}
}

// removeNodeEverywhere drops every endpoint hosted by nodeID, across all
// actions. Used on node disconnect.
func (c *actionCatalog) removeNodeEverywhere(nodeID string) {
	for name, entry := range c.entries {
		entry.remove(nodeID)
		if entry.empty() {
			delete(c.entries, name)
		}
	}
}
