package registry

import (
	"context"
	"testing"
	"time"

	"github.com/dermesser/brokerrpc/wire"
)

func newTestRegistry() *Registry {
	return New(DefaultOptions("local-1"))
}

func TestDefineLocalActionIsSelectable(t *testing.T) {
	r := newTestRegistry()
	r.DefineLocalAction("math", "1", wire.ActionDescriptor{Name: "add"}, func(_ context.Context, _ []byte, _ map[string]string) ([]byte, error) {
		return nil, nil
	})

	ep, err := r.SelectEndpoint("math.add", DefaultSelectOptions())
	if err != nil {
		t.Fatalf("SelectEndpoint: %v", err)
	}
	if !ep.Local {
		t.Fatalf("expected local endpoint")
	}
}

func TestProcessInfoIdempotentReconcile(t *testing.T) {
	r := newTestRegistry()
	svc := wire.ServiceDescriptor{
		Name: "math", Version: "1",
		Actions: []wire.ActionDescriptor{{Name: "add"}, {Name: "sub"}},
	}
	became := r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{svc}})
	if !became {
		t.Fatalf("expected first INFO to report becameAvailable")
	}

	eps, ok := r.GetActionEndpoints("math.add")
	if !ok || len(eps) != 1 {
		t.Fatalf("expected exactly one endpoint for math.add, got %d (ok=%v)", len(eps), ok)
	}
	ep := eps[0]
	for i := 0; i < 5; i++ {
		ep.RecordDispatch()
		ep.RecordFailure()
	}
	wantRequests, wantState := ep.Requests(), ep.State()
	if wantRequests == 0 || wantState != StateOpen {
		t.Fatalf("test setup: expected nonzero requests and an open breaker before the repeat reconcile, got requests=%d state=%v", wantRequests, wantState)
	}

	if became2 := r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{svc}}); became2 {
		t.Fatalf("second INFO for already-available node should not report becameAvailable")
	}

	eps, ok = r.GetActionEndpoints("math.add")
	if !ok || len(eps) != 1 {
		t.Fatalf("expected exactly one endpoint for math.add after repeat reconcile, got %d (ok=%v)", len(eps), ok)
	}
	if eps[0] != ep {
		t.Fatalf("expected the same *Endpoint to survive an idempotent reconcile, got a new one")
	}
	if eps[0].Requests() != wantRequests {
		t.Fatalf("expected request counter to survive an idempotent reconcile, got %d, want %d", eps[0].Requests(), wantRequests)
	}
	if eps[0].State() != wantState {
		t.Fatalf("expected breaker state to survive an idempotent reconcile, got %v, want %v", eps[0].State(), wantState)
	}
}

func TestProcessInfoReconcileRemovesDroppedAction(t *testing.T) {
	r := newTestRegistry()
	full := wire.ServiceDescriptor{
		Name: "math", Version: "1",
		Actions: []wire.ActionDescriptor{{Name: "add"}, {Name: "sub"}},
	}
	r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{full}})

	shrunk := wire.ServiceDescriptor{
		Name: "math", Version: "1",
		Actions: []wire.ActionDescriptor{{Name: "add"}},
	}
	r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{shrunk}})

	if _, ok := r.GetActionEndpoints("math.sub"); ok {
		t.Fatalf("expected math.sub to be pruned after reconcile dropped it")
	}
	if _, ok := r.GetActionEndpoints("math.add"); !ok {
		t.Fatalf("expected math.add to survive reconcile")
	}
}

func TestProcessInfoReconcileRemovesDroppedService(t *testing.T) {
	r := newTestRegistry()
	svc := wire.ServiceDescriptor{Name: "math", Version: "1", Actions: []wire.ActionDescriptor{{Name: "add"}}}
	r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{svc}})
	r.ProcessInfo("peer-1", wire.InfoPayload{Services: nil})

	if _, ok := r.GetActionEndpoints("math.add"); ok {
		t.Fatalf("expected math.add endpoint removed once its service disappeared from INFO")
	}
	if len(r.List(ListFilter{})) != 0 {
		t.Fatalf("expected no services registered after empty reconcile")
	}
}

func TestDisconnectCascadesRemoval(t *testing.T) {
	r := newTestRegistry()
	svc := wire.ServiceDescriptor{
		Name: "math", Version: "1",
		Actions: []wire.ActionDescriptor{{Name: "add"}},
		Events:  []wire.EventDescriptor{{Name: "computed"}},
	}
	r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{svc}})

	if !r.Disconnected("peer-1") {
		t.Fatalf("expected peer-1 to be known before disconnect")
	}

	if _, ok := r.GetActionEndpoints("math.add"); ok {
		t.Fatalf("expected endpoint removed on disconnect")
	}
	if targets := r.EmitTargets("computed", true); len(targets) != 0 {
		t.Fatalf("expected no event subscribers left after disconnect, got %d", len(targets))
	}

	node, ok := r.GetNode("peer-1")
	if !ok {
		t.Fatalf("expected node record retained as a tombstone after disconnect")
	}
	if node.Available {
		t.Fatalf("expected disconnected node to be marked unavailable")
	}
}

func TestCheckSweepsStaleNodes(t *testing.T) {
	r := newTestRegistry()
	r.ProcessInfo("peer-1", wire.InfoPayload{})
	r.mu.Lock()
	if n, ok := r.nodes.get("peer-1"); ok {
		n.LastHeartbeatAt = time.Now().Add(-time.Hour)
	}
	r.mu.Unlock()

	stale := r.Check(time.Minute)
	if len(stale) != 1 || stale[0] != "peer-1" {
		t.Fatalf("expected peer-1 reported stale, got %v", stale)
	}
	node, _ := r.GetNode("peer-1")
	if node.Available {
		t.Fatalf("expected stale node marked unavailable")
	}
}

func TestCircuitBreakerOpensAndBlocksSelection(t *testing.T) {
	r := newTestRegistry()
	cfg := DefaultBreakerConfig()
	cfg.MaxFailures = 2
	r.actions.breakerCfg = cfg

	r.DefineLocalAction("flaky", "1", wire.ActionDescriptor{Name: "call"}, nil)
	ep, err := r.SelectEndpoint("flaky.call", SelectOptions{PreferLocal: true})
	if err != nil {
		t.Fatalf("SelectEndpoint: %v", err)
	}

	ep.RecordFailure()
	ep.RecordFailure()

	if _, err := r.SelectEndpoint("flaky.call", SelectOptions{}); err != ErrNoAvailableEndpoint {
		t.Fatalf("expected breaker to trip and block selection, got err=%v", err)
	}
	if ep.State() != StateOpen {
		t.Fatalf("expected breaker OPEN after MaxFailures, got %v", ep.State())
	}
}

func TestSelectEndpointPrefersLocal(t *testing.T) {
	r := newTestRegistry()
	r.DefineLocalAction("math", "1", wire.ActionDescriptor{Name: "add"}, nil)
	r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "math", Version: "1", Actions: []wire.ActionDescriptor{{Name: "add"}},
	}}})

	ep, err := r.SelectEndpoint("math.add", DefaultSelectOptions())
	if err != nil {
		t.Fatalf("SelectEndpoint: %v", err)
	}
	if !ep.Local {
		t.Fatalf("expected local endpoint to be preferred over remote peer-1")
	}
}

func TestSelectEndpointExcludeNodeID(t *testing.T) {
	r := newTestRegistry()
	r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "math", Version: "1", Actions: []wire.ActionDescriptor{{Name: "add"}},
	}}})
	r.ProcessInfo("peer-2", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "math", Version: "1", Actions: []wire.ActionDescriptor{{Name: "add"}},
	}}})

	ep, err := r.SelectEndpoint("math.add", SelectOptions{ExcludeNodeID: "peer-1"})
	if err != nil {
		t.Fatalf("SelectEndpoint: %v", err)
	}
	if ep.Node.ID != "peer-2" {
		t.Fatalf("expected excluded node peer-1 to be skipped, got %s", ep.Node.ID)
	}
}

func TestEventEmitGroupBalanced(t *testing.T) {
	r := newTestRegistry()
	r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "worker", Version: "1", Events: []wire.EventDescriptor{{Name: "job.done", Group: "workers"}},
	}}})
	r.ProcessInfo("peer-2", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "worker", Version: "1", Events: []wire.EventDescriptor{{Name: "job.done", Group: "workers"}},
	}}})

	targets := r.EmitTargets("job.done", false)
	if len(targets) != 1 {
		t.Fatalf("expected exactly one delivery for the shared group, got %d", len(targets))
	}
}

func TestEventEmitGroupBalancedCyclesIndependently(t *testing.T) {
	r := newTestRegistry()
	r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "worker", Version: "1", Events: []wire.EventDescriptor{{Name: "job.done", Group: "workers"}},
	}}})
	r.ProcessInfo("peer-2", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "worker", Version: "1", Events: []wire.EventDescriptor{{Name: "job.done", Group: "workers"}},
	}}})

	first := r.EmitTargets("job.done", false)
	second := r.EmitTargets("job.done", false)
	third := r.EmitTargets("job.done", false)
	if len(first) != 1 || len(second) != 1 || len(third) != 1 {
		t.Fatalf("expected exactly one delivery per emit, got %d, %d, %d", len(first), len(second), len(third))
	}
	if first[0].Node.ID == second[0].Node.ID {
		t.Fatalf("expected consecutive emits to alternate between group members, both picked %s", first[0].Node.ID)
	}
	if third[0].Node.ID != first[0].Node.ID {
		t.Fatalf("expected the cursor to wrap back to the first member on the third emit")
	}

	// A second, independent Registry must not share this one's cursor.
	other := newTestRegistry()
	other.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "worker", Version: "1", Events: []wire.EventDescriptor{{Name: "job.done", Group: "workers"}},
	}}})
	other.ProcessInfo("peer-2", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "worker", Version: "1", Events: []wire.EventDescriptor{{Name: "job.done", Group: "workers"}},
	}}})
	otherFirst := other.EmitTargets("job.done", false)
	if len(otherFirst) != 1 || otherFirst[0].Node.ID != "peer-1" {
		t.Fatalf("expected a fresh Registry's cursor to start at the first-registered member, got %+v", otherFirst)
	}
}

func TestEventEmitBroadcastReachesAll(t *testing.T) {
	r := newTestRegistry()
	r.ProcessInfo("peer-1", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "audit-a", Version: "1", Events: []wire.EventDescriptor{{Name: "audit.log"}},
	}}})
	r.ProcessInfo("peer-2", wire.InfoPayload{Services: []wire.ServiceDescriptor{{
		Name: "audit-b", Version: "1", Events: []wire.EventDescriptor{{Name: "audit.log"}},
	}}})

	targets := r.EmitTargets("audit.log", true)
	if len(targets) != 2 {
		t.Fatalf("expected broadcast to reach both distinct-group subscribers, got %d", len(targets))
	}
}

func TestActionNotFound(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.SelectEndpoint("nope.nope", DefaultSelectOptions()); err != ErrActionNotFound {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}
}
