package registry

import (
	"sync"
	"time"

	"github.com/dermesser/brokerrpc/wire"
)

// Options configures a new Registry.
type Options struct {
	LocalNodeID     string
	StrategyFactory func() Strategy
	BreakerConfig   BreakerConfig
}

func DefaultOptions(localNodeID string) Options {
	return Options{
		LocalNodeID:     localNodeID,
		StrategyFactory: func() Strategy { return NewRoundRobinStrategy() },
		BreakerConfig:   DefaultBreakerConfig(),
	}
}

// localService accumulates the descriptor pieces the broker's own process
// registers via DefineLocalAction/DefineLocalEvent before the first
// reconcile. Kept as a builder so a service can be assembled action by
// action instead of requiring the caller to hand over a full
// wire.ServiceDescriptor up front.
type localService struct {
	settings      []byte
	actions       map[string]wire.ActionDescriptor
	actionHandler map[string]LocalHandler
	events        map[string]wire.EventDescriptor
	eventHandler  map[string]LocalHandler
}

func newLocalService() *localService {
	return &localService{
		actions:       make(map[string]wire.ActionDescriptor),
		actionHandler: make(map[string]LocalHandler),
		events:        make(map[string]wire.EventDescriptor),
		eventHandler:  make(map[string]LocalHandler),
	}
}

// Registry is the in-memory catalog described in the package doc. All of
// nodes/services/actions/events is mutated only while holding mu, matching
// the "single logical writer" invariant the component design calls out.
type Registry struct {
	mu sync.RWMutex

	nodes    *nodeCatalog
	services *serviceCatalog
	actions  *actionCatalog
	events   *eventCatalog

	localNodeID   string
	localServices map[string]*localService // "name@version" -> builder
}

func New(opts Options) *Registry {
	r := &Registry{
		nodes:         newNodeCatalog(),
		services:      newServiceCatalog(),
		actions:       newActionCatalog(opts.StrategyFactory, opts.BreakerConfig),
		events:        newEventCatalog(),
		localNodeID:   opts.LocalNodeID,
		localServices: make(map[string]*localService),
	}
	r.nodes.nodes[opts.LocalNodeID] = newLocalNode(opts.LocalNodeID)
	return r
}

func localServiceKey(name, version string) string { return name + "@" + version }

// ---- local service definition (called by Broker.DefineService/DefineAction/DefineEvent) ----

// DefineLocalService ensures a local service exists with the given settings.
// Calling it again for the same (name, version) updates the settings.
func (r *Registry) DefineLocalService(name, version string, settings []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc := r.localServiceOrCreate(name, version)
	svc.settings = settings
	r.syncLocalLocked()
}

// DefineLocalAction adds or replaces a locally hosted action and its
// handler, then reconciles the catalogs immediately.
func (r *Registry) DefineLocalAction(name, version string, action wire.ActionDescriptor, h LocalHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc := r.localServiceOrCreate(name, version)
	svc.actions[action.Name] = action
	svc.actionHandler[action.Name] = h
	r.syncLocalLocked()
}

// DefineLocalEvent adds or replaces a locally hosted event subscription and
// its handler, then reconciles the catalogs immediately. group == "" leaves
// the descriptor's Group blank, which the reconcile step defaults to the
// service name.
func (r *Registry) DefineLocalEvent(name, version, group string, event wire.EventDescriptor, h LocalHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Group = group
	svc := r.localServiceOrCreate(name, version)
	svc.events[event.Name] = event
	svc.eventHandler[event.Name] = h
	r.syncLocalLocked()
}

func (r *Registry) localServiceOrCreate(name, version string) *localService {
	key := localServiceKey(name, version)
	svc, ok := r.localServices[key]
	if !ok {
		svc = newLocalService()
		r.localServices[key] = svc
	}
	return svc
}

// syncLocalLocked rebuilds the full local descriptor list and reconciles it
// against the catalogs. mu must be held for writing.
func (r *Registry) syncLocalLocked() {
	descriptors := make([]wire.ServiceDescriptor, 0, len(r.localServices))
	handlers := make(map[string]LocalHandler)
	eventHandlers := make(map[string]LocalHandler)
	for key, svc := range r.localServices {
		var name, version string
		for i := len(key) - 1; i >= 0; i-- {
			if key[i] == '@' {
				name, version = key[:i], key[i+1:]
				break
			}
		}
		d := wire.ServiceDescriptor{Name: name, Version: version, Settings: svc.settings}
		for _, a := range svc.actions {
			d.Actions = append(d.Actions, a)
			handlers[name+"."+a.Name] = svc.actionHandler[a.Name]
		}
		for _, e := range svc.events {
			d.Events = append(d.Events, e)
			eventHandlers[name+"."+e.Name] = svc.eventHandler[e.Name]
		}
		descriptors = append(descriptors, d)
	}
	localNode, _ := r.nodes.get(r.localNodeID)
	r.reconcileLocked(localNode, descriptors, true,
		func(svcName, _ string, actionName string) LocalHandler { return handlers[svcName+"."+actionName] },
		func(svcName, _ string, eventName string) LocalHandler { return eventHandlers[svcName+"."+eventName] },
	)
}

// ---- remote peer lifecycle (INFO / HEARTBEAT / DISCONNECT) ----

// ProcessInfo upserts a remote node from an INFO packet and reconciles its
// service list. It reports whether the node transitioned to available,
// which is the caller's cue to emit $node.connected.
func (r *Registry) ProcessInfo(nodeID string, p wire.InfoPayload) (becameAvailable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, became := r.nodes.processInfo(nodeID, InfoPayload{
		IPList: p.IPList, Client: p.Client, Config: p.Config, UptimeMs: p.UptimeMs,
	}, false)
	r.reconcileLocked(node, p.Services, false, nil, nil)
	return became
}

// Heartbeat records liveness for a known node. known is false if the node
// has never sent an INFO packet, in which case the caller should request a
// fresh DISCOVER/INFO exchange rather than trust the heartbeat.
func (r *Registry) Heartbeat(nodeID string, p wire.HeartbeatPayload) (known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, known = r.nodes.heartbeat(nodeID, HeartbeatPayload{CPUUsage: p.CPUUsage})
	return known
}

// Disconnected tombstones a node and cascades removal of every service,
// action endpoint and event subscription it hosted. It reports whether the
// node was known at all.
func (r *Registry) Disconnected(nodeID string) (found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, found = r.nodes.disconnect(nodeID)
	if !found {
		return false
	}
	r.cascadeRemoveLocked(nodeID)
	return true
}

func (r *Registry) cascadeRemoveLocked(nodeID string) {
	for _, s := range r.services.byNode(nodeID) {
		r.services.remove(s.Name, s.Version, nodeID)
	}
	r.actions.removeNodeEverywhere(nodeID)
	r.events.removeNode(nodeID)
}

// Check sweeps for remote nodes whose heartbeat has gone stale and
// disconnects them (as an unexpected disconnect), returning their ids so
// the caller can emit $node.disconnected for each.
func (r *Registry) Check(heartbeatTimeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	stale := r.nodes.stale(heartbeatTimeout, time.Now())
	for _, id := range stale {
		r.nodes.disconnect(id)
		r.cascadeRemoveLocked(id)
	}
	return stale
}

// reconcileLocked implements the idempotent registration algorithm: every
// service in list is created or updated; actions/events absent from an
// updated service's new descriptor are removed; services previously
// registered for this node but absent from list are removed entirely. mu
// must be held for writing. actionHandlers/eventHandlers may be nil for
// remote nodes, which never carry a Go-callable handler.
func (r *Registry) reconcileLocked(node *Node, list []wire.ServiceDescriptor, local bool,
	actionHandlers func(svcName, svcVersion, actionName string) LocalHandler,
	eventHandlers func(svcName, svcVersion, eventName string) LocalHandler) {

	existing := r.services.byNode(node.ID)
	seen := make(map[serviceKey]bool, len(list))

	for _, d := range list {
		key := serviceKey{d.Name, d.Version, node.ID}
		seen[key] = true

		prev, hadPrev := r.services.get(d.Name, d.Version, node.ID)
		next := serviceFromDescriptor(node.ID, d)
		r.services.put(next)

		for _, action := range d.Actions {
			fullName := d.Name + "." + action.Name
			var h LocalHandler
			if local && actionHandlers != nil {
				h = actionHandlers(d.Name, d.Version, action.Name)
			}
			r.actions.upsert(fullName, node, d.Name, d.Version, action, local, h)
		}
		if hadPrev {
			for name := range prev.Actions {
				if _, still := next.Actions[name]; !still {
					r.actions.removeNode(prev.Name+"."+name, node.ID)
				}
			}
		}

		for _, event := range d.Events {
			group := event.Group
			if group == "" {
				group = d.Name
			}
			var h LocalHandler
			if local && eventHandlers != nil {
				h = eventHandlers(d.Name, d.Version, event.Name)
			}
			entry := r.events.entryOrCreate(event.Name)
			entry.put(serviceKey{name: d.Name, nodeID: node.ID}, &EventSubscriber{
				Node: node, ServiceName: d.Name, Group: group, Local: local, Handler: h,
			})
		}
		if hadPrev {
			var dropped []string
			for name := range prev.Events {
				if _, still := next.Events[name]; !still {
					dropped = append(dropped, name)
				}
			}
			if len(dropped) > 0 {
				r.events.removeServiceEvents(node.ID, prev.Name, dropped)
			}
		}
	}

	for _, s := range existing {
		if seen[serviceKey{s.Name, s.Version, node.ID}] {
			continue
		}
		r.services.remove(s.Name, s.Version, node.ID)
		for name := range s.Actions {
			r.actions.removeNode(s.Name+"."+name, node.ID)
		}
		if len(s.Events) > 0 {
			names := make([]string, 0, len(s.Events))
			for name := range s.Events {
				names = append(names, name)
			}
			r.events.removeServiceEvents(node.ID, s.Name, names)
		}
	}
}

// ---- lookup / selection ----

// SelectOptions parameterizes SelectEndpoint. Zero value selects among all
// currently selectable endpoints with no locality preference and no
// exclusion, which is rarely what callers want; use DefaultSelectOptions.
type SelectOptions struct {
	NodeID        string // pin to this node; fails if it isn't selectable
	ExcludeNodeID string // exclude this node, e.g. on retry after failure
	PreferLocal   bool
}

func DefaultSelectOptions() SelectOptions { return SelectOptions{PreferLocal: true} }

// SelectEndpoint implements the endpoint selection algorithm: pinned node if
// requested, else prefer a local endpoint, else defer to the action's
// strategy over the selectable, non-excluded candidates.
func (r *Registry) SelectEndpoint(actionName string, opts SelectOptions) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.actions.entry(actionName)
	if !ok {
		return nil, ErrActionNotFound
	}

	now := time.Now()

	if opts.NodeID != "" {
		e, ok := entry.get(opts.NodeID)
		if !ok || !e.selectableNowSingle(now) {
			return nil, ErrNoAvailableEndpoint
		}
		return e, nil
	}

	candidates := entry.selectableNow(now)
	if opts.ExcludeNodeID != "" {
		filtered := candidates[:0:0]
		for _, e := range candidates {
			if e.Node.ID != opts.ExcludeNodeID {
				filtered = append(filtered, e)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return nil, ErrNoAvailableEndpoint
	}

	if opts.PreferLocal {
		for _, e := range candidates {
			if e.Local {
				return e, nil
			}
		}
	}

	return entry.strategy.Select(candidates), nil
}

// GetActionEndpoints returns a snapshot of every endpoint registered for
// actionName, regardless of current selectability, for introspection.
func (r *Registry) GetActionEndpoints(actionName string) ([]*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.actions.entry(actionName)
	if !ok {
		return nil, false
	}
	return entry.all(), true
}

func (r *Registry) GetEndpointByNodeID(actionName, nodeID string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.actions.entry(actionName)
	if !ok {
		return nil, false
	}
	return entry.get(nodeID)
}

func (r *Registry) GetNode(nodeID string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes.get(nodeID)
}

// ListFilter narrows Registry.List.
type ListFilter struct {
	OnlyLocal     bool
	SkipInternal  bool // hide services/actions whose name starts with "$node"
	WithEndpoints bool
}

func isInternalService(name string) bool { return len(name) >= 5 && name[:5] == "$node" }

// List returns a snapshot of currently known services, honoring filter.
func (r *Registry) List(filter ListFilter) []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Service
	for _, s := range r.services.all() {
		if filter.SkipInternal && isInternalService(s.Name) {
			continue
		}
		if filter.OnlyLocal {
			n, ok := r.nodes.get(s.NodeID)
			if !ok || !n.Local {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func (r *Registry) ListNodes() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes.list()
}

// ---- events ----

// EmitTargets computes the delivery set for an event. When broadcast is
// true, every subscriber gets a copy. Otherwise exactly one subscriber per
// group is chosen (group-balanced delivery), round-robining within a group
// across calls.
func (r *Registry) EmitTargets(eventName string, broadcast bool) []*EventSubscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.events.entry(eventName)
	if !ok {
		return nil
	}
	if broadcast {
		return entry.all()
	}
	grouped := entry.groupedByGroup()
	out := make([]*EventSubscriber, 0, len(grouped))
	for group, members := range grouped {
		out = append(out, entry.pickForGroup(group, members))
	}
	return out
}

// LocalEventHandlers returns this node's local subscribers for eventName
// that should receive an incoming, remotely-originated EVENT: every local
// subscriber when broadcast is true, otherwise only those whose Group
// appears in groups (the specific groups the sender already selected).
func (r *Registry) LocalEventHandlers(eventName string, groups []string, broadcast bool) []*EventSubscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.events.entry(eventName)
	if !ok {
		return nil
	}
	wanted := make(map[string]bool, len(groups))
	for _, g := range groups {
		wanted[g] = true
	}
	var out []*EventSubscriber
	for _, s := range entry.all() {
		if !s.Local {
			continue
		}
		if broadcast || wanted[s.Group] {
			out = append(out, s)
		}
	}
	return out
}
