package registry

import "sync"

// EventSubscriber is one (service, node) pair subscribed to an event name,
// tagged with the group used for load-balanced delivery. Group defaults to
// the service name when the descriptor left it blank, matching the
// component design's "each service is an independent consumer group" rule.
type EventSubscriber struct {
	Node        *Node
	ServiceName string
	Group       string
	Local       bool
	Handler     LocalHandler
}

// EventEntry is, for one event name, the set of subscriber endpoints plus
// the round-robin cursors used to balance delivery within each group. The
// candidate order within a group is insertion order and stays fixed across
// calls, for the same reason ActionEntry keeps one: a map's range order is
// randomized per iteration in Go and would make "round-robin" pick out of
// turn or skip members.
type EventEntry struct {
	Name  string
	subs  map[serviceKey]*EventSubscriber
	order []serviceKey // insertion order, across all groups

	groupMu      sync.Mutex
	groupCursors map[string]uint64
}

func newEventEntry(name string) *EventEntry {
	return &EventEntry{
		Name:         name,
		subs:         make(map[serviceKey]*EventSubscriber),
		groupCursors: make(map[string]uint64),
	}
}

func (e *EventEntry) put(key serviceKey, s *EventSubscriber) {
	if _, exists := e.subs[key]; !exists {
		e.order = append(e.order, key)
	}
	e.subs[key] = s
}

func (e *EventEntry) remove(key serviceKey) {
	if _, ok := e.subs[key]; !ok {
		return
	}
	delete(e.subs, key)
	for i, k := range e.order {
		if k == key {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *EventEntry) empty() bool { return len(e.subs) == 0 }

func (e *EventEntry) all() []*EventSubscriber {
	out := make([]*EventSubscriber, 0, len(e.order))
	for _, k := range e.order {
		out = append(out, e.subs[k])
	}
	return out
}

// groupedByGroup partitions the current subscribers by (Group), used to
// implement group-balanced emit: one delivery per group per emit. Members
// within a group preserve the entry's stable insertion order, so pickForGroup
// sees the same sequence for a given group on every call.
func (e *EventEntry) groupedByGroup() map[string][]*EventSubscriber {
	out := make(map[string][]*EventSubscriber)
	for _, k := range e.order {
		s := e.subs[k]
		out[s.Group] = append(out[s.Group], s)
	}
	return out
}

// pickForGroup advances this entry's own cursor for group and returns the
// member at that position, wrapping around. The cursor lives on the entry
// itself rather than as a package-level variable, so two independent
// Registry/Broker instances in the same process -- or two distinct groups in
// the same emit -- never perturb each other's sequencing. EmitTargets only
// holds Registry's read lock while calling this, hence the dedicated mutex.
func (e *EventEntry) pickForGroup(group string, members []*EventSubscriber) *EventSubscriber {
	if len(members) == 1 {
		return members[0]
	}
	e.groupMu.Lock()
	i := e.groupCursors[group]
	e.groupCursors[group] = i + 1
	e.groupMu.Unlock()
	return members[i%uint64(len(members))]
}

// eventCatalog maps event name -> EventEntry. No lock of its own; callers
// hold Registry.mu.
type eventCatalog struct {
	entries map[string]*EventEntry
}

func newEventCatalog() *eventCatalog {
	return &eventCatalog{entries: make(map[string]*EventEntry)}
}

func (c *eventCatalog) entry(name string) (*EventEntry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

func (c *eventCatalog) entryOrCreate(name string) *EventEntry {
	e, ok := c.entries[name]
	if !ok {
		e = newEventEntry(name)
		c.entries[name] = e
	}
	return e
}

func (c *eventCatalog) removeNode(nodeID string) {
	for name, e := range c.entries {
		for k, s := range e.subs {
			if s.Node.ID == nodeID {
				e.remove(k)
			}
		}
		if e.empty() {
			delete(c.entries, name)
		}
	}
}

func (c *eventCatalog) removeServiceEvents(nodeID, svcName string, eventNames []string) {
	for _, name := range eventNames {
		e, ok := c.entries[name]
		if !ok {
			continue
		}
		e.remove(serviceKey{name: svcName, nodeID: nodeID})
		if e.empty() {
			delete(c.entries, name)
		}
	}
}
