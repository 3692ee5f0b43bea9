// Package registry is the in-memory catalog of nodes, services, actions and
// events: the data structure that answers "who can serve action X right
// now?". All mutation goes through a single Registry value guarded by one
// RWMutex, mirroring the teacher lineage's single load-balancer goroutine
// owning its worker/request queues (dermesser-clusterrpc's
// server/server_internal.go) rather than a lock per sub-catalog.
package registry

import "time"

// Node is a broker process in the cluster, known either because it is the
// local process or because it announced itself with an INFO packet.
type Node struct {
	ID              string
	Available       bool
	Local           bool
	LastHeartbeatAt time.Time
	CPUUsage        float64
	IPList          []string
	Client          map[string]string
	Uptime          time.Duration
	Config          []byte
}

func newLocalNode(id string) *Node {
	return &Node{ID: id, Available: true, Local: true, LastHeartbeatAt: time.Now()}
}

// InfoPayload is the subset of a wire INFO packet the node catalog needs;
// kept separate from wire.InfoPayload so this package does not import wire.
type InfoPayload struct {
	IPList   []string
	Client   map[string]string
	Config   []byte
	UptimeMs int64
}

// HeartbeatPayload is the subset of a wire HEARTBEAT packet the node catalog
// needs.
type HeartbeatPayload struct {
	CPUUsage float64
}

// nodeCatalog maps nodeId -> Node. It has no lock of its own; callers must
// hold Registry.mu.
type nodeCatalog struct {
	nodes map[string]*Node
}

func newNodeCatalog() *nodeCatalog {
	return &nodeCatalog{nodes: make(map[string]*Node)}
}

func (c *nodeCatalog) get(id string) (*Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

func (c *nodeCatalog) list() []*Node {
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	return out
}

// processInfo upserts a node from an INFO packet and reports whether it
// transitioned from unavailable (or unknown) to available.
func (c *nodeCatalog) processInfo(id string, p InfoPayload, local bool) (node *Node, becameAvailable bool) {
	n, ok := c.nodes[id]
	wasAvailable := ok && n.Available
	if !ok {
		n = &Node{ID: id, Local: local}
		c.nodes[id] = n
	}
	n.Available = true
	n.LastHeartbeatAt = time.Now()
	n.IPList = p.IPList
	n.Client = p.Client
	n.Config = p.Config
	n.Uptime = time.Duration(p.UptimeMs) * time.Millisecond
	return n, !wasAvailable
}

func (c *nodeCatalog) heartbeat(id string, p HeartbeatPayload) (n *Node, known bool) {
	n, ok := c.nodes[id]
	if !ok {
		return nil, false
	}
	n.CPUUsage = p.CPUUsage
	n.LastHeartbeatAt = time.Now()
	n.Available = true
	return n, true
}

// disconnect marks a node unavailable. The Node record itself is kept (not
// deleted) so a late-arriving packet from the same node doesn't recreate a
// phantom entry; Available=false is the tombstone.
func (c *nodeCatalog) disconnect(id string) (*Node, bool) {
	n, ok := c.nodes[id]
	if !ok {
		return nil, false
	}
	n.Available = false
	return n, true
}

// unregister permanently forgets a node. Used only for explicit
// administrative removal, never on ordinary disconnect.
func (c *nodeCatalog) unregister(id string) {
	delete(c.nodes, id)
}

// stale returns the ids of remote, available nodes whose last heartbeat is
// older than timeout.
func (c *nodeCatalog) stale(timeout time.Duration, now time.Time) []string {
	var out []string
	for id, n := range c.nodes {
		if n.Local || !n.Available {
			continue
		}
		if now.Sub(n.LastHeartbeatAt) > timeout {
			out = append(out, id)
		}
	}
	return out
}
