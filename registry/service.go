package registry

import "github.com/dermesser/brokerrpc/wire"

// serviceKey identifies a service the way the component design does:
// (name, version, nodeId).
type serviceKey struct {
	name    string
	version string
	nodeID  string
}

// Service is a named, versioned collection of actions and event
// subscribers hosted by one node.
type Service struct {
	Name     string
	Version  string
	NodeID   string
	Settings []byte
	Actions  map[string]wire.ActionDescriptor
	Events   map[string]wire.EventDescriptor
}

// equalDescriptor reports whether two services are "equal" per the data
// model: name and version match. Used only for readability at call sites.
func (s *Service) equalDescriptor(other *Service) bool {
	return s.Name == other.Name && s.Version == other.Version
}

func serviceFromDescriptor(nodeID string, d wire.ServiceDescriptor) *Service {
	s := &Service{
		Name:     d.Name,
		Version:  d.Version,
		NodeID:   nodeID,
		Settings: d.Settings,
		Actions:  make(map[string]wire.ActionDescriptor, len(d.Actions)),
		Events:   make(map[string]wire.EventDescriptor, len(d.Events)),
	}
	for _, a := range d.Actions {
		s.Actions[a.Name] = a
	}
	for _, e := range d.Events {
		s.Events[e.Name] = e
	}
	return s
}

// serviceCatalog maps (name, version, nodeId) -> Service. No lock of its
// own; callers hold Registry.mu.
type serviceCatalog struct {
	services map[serviceKey]*Service
}

func newServiceCatalog() *serviceCatalog {
	return &serviceCatalog{services: make(map[serviceKey]*Service)}
}

func (c *serviceCatalog) get(name, version, nodeID string) (*Service, bool) {
	s, ok := c.services[serviceKey{name, version, nodeID}]
	return s, ok
}

func (c *serviceCatalog) put(s *Service) {
	c.services[serviceKey{s.Name, s.Version, s.NodeID}] = s
}

func (c *serviceCatalog) remove(name, version, nodeID string) {
	delete(c.services, serviceKey{name, version, nodeID})
}

// byNode returns every service currently registered for nodeID.
func (c *serviceCatalog) byNode(nodeID string) []*Service {
	var out []*Service
	for k, s := range c.services {
		if k.nodeID == nodeID {
			out = append(out, s)
		}
	}
	return out
}

func (c *serviceCatalog) removeNode(nodeID string) {
	for k := range c.services {
		if k.nodeID == nodeID {
			delete(c.services, k)
		}
	}
}

func (c *serviceCatalog) all() []*Service {
	out := make([]*Service, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, s)
	}
	return out
}
