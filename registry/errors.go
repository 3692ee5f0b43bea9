package registry

import "errors"

// Sentinel errors returned by the registry. The broker package translates
// these into its own BrokerError kinds; the registry itself stays ignorant
// of that error taxonomy so it can be used and tested standalone.
var (
	ErrActionNotFound      = errors.New("registry: no such action")
	ErrNoAvailableEndpoint = errors.New("registry: no available endpoint")
	ErrNodeNotFound        = errors.New("registry: no such node")
)
