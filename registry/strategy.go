package registry

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// Strategy picks one endpoint out of a non-empty, pre-filtered slice. It
// must be pure with respect to anything but its own internal cursor:
// filtering by availability and circuit state happens before Strategy ever
// sees the slice (see (*Registry).SelectEndpoint).
type Strategy interface {
	Select(endpoints []*Endpoint) *Endpoint
}

// RoundRobinStrategy is the default strategy: a per-action cursor that
// advances on every selection, wrapping around.
type RoundRobinStrategy struct {
	cursor uint64
}

func NewRoundRobinStrategy() *RoundRobinStrategy { return &RoundRobinStrategy{} }

func (s *RoundRobinStrategy) Select(endpoints []*Endpoint) *Endpoint {
	if len(endpoints) == 0 {
		return nil
	}
	i := atomic.AddUint64(&s.cursor, 1) - 1
	return endpoints[i%uint64(len(endpoints))]
}

// RandomStrategy picks uniformly at random among the candidates.
type RandomStrategy struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomStrategy(seed int64) *RandomStrategy {
	return &RandomStrategy{rnd: rand.New(rand.NewSource(seed))}
}

func (s *RandomStrategy) Select(endpoints []*Endpoint) *Endpoint {
	if len(endpoints) == 0 {
		return nil
	}
	s.mu.Lock()
	i := s.rnd.Intn(len(endpoints))
	s.mu.Unlock()
	return endpoints[i]
}

// LeastLoadedStrategy picks the endpoint with the fewest outstanding
// requests, breaking ties by lowest total request count so a burst of
// simultaneous calls doesn't all pile onto one endpoint on tie.
type LeastLoadedStrategy struct{}

func NewLeastLoadedStrategy() *LeastLoadedStrategy { return &LeastLoadedStrategy{} }

func (s *LeastLoadedStrategy) Select(endpoints []*Endpoint) *Endpoint {
	if len(endpoints) == 0 {
		return nil
	}
	best := endpoints[0]
	bestInFlight := best.InFlight()
	for _, e := range endpoints[1:] {
		if inFlight := e.InFlight(); inFlight < bestInFlight ||
			(inFlight == bestInFlight && e.Requests() < best.Requests()) {
			best = e
			bestInFlight = inFlight
		}
	}
	return best
}
