package brokerrpc

import (
	"time"

	"github.com/dermesser/brokerrpc/cacher"
	"github.com/dermesser/brokerrpc/registry"
	"github.com/dermesser/brokerrpc/transport"
	"github.com/dermesser/brokerrpc/validator"
	"github.com/dermesser/brokerrpc/wire"
)

// Option configures a BrokerOptions at construction time, in the
// functional-options idiom.
type Option func(*BrokerOptions)

// BrokerOptions holds everything New needs to build a Broker. The three
// required arguments are positional in NewBrokerOptions; everything else has a workable
// default and can be overridden either via an Option at construction time or
// via a Set* method afterward, up until Broker.Start is called.
type BrokerOptions struct {
	NodeID     string
	Transport  transport.Transport
	Serializer wire.Serializer

	HeartbeatTimeout  time.Duration
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	RequestRetry      int

	BreakerConfig   registry.BreakerConfig
	StrategyFactory func() registry.Strategy

	Cacher    cacher.Cacher
	Validator validator.Validator
}

// NewBrokerOptions builds a BrokerOptions with the ambient stack's defaults:
// a round-robin strategy, a five-failure circuit breaker, a ten second
// heartbeat, and no cache or validator (both are opt-in per action).
func NewBrokerOptions(nodeID string, t transport.Transport, serializer wire.Serializer, opts ...Option) *BrokerOptions {
	o := &BrokerOptions{
		NodeID:            nodeID,
		Transport:         t,
		Serializer:        serializer,
		HeartbeatTimeout:  30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		RequestTimeout:    5 * time.Second,
		RequestRetry:      1,
		BreakerConfig:     registry.DefaultBreakerConfig(),
		StrategyFactory:   func() registry.Strategy { return registry.NewRoundRobinStrategy() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *BrokerOptions) { o.HeartbeatInterval = d }
}

func WithHeartbeatTimeout(d time.Duration) Option {
	return func(o *BrokerOptions) { o.HeartbeatTimeout = d }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(o *BrokerOptions) { o.RequestTimeout = d }
}

func WithRequestRetry(n int) Option {
	return func(o *BrokerOptions) { o.RequestRetry = n }
}

func WithBreakerConfig(cfg registry.BreakerConfig) Option {
	return func(o *BrokerOptions) { o.BreakerConfig = cfg }
}

func WithStrategyFactory(f func() registry.Strategy) Option {
	return func(o *BrokerOptions) { o.StrategyFactory = f }
}

func WithCacher(c cacher.Cacher) Option {
	return func(o *BrokerOptions) { o.Cacher = c }
}

func WithValidator(v validator.Validator) Option {
	return func(o *BrokerOptions) { o.Validator = v }
}

// The setters below mirror the constructor+setter idiom clusterrpc's own
// client/server types use (NewClientRR plus SetTimeout/SetRetryCount/...):
// options built without the matching Option can still be tuned right up
// until Start captures them.

func (o *BrokerOptions) SetHeartbeatInterval(d time.Duration) { o.HeartbeatInterval = d }
func (o *BrokerOptions) SetHeartbeatTimeout(d time.Duration)  { o.HeartbeatTimeout = d }
func (o *BrokerOptions) SetRequestTimeout(d time.Duration)    { o.RequestTimeout = d }
func (o *BrokerOptions) SetRequestRetry(n int)                { o.RequestRetry = n }
func (o *BrokerOptions) SetCacher(c cacher.Cacher)            { o.Cacher = c }
func (o *BrokerOptions) SetValidator(v validator.Validator)   { o.Validator = v }
