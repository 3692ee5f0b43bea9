package brokerrpc

import (
	"time"

	"github.com/google/uuid"
)

// TraceInfo mirrors clusterrpc's proto.TraceInfo tree: one node per call
// frame, built only when the root call asked for Metrics, recording where a
// call went and how long each hop took.
type TraceInfo struct {
	NodeID     string
	Action     string
	ReceivedAt time.Time
	RepliedAt  time.Time
	Error      string
	Children   []*TraceInfo
}

func (t *TraceInfo) addChild(c *TraceInfo) {
	if t == nil {
		return
	}
	t.Children = append(t.Children, c)
}

// Context is the per-call frame handed to middleware and handlers. It is
// distinct from the standard library's context.Context: it carries the
// broker-level bookkeeping a call graph needs (metadata propagation, retry
// count, the trace tree), not cancellation signals; it has no Done()/Err().
// Handlers receive it inside the stdlib context.Context the broker passes
// them, and that stdlib context carries the call's deadline.
//
// A child created by Call/Redirect shares Meta by reference with its parent (the
// data model's "propagated by reference to children" rule) and inherits
// RequestID and Timeout, but gets its own ID, ParentID and Level.
type Context struct {
	ID        string
	RequestID string
	ParentID  string
	Level     int32

	Action string
	Params []byte
	Meta   map[string]string

	Timeout    time.Duration
	RetryCount int
	NodeID     string // node the current attempt is executing on, once selected

	Metrics      bool
	CachedResult bool
	Trace        *TraceInfo

	broker     *Broker
	redirected bool
}

func newRootContext(b *Broker, action string, params []byte, meta map[string]string, timeout time.Duration, metrics bool) *Context {
	if meta == nil {
		meta = make(map[string]string)
	}
	id := uuid.NewString()
	c := &Context{
		ID:        id,
		RequestID: uuid.NewString(),
		Level:     1,
		Action:    action,
		Params:    params,
		Meta:      meta,
		Timeout:   timeout,
		Metrics:   metrics,
		broker:    b,
	}
	if metrics {
		c.Trace = &TraceInfo{Action: action, ReceivedAt: time.Now()}
	}
	return c
}

// child derives a new call frame for a nested Call/Redirect, sharing Meta and
// RequestID with c per the data model's context ownership rule. The child
// inherits c's redirect flag.
func (c *Context) child(action string, params []byte) *Context {
	nc := &Context{
		ID:        uuid.NewString(),
		RequestID: c.RequestID,
		ParentID:  c.ID,
		Level:     c.Level + 1,
		Action:    action,
		Params:    params,
		Meta:      c.Meta,
		Timeout:   c.Timeout,
		Metrics:   c.Metrics,
		broker:    c.broker,

		redirected: c.redirected,
	}
	if c.Metrics {
		nc.Trace = &TraceInfo{Action: action, ReceivedAt: time.Now()}
		c.Trace.addChild(nc.Trace)
	}
	return nc
}

// Call invokes another action from within a handler, on the same broker,
// with a fresh child Context. Retries, endpoint selection and circuit
// breaking apply exactly as they do for a top-level Broker.Call.
func (c *Context) Call(action string, params []byte) ([]byte, error) {
	return c.broker.call(c.child(action, params))
}

// Emit publishes an event carrying this Context's Meta, group-balanced
// across subscribers. It does not derive a child Context.
func (c *Context) Emit(event string, data []byte) error {
	return c.broker.emit(event, data, false, c.Meta)
}

// Broadcast publishes an event to every subscriber, bypassing group
// balancing.
func (c *Context) Broadcast(event string, data []byte) error {
	return c.broker.emit(event, data, true, c.Meta)
}

// Redirect re-issues the current call on a specific node, at most once per
// call graph. A second Redirect on the same Context, or a Redirect from a
// Context derived after one (including the Context the redirected call runs
// under), returns ErrRedirectLoop, matching the data model's anti-loop
// invariant. The flag is not carried in REQUEST packets.
func (c *Context) Redirect(nodeID, service, action string) ([]byte, error) {
	if c.redirected {
		return nil, ErrRedirectLoop
	}
	c.redirected = true
	full := service + "." + action
	return c.broker.callOnNode(c.child(full, c.Params), nodeID)
}

func (c *Context) finishTrace(err error) {
	if c.Trace == nil {
		return
	}
	c.Trace.RepliedAt = time.Now()
	c.Trace.NodeID = c.NodeID
	if err != nil {
		c.Trace.Error = err.Error()
	}
}
