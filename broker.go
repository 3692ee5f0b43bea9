// Package brokerrpc implements a distributed action/event broker: a mesh of
// peer processes, each hosting some services, that can call each other's
// actions and publish events without any process knowing the physical
// location of the others up front. See registry, transit and transport for
// the catalog, wire-packet, and pluggable-transport layers this package
// wires together.
package brokerrpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dermesser/brokerrpc/internal/rpclog"
	"github.com/dermesser/brokerrpc/registry"
	"github.com/dermesser/brokerrpc/transit"
	"github.com/dermesser/brokerrpc/wire"
)

// ActionHandler is the user-facing contract for a locally hosted action: it
// receives the call's Context (so it can inspect metadata, retry count, or
// make nested Call/Emit calls of its own) plus the raw params.
type ActionHandler func(ctx *Context, params []byte) ([]byte, error)

// EventHandler is the user-facing contract for a local event subscription.
type EventHandler func(ctx *Context, data []byte) error

// ctxKey is the context.Context key a *Context travels under between
// dispatch (which builds it) and the ActionHandler/EventHandler wrappers
// registered with the registry (which pull it back out). Kept unexported so
// only this package can stuff a value under it.
type ctxKey struct{}

func contextFrom(stdctx context.Context) *Context {
	c, _ := stdctx.Value(ctxKey{}).(*Context)
	return c
}

func withContext(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, ctxKey{}, c)
}

type stopHook struct {
	serviceName string
	fn          func()
}

// Broker is one node in the cluster: it owns a registry of local and
// remote services, a transit layer for talking to peers, and the
// middleware chain every Call runs through.
type Broker struct {
	opts     *BrokerOptions
	registry *registry.Registry
	transit  *transit.Transit

	mu         sync.RWMutex
	started    bool
	lameduck   bool
	loadshed   bool
	middleware []Middleware
	stopHooks  []stopHook

	stopCheck chan struct{}
	wg        sync.WaitGroup
}

// New builds a Broker from opts. The broker is not connected to its
// transport and does not serve any traffic until Start is called.
func New(opts *BrokerOptions) *Broker {
	reg := registry.New(registry.Options{
		LocalNodeID:     opts.NodeID,
		StrategyFactory: opts.StrategyFactory,
		BreakerConfig:   opts.BreakerConfig,
	})
	b := &Broker{opts: opts, registry: reg}
	b.transit = transit.New(transit.Config{
		LocalNodeID:       opts.NodeID,
		Transport:         opts.Transport,
		Dispatcher:        b,
		HeartbeatInterval: opts.HeartbeatInterval,
		CPUUsage:          b.cpuUsage,
	})
	b.registerInternalActions()
	return b
}

// NodeID returns this broker's own node id.
func (b *Broker) NodeID() string { return b.opts.NodeID }

// cpuUsage reports this process's current CPU load for the heartbeat and
// $node.health payloads. No process-metrics library appears anywhere in
// the retrieval pack, so this is a placeholder constant rather than a
// hand-rolled /proc sampler standing in for one.
func (b *Broker) cpuUsage() float64 { return 0 }

// ---- lifecycle ----

// Start connects the transit layer, announces this node's local services to
// the cluster, and begins the periodic stale-node sweep.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("brokerrpc: broker already started")
	}
	b.started = true
	b.stopCheck = make(chan struct{})
	b.mu.Unlock()

	if err := b.transit.Connect(ctx); err != nil {
		return err
	}
	if err := b.transit.PublishInfo(ctx, "", b.localInfoPayload()); err != nil {
		rpclog.Log(rpclog.LevelWarn, "brokerrpc: initial INFO publish failed:", err.Error())
	}
	if err := b.transit.PublishDiscover(ctx, ""); err != nil {
		rpclog.Log(rpclog.LevelWarn, "brokerrpc: initial DISCOVER publish failed:", err.Error())
	}

	b.wg.Add(1)
	go b.checkLoop()
	return nil
}

// Stop drains the stale-node sweep, runs registered service stop hooks in
// reverse registration order, and disconnects from the transport (which
// itself publishes DISCONNECT and rejects any still-pending calls).
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	hooks := append([]stopHook(nil), b.stopHooks...)
	b.mu.Unlock()

	close(b.stopCheck)
	b.wg.Wait()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i].fn()
	}

	return b.transit.Disconnect(ctx)
}

// RegisterStopHook adds fn to the ordered list Stop runs in reverse, letting
// a hosted service release resources (connections, background workers)
// symmetrically with however it acquired them during registration.
func (b *Broker) RegisterStopHook(serviceName string, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopHooks = append(b.stopHooks, stopHook{serviceName: serviceName, fn: fn})
}

// SetLameduck marks the node as draining: $node.health starts reporting
// unhealthy. Nothing else changes; the node keeps serving calls already in
// flight and accepts new calls to every action.
func (b *Broker) SetLameduck(v bool) {
	b.mu.Lock()
	b.lameduck = v
	b.mu.Unlock()
}

// SetLoadshed toggles immediate rejection of new local calls with
// SERVICE_NOT_AVAILABLE, for shedding load under pressure.
func (b *Broker) SetLoadshed(v bool) {
	b.mu.Lock()
	b.loadshed = v
	b.mu.Unlock()
}

func (b *Broker) isLoadshed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loadshed
}

func (b *Broker) isLameduck() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lameduck
}

func (b *Broker) middlewareSnapshot() []Middleware {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.middleware
}

func (b *Broker) checkLoop() {
	defer b.wg.Done()
	interval := b.opts.HeartbeatTimeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCheck:
			return
		case <-ticker.C:
			for _, id := range b.registry.Check(b.opts.HeartbeatTimeout) {
				b.transit.NotifyNodeDown(id)
				b.emitNodeEvent("$node.disconnected", id)
			}
		}
	}
}

func (b *Broker) localInfoPayload() wire.InfoPayload {
	services := b.registry.List(registry.ListFilter{OnlyLocal: true})
	out := make([]wire.ServiceDescriptor, 0, len(services))
	for _, s := range services {
		d := wire.ServiceDescriptor{Name: s.Name, Version: s.Version, Settings: s.Settings}
		for _, a := range s.Actions {
			d.Actions = append(d.Actions, a)
		}
		for _, e := range s.Events {
			d.Events = append(d.Events, e)
		}
		out = append(out, d)
	}
	return wire.InfoPayload{Services: out}
}

func (b *Broker) emitNodeEvent(name, nodeID string) {
	payload, _ := json.Marshal(map[string]string{"nodeId": nodeID})
	b.emit(name, payload, true, nil)
}

// ---- service definition ----

// DefineService ensures a local service with the given settings exists,
// creating or updating it and reconciling the catalogs immediately.
func (b *Broker) DefineService(name, version string, settings []byte) {
	b.registry.DefineLocalService(name, version, settings)
}

// DefineAction registers a locally hosted action. cache marks the action's
// results as cacheable through the configured Cacher; schema, if non-nil,
// is compiled once per call by the configured Validator.
func (b *Broker) DefineAction(serviceName, serviceVersion, actionName string, cache bool, schema []byte, h ActionHandler) {
	wrapped := func(stdctx context.Context, params []byte, meta map[string]string) ([]byte, error) {
		cctx := contextFrom(stdctx)
		if cctx == nil {
			cctx = newRootContext(b, serviceName+"."+actionName, params, meta, b.opts.RequestTimeout, false)
		}
		return h(cctx, params)
	}
	b.registry.DefineLocalAction(serviceName, serviceVersion, wire.ActionDescriptor{
		Name: actionName, Version: serviceVersion, Cache: cache, Schema: schema,
	}, wrapped)
}

// DefineEvent registers a local subscription to eventName under group
// (defaulting to serviceName when group is empty).
func (b *Broker) DefineEvent(serviceName, serviceVersion, group, eventName string, h EventHandler) {
	wrapped := func(stdctx context.Context, data []byte, meta map[string]string) ([]byte, error) {
		cctx := contextFrom(stdctx)
		if cctx == nil {
			cctx = newRootContext(b, serviceName+"."+eventName, data, meta, b.opts.RequestTimeout, false)
		}
		return nil, h(cctx, data)
	}
	b.registry.DefineLocalEvent(serviceName, serviceVersion, group, wire.EventDescriptor{Name: eventName, Group: group}, wrapped)
}

// ---- calling ----

// CallOptions parameterizes a top-level Call.
type CallOptions struct {
	Meta    map[string]string
	Timeout time.Duration
	Metrics bool
}

// Call invokes actionName with params as a new root call, using
// BrokerOptions' default timeout and no metadata.
func (b *Broker) Call(actionName string, params []byte) ([]byte, error) {
	return b.CallOpts(actionName, params, CallOptions{})
}

// CallOpts invokes actionName with params as a new root call, honoring the
// given CallOptions.
func (b *Broker) CallOpts(actionName string, params []byte, opts CallOptions) ([]byte, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.opts.RequestTimeout
	}
	ctx := newRootContext(b, actionName, params, opts.Meta, timeout, opts.Metrics)
	return b.call(ctx)
}

// Trace returns the call tree built for ctx if Metrics was set, or nil.
func Trace(ctx *Context) *TraceInfo { return ctx.Trace }

// Emit publishes an event group-balanced across subscribers: exactly one
// subscriber per distinct group receives it.
func (b *Broker) Emit(eventName string, data []byte) error {
	return b.emit(eventName, data, false, nil)
}

// Broadcast publishes an event to every subscriber, bypassing group
// balancing.
func (b *Broker) Broadcast(eventName string, data []byte) error {
	return b.emit(eventName, data, true, nil)
}

func (b *Broker) call(ctx *Context) ([]byte, error) {
	if b.isLoadshed() {
		err := NewBrokerError(KindServiceNotAvailable, "node is loadshedding")
		ctx.finishTrace(err)
		return nil, err
	}

	if _, data, hit := b.cacheGet(ctx); hit {
		ctx.CachedResult = true
		ctx.finishTrace(nil)
		return data, nil
	}

	exclude := ""
	retries := b.opts.RequestRetry
	var lastErr error

	for attempt := 0; ; attempt++ {
		ep, err := b.registry.SelectEndpoint(ctx.Action, registry.SelectOptions{
			ExcludeNodeID: exclude,
			PreferLocal:   true,
		})
		if err != nil && exclude != "" && errors.Is(err, registry.ErrNoAvailableEndpoint) {
			// Excluding the node that just failed left no candidates -- the
			// action only has that one endpoint. Retrying means trying it
			// again, not surfacing a selection error that never reflects
			// what actually failed.
			ep, err = b.registry.SelectEndpoint(ctx.Action, registry.SelectOptions{PreferLocal: true})
		}
		if err != nil {
			var be *BrokerError
			if prev, ok := lastErr.(*BrokerError); ok {
				be = prev
			} else {
				be = translateSelectErr(err)
			}
			ctx.finishTrace(be)
			return nil, be
		}
		ctx.NodeID = ep.Node.ID
		ctx.RetryCount = attempt

		data, callErr := b.dispatch(ctx, ep)
		if callErr == nil {
			b.cacheSet(ctx, ep, data)
			ctx.finishTrace(nil)
			return data, nil
		}
		lastErr = callErr

		be, retryable := callErr.(*BrokerError)
		if !retryable || !be.Retryable() || attempt >= retries {
			ctx.finishTrace(callErr)
			return nil, callErr
		}
		exclude = ep.Node.ID
	}
}

// callOnNode implements Context.Redirect: it pins selection to nodeID
// instead of running the normal retry-with-exclusion loop.
func (b *Broker) callOnNode(ctx *Context, nodeID string) ([]byte, error) {
	ep, err := b.registry.SelectEndpoint(ctx.Action, registry.SelectOptions{NodeID: nodeID})
	if err != nil {
		return nil, translateSelectErr(err)
	}
	ctx.NodeID = ep.Node.ID
	return b.dispatch(ctx, ep)
}

func translateSelectErr(err error) *BrokerError {
	switch {
	case errors.Is(err, registry.ErrActionNotFound):
		return NewBrokerError(KindServiceNotFound, err.Error())
	case errors.Is(err, registry.ErrNoAvailableEndpoint):
		return NewBrokerError(KindServiceNotAvailable, err.Error())
	default:
		return WrapBrokerError(KindUnknown, err)
	}
}

// dispatch validates params (if the action carries a schema and a Validator
// is configured), then runs the middleware chain around either a local
// handler invocation or a remote call over transit.
func (b *Broker) dispatch(ctx *Context, ep *registry.Endpoint) ([]byte, error) {
	if err := b.validate(ep, ctx.Params); err != nil {
		return nil, err
	}

	base := func(ctx *Context) ([]byte, error) {
		if ep.Local {
			return b.invokeLocalEndpoint(ctx, ep)
		}
		return b.invokeRemote(ctx, ep)
	}
	return chain(b.middlewareSnapshot(), base)(ctx)
}

func (b *Broker) validate(ep *registry.Endpoint, params []byte) error {
	v := b.opts.Validator
	if v == nil || len(ep.Action.Schema) == 0 {
		return nil
	}
	var schema map[string]any
	if err := json.Unmarshal(ep.Action.Schema, &schema); err != nil {
		return NewBrokerError(KindValidationError, "malformed schema: "+err.Error())
	}
	checker, err := v.Compile(schema)
	if err != nil {
		return NewBrokerError(KindValidationError, err.Error())
	}
	if errs := checker.Check(params); len(errs) > 0 {
		return NewBrokerError(KindValidationError, errs[0].Error())
	}
	return nil
}

func (b *Broker) invokeLocalEndpoint(ctx *Context, ep *registry.Endpoint) ([]byte, error) {
	ep.RecordDispatch()

	stdctx, cancel := context.WithTimeout(withContext(context.Background(), ctx), ctx.Timeout)
	defer cancel()

	data, err := ep.Handler(stdctx, ctx.Params, ctx.Meta)
	if err != nil {
		be, ok := err.(*BrokerError)
		if !ok {
			be = WrapBrokerError(KindCustom, err)
		}
		if be.Retryable() {
			ep.RecordFailure()
		} else {
			ep.RecordSuccess()
		}
		return nil, be
	}
	ep.RecordSuccess()
	return data, nil
}

func (b *Broker) invokeRemote(ctx *Context, ep *registry.Endpoint) ([]byte, error) {
	ep.RecordDispatch()

	req := wire.RequestPayload{
		ID:        ctx.ID,
		RequestID: uuid.NewString(),
		Action:    ctx.Action,
		Params:    ctx.Params,
		Meta:      ctx.Meta,
		TimeoutMs: ctx.Timeout.Milliseconds(),
		Level:     ctx.Level,
		Metrics:   ctx.Metrics,
		ParentID:  ctx.ParentID,
	}
	data, respErr, err := b.transit.SendRequest(context.Background(), ep.Node.ID, req, ctx.Timeout)
	if err != nil {
		ep.RecordFailure()
		return nil, WrapBrokerError(KindTransportError, err)
	}
	if respErr != nil {
		be := FromResponseError(respErr)
		if be.Retryable() {
			ep.RecordFailure()
		} else {
			ep.RecordSuccess()
		}
		return nil, be
	}
	ep.RecordSuccess()
	return data, nil
}

func (b *Broker) emit(eventName string, data []byte, broadcast bool, meta map[string]string) error {
	for _, sub := range b.registry.EmitTargets(eventName, broadcast) {
		sub := sub
		if sub.Local {
			if sub.Handler == nil {
				continue
			}
			go func() {
				cctx := newRootContext(b, eventName, data, meta, b.opts.RequestTimeout, false)
				stdctx, cancel := context.WithTimeout(withContext(context.Background(), cctx), b.opts.RequestTimeout)
				defer cancel()
				if _, err := sub.Handler(stdctx, data, meta); err != nil {
					rpclog.Log(rpclog.LevelWarn, "brokerrpc: local event handler for", eventName, "failed:", err.Error())
				}
			}()
			continue
		}
		go func() {
			ev := wire.EventPayload{Event: eventName, Data: data, Broadcast: broadcast, Meta: meta}
			if !broadcast {
				ev.Groups = []string{sub.Group}
			}
			if err := b.transit.PublishEvent(context.Background(), sub.Node.ID, ev); err != nil {
				rpclog.Log(rpclog.LevelWarn, "brokerrpc: publish event", eventName, "to", sub.Node.ID, "failed:", err.Error())
			}
		}()
	}
	return nil
}

// ---- caching ----

func cacheKey(action string, params []byte) string {
	return action + ":" + base64.RawURLEncoding.EncodeToString(params)
}

// cacheGet reports (attempted, hit). attempted is false when no Cacher is
// configured or the action isn't marked cacheable, so the caller doesn't
// need to look the action descriptor up twice.
func (b *Broker) cacheGet(ctx *Context) (attempted bool, data []byte, hit bool) {
	c := b.opts.Cacher
	if c == nil {
		return false, nil, false
	}
	eps, ok := b.registry.GetActionEndpoints(ctx.Action)
	if !ok || len(eps) == 0 || !eps[0].Action.Cache {
		return false, nil, false
	}
	data, found, err := c.Get(context.Background(), cacheKey(ctx.Action, ctx.Params))
	if err != nil {
		rpclog.Log(rpclog.LevelWarn, "brokerrpc: cache get failed:", err.Error())
		return true, nil, false
	}
	return true, data, found
}

func (b *Broker) cacheSet(ctx *Context, ep *registry.Endpoint, data []byte) {
	c := b.opts.Cacher
	if c == nil || !ep.Action.Cache {
		return
	}
	if err := c.Set(context.Background(), cacheKey(ctx.Action, ctx.Params), data, b.opts.RequestTimeout*10); err != nil {
		rpclog.Log(rpclog.LevelWarn, "brokerrpc: cache set failed:", err.Error())
	}
}

// ---- transit.Dispatcher ----

// InvokeLocal is called by transit when a remote peer's REQUEST names one
// of this node's local actions.
func (b *Broker) InvokeLocal(stdctx context.Context, req *wire.RequestPayload) ([]byte, *wire.ResponseError) {
	ep, ok := b.registry.GetEndpointByNodeID(req.Action, b.opts.NodeID)
	if !ok || !ep.Local {
		return nil, &wire.ResponseError{Kind: wire.KindServiceNotFound, Message: "no such local action", NodeID: b.opts.NodeID}
	}
	if b.isLoadshed() {
		return nil, &wire.ResponseError{Kind: wire.KindServiceNotAvailable, Message: "node is loadshedding", NodeID: b.opts.NodeID}
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = b.opts.RequestTimeout
	}
	cctx := &Context{
		ID:        req.ID,
		RequestID: req.RequestID,
		ParentID:  req.ParentID,
		Level:     req.Level,
		Action:    req.Action,
		Params:    req.Params,
		Meta:      req.Meta,
		Timeout:   timeout,
		Metrics:   req.Metrics,
		NodeID:    b.opts.NodeID,
		broker:    b,
	}
	data, err := b.dispatch(cctx, ep)
	if err != nil {
		be, ok := err.(*BrokerError)
		if !ok {
			be = WrapBrokerError(KindCustom, err)
		}
		return nil, be.ToResponseError()
	}
	return data, nil
}

// HandleEvent delivers a remotely-originated EVENT to this node's matching
// local subscribers.
func (b *Broker) HandleEvent(stdctx context.Context, sender string, ev *wire.EventPayload) {
	for _, sub := range b.registry.LocalEventHandlers(ev.Event, ev.Groups, ev.Broadcast) {
		sub := sub
		if sub.Handler == nil {
			continue
		}
		go func() {
			cctx := newRootContext(b, ev.Event, ev.Data, ev.Meta, b.opts.RequestTimeout, false)
			ctx, cancel := context.WithTimeout(withContext(context.Background(), cctx), b.opts.RequestTimeout)
			defer cancel()
			if _, err := sub.Handler(ctx, ev.Data, ev.Meta); err != nil {
				rpclog.Log(rpclog.LevelWarn, "brokerrpc: remote event", ev.Event, "handler failed:", err.Error())
			}
		}()
	}
}

func (b *Broker) HandleInfo(nodeID string, info *wire.InfoPayload) {
	if became := b.registry.ProcessInfo(nodeID, *info); became {
		b.emitNodeEvent("$node.connected", nodeID)
	}
}

func (b *Broker) HandleHeartbeat(nodeID string, hb *wire.HeartbeatPayload) {
	if known := b.registry.Heartbeat(nodeID, *hb); !known {
		if err := b.transit.PublishDiscover(context.Background(), nodeID); err != nil {
			rpclog.Log(rpclog.LevelWarn, "brokerrpc: requesting DISCOVER from unknown heartbeat sender", nodeID, "failed:", err.Error())
		}
	}
}

func (b *Broker) HandleDisconnect(nodeID string, unexpected bool) {
	if found := b.registry.Disconnected(nodeID); found {
		b.emitNodeEvent("$node.disconnected", nodeID)
	}
}

func (b *Broker) HandleDiscover(nodeID string) {
	if err := b.transit.PublishInfo(context.Background(), nodeID, b.localInfoPayload()); err != nil {
		rpclog.Log(rpclog.LevelWarn, "brokerrpc: replying to DISCOVER from", nodeID, "failed:", err.Error())
	}
}

// ---- internal $node.* actions ----
//
// Mirrors the teacher's auto-registered __CLUSTERRPC.Health/Ping endpoints
// (server/auto_endpoints.go, server/health_server.go): every broker exposes
// a small set of introspection actions under the reserved "$node" service
// name without the embedding application asking for them.

const internalServiceName = "$node"
const internalServiceVersion = "1"

func (b *Broker) registerInternalActions() {
	b.registry.DefineLocalService(internalServiceName, internalServiceVersion, nil)
	b.registry.DefineLocalAction(internalServiceName, internalServiceVersion,
		wire.ActionDescriptor{Name: "health", Version: internalServiceVersion}, b.handleNodeHealth)
	b.registry.DefineLocalAction(internalServiceName, internalServiceVersion,
		wire.ActionDescriptor{Name: "list", Version: internalServiceVersion}, b.handleNodeList)
	b.registry.DefineLocalAction(internalServiceName, internalServiceVersion,
		wire.ActionDescriptor{Name: "services", Version: internalServiceVersion}, b.handleNodeServices)
	b.registry.DefineLocalAction(internalServiceName, internalServiceVersion,
		wire.ActionDescriptor{Name: "actions", Version: internalServiceVersion}, b.handleNodeActions)
	b.registry.DefineLocalAction(internalServiceName, internalServiceVersion,
		wire.ActionDescriptor{Name: "events", Version: internalServiceVersion}, b.handleNodeEvents)
}

func (b *Broker) handleNodeHealth(_ context.Context, _ []byte, _ map[string]string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"cpuUsage": b.cpuUsage(),
		"lameduck": b.isLameduck(),
		"loadshed": b.isLoadshed(),
		"healthy":  !b.isLameduck(),
	})
}

func (b *Broker) handleNodeList(_ context.Context, _ []byte, _ map[string]string) ([]byte, error) {
	nodes := b.registry.ListNodes()
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, map[string]any{
			"id": n.ID, "available": n.Available, "local": n.Local, "cpuUsage": n.CPUUsage,
		})
	}
	return json.Marshal(out)
}

func (b *Broker) handleNodeServices(_ context.Context, _ []byte, _ map[string]string) ([]byte, error) {
	services := b.registry.List(registry.ListFilter{SkipInternal: true})
	out := make([]map[string]any, 0, len(services))
	for _, s := range services {
		out = append(out, map[string]any{"name": s.Name, "version": s.Version, "nodeId": s.NodeID})
	}
	return json.Marshal(out)
}

func (b *Broker) handleNodeActions(_ context.Context, _ []byte, _ map[string]string) ([]byte, error) {
	services := b.registry.List(registry.ListFilter{SkipInternal: true})
	var out []string
	for _, s := range services {
		for name := range s.Actions {
			out = append(out, s.Name+"."+name)
		}
	}
	return json.Marshal(out)
}

func (b *Broker) handleNodeEvents(_ context.Context, _ []byte, _ map[string]string) ([]byte, error) {
	services := b.registry.List(registry.ListFilter{SkipInternal: true})
	var out []string
	for _, s := range services {
		for name := range s.Events {
			out = append(out, s.Name+"."+name)
		}
	}
	return json.Marshal(out)
}
