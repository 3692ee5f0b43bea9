// Package transit turns broker operations into wire packets and back: it
// owns subscription lifecycle on a Transport, request/response correlation
// via a pending-slot table, and the fixed-interval heartbeat loop (C9).
package transit

import (
	"context"
	"sync"
	"time"

	"github.com/dermesser/brokerrpc/internal/rpclog"
	"github.com/dermesser/brokerrpc/transport"
	"github.com/dermesser/brokerrpc/wire"
)

// Dispatcher is implemented by the broker layer to handle packets Transit
// cannot resolve on its own (everything except RESPONSE correlation and
// PING/PONG, which Transit answers directly). Keeping this as a narrow
// interface, rather than importing the broker package, avoids an import
// cycle: the broker package imports transit, not the reverse.
type Dispatcher interface {
	InvokeLocal(ctx context.Context, req *wire.RequestPayload) (data []byte, respErr *wire.ResponseError)
	HandleEvent(ctx context.Context, sender string, ev *wire.EventPayload)
	HandleInfo(nodeID string, info *wire.InfoPayload)
	HandleHeartbeat(nodeID string, hb *wire.HeartbeatPayload)
	HandleDisconnect(nodeID string, unexpected bool)
	HandleDiscover(nodeID string)
}

// Config parameterizes a Transit.
type Config struct {
	LocalNodeID       string
	Transport         transport.Transport
	Dispatcher        Dispatcher
	HeartbeatInterval time.Duration
	CPUUsage          func() float64 // optional; defaults to reporting 0
}

// Transit is the packet-level layer sitting between a Broker and a
// Transport.
type Transit struct {
	cfg     Config
	pending *pendingTable

	stopHeartbeat chan struct{}
	wg            sync.WaitGroup
}

func New(cfg Config) *Transit {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.CPUUsage == nil {
		cfg.CPUUsage = func() float64 { return 0 }
	}
	return &Transit{cfg: cfg, pending: newPendingTable(), stopHeartbeat: make(chan struct{})}
}

// Connect subscribes to every topic this node needs to hear from: its own
// per-node request/response/info/discover/ping topics, plus the cluster-wide
// event/info/heartbeat/disconnect/discover topics.
func (t *Transit) Connect(ctx context.Context) error {
	if err := t.cfg.Transport.Connect(ctx); err != nil {
		return err
	}

	local := t.cfg.LocalNodeID
	subs := []transport.Topic{
		transport.ForNode(transport.KindRequest, local),
		transport.ForNode(transport.KindResponse, local),
		transport.ForNode(transport.KindDiscover, local),
		transport.ForNode(transport.KindPing, local),
		transport.ForNode(transport.KindPong, local),
		transport.ForNode(transport.KindEvent, local),
		transport.ForNode(transport.KindInfo, local),
		transport.Global(transport.KindEvent),
		transport.Global(transport.KindInfo),
		transport.Global(transport.KindHeartbeat),
		transport.Global(transport.KindDisconnect),
		transport.Global(transport.KindDiscover),
	}
	for _, topic := range subs {
		if err := t.cfg.Transport.Subscribe(topic, t.receive); err != nil {
			return err
		}
	}

	t.wg.Add(1)
	go t.heartbeatLoop()
	return nil
}

// Disconnect stops the heartbeat loop, publishes a DISCONNECT, rejects every
// pending call with BROKER_STOPPING, and tears down the transport.
func (t *Transit) Disconnect(ctx context.Context) error {
	close(t.stopHeartbeat)
	t.wg.Wait()

	t.cfg.Transport.Publish(ctx, transport.Global(transport.KindDisconnect), &wire.Packet{
		Kind:       wire.KindDisconnect,
		Envelope:   wire.Envelope{Ver: wire.ProtocolVersion, Sender: t.cfg.LocalNodeID},
		Disconnect: &wire.DisconnectPayload{Unexpected: false},
	})

	t.pending.rejectAll(wire.KindBrokerStopping, "broker is stopping")

	return t.cfg.Transport.Disconnect(ctx)
}

// PublishInfo announces this node's current service catalog, either
// cluster-wide (targetNodeID == "") or in reply to a single DISCOVER.
func (t *Transit) PublishInfo(ctx context.Context, targetNodeID string, info wire.InfoPayload) error {
	topic := transport.Global(transport.KindInfo)
	if targetNodeID != "" {
		topic = transport.ForNode(transport.KindInfo, targetNodeID)
	}
	return t.cfg.Transport.Publish(ctx, topic, &wire.Packet{
		Kind:     wire.KindInfo,
		Envelope: wire.Envelope{Ver: wire.ProtocolVersion, Sender: t.cfg.LocalNodeID},
		Info:     &info,
	})
}

// PublishDiscover asks targetNodeID to (re-)announce itself with an INFO
// packet, used when a HEARTBEAT arrives from a node this one doesn't yet
// know about. targetNodeID == "" asks every peer at once, as done once on
// Connect to learn the existing cluster's catalog.
func (t *Transit) PublishDiscover(ctx context.Context, targetNodeID string) error {
	topic := transport.Global(transport.KindDiscover)
	if targetNodeID != "" {
		topic = transport.ForNode(transport.KindDiscover, targetNodeID)
	}
	return t.cfg.Transport.Publish(ctx, topic, &wire.Packet{
		Kind:     wire.KindDiscover,
		Envelope: wire.Envelope{Ver: wire.ProtocolVersion, Sender: t.cfg.LocalNodeID},
		Discover: &wire.DiscoverPayload{},
	})
}

// PublishEvent delivers an EVENT to targetNodeID, or broadcasts it globally
// when targetNodeID == "".
func (t *Transit) PublishEvent(ctx context.Context, targetNodeID string, ev wire.EventPayload) error {
	topic := transport.Global(transport.KindEvent)
	if targetNodeID != "" {
		topic = transport.ForNode(transport.KindEvent, targetNodeID)
	}
	return t.cfg.Transport.Publish(ctx, topic, &wire.Packet{
		Kind:     wire.KindEvent,
		Envelope: wire.Envelope{Ver: wire.ProtocolVersion, Sender: t.cfg.LocalNodeID},
		Event:    &ev,
	})
}

// SendRequest serializes and publishes a REQUEST to targetNodeID, then
// blocks until a matching RESPONSE arrives, ctx is cancelled, or timeout
// elapses -- whichever comes first, per the "exactly one resolution" rule.
func (t *Transit) SendRequest(ctx context.Context, targetNodeID string, req wire.RequestPayload, timeout time.Duration) ([]byte, *wire.ResponseError, error) {
	slot := t.pending.register(req.RequestID, targetNodeID, timeout)
	defer t.pending.forget(req.RequestID)

	pkt := &wire.Packet{
		Kind:     wire.KindRequest,
		Envelope: wire.Envelope{Ver: wire.ProtocolVersion, Sender: t.cfg.LocalNodeID},
		Request:  &req,
	}
	if err := t.cfg.Transport.Publish(ctx, transport.ForNode(transport.KindRequest, targetNodeID), pkt); err != nil {
		slot.resolve(result{err: &wire.ResponseError{Kind: wire.KindTransportError, Message: err.Error(), NodeID: targetNodeID}})
	}

	select {
	case r := <-slot.done:
		return r.data, r.err, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// NotifyNodeDown rejects every pending call awaiting a response from nodeID.
// The broker calls this when the registry reports nodeID disconnected.
func (t *Transit) NotifyNodeDown(nodeID string) {
	t.pending.rejectForNode(nodeID)
}

// receive is the single entry point for every inbound packet, dispatched by
// kind. A cluster-wide topic delivers to every subscriber including the
// publisher itself on transports without native publisher exclusion (e.g.
// memtransport); packets this node sent are dropped here rather than routed
// back into the dispatcher as if a peer had sent them.
func (t *Transit) receive(pkt *wire.Packet) {
	if pkt.Envelope.Sender == t.cfg.LocalNodeID {
		return
	}
	switch pkt.Kind {
	case wire.KindRequest:
		go t.handleRequest(pkt)
	case wire.KindResponse:
		t.handleResponse(pkt)
	case wire.KindEvent:
		if pkt.Event != nil {
			t.cfg.Dispatcher.HandleEvent(context.Background(), pkt.Envelope.Sender, pkt.Event)
		}
	case wire.KindInfo:
		if pkt.Info != nil {
			t.cfg.Dispatcher.HandleInfo(pkt.Envelope.Sender, pkt.Info)
		}
	case wire.KindHeartbeat:
		if pkt.Heartbeat != nil {
			t.cfg.Dispatcher.HandleHeartbeat(pkt.Envelope.Sender, pkt.Heartbeat)
		}
	case wire.KindDisconnect:
		unexpected := pkt.Disconnect == nil || pkt.Disconnect.Unexpected
		t.cfg.Dispatcher.HandleDisconnect(pkt.Envelope.Sender, unexpected)
		t.NotifyNodeDown(pkt.Envelope.Sender)
	case wire.KindDiscover:
		t.cfg.Dispatcher.HandleDiscover(pkt.Envelope.Sender)
	case wire.KindPing:
		t.handlePing(pkt)
	case wire.KindPong:
		// No latency tracking yet; nothing to do.
	default:
		rpclog.Log(rpclog.LevelWarn, "transit: dropped packet with unknown kind", int(pkt.Kind))
	}
}

func (t *Transit) handleRequest(pkt *wire.Packet) {
	if pkt.Request == nil {
		return
	}
	data, respErr := t.cfg.Dispatcher.InvokeLocal(context.Background(), pkt.Request)

	resp := &wire.Packet{
		Kind:     wire.KindResponse,
		Envelope: wire.Envelope{Ver: wire.ProtocolVersion, Sender: t.cfg.LocalNodeID},
		Response: &wire.ResponsePayload{
			ID:      pkt.Request.RequestID,
			Success: respErr == nil,
			Data:    data,
			Error:   respErr,
		},
	}
	if err := t.cfg.Transport.Publish(context.Background(), transport.ForNode(transport.KindResponse, pkt.Envelope.Sender), resp); err != nil {
		rpclog.Log(rpclog.LevelWarn, "transit: could not send response to", pkt.Envelope.Sender, err.Error())
	}
}

func (t *Transit) handleResponse(pkt *wire.Packet) {
	if pkt.Response == nil {
		return
	}
	t.pending.resolve(pkt.Response.ID, result{data: pkt.Response.Data, err: pkt.Response.Error})
}

func (t *Transit) handlePing(pkt *wire.Packet) {
	if pkt.Ping == nil {
		return
	}
	pong := &wire.Packet{
		Kind:     wire.KindPong,
		Envelope: wire.Envelope{Ver: wire.ProtocolVersion, Sender: t.cfg.LocalNodeID},
		Pong:     &wire.PingPongPayload{TimeMs: pkt.Ping.TimeMs},
	}
	t.cfg.Transport.Publish(context.Background(), transport.ForNode(transport.KindPong, pkt.Envelope.Sender), pong)
}

func (t *Transit) heartbeatLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopHeartbeat:
			return
		case <-ticker.C:
			pkt := &wire.Packet{
				Kind:      wire.KindHeartbeat,
				Envelope:  wire.Envelope{Ver: wire.ProtocolVersion, Sender: t.cfg.LocalNodeID},
				Heartbeat: &wire.HeartbeatPayload{CPUUsage: t.cfg.CPUUsage()},
			}
			if err := t.cfg.Transport.Publish(context.Background(), transport.Global(transport.KindHeartbeat), pkt); err != nil {
				rpclog.Log(rpclog.LevelWarn, "transit: heartbeat publish failed:", err.Error())
			}
		}
	}
}
