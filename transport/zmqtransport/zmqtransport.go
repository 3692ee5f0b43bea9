// Package zmqtransport is the primary Transport adapter, built on
// ZeroMQ ROUTER/DEALER sockets the way dermesser-clusterrpc's
// server/server_internal.go load-balancer and client/client_internal.go
// REQ-socket loop use them: one ROUTER socket accepts inbound frames from
// any peer, and one pooled DEALER socket per peer carries outbound frames,
// identified by node id rather than by ZeroMQ's own generated identities.
package zmqtransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/dermesser/brokerrpc/internal/rpclog"
	"github.com/dermesser/brokerrpc/securitymanager"
	"github.com/dermesser/brokerrpc/transport"
	"github.com/dermesser/brokerrpc/wire"
)

// Config parameterizes a Transport. Peers maps every other known node id to
// the ZeroMQ endpoint (e.g. "tcp://10.0.0.4:5555") its ROUTER socket is
// bound to. Static peer addressing mirrors the teacher's client, which is
// constructed with a fixed list of remote addresses rather than discovering
// them dynamically.
type Config struct {
	NodeID   string
	BindAddr string
	Peers    map[string]string

	Serializer wire.Serializer
	Server     *securitymanager.ServerSecurityManager
	Client     *securitymanager.ClientSecurityManager

	SendTimeout time.Duration
	IdleTimeout time.Duration // defaulted but not read: CleanOld takes its idle threshold as an argument
}

func (c *Config) setDefaults() {
	if c.Serializer == nil {
		c.Serializer = wire.NewProtobufSerializer()
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 2 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

type pooledDealer struct {
	sock     *zmq.Socket
	lastUsed time.Time
}

// Transport implements transport.Transport over ZeroMQ.
type Transport struct {
	cfg Config

	router   *zmq.Socket
	routerMu sync.Mutex

	dealersMu sync.Mutex
	dealers   map[string]*pooledDealer

	handlersMu sync.RWMutex
	handlers   map[string][]transport.Handler

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config) *Transport {
	cfg.setDefaults()
	return &Transport{
		cfg:      cfg,
		dealers:  make(map[string]*pooledDealer),
		handlers: make(map[string][]transport.Handler),
		stop:     make(chan struct{}),
	}
}

func (t *Transport) Connect(ctx context.Context) error {
	sock, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		rpclog.Log(rpclog.LevelError, "zmqtransport: could not create ROUTER socket:", err.Error())
		return err
	}
	if err := sock.SetIdentity(t.cfg.NodeID); err != nil {
		return err
	}
	if err := t.cfg.Server.ApplyToServerSocket(sock); err != nil {
		rpclog.Log(rpclog.LevelError, "zmqtransport: security setup failed:", err.Error())
		return err
	}
	if err := sock.Bind(t.cfg.BindAddr); err != nil {
		rpclog.Log(rpclog.LevelError, "zmqtransport: could not bind", t.cfg.BindAddr, err.Error())
		return err
	}
	t.router = sock

	t.wg.Add(1)
	go t.receiveLoop()

	rpclog.Log(rpclog.LevelInfo, "zmqtransport: bound", t.cfg.BindAddr, "as", t.cfg.NodeID)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	close(t.stop)

	t.routerMu.Lock()
	if t.router != nil {
		t.router.Close()
	}
	t.routerMu.Unlock()

	t.dealersMu.Lock()
	for id, d := range t.dealers {
		d.sock.Close()
		delete(t.dealers, id)
	}
	t.dealersMu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *Transport) Subscribe(topic transport.Topic, handler transport.Handler) error {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	key := topic.String()
	t.handlers[key] = append(t.handlers[key], handler)
	return nil
}

// Publish sends pkt on topic. Node-scoped topics go to exactly that peer's
// DEALER connection; cluster-wide topics fan out fire-and-forget to every
// known peer, matching the "no ack on emit to remote nodes" concurrency
// rule.
func (t *Transport) Publish(ctx context.Context, topic transport.Topic, pkt *wire.Packet) error {
	data, err := t.cfg.Serializer.Serialize(pkt)
	if err != nil {
		return err
	}
	frame := [][]byte{[]byte(topic.String()), data}

	if topic.NodeID != "" {
		return t.sendTo(topic.NodeID, frame)
	}
	var firstErr error
	for peer := range t.cfg.Peers {
		if err := t.sendTo(peer, frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Transport) sendTo(nodeID string, frame [][]byte) error {
	d, err := t.dealerFor(nodeID)
	if err != nil {
		return err
	}
	t.dealersMu.Lock()
	d.lastUsed = time.Now()
	t.dealersMu.Unlock()
	_, err = d.sock.SendMessage(frame)
	if err != nil {
		rpclog.Log(rpclog.LevelWarn, fmt.Sprintf("zmqtransport: send to %s failed: %s", nodeID, err.Error()))
	}
	return err
}

// dealerFor returns the pooled DEALER connected to nodeID, creating and
// connecting it lazily on first use -- the same lazy-connect shape as
// ConnectionCache.Connect in the teacher lineage, keyed by node id instead
// of host:port since peer addresses are static configuration here.
func (t *Transport) dealerFor(nodeID string) (*pooledDealer, error) {
	t.dealersMu.Lock()
	defer t.dealersMu.Unlock()

	if d, ok := t.dealers[nodeID]; ok {
		return d, nil
	}

	addr, ok := t.cfg.Peers[nodeID]
	if !ok {
		return nil, fmt.Errorf("zmqtransport: unknown peer %q", nodeID)
	}

	sock, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, err
	}
	if err := sock.SetIdentity(t.cfg.NodeID); err != nil {
		sock.Close()
		return nil, err
	}
	if err := t.cfg.Client.ApplyToClientSocket(sock); err != nil {
		sock.Close()
		return nil, err
	}
	sock.SetSndtimeo(t.cfg.SendTimeout)
	sock.SetReconnectIvl(100 * time.Millisecond)
	if err := sock.Connect(addr); err != nil {
		sock.Close()
		return nil, err
	}

	d := &pooledDealer{sock: sock, lastUsed: time.Now()}
	t.dealers[nodeID] = d
	return d, nil
}

// CleanOld closes and evicts pooled DEALER connections idle longer than
// olderThan, mirroring client/conncache.go's CleanOld.
func (t *Transport) CleanOld(olderThan time.Duration) {
	t.dealersMu.Lock()
	defer t.dealersMu.Unlock()
	now := time.Now()
	for id, d := range t.dealers {
		if now.Sub(d.lastUsed) > olderThan {
			d.sock.Close()
			delete(t.dealers, id)
		}
	}
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		t.routerMu.Lock()
		router := t.router
		t.routerMu.Unlock()
		if router == nil {
			return
		}

		frames, err := router.RecvMessageBytes(0)
		if err != nil {
			var zerr zmq.Errno
			if errors.As(err, &zerr) {
				select {
				case <-t.stop:
					return
				default:
				}
			}
			rpclog.Log(rpclog.LevelWarn, "zmqtransport: recv error:", err.Error())
			continue
		}
		// [senderIdentity, topic, payload]
		if len(frames) != 3 {
			continue
		}
		topicStr := string(frames[1])
		pkt, err := t.cfg.Serializer.Deserialize(frames[2])
		if err != nil {
			rpclog.Log(rpclog.LevelWarn, "zmqtransport: could not decode packet on", topicStr, err.Error())
			continue
		}

		t.dispatch(topicStr, pkt)
	}
}

func (t *Transport) dispatch(topicStr string, pkt *wire.Packet) {
	t.handlersMu.RLock()
	hs := append([]transport.Handler(nil), t.handlers[topicStr]...)
	t.handlersMu.RUnlock()
	for _, h := range hs {
		h(pkt)
	}
}
