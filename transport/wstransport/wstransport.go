// Package wstransport adapts a mesh of WebSocket connections into the
// Transport contract, grounded on aphrodoe-minitrue's internal/websocket.Hub
// register/unregister/broadcast-channel pattern and its per-connection
// read/write pumps. Unlike the original Hub (server fan-out to browser
// clients), here every peer is symmetric: each broker both serves an
// http.Handler for inbound peer connections and dials out to the peers
// configured in Config.Peers.
package wstransport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dermesser/brokerrpc/internal/rpclog"
	"github.com/dermesser/brokerrpc/transport"
	"github.com/dermesser/brokerrpc/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Config parameterizes a Transport.
type Config struct {
	ListenAddr string            // address the local hub's http.Server listens on for inbound peer connections
	Peers      map[string]string // nodeID -> "ws://host:port/path" for outbound connections
	Serializer wire.Serializer
}

func (c *Config) setDefaults() {
	if c.Serializer == nil {
		c.Serializer = wire.NewProtobufSerializer()
	}
}

type frame struct {
	topic string
	data  []byte
}

// conn is one peer connection, symmetric whether it was accepted or dialed.
type conn struct {
	ws   *websocket.Conn
	send chan frame
}

// Transport is a hub of peer WebSocket connections.
type Transport struct {
	cfg Config

	mu    sync.RWMutex
	conns map[*conn]bool

	handlersMu sync.RWMutex
	handlers   map[string][]transport.Handler

	server *http.Server
}

func New(cfg Config) *Transport {
	cfg.setDefaults()
	return &Transport{
		cfg:      cfg,
		conns:    make(map[*conn]bool),
		handlers: make(map[string][]transport.Handler),
	}
}

func (t *Transport) Connect(ctx context.Context) error {
	if t.cfg.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/", t.serveInbound)
		t.server = &http.Server{Addr: t.cfg.ListenAddr, Handler: mux}
		go func() {
			if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				rpclog.Log(rpclog.LevelError, "wstransport: listen failed:", err.Error())
			}
		}()
	}

	for nodeID, addr := range t.cfg.Peers {
		if err := t.dial(nodeID, addr); err != nil {
			rpclog.Log(rpclog.LevelWarn, "wstransport: could not dial", nodeID, addr, err.Error())
		}
	}
	return nil
}

func (t *Transport) dial(nodeID, addr string) error {
	ws, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return err
	}
	t.adopt(ws)
	return nil
}

func (t *Transport) serveInbound(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		rpclog.Log(rpclog.LevelWarn, "wstransport: upgrade failed:", err.Error())
		return
	}
	t.adopt(ws)
}

func (t *Transport) adopt(ws *websocket.Conn) {
	c := &conn{ws: ws, send: make(chan frame, 256)}
	t.mu.Lock()
	t.conns[c] = true
	t.mu.Unlock()

	go t.writePump(c)
	go t.readPump(c)
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	for c := range t.conns {
		close(c.send)
		c.ws.Close()
		delete(t.conns, c)
	}
	t.mu.Unlock()

	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

func (t *Transport) Subscribe(topic transport.Topic, handler transport.Handler) error {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	key := topic.String()
	t.handlers[key] = append(t.handlers[key], handler)
	return nil
}

func (t *Transport) Publish(ctx context.Context, topic transport.Topic, pkt *wire.Packet) error {
	data, err := t.cfg.Serializer.Serialize(pkt)
	if err != nil {
		return err
	}
	f := frame{topic: topic.String(), data: data}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for c := range t.conns {
		select {
		case c.send <- f:
		default:
			rpclog.Log(rpclog.LevelWarn, "wstransport: send buffer full, dropping frame on", f.topic)
		}
	}
	return nil
}

func (t *Transport) readPump(c *conn) {
	defer func() {
		t.mu.Lock()
		delete(t.conns, c)
		t.mu.Unlock()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if len(raw) < 2 {
			continue
		}
		topicLen := int(raw[0])<<8 | int(raw[1])
		if len(raw) < 2+topicLen {
			continue
		}
		topicStr := string(raw[2 : 2+topicLen])
		payload := raw[2+topicLen:]

		pkt, err := t.cfg.Serializer.Deserialize(payload)
		if err != nil {
			rpclog.Log(rpclog.LevelWarn, "wstransport: decode failed on", topicStr, err.Error())
			continue
		}
		t.dispatch(topicStr, pkt)
	}
}

func (t *Transport) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			buf := make([]byte, 2+len(f.topic)+len(f.data))
			buf[0] = byte(len(f.topic) >> 8)
			buf[1] = byte(len(f.topic))
			copy(buf[2:], f.topic)
			copy(buf[2+len(f.topic):], f.data)
			if err := c.ws.WriteMessage(websocket.BinaryMessage, buf); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
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
