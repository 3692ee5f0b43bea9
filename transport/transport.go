// Package transport defines the pub/sub contract every wire adapter
// (ZeroMQ, MQTT, WebSocket, or the in-process test transport) implements,
// and the topic naming scheme brokers use to address each other.
package transport

import (
	"context"
	"fmt"

	"github.com/dermesser/brokerrpc/wire"
)

// Kind is the coarse category of a topic, mirroring the packet kinds a
// broker exchanges with its peers.
type Kind string

const (
	KindRequest    Kind = "REQ"
	KindResponse   Kind = "RES"
	KindEvent      Kind = "EVENT"
	KindInfo       Kind = "INFO"
	KindHeartbeat  Kind = "HEARTBEAT"
	KindDisconnect Kind = "DISCONNECT"
	KindDiscover   Kind = "DISCOVER"
	KindPing       Kind = "PING"
	KindPong       Kind = "PONG"
)

// Topic addresses either the whole cluster (NodeID == "") or a single node
// (REQ.<nodeId>, RES.<nodeId>, ...), matching the naming scheme in the
// component design's external interfaces section.
type Topic struct {
	Kind   Kind
	NodeID string
}

func (t Topic) String() string {
	if t.NodeID == "" {
		return string(t.Kind)
	}
	return fmt.Sprintf("%s.%s", t.Kind, t.NodeID)
}

// Global returns the cluster-wide topic for kind (no node suffix).
func Global(kind Kind) Topic { return Topic{Kind: kind} }

// ForNode returns the per-node topic for kind.
func ForNode(kind Kind, nodeID string) Topic { return Topic{Kind: kind, NodeID: nodeID} }

// Handler receives a decoded packet delivered on a subscribed topic.
type Handler func(pkt *wire.Packet)

// Transport is the pluggable transport contract: connect/disconnect the
// underlying wire, subscribe a handler to a topic, and publish a packet on
// a topic. The network adapters own their own serialization via a
// wire.Serializer supplied at construction; memtransport hands packets to
// subscribers without serializing them.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(topic Topic, handler Handler) error
	Publish(ctx context.Context, topic Topic, pkt *wire.Packet) error
}
