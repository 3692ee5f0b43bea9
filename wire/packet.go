// Package wire defines the transport-agnostic packet types exchanged between
// brokers and the default protobuf-backed Serializer that turns them into
// bytes. The shapes mirror clusterrpc's proto.RPCRequest/RPCResponse, but
// are widened to the broker's discovery and event traffic.
package wire

// PacketKind is the tag of the packet union.
type PacketKind byte

const (
	KindInfo PacketKind = iota + 1
	KindHeartbeat
	KindDiscover
	KindRequest
	KindResponse
	KindEvent
	KindDisconnect
	KindPing
	KindPong
)

func (k PacketKind) String() string {
	switch k {
	case KindInfo:
		return "INFO"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindDiscover:
		return "DISCOVER"
	case KindRequest:
		return "REQUEST"
	case KindResponse:
		return "RESPONSE"
	case KindEvent:
		return "EVENT"
	case KindDisconnect:
		return "DISCONNECT"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// ProtocolVersion is bumped whenever the wire payloads change shape.
const ProtocolVersion uint32 = 1

// ActionDescriptor is the wire shape of one action a service exposes.
type ActionDescriptor struct {
	Name    string
	Version string
	Cache   bool
	Schema  []byte // opaque to the core; interpreted by the Validator
}

// EventDescriptor is the wire shape of one event subscription a service
// registers.
type EventDescriptor struct {
	Name  string
	Group string // empty means "no explicit group; group == service name"
}

// ServiceDescriptor is the wire shape of one hosted service, as carried in
// full inside every INFO packet (see registry reconcile semantics).
type ServiceDescriptor struct {
	Name     string
	Version  string
	Settings []byte
	Actions  []ActionDescriptor
	Events   []EventDescriptor
}

type InfoPayload struct {
	Services []ServiceDescriptor
	IPList   []string
	Client   map[string]string
	Config   []byte
	UptimeMs int64
}

type HeartbeatPayload struct {
	CPUUsage float64
}

type DiscoverPayload struct{}

type RequestPayload struct {
	ID         string
	RequestID  string
	Action     string
	Params     []byte
	Meta       map[string]string
	TimeoutMs  int64
	Level      int32
	Metrics    bool
	ParentID   string
	TargetNode string
}

// Kind classifies why a call failed. It lives in the wire package (rather
// than the root package that actually surfaces it as a Go error) so that
// transit can construct and rehydrate ResponseError values without
// importing the root package, which itself imports transit.
type Kind int32

const (
	KindUnknown Kind = iota
	KindServiceNotFound
	KindServiceNotAvailable
	KindRequestTimeout
	KindRequestRejected // circuit open
	KindValidationError
	KindTransportError
	KindNodeDisconnected
	KindBrokerStopping
	KindCustom // user handler returned/threw an application error
)

var kindNames = [...]string{
	"UNKNOWN",
	"SERVICE_NOT_FOUND",
	"SERVICE_NOT_AVAILABLE",
	"REQUEST_TIMEOUT",
	"REQUEST_REJECTED",
	"VALIDATION_ERROR",
	"TRANSPORT_ERROR",
	"NODE_DISCONNECTED",
	"BROKER_STOPPING",
	"CUSTOM",
}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "UNKNOWN"
	}
	return kindNames[k]
}

// Retryable reports whether a call that failed with this kind should be
// retried against a different endpoint.
func (k Kind) Retryable() bool {
	switch k {
	case KindRequestTimeout, KindRequestRejected, KindTransportError, KindNodeDisconnected:
		return true
	default:
		return false
	}
}

type ResponseError struct {
	Kind    Kind
	Message string
	Data    []byte
	NodeID  string
}

type ResponsePayload struct {
	ID      string
	Success bool
	Data    []byte
	Error   *ResponseError
	Trace   []byte // opaque serialized TraceInfo tree; transit leaves it empty
}

type EventPayload struct {
	Event     string
	Data      []byte
	Groups    []string
	Broadcast bool
	Meta      map[string]string
}

type DisconnectPayload struct {
	Unexpected bool
}

type PingPongPayload struct {
	TimeMs int64
}

// Envelope carries the fields common to every packet kind.
type Envelope struct {
	Ver    uint32
	Sender string
}

// Packet is the tagged union over the wire. Exactly one of the typed payload
// pointers is non-nil, matching Kind.
type Packet struct {
	Kind       PacketKind
	Envelope   Envelope
	Info       *InfoPayload
	Heartbeat  *HeartbeatPayload
	Discover   *DiscoverPayload
	Request    *RequestPayload
	Response   *ResponsePayload
	Event      *EventPayload
	Disconnect *DisconnectPayload
	Ping       *PingPongPayload
	Pong       *PingPongPayload
}
