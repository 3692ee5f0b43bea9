package wire

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
)

// Serializer turns Packets into bytes and back. Transports depend on this
// interface, not on ProtobufSerializer directly, so an alternate wire format
// can be swapped in without touching any transport adapter.
type Serializer interface {
	Serialize(p *Packet) ([]byte, error)
	Deserialize(data []byte) (*Packet, error)
}

// ProtobufSerializer encodes packets using gogo/protobuf's Buffer primitives
// (varint, length-delimited string/bytes) directly, the way clusterrpc's
// generated proto.RPCRequest/RPCResponse do under the hood, but with the
// field layout written by hand since this repository has no protoc step.
// Fields are read back in the same fixed order they were written in,
// trading forward-compatible schema evolution (a real .proto's tag-based
// dispatch) for a serializer that needs no code generation.
type ProtobufSerializer struct{}

func NewProtobufSerializer() *ProtobufSerializer { return &ProtobufSerializer{} }

func (ProtobufSerializer) Serialize(p *Packet) ([]byte, error) {
	return Marshal(p)
}

func (ProtobufSerializer) Deserialize(data []byte) (*Packet, error) {
	return Unmarshal(data)
}

func Marshal(p *Packet) ([]byte, error) {
	buf := proto.NewBuffer(nil)

	if err := buf.EncodeVarint(uint64(p.Kind)); err != nil {
		return nil, err
	}
	if err := buf.EncodeVarint(uint64(p.Envelope.Ver)); err != nil {
		return nil, err
	}
	if err := buf.EncodeStringBytes(p.Envelope.Sender); err != nil {
		return nil, err
	}

	var err error
	switch p.Kind {
	case KindInfo:
		err = encodeInfo(buf, p.Info)
	case KindHeartbeat:
		err = encodeHeartbeat(buf, p.Heartbeat)
	case KindDiscover:
		// no payload
	case KindRequest:
		err = encodeRequest(buf, p.Request)
	case KindResponse:
		err = encodeResponse(buf, p.Response)
	case KindEvent:
		err = encodeEvent(buf, p.Event)
	case KindDisconnect:
		err = buf.EncodeVarint(boolToUint(p.Disconnect != nil && p.Disconnect.Unexpected))
	case KindPing:
		err = buf.EncodeVarint(uint64(p.Ping.TimeMs))
	case KindPong:
		err = buf.EncodeVarint(uint64(p.Pong.TimeMs))
	default:
		return nil, fmt.Errorf("wire: unknown packet kind %d", p.Kind)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte) (*Packet, error) {
	buf := proto.NewBuffer(data)

	kindv, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	ver, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	sender, err := buf.DecodeStringBytes()
	if err != nil {
		return nil, err
	}

	p := &Packet{Kind: PacketKind(kindv), Envelope: Envelope{Ver: uint32(ver), Sender: sender}}

	switch p.Kind {
	case KindInfo:
		p.Info, err = decodeInfo(buf)
	case KindHeartbeat:
		p.Heartbeat, err = decodeHeartbeat(buf)
	case KindDiscover:
		p.Discover = &DiscoverPayload{}
	case KindRequest:
		p.Request, err = decodeRequest(buf)
	case KindResponse:
		p.Response, err = decodeResponse(buf)
	case KindEvent:
		p.Event, err = decodeEvent(buf)
	case KindDisconnect:
		var v uint64
		v, err = buf.DecodeVarint()
		p.Disconnect = &DisconnectPayload{Unexpected: v != 0}
	case KindPing:
		var v uint64
		v, err = buf.DecodeVarint()
		p.Ping = &PingPongPayload{TimeMs: int64(v)}
	case KindPong:
		var v uint64
		v, err = buf.DecodeVarint()
		p.Pong = &PingPongPayload{TimeMs: int64(v)}
	default:
		return nil, fmt.Errorf("wire: unknown packet kind %d", p.Kind)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func encodeStrSlice(buf *proto.Buffer, ss []string) error {
	if err := buf.EncodeVarint(uint64(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := buf.EncodeStringBytes(s); err != nil {
			return err
		}
	}
	return nil
}

func decodeStrSlice(buf *proto.Buffer) ([]string, error) {
	n, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := buf.DecodeStringBytes()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func encodeStrMap(buf *proto.Buffer, m map[string]string) error {
	if err := buf.EncodeVarint(uint64(len(m))); err != nil {
		return err
	}
	for k, v := range m {
		if err := buf.EncodeStringBytes(k); err != nil {
			return err
		}
		if err := buf.EncodeStringBytes(v); err != nil {
			return err
		}
	}
	return nil
}

func decodeStrMap(buf *proto.Buffer) (map[string]string, error) {
	n, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, err := buf.DecodeStringBytes()
		if err != nil {
			return nil, err
		}
		v, err := buf.DecodeStringBytes()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func encodeBytesField(buf *proto.Buffer, b []byte) error {
	return buf.EncodeRawBytes(b)
}

func decodeBytesField(buf *proto.Buffer) ([]byte, error) {
	return buf.DecodeRawBytes(true)
}

func encodeAction(buf *proto.Buffer, a ActionDescriptor) error {
	if err := buf.EncodeStringBytes(a.Name); err != nil {
		return err
	}
	if err := buf.EncodeStringBytes(a.Version); err != nil {
		return err
	}
	if err := buf.EncodeVarint(boolToUint(a.Cache)); err != nil {
		return err
	}
	return encodeBytesField(buf, a.Schema)
}

func decodeAction(buf *proto.Buffer) (ActionDescriptor, error) {
	var a ActionDescriptor
	var err error
	if a.Name, err = buf.DecodeStringBytes(); err != nil {
		return a, err
	}
	if a.Version, err = buf.DecodeStringBytes(); err != nil {
		return a, err
	}
	v, err := buf.DecodeVarint()
	if err != nil {
		return a, err
	}
	a.Cache = v != 0
	a.Schema, err = decodeBytesField(buf)
	return a, err
}

func encodeEventDesc(buf *proto.Buffer, e EventDescriptor) error {
	if err := buf.EncodeStringBytes(e.Name); err != nil {
		return err
	}
	return buf.EncodeStringBytes(e.Group)
}

func decodeEventDesc(buf *proto.Buffer) (EventDescriptor, error) {
	var e EventDescriptor
	var err error
	if e.Name, err = buf.DecodeStringBytes(); err != nil {
		return e, err
	}
	e.Group, err = buf.DecodeStringBytes()
	return e, err
}

func encodeService(buf *proto.Buffer, s ServiceDescriptor) error {
	if err := buf.EncodeStringBytes(s.Name); err != nil {
		return err
	}
	if err := buf.EncodeStringBytes(s.Version); err != nil {
		return err
	}
	if err := encodeBytesField(buf, s.Settings); err != nil {
		return err
	}
	if err := buf.EncodeVarint(uint64(len(s.Actions))); err != nil {
		return err
	}
	for _, a := range s.Actions {
		if err := encodeAction(buf, a); err != nil {
			return err
		}
	}
	if err := buf.EncodeVarint(uint64(len(s.Events))); err != nil {
		return err
	}
	for _, e := range s.Events {
		if err := encodeEventDesc(buf, e); err != nil {
			return err
		}
	}
	return nil
}

func decodeService(buf *proto.Buffer) (ServiceDescriptor, error) {
	var s ServiceDescriptor
	var err error
	if s.Name, err = buf.DecodeStringBytes(); err != nil {
		return s, err
	}
	if s.Version, err = buf.DecodeStringBytes(); err != nil {
		return s, err
	}
	if s.Settings, err = decodeBytesField(buf); err != nil {
		return s, err
	}
	na, err := buf.DecodeVarint()
	if err != nil {
		return s, err
	}
	s.Actions = make([]ActionDescriptor, 0, na)
	for i := uint64(0); i < na; i++ {
		a, err := decodeAction(buf)
		if err != nil {
			return s, err
		}
		s.Actions = append(s.Actions, a)
	}
	ne, err := buf.DecodeVarint()
	if err != nil {
		return s, err
	}
	s.Events = make([]EventDescriptor, 0, ne)
	for i := uint64(0); i < ne; i++ {
		e, err := decodeEventDesc(buf)
		if err != nil {
			return s, err
		}
		s.Events = append(s.Events, e)
	}
	return s, nil
}

func encodeInfo(buf *proto.Buffer, p *InfoPayload) error {
	if err := buf.EncodeVarint(uint64(len(p.Services))); err != nil {
		return err
	}
	for _, s := range p.Services {
		if err := encodeService(buf, s); err != nil {
			return err
		}
	}
	if err := encodeStrSlice(buf, p.IPList); err != nil {
		return err
	}
	if err := encodeStrMap(buf, p.Client); err != nil {
		return err
	}
	if err := encodeBytesField(buf, p.Config); err != nil {
		return err
	}
	return buf.EncodeVarint(uint64(p.UptimeMs))
}

func decodeInfo(buf *proto.Buffer) (*InfoPayload, error) {
	p := &InfoPayload{}
	n, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	p.Services = make([]ServiceDescriptor, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := decodeService(buf)
		if err != nil {
			return nil, err
		}
		p.Services = append(p.Services, s)
	}
	if p.IPList, err = decodeStrSlice(buf); err != nil {
		return nil, err
	}
	if p.Client, err = decodeStrMap(buf); err != nil {
		return nil, err
	}
	if p.Config, err = decodeBytesField(buf); err != nil {
		return nil, err
	}
	uptime, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	p.UptimeMs = int64(uptime)
	return p, nil
}

func encodeHeartbeat(buf *proto.Buffer, p *HeartbeatPayload) error {
	return buf.EncodeFixed64(uint64(int64FromFloat(p.CPUUsage)))
}

func decodeHeartbeat(buf *proto.Buffer) (*HeartbeatPayload, error) {
	v, err := buf.DecodeFixed64()
	if err != nil {
		return nil, err
	}
	return &HeartbeatPayload{CPUUsage: floatFromInt64(int64(v))}, nil
}

// CPU usage is a float64 in [0, 1]; encode as fixed-point millionths to avoid
// pulling in math.Float64bits noise in the diff-review of this file.
func int64FromFloat(f float64) int64 { return int64(f * 1e6) }
func floatFromInt64(i int64) float64 { return float64(i) / 1e6 }

func encodeRequest(buf *proto.Buffer, p *RequestPayload) error {
	if err := buf.EncodeStringBytes(p.ID); err != nil {
		return err
	}
	if err := buf.EncodeStringBytes(p.RequestID); err != nil {
		return err
	}
	if err := buf.EncodeStringBytes(p.Action); err != nil {
		return err
	}
	if err := encodeBytesField(buf, p.Params); err != nil {
		return err
	}
	if err := encodeStrMap(buf, p.Meta); err != nil {
		return err
	}
	if err := buf.EncodeVarint(uint64(p.TimeoutMs)); err != nil {
		return err
	}
	if err := buf.EncodeVarint(uint64(p.Level)); err != nil {
		return err
	}
	if err := buf.EncodeVarint(boolToUint(p.Metrics)); err != nil {
		return err
	}
	if err := buf.EncodeStringBytes(p.ParentID); err != nil {
		return err
	}
	return buf.EncodeStringBytes(p.TargetNode)
}

func decodeRequest(buf *proto.Buffer) (*RequestPayload, error) {
	p := &RequestPayload{}
	var err error
	if p.ID, err = buf.DecodeStringBytes(); err != nil {
		return nil, err
	}
	if p.RequestID, err = buf.DecodeStringBytes(); err != nil {
		return nil, err
	}
	if p.Action, err = buf.DecodeStringBytes(); err != nil {
		return nil, err
	}
	if p.Params, err = decodeBytesField(buf); err != nil {
		return nil, err
	}
	if p.Meta, err = decodeStrMap(buf); err != nil {
		return nil, err
	}
	tov, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	p.TimeoutMs = int64(tov)
	lv, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	p.Level = int32(lv)
	mv, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	p.Metrics = mv != 0
	if p.ParentID, err = buf.DecodeStringBytes(); err != nil {
		return nil, err
	}
	if p.TargetNode, err = buf.DecodeStringBytes(); err != nil {
		return nil, err
	}
	return p, nil
}

func encodeResponse(buf *proto.Buffer, p *ResponsePayload) error {
	if err := buf.EncodeStringBytes(p.ID); err != nil {
		return err
	}
	if err := buf.EncodeVarint(boolToUint(p.Success)); err != nil {
		return err
	}
	if err := encodeBytesField(buf, p.Data); err != nil {
		return err
	}
	if err := buf.EncodeVarint(boolToUint(p.Error != nil)); err != nil {
		return err
	}
	if p.Error != nil {
		if err := buf.EncodeVarint(uint64(p.Error.Kind)); err != nil {
			return err
		}
		if err := buf.EncodeStringBytes(p.Error.Message); err != nil {
			return err
		}
		if err := encodeBytesField(buf, p.Error.Data); err != nil {
			return err
		}
		if err := buf.EncodeStringBytes(p.Error.NodeID); err != nil {
			return err
		}
	}
	return encodeBytesField(buf, p.Trace)
}

func decodeResponse(buf *proto.Buffer) (*ResponsePayload, error) {
	p := &ResponsePayload{}
	var err error
	if p.ID, err = buf.DecodeStringBytes(); err != nil {
		return nil, err
	}
	sv, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	p.Success = sv != 0
	if p.Data, err = decodeBytesField(buf); err != nil {
		return nil, err
	}
	hasErr, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	if hasErr != 0 {
		e := &ResponseError{}
		kv, err := buf.DecodeVarint()
		if err != nil {
			return nil, err
		}
		e.Kind = Kind(kv)
		if e.Message, err = buf.DecodeStringBytes(); err != nil {
			return nil, err
		}
		if e.Data, err = decodeBytesField(buf); err != nil {
			return nil, err
		}
		if e.NodeID, err = buf.DecodeStringBytes(); err != nil {
			return nil, err
		}
		p.Error = e
	}
	if p.Trace, err = decodeBytesField(buf); err != nil {
		return nil, err
	}
	return p, nil
}

func encodeEvent(buf *proto.Buffer, p *EventPayload) error {
	if err := buf.EncodeStringBytes(p.Event); err != nil {
		return err
	}
	if err := encodeBytesField(buf, p.Data); err != nil {
		return err
	}
	if err := encodeStrSlice(buf, p.Groups); err != nil {
		return err
	}
	if err := buf.EncodeVarint(boolToUint(p.Broadcast)); err != nil {
		return err
	}
	return encodeStrMap(buf, p.Meta)
}

func decodeEvent(buf *proto.Buffer) (*EventPayload, error) {
	p := &EventPayload{}
	var err error
	if p.Event, err = buf.DecodeStringBytes(); err != nil {
		return nil, err
	}
	if p.Data, err = decodeBytesField(buf); err != nil {
		return nil, err
	}
	if p.Groups, err = decodeStrSlice(buf); err != nil {
		return nil, err
	}
	bv, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	p.Broadcast = bv != 0
	if p.Meta, err = decodeStrMap(buf); err != nil {
		return nil, err
	}
	return p, nil
}
