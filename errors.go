package brokerrpc

import (
	"fmt"

	"github.com/dermesser/brokerrpc/wire"
)

// Kind classifies a BrokerError the way proto.RPCResponse_Status classifies
// a clusterrpc response: a small closed set of reasons a call did not
// succeed, independent of the human-readable message. It is a true alias
// for wire.Kind so a ResponseError carried over the wire and a BrokerError
// surfaced to a caller always agree on the same numeric values without
// transit needing to import this package.
type Kind = wire.Kind

const (
	KindUnknown             = wire.KindUnknown
	KindServiceNotFound     = wire.KindServiceNotFound
	KindServiceNotAvailable = wire.KindServiceNotAvailable
	KindRequestTimeout      = wire.KindRequestTimeout
	KindRequestRejected     = wire.KindRequestRejected // circuit open
	KindValidationError     = wire.KindValidationError
	KindTransportError      = wire.KindTransportError
	KindNodeDisconnected    = wire.KindNodeDisconnected
	KindBrokerStopping      = wire.KindBrokerStopping
	KindCustom              = wire.KindCustom // user handler returned/threw an application error
)

// BrokerError is the error type returned by Broker.Call and friends. It
// carries enough structure to be rehydrated on the far side of a REQUEST and
// still preserve the kind and originating node of the failure.
type BrokerError struct {
	Kind    Kind
	Message string
	Data    []byte
	NodeID  string
	cause   error
}

func NewBrokerError(k Kind, message string) *BrokerError {
	return &BrokerError{Kind: k, Message: message}
}

func WrapBrokerError(k Kind, cause error) *BrokerError {
	if cause == nil {
		return &BrokerError{Kind: k}
	}
	return &BrokerError{Kind: k, Message: cause.Error(), cause: cause}
}

// FromResponseError rehydrates a BrokerError from a wire-carried
// ResponseError, preserving the kind and originating node of the remote
// failure.
func FromResponseError(e *wire.ResponseError) *BrokerError {
	if e == nil {
		return nil
	}
	return &BrokerError{Kind: e.Kind, Message: e.Message, Data: e.Data, NodeID: e.NodeID}
}

// ToResponseError converts e into the wire shape carried in a RESPONSE
// packet's error field.
func (e *BrokerError) ToResponseError() *wire.ResponseError {
	if e == nil {
		return nil
	}
	return &wire.ResponseError{Kind: e.Kind, Message: e.Message, Data: e.Data, NodeID: e.NodeID}
}

func (e *BrokerError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BrokerError) Unwrap() error { return e.cause }

func (e *BrokerError) Retryable() bool { return e.Kind.Retryable() }

// WithNode returns a copy of e tagged with the node that originated the
// failure. FromResponseError sets NodeID directly and does not use it.
func (e *BrokerError) WithNode(nodeID string) *BrokerError {
	cp := *e
	cp.NodeID = nodeID
	return &cp
}

var ErrRedirectLoop = &BrokerError{Kind: KindCustom, Message: "redirected more than once for a single call"}
