package securitymanager

import (
	"errors"

	"github.com/pebbe/zmq4"

	"github.com/dermesser/brokerrpc/internal/rpclog"
)

const DONOTWRITE = "___donotwrite_key_to_file"
const DONOTREAD = "___donotread_key_from_file"

// authDomain is the ZAP domain used to scope CURVE/IP authentication to this
// broker's sockets, in the style of ZeroMQ's Iron House pattern.
const authDomain = "brokerrpc.node"

// ServerSecurityManager sets up CURVE encryption and authentication on the
// inbound-facing side of a zmqtransport socket (the ROUTER socket a broker
// binds to accept connections from its peers), plus an optional IP
// allow/deny list layered on top.
//
// Public keys are not part of the broker's DISCOVER/INFO packets; nothing
// in the broker or transit hands a node's key to its peers, so keys reach
// peers only through whatever the embedding program does with
// GetPublicKey, AddPeerKeys and SetPeerPubkey.
type ServerSecurityManager struct {
	*keyWriteLoader
	// Z85-encoded public keys of peers allowed to connect.
	allowedPeerKeys []string

	// Only set one of both.
	allowedPeerAddresses []string
	deniedPeerAddresses  []string

	// generation counts key rotations, so callers publishing this node's
	// public key alongside its generation number can tell peers whether a
	// cached key is stale.
	generation uint64
}

// NewServerSecurityManager sets up the manager and generates a new CURVE
// key pair for this node's inbound socket.
func NewServerSecurityManager() *ServerSecurityManager {
	mgr := &ServerSecurityManager{}
	var err error

	mgr.keyWriteLoader = new(keyWriteLoader)
	mgr.public, mgr.private, err = zmq4.NewCurveKeypair()

	if err != nil {
		rpclog.Log(rpclog.LevelError, "securitymanager: generating server keypair failed:", err.Error())
		return nil
	}

	return mgr
}

// RotateKeys discards the current CURVE key pair and generates a fresh one,
// bumping Generation(). Existing peers that authenticated against the old
// public key keep their connection (CURVE only re-handshakes on reconnect),
// but any new connection attempt using the stale public key will fail until
// the dialing side is given the new one. Returns the new public key.
func (mgr *ServerSecurityManager) RotateKeys() (string, error) {
	pub, priv, err := zmq4.NewCurveKeypair()
	if err != nil {
		rpclog.Log(rpclog.LevelError, "securitymanager: key rotation failed:", err.Error())
		return "", err
	}
	mgr.public, mgr.private = pub, priv
	mgr.generation++
	rpclog.Log(rpclog.LevelWarn, "securitymanager: rotated server keypair, generation", mgr.generation)
	return mgr.public, nil
}

// Generation reports how many times RotateKeys has run.
func (mgr *ServerSecurityManager) Generation() uint64 { return mgr.generation }

// ApplyToServerSocket applies the manager's keys and allow/deny lists to
// sock. It must be called before Bind(). Safe to call on a nil manager, in
// which case it does nothing -- that's how a broker opts out of transport
// security entirely.
func (mgr *ServerSecurityManager) ApplyToServerSocket(sock *zmq4.Socket) error {
	if mgr == nil {
		return nil
	}

	if mgr.private == "" || mgr.public == "" {
		err := errors.New("securitymanager: incomplete initialization: no key(s)")
		rpclog.Log(rpclog.LevelError, "securitymanager:", err.Error())
		return err
	}

	t, err := sock.GetType()

	// Only ROUTER/REP/PUB sockets can act as a CURVE server.
	if err == nil && t != zmq4.ROUTER && t != zmq4.REP && t != zmq4.PUB {
		err := errors.New("securitymanager: wrong socket type (not ROUTER, REP, PUB)")
		rpclog.Log(rpclog.LevelError, "securitymanager:", err.Error())
		return err
	} else if err != nil {
		return err
	}
	// Start in any case; ignore the error if it's already running.
	zmq4.AuthStart()

	if mgr.allowedPeerAddresses != nil {
		zmq4.AuthAllow(authDomain, mgr.allowedPeerAddresses...)
	} else if mgr.deniedPeerAddresses != nil {
		zmq4.AuthDeny(authDomain, mgr.deniedPeerAddresses...)
	}

	if mgr.allowedPeerKeys != nil {
		zmq4.AuthCurveAdd(authDomain, mgr.allowedPeerKeys...)
	} else {
		// No explicit allowlist: accept any peer that completes the CURVE
		// handshake.
		rpclog.Log(rpclog.LevelWarn, "securitymanager: server socket accepts any peer completing the CURVE handshake, no allowlist set")
		zmq4.AuthCurveAdd(authDomain, zmq4.CURVE_ALLOW_ANY)
	}

	err = sock.ServerAuthCurve(authDomain, mgr.private)

	if err != nil {
		rpclog.Log(rpclog.LevelError, "securitymanager: ServerAuthCurve failed:", err.Error())
		return err
	}

	return nil
}

// StopManager tears down every resource associated with authentication on
// this process. There is one ZAP handler per process, so this affects every
// socket, not just the ones this manager was applied to.
func (mgr *ServerSecurityManager) StopManager() {
	zmq4.AuthStop()
}

// SetKeys sets this node's CURVE key pair explicitly, overriding the one
// generated by NewServerSecurityManager.
func (mgr *ServerSecurityManager) SetKeys(public, private string) {
	mgr.public, mgr.private = public, private
}

// GetPublicKey returns this node's public key, to hand to peers that need
// to dial in.
func (mgr *ServerSecurityManager) GetPublicKey() string {
	return mgr.public
}

// AddPeerKeys adds keys of peers that are accepted for inbound connections.
func (mgr *ServerSecurityManager) AddPeerKeys(keys ...string) {
	mgr.allowedPeerKeys = append(mgr.allowedPeerKeys, keys...)
	rpclog.Log(rpclog.LevelInfo, "securitymanager: allowlisted", len(keys), "peer key(s), total", len(mgr.allowedPeerKeys))
}

// ResetPeerKeys clears the peer key allowlist, effectively enforcing an
// open policy where any peer that completes the CURVE handshake is
// accepted.
func (mgr *ServerSecurityManager) ResetPeerKeys() {
	rpclog.Log(rpclog.LevelWarn, "securitymanager: cleared peer key allowlist, falling back to open CURVE policy")
	mgr.allowedPeerKeys = nil
}

// RevokePeerKey removes a single key from the peer allowlist, without
// resetting the whole list, so other allowlisted peers stay allowed. Only
// the first matching entry is removed. The broker does not call it when a
// node drops out of the catalog.
func (mgr *ServerSecurityManager) RevokePeerKey(key string) {
	for i, k := range mgr.allowedPeerKeys {
		if k == key {
			mgr.allowedPeerKeys = append(mgr.allowedPeerKeys[:i], mgr.allowedPeerKeys[i+1:]...)
			rpclog.Log(rpclog.LevelInfo, "securitymanager: revoked peer key")
			return
		}
	}
}

// ResetAddressLists clears both the address allowlist and blocklist.
func (mgr *ServerSecurityManager) ResetAddressLists() {
	mgr.allowedPeerAddresses = nil
	mgr.deniedPeerAddresses = nil
}

// AllowAddresses sets the address allowlist (IPs or ranges). An allowlist
// is mutually exclusive with a blocklist, so any existing blocklist is
// cleared.
func (mgr *ServerSecurityManager) AllowAddresses(addrs ...string) {
	mgr.deniedPeerAddresses = nil
	mgr.allowedPeerAddresses = append(mgr.allowedPeerAddresses, addrs...)
}

// DenyAddresses sets the address blocklist (IPs or ranges). A blocklist is
// mutually exclusive with an allowlist, so any existing allowlist is
// cleared.
func (mgr *ServerSecurityManager) DenyAddresses(addrs ...string) {
	mgr.allowedPeerAddresses = nil
	mgr.deniedPeerAddresses = append(mgr.deniedPeerAddresses, addrs...)
}
