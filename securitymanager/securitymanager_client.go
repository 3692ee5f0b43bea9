package securitymanager

import (
	"errors"

	"github.com/pebbe/zmq4"

	"github.com/dermesser/brokerrpc/internal/rpclog"
)

// ClientSecurityManager manages CURVE encryption for the outbound-facing
// side of a zmqtransport socket (the DEALER socket a broker dials out to a
// peer with).
type ClientSecurityManager struct {
	// Provides LoadKeys/WriteKeys functionality.
	*keyWriteLoader
	// Public key of the peer this socket connects to.
	peerPublic string
}

// NewClientSecurityManager sets up the manager and generates a new CURVE
// key pair for this node's outbound socket.
//
// Before dialing a peer, that peer's public key must be set with
// SetPeerPubkey or LoadPeerPubkey, or the connection will not complete the
// CURVE handshake.
func NewClientSecurityManager() *ClientSecurityManager {
	mgr := &ClientSecurityManager{}
	var err error

	mgr.keyWriteLoader = new(keyWriteLoader)
	mgr.public, mgr.private, err = zmq4.NewCurveKeypair()

	if err != nil {
		rpclog.Log(rpclog.LevelError, "securitymanager: generating client keypair failed:", err.Error())
		return nil
	}

	return mgr
}

// ApplyToClientSocket sets up sock for CURVE security. Safe to call on a
// nil manager, in which case it does nothing. Must be called before
// Connect() on the socket.
func (mgr *ClientSecurityManager) ApplyToClientSocket(sock *zmq4.Socket) error {
	if mgr == nil {
		return nil
	}

	if mgr.peerPublic == "" || mgr.public == "" || mgr.private == "" {
		err := errors.New("securitymanager: not all three keys (peer's public, own public, own private) are set")
		rpclog.Log(rpclog.LevelError, "securitymanager:", err.Error())
		return err
	}

	t, err := sock.GetType()

	if err == nil && t != zmq4.REQ && t != zmq4.DEALER && t != zmq4.SUB {
		err := errors.New("securitymanager: wrong socket type (not DEALER, REQ, SUB)")
		rpclog.Log(rpclog.LevelError, "securitymanager:", err.Error())
		return err
	} else if err != nil {
		return err
	}

	err = sock.ClientAuthCurve(mgr.peerPublic, mgr.public, mgr.private)

	if err != nil {
		rpclog.Log(rpclog.LevelError, "securitymanager: ClientAuthCurve failed:", err.Error())
		return err
	}

	return nil
}

// SetPeerPubkey sets the public key of the peer this socket will connect
// to, replacing whatever key -- if any -- was set before, and logs when an
// already-set key changes. The broker and its INFO reconcile never call it;
// after a peer rotates its keys, the new key has to be set here explicitly.
func (mgr *ClientSecurityManager) SetPeerPubkey(key string) {
	if mgr.peerPublic != "" && mgr.peerPublic != key {
		rpclog.Log(rpclog.LevelInfo, "securitymanager: peer public key changed, presumably rotated")
	}
	mgr.peerPublic = key
}

// LoadPeerPubkey loads the peer's public key from the specified file.
func (mgr *ClientSecurityManager) LoadPeerPubkey(keyfile string) error {
	kwl := new(keyWriteLoader)

	err := kwl.LoadKeys(keyfile, DONOTREAD)

	if err != nil {
		return err
	}

	mgr.peerPublic = kwl.public

	return nil
}

// SetKeys sets this node's own key pair to the specified keys, overriding
// the one generated by NewClientSecurityManager.
func (mgr *ClientSecurityManager) SetKeys(public, private string) {
	mgr.public, mgr.private = public, private
}
