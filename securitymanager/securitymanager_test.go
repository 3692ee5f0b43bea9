package securitymanager

import (
	"os"
	"testing"
)

func TestWriteLoadServer(t *testing.T) {
	mgr := NewServerSecurityManager()

	err := mgr.WriteKeys("pubkey.txt", "privkey.txt")

	if err != nil {
		t.Error(err.Error())
		return
	}

	err = mgr.LoadKeys("pubkey.txt", "privkey.txt")

	if err != nil {
		t.Error(err.Error())
		return
	}

	os.Remove("privkey.txt")
	os.Remove("pubkey.txt")
}

func TestKeyMgmt(t *testing.T) {
	mgr := NewServerSecurityManager()

	mgr.AddPeerKeys("a", "b", "c")

	if mgr.allowedPeerKeys == nil || len(mgr.allowedPeerKeys) != 3 {
		t.Error("list of peer keys is incorrect")
		return
	}

	mgr.ResetPeerKeys()

	if mgr.allowedPeerKeys != nil {
		t.Error("ResetPeerKeys() does not work.")
	}
}

func TestListingExclusive(t *testing.T) {
	mgr := NewServerSecurityManager()

	mgr.AllowAddresses("a", "b", "c")

	if mgr.allowedPeerAddresses == nil || len(mgr.allowedPeerAddresses) != 3 {
		t.Error("allowlist of peer addresses is not correct.")
		return
	}

	mgr.DenyAddresses("d", "e", "f")

	if mgr.allowedPeerAddresses != nil {
		t.Error("allowlist was not reset")
	}
	if mgr.deniedPeerAddresses == nil || len(mgr.deniedPeerAddresses) != 3 {
		t.Error("blocklist of peer addresses is not correct")
		return
	}
}

func TestRotateKeysBumpsGeneration(t *testing.T) {
	mgr := NewServerSecurityManager()
	oldPub := mgr.GetPublicKey()

	if mgr.Generation() != 0 {
		t.Fatalf("expected generation 0 before any rotation, got %d", mgr.Generation())
	}

	newPub, err := mgr.RotateKeys()
	if err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	if newPub == oldPub {
		t.Fatal("expected rotation to produce a different public key")
	}
	if mgr.GetPublicKey() != newPub {
		t.Fatal("GetPublicKey did not reflect the rotated key")
	}
	if mgr.Generation() != 1 {
		t.Fatalf("expected generation 1 after one rotation, got %d", mgr.Generation())
	}
}

func TestRevokePeerKeyRemovesOnlyThatKey(t *testing.T) {
	mgr := NewServerSecurityManager()
	mgr.AddPeerKeys("a", "b", "c")

	mgr.RevokePeerKey("b")

	if len(mgr.allowedPeerKeys) != 2 {
		t.Fatalf("expected 2 keys remaining, got %d", len(mgr.allowedPeerKeys))
	}
	for _, k := range mgr.allowedPeerKeys {
		if k == "b" {
			t.Fatal("revoked key still present")
		}
	}

	// Revoking a key that isn't present is a no-op, not an error.
	mgr.RevokePeerKey("nonexistent")
	if len(mgr.allowedPeerKeys) != 2 {
		t.Fatalf("expected revoking an absent key to be a no-op, got %d keys", len(mgr.allowedPeerKeys))
	}
}

func TestExplicitKeys(t *testing.T) {
	mgr := NewServerSecurityManager()

	mgr.SetKeys("pub", "priv")

	if mgr.GetPublicKey() != "pub" {
		t.Error("wrong public key returned")
	}

	if mgr.public != "pub" || mgr.private != "priv" {
		t.Error("wrong internal keys")
	}
}
