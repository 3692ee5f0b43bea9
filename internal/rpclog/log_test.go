package rpclog

import "testing"

func TestTokenIsRandom(t *testing.T) {
	a := Token()
	b := Token()
	if a == b {
		t.Fatal("tokens are equal:", a, b)
	}
}

func TestEnabledRespectsLevel(t *testing.T) {
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	if !Enabled(LevelError) {
		t.Fatal("LevelError should be enabled at LevelWarn")
	}
	if Enabled(LevelDebug) {
		t.Fatal("LevelDebug should not be enabled at LevelWarn")
	}
}
