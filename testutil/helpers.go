package testutil

import (
	"encoding/hex"
	"testing"

	"github.com/djkazic/wizards-wallet/internal/types"
)

// MustDecodeHex decodes hex or fails the test.
func MustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("invalid hex %q: %v", s, err)
	}
	return b
}

// MustHash parses a display-order hash or fails the test.
func MustHash(t *testing.T, s string) types.Hash256 {
	t.Helper()
	h, err := types.NewHashFromStr(s)
	if err != nil {
		t.Fatalf("invalid hash %q: %v", s, err)
	}
	return h
}
