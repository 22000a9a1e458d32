package types

import (
	"encoding/hex"
	"fmt"

	"github.com/djkazic/wizards-wallet/pkg/util"
)

// HashSize is the length of a transaction or block hash.
const HashSize = 32

// Hash256 is a double-SHA256 digest in internal (wire) byte order.
type Hash256 [HashSize]byte

// Hash160 is a RIPEMD160(SHA256) digest, used for public-key hashes.
type Hash160 [20]byte

// ZeroHash is the all-zero hash referenced by coinbase inputs.
var ZeroHash Hash256

// String returns the hash in Bitcoin display order (byte-reversed hex).
func (h Hash256) String() string {
	return util.HashToHex(h)
}

// IsZero reports whether every byte of the hash is zero.
func (h Hash256) IsZero() bool {
	return h == ZeroHash
}

// NewHashFromStr parses a display-order hex string.
func NewHashFromStr(s string) (Hash256, error) {
	raw, err := util.HexToHash(s)
	if err != nil {
		return Hash256{}, fmt.Errorf("parse hash %q: %w", s, err)
	}
	return Hash256(raw), nil
}

// MarshalText encodes the hash in display order so JSON output matches
// what block explorers print.
func (h Hash256) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText parses a display-order hex string.
func (h *Hash256) UnmarshalText(text []byte) error {
	parsed, err := NewHashFromStr(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (h Hash160) String() string {
	return hex.EncodeToString(h[:])
}

// HashData returns the double-SHA256 of b.
func HashData(b []byte) Hash256 {
	return Hash256(util.DoubleSHA256(b))
}
