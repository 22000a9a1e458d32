// Package address encodes pay-to-pubkey-hash addresses as base58check
// strings.
package address

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/internal/script"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/pkg/util"
)

var (
	ErrChecksum     = errors.New("address checksum mismatch")
	ErrWrongNetwork = errors.New("address is for a different network")
	ErrBadLength    = errors.New("address payload is not a 20-byte hash")
)

// Address is a P2PKH destination on one network.
type Address struct {
	Version byte          `cbor:"1,keyasint"`
	Hash    types.Hash160 `cbor:"2,keyasint"`
}

// FromPubKeyHash wraps a key hash for the network.
func FromPubKeyHash(hash types.Hash160, net *params.Params) Address {
	return Address{Version: net.PubKeyHashAddrID, Hash: hash}
}

// FromPubKey hashes a serialized public key into an address.
func FromPubKey(pubKey []byte, net *params.Params) Address {
	return FromPubKeyHash(util.Hash160(pubKey), net)
}

// FromScript resolves a pkScript to an address. Only P2PKH scripts resolve.
func FromScript(pkScript []byte, net *params.Params) (Address, bool) {
	hash, ok := script.ExtractPubKeyHash(pkScript)
	if !ok {
		return Address{}, false
	}
	return FromPubKeyHash(hash, net), true
}

// Decode parses a base58check address and checks it belongs to net.
func Decode(s string, net *params.Params) (Address, error) {
	payload, version, err := base58.CheckDecode(s)
	if err != nil {
		if errors.Is(err, base58.ErrChecksum) {
			return Address{}, ErrChecksum
		}
		return Address{}, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(payload) != len(types.Hash160{}) {
		return Address{}, ErrBadLength
	}
	if version != net.PubKeyHashAddrID {
		return Address{}, fmt.Errorf("%w: version 0x%02x on %s", ErrWrongNetwork, version, net.Name)
	}

	var a Address
	a.Version = version
	copy(a.Hash[:], payload)
	return a, nil
}

func (a Address) String() string {
	return base58.CheckEncode(a.Hash[:], a.Version)
}

// PkScript returns the locking script paying to a.
func (a Address) PkScript() []byte {
	return script.PayToPubKeyHash(a.Hash)
}
