// Package testutil holds fixtures shared by package tests: a well-known
// mnemonic and regtest block mining.
package testutil

import (
	"testing"

	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/internal/types"
)

// Mnemonic is the BIP39 all-"abandon" test vector.
const Mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// CoinbaseValue is what MineBlock's coinbase pays.
const CoinbaseValue = 50 * types.Coin

// Coinbase builds a coinbase paying value to pkScript. salt makes the txid
// unique across blocks.
func Coinbase(salt uint32, value int64, pkScript []byte) *types.Tx {
	return &types.Tx{
		Version: 1,
		TxIn: []*types.TxIn{{
			PreviousOutPoint: types.OutPoint{Index: 0xffffffff},
			SignatureScript:  []byte{0x04, byte(salt), byte(salt >> 8), byte(salt >> 16), byte(salt >> 24)},
			Sequence:         types.MaxSequence,
		}},
		TxOut: []*types.TxOut{{Value: value, PkScript: pkScript}},
	}
}

// Solve grinds the nonce until h meets its own target. At regtest
// difficulty about half of all hashes qualify.
func Solve(t *testing.T, h *types.BlockHeader) {
	t.Helper()
	for !h.MeetsOwnTarget() {
		h.Nonce++
		if h.Nonce == 0 {
			t.Fatal("nonce space exhausted")
		}
	}
}

// MineBlock builds a solved regtest block on prev whose coinbase pays
// pkScript, followed by txs.
func MineBlock(t *testing.T, prev types.BlockHeader, salt uint32, pkScript []byte, txs ...*types.Tx) *types.Block {
	t.Helper()
	b := &types.Block{
		Header: types.BlockHeader{
			Version:   1,
			PrevBlock: prev.Hash(),
			Timestamp: prev.Timestamp + 600,
			Bits:      params.RegTest.PowLimitBits,
		},
		Transactions: append([]*types.Tx{Coinbase(salt, CoinbaseValue, pkScript)}, txs...),
	}
	b.Header.MerkleRoot = types.ComputeMerkleRoot(b.TxHashes())
	Solve(t, &b.Header)
	return b
}
