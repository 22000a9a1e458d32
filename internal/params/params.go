// Package params holds the per-network constants: wire magic, ports,
// address version bytes and genesis blocks.
package params

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/djkazic/wizards-wallet/internal/types"
)

// Params describes one Bitcoin network.
type Params struct {
	Name        string
	Net         uint32 // wire magic, little-endian on the wire
	DefaultPort string

	PubKeyHashAddrID byte
	ScriptHashAddrID byte
	PrivateKeyID     byte
	HDCoinType       uint32

	PowLimitBits uint32
	GenesisBlock *types.Block
	GenesisHash  types.Hash256

	// HD carries the extended key version bytes used by hdkeychain.
	HD *chaincfg.Params
}

const (
	genesisScriptSig = "04ffff001d0104455468652054696d65732030332f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f66207365636f6e64206261696c6f757420666f722062616e6b73"
	genesisPkScript  = "4104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac"
)

func mustDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// genesisCoinbase is shared by every network.
func genesisCoinbase() *types.Tx {
	return &types.Tx{
		Version: 1,
		TxIn: []*types.TxIn{{
			PreviousOutPoint: types.OutPoint{Index: 0xffffffff},
			SignatureScript:  mustDecode(genesisScriptSig),
			Sequence:         types.MaxSequence,
		}},
		TxOut: []*types.TxOut{{
			Value:    50 * types.Coin,
			PkScript: mustDecode(genesisPkScript),
		}},
	}
}

func genesisBlock(timestamp, bits, nonce uint32) *types.Block {
	cb := genesisCoinbase()
	return &types.Block{
		Header: types.BlockHeader{
			Version:    1,
			MerkleRoot: cb.Hash(),
			Timestamp:  timestamp,
			Bits:       bits,
			Nonce:      nonce,
		},
		Transactions: []*types.Tx{cb},
	}
}

func newParams(p Params) *Params {
	p.GenesisHash = p.GenesisBlock.Hash()
	return &p
}

var (
	MainNet = newParams(Params{
		Name:             "mainnet",
		Net:              0xd9b4bef9,
		DefaultPort:      "8333",
		PubKeyHashAddrID: 0x00,
		ScriptHashAddrID: 0x05,
		PrivateKeyID:     0x80,
		HDCoinType:       0,
		PowLimitBits:     0x1d00ffff,
		GenesisBlock:     genesisBlock(1231006505, 0x1d00ffff, 2083236893),
		HD:               &chaincfg.MainNetParams,
	})

	TestNet3 = newParams(Params{
		Name:             "testnet3",
		Net:              0x0709110b,
		DefaultPort:      "18333",
		PubKeyHashAddrID: 0x6f,
		ScriptHashAddrID: 0xc4,
		PrivateKeyID:     0xef,
		HDCoinType:       1,
		PowLimitBits:     0x1d00ffff,
		GenesisBlock:     genesisBlock(1296688602, 0x1d00ffff, 414098458),
		HD:               &chaincfg.TestNet3Params,
	})

	RegTest = newParams(Params{
		Name:             "regtest",
		Net:              0xdab5bffa,
		DefaultPort:      "18444",
		PubKeyHashAddrID: 0x6f,
		ScriptHashAddrID: 0xc4,
		PrivateKeyID:     0xef,
		HDCoinType:       1,
		PowLimitBits:     0x207fffff,
		GenesisBlock:     genesisBlock(1296688602, 0x207fffff, 2),
		HD:               &chaincfg.RegressionNetParams,
	})
)

// ByName looks up a network by its configured name.
func ByName(name string) (*Params, error) {
	switch name {
	case "mainnet", "bitcoin", "main":
		return MainNet, nil
	case "testnet3", "testnet", "test":
		return TestNet3, nil
	case "regtest":
		return RegTest, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}
