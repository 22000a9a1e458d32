package address

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/testutil"
)

// Uncompressed key of the genesis coinbase output.
const genesisPubKey = "04678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5f"

func TestGenesisAddress(t *testing.T) {
	pub := testutil.MustDecodeHex(t, genesisPubKey)
	a := FromPubKey(pub, params.MainNet)
	if got := a.String(); got != "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa" {
		t.Errorf("address = %s", got)
	}

	back, err := Decode(a.String(), params.MainNet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back != a {
		t.Errorf("decoded %+v, want %+v", back, a)
	}

	resolved, ok := FromScript(a.PkScript(), params.MainNet)
	if !ok || resolved != a {
		t.Errorf("FromScript = %v %v", resolved, ok)
	}
}

func TestMatchesBtcutil(t *testing.T) {
	pub := testutil.MustDecodeHex(t, genesisPubKey)
	ref, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub), &chaincfg.TestNet3Params)
	if err != nil {
		t.Fatal(err)
	}
	if got := FromPubKey(pub, params.TestNet3).String(); got != ref.EncodeAddress() {
		t.Errorf("testnet address = %s, btcutil says %s", got, ref.EncodeAddress())
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNb", params.MainNet); !errors.Is(err, ErrChecksum) {
		t.Errorf("bad checksum: got %v", err)
	}
	if _, err := Decode("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", params.TestNet3); !errors.Is(err, ErrWrongNetwork) {
		t.Errorf("wrong network: got %v", err)
	}
	if _, err := Decode("not an address", params.MainNet); err == nil {
		t.Error("expected error for garbage")
	}
	if _, ok := FromScript([]byte{0x51}, params.MainNet); ok {
		t.Error("OP_1 should not resolve to an address")
	}
}
