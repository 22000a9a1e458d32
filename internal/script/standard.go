package script

import (
	"encoding/hex"
	"strings"

	"github.com/djkazic/wizards-wallet/internal/types"
)

// PayToPubKeyHash builds OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY OP_CHECKSIG.
func PayToPubKeyHash(hash types.Hash160) []byte {
	script := make([]byte, 0, 25)
	script = append(script, OP_DUP, OP_HASH160, OP_DATA_20)
	script = append(script, hash[:]...)
	return append(script, OP_EQUALVERIFY, OP_CHECKSIG)
}

// ExtractPubKeyHash returns the key hash of a pay-to-pubkey-hash script.
func ExtractPubKeyHash(pkScript []byte) (types.Hash160, bool) {
	var h types.Hash160
	if len(pkScript) != 25 ||
		pkScript[0] != OP_DUP ||
		pkScript[1] != OP_HASH160 ||
		pkScript[2] != OP_DATA_20 ||
		pkScript[23] != OP_EQUALVERIFY ||
		pkScript[24] != OP_CHECKSIG {
		return h, false
	}
	copy(h[:], pkScript[3:23])
	return h, true
}

// SignatureScript builds <sig||hashtype> <pubkey>.
func SignatureScript(sig []byte, hashType SigHashType, pubKey []byte) ([]byte, error) {
	full := make([]byte, 0, len(sig)+1)
	full = append(full, sig...)
	full = append(full, byte(hashType))
	return NewBuilder().AddData(full).AddData(pubKey).Script()
}

// CheckPushOnly fails with ErrNotPushOnly unless sigScript holds only
// data pushes, the standardness rule for signature scripts.
func CheckPushOnly(sigScript []byte) error {
	if !IsPushOnly(sigScript) {
		return scriptError(ErrNotPushOnly, "signature script is not push only: %s", Disassemble(sigScript))
	}
	return nil
}

// Disassemble renders a script one instruction per token: data pushes as
// hex, everything else by opcode name. A malformed tail is shown as
// [error].
func Disassemble(script []byte) string {
	pops, err := parseScript(script)
	parts := make([]string, 0, len(pops)+1)
	for _, pop := range pops {
		switch {
		case pop.opcode.value == OP_0:
			parts = append(parts, "0")
		case pop.opcode.value < OP_1NEGATE:
			parts = append(parts, hex.EncodeToString(pop.data))
		default:
			parts = append(parts, pop.opcode.name)
		}
	}
	if err != nil {
		parts = append(parts, "[error]")
	}
	return strings.Join(parts, " ")
}
