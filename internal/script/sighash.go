package script

import (
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/pkg/util"
)

// SigHashType selects which parts of a transaction a signature commits to.
type SigHashType uint32

const (
	SigHashAll          SigHashType = 0x1
	SigHashNone         SigHashType = 0x2
	SigHashSingle       SigHashType = 0x3
	SigHashAnyOneCanPay SigHashType = 0x80

	sigHashMask = 0x1f
)

// CalcSignatureHash computes the legacy signature hash of input idx of tx
// for the given subscript and hash type.
func CalcSignatureHash(subScript []byte, hashType SigHashType, tx *types.Tx, idx int) ([]byte, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, scriptError(ErrInvalidIndex,
			"transaction input index %d is negative or >= %d", idx, len(tx.TxIn))
	}
	pops, err := parseScript(subScript)
	if err != nil {
		return nil, err
	}
	return calcSignatureHash(pops, hashType, tx, idx), nil
}

func calcSignatureHash(subScript []parsedOpcode, hashType SigHashType, tx *types.Tx, idx int) []byte {
	// SIGHASH_SINGLE with no matching output signs the value one. Any
	// signature over it is valid for every such input.
	if hashType&sigHashMask == SigHashSingle && idx >= len(tx.TxOut) {
		var hash types.Hash256
		hash[0] = 0x01
		return hash[:]
	}

	script := unparseScript(removeOpcode(subScript, OP_CODESEPARATOR))

	txCopy := tx.Copy()
	for i := range txCopy.TxIn {
		if i == idx {
			txCopy.TxIn[i].SignatureScript = script
		} else {
			txCopy.TxIn[i].SignatureScript = nil
		}
	}

	switch hashType & sigHashMask {
	case SigHashNone:
		txCopy.TxOut = txCopy.TxOut[:0]
		for i := range txCopy.TxIn {
			if i != idx {
				txCopy.TxIn[i].Sequence = 0
			}
		}

	case SigHashSingle:
		txCopy.TxOut = txCopy.TxOut[:idx+1]
		for i := 0; i < idx; i++ {
			txCopy.TxOut[i].Value = -1
			txCopy.TxOut[i].PkScript = nil
		}
		for i := range txCopy.TxIn {
			if i != idx {
				txCopy.TxIn[i].Sequence = 0
			}
		}

	default:
		// SIGHASH_ALL and any unrecognized type sign everything.
	}

	if hashType&SigHashAnyOneCanPay != 0 {
		txCopy.TxIn = txCopy.TxIn[idx : idx+1]
	}

	w := util.NewWriter(txCopy.SerializeSize() + 4)
	w.Write(txCopy.Serialize())
	w.Uint32(uint32(hashType))
	hash := util.DoubleSHA256(w.Bytes())
	return hash[:]
}
