package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/script"
	"github.com/djkazic/wizards-wallet/internal/types"
)

// Sign returns a copy of tx with every input signed SIGHASH_ALL. Each
// signed input is run through the script engine before returning.
func (w *Wallet) Sign(tx *types.Tx) (*types.Tx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sign(tx)
}

func (w *Wallet) sign(tx *types.Tx) (*types.Tx, error) {
	signed := tx.Copy()
	prevOuts := make([]types.TxOut, len(signed.TxIn))

	for i, in := range signed.TxIn {
		prev, ok := w.utxos.Lookup(in.PreviousOutPoint)
		if !ok {
			return nil, fmt.Errorf("input %d: %w: %s", i, ErrUnknownOutPoint, in.PreviousOutPoint)
		}
		prevOuts[i] = prev

		addr, ok := address.FromScript(prev.PkScript, w.net)
		if !ok {
			return nil, missingKey(i, nil)
		}
		rec, ok := w.keys.Lookup(addr)
		if !ok {
			return nil, missingKey(i, &addr)
		}
		priv, err := w.keys.PrivKey(rec)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		// Every input hashes against the unsigned template, so other
		// inputs' scriptSigs never enter the hash.
		hash, err := script.CalcSignatureHash(prev.PkScript, script.SigHashAll, tx, i)
		if err != nil {
			return nil, fmt.Errorf("input %d sighash: %w", i, err)
		}
		sig := ecdsa.Sign(priv, hash)
		sigScript, err := script.SignatureScript(sig.Serialize(), script.SigHashAll, rec.PubKey)
		if err != nil {
			return nil, fmt.Errorf("input %d scriptSig: %w", i, err)
		}
		in.SignatureScript = sigScript
	}

	for i := range signed.TxIn {
		if err := script.VerifyInput(signed, i, &prevOuts[i]); err != nil {
			return nil, fmt.Errorf("input %d failed verification after signing: %w", i, err)
		}
	}
	return signed, nil
}
