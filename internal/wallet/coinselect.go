package wallet

import (
	"bytes"
	"sort"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/internal/utxo"
)

// candidates returns spendable wallet outputs, largest value first and
// then by outpoint, skipping those reserved by an unconfirmed send.
func (w *Wallet) candidates() []utxo.Entry {
	entries := w.utxos.Unspent(func(op types.OutPoint, out types.TxOut) bool {
		if _, held := w.pending[op]; held {
			return false
		}
		a, ok := address.FromScript(out.PkScript, w.net)
		return ok && w.keys.Owns(a)
	})

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Output.Value != b.Output.Value {
			return a.Output.Value > b.Output.Value
		}
		if c := bytes.Compare(a.OutPoint.Hash[:], b.OutPoint.Hash[:]); c != 0 {
			return c < 0
		}
		return a.OutPoint.Index < b.OutPoint.Index
	})
	return entries
}

// SelectCoins picks outputs covering target plus the fee of a transaction
// with one destination and one change output.
func (w *Wallet) SelectCoins(target int64, rate FeeRate) ([]types.OutPoint, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selectCoins(target, rate, 2)
}

// selectCoins accumulates candidates until their total covers target and
// the fee for nOutputs outputs.
func (w *Wallet) selectCoins(target int64, rate FeeRate, nOutputs int) ([]types.OutPoint, error) {
	w.releaseSpent()

	var (
		selected []types.OutPoint
		total    int64
		need     = target + rate.FeeForSize(EstimateSize(1, nOutputs))
	)
	for _, e := range w.candidates() {
		selected = append(selected, e.OutPoint)
		total += e.Output.Value
		need = target + rate.FeeForSize(EstimateSize(len(selected), nOutputs))
		if total >= need {
			return selected, nil
		}
	}
	return nil, &InsufficientFundsError{Need: need, Have: total}
}

// releaseSpent forgets reservations whose outputs have left the set,
// which happens once the spending transaction is confirmed.
func (w *Wallet) releaseSpent() {
	for op := range w.pending {
		if _, ok := w.utxos.Lookup(op); !ok {
			delete(w.pending, op)
		}
	}
}
