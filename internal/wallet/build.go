package wallet

import (
	"fmt"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/types"
)

// Output is one payment.
type Output struct {
	Address address.Address
	Value   int64
}

// BuildTransaction assembles an unsigned transaction spending selected to
// outputs, adding change to changeAddr when it is at least the dust
// threshold.
func (w *Wallet) BuildTransaction(selected []types.OutPoint, outputs []Output, changeAddr address.Address, rate FeeRate) (*types.Tx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buildTransaction(selected, outputs, func() (address.Address, error) { return changeAddr, nil }, rate)
}

// buildTransaction calls changeAddr only when a change output is added.
func (w *Wallet) buildTransaction(selected []types.OutPoint, outputs []Output, changeAddr func() (address.Address, error), rate FeeRate) (*types.Tx, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}

	b := types.NewTxBuilder()
	var in int64
	for _, op := range selected {
		prev, ok := w.utxos.Lookup(op)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOutPoint, op)
		}
		in += prev.Value
		b.AddInput(op, types.MaxSequence)
	}

	var out int64
	for _, o := range outputs {
		if o.Value <= 0 {
			return nil, fmt.Errorf("output to %s has non-positive value %d", o.Address, o.Value)
		}
		out += o.Value
		b.AddOutput(o.Value, o.Address.PkScript())
	}

	nIn, nOut := len(selected), len(outputs)
	changeFee := rate.FeeForSize(EstimateSize(nIn, nOut+1))
	if change := in - out - changeFee; change >= w.dust {
		to, err := changeAddr()
		if err != nil {
			return nil, err
		}
		b.AddOutput(change, to.PkScript())
	} else if need := out + rate.FeeForSize(EstimateSize(nIn, nOut)); in < need {
		// Without change the fee is smaller; only fail if even that
		// is not covered. Any remainder goes to the miner.
		return nil, &InsufficientFundsError{Need: need, Have: in}
	}

	return b.Build()
}
