// Package wallet selects coins, builds and signs P2PKH transactions, and
// owns the BIP32 key table.
package wallet

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/internal/utxo"
)

// Wallet spends outputs of a UTXO set that pay to its keys.
type Wallet struct {
	mu      sync.Mutex
	keys    *Keystore
	utxos   *utxo.Set
	fees    FeeRateSource
	net     *params.Params
	dust    int64
	pending map[types.OutPoint]struct{}
	logger  *zap.Logger
}

// New builds a wallet. A dust threshold of zero uses DefaultDustThreshold.
func New(keys *Keystore, utxos *utxo.Set, fees FeeRateSource, net *params.Params, dust int64, logger *zap.Logger) *Wallet {
	if dust <= 0 {
		dust = DefaultDustThreshold
	}
	return &Wallet{
		keys:    keys,
		utxos:   utxos,
		fees:    fees,
		net:     net,
		dust:    dust,
		pending: make(map[types.OutPoint]struct{}),
		logger:  logger,
	}
}

// Keys exposes the keystore.
func (w *Wallet) Keys() *Keystore { return w.keys }

// NewAddress derives a fresh receive address.
func (w *Wallet) NewAddress() (address.Address, error) {
	rec, err := w.keys.NewKey()
	if err != nil {
		return address.Address{}, err
	}
	w.logger.Info("new address", zap.String("address", rec.Address.String()), zap.String("path", rec.Path))
	return rec.Address, nil
}

// Balance sums unspent outputs paying to wallet addresses.
func (w *Wallet) Balance() int64 {
	return w.utxos.BalanceFor(w.keys.Addresses(), w.net)
}

// Send pays outputs at the source's current fee rate and returns the
// signed transaction. The spent outpoints stay reserved until they leave
// the UTXO set or Release is called.
func (w *Wallet) Send(ctx context.Context, outputs []Output) (*types.Tx, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}
	rate, err := w.fees.CurrentFeeRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("fee rate: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var target int64
	for _, o := range outputs {
		target += o.Value
	}

	selected, err := w.selectCoins(target, rate, len(outputs)+1)
	if err != nil {
		return nil, err
	}

	unsigned, err := w.buildTransaction(selected, outputs, w.changeAddress, rate)
	if err != nil {
		return nil, err
	}
	tx, err := w.sign(unsigned)
	if err != nil {
		return nil, err
	}

	for _, op := range selected {
		w.pending[op] = struct{}{}
	}

	w.logger.Info("built transaction",
		zap.String("txid", tx.Hash().String()),
		zap.Int("inputs", len(tx.TxIn)),
		zap.Int("outputs", len(tx.TxOut)),
		zap.Int64("amount", target),
		zap.Stringer("fee_rate", rate),
	)
	return tx, nil
}

func (w *Wallet) changeAddress() (address.Address, error) {
	rec, err := w.keys.NewKey()
	if err != nil {
		return address.Address{}, fmt.Errorf("change key: %w", err)
	}
	return rec.Address, nil
}

// Hold blocks Send until release is called. The UTXO set may be briefly
// inconsistent with loose transactions while the holder works on it.
func (w *Wallet) Hold() (release func()) {
	w.mu.Lock()
	return w.mu.Unlock
}

// Release drops the reservation on tx's inputs, e.g. after a failed
// broadcast.
func (w *Wallet) Release(tx *types.Tx) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, in := range tx.TxIn {
		delete(w.pending, in.PreviousOutPoint)
	}
}
