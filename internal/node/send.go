package node

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/metrics"
	"github.com/djkazic/wizards-wallet/internal/peer"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/internal/wallet"
)

// ErrNoPeers is returned by Send when no Ready peer took the transaction.
var ErrNoPeers = errors.New("no connected peers")

// Send pays amount satoshis to addr and broadcasts the transaction. If no
// peer accepts it the wallet's reservation is released.
func (n *Node) Send(ctx context.Context, addr string, amount int64) (*types.Tx, error) {
	to, err := address.Decode(addr, n.cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	tx, err := n.wallet.Send(ctx, []wallet.Output{{Address: to, Value: amount}})
	if err != nil {
		return nil, err
	}
	txid := tx.Hash()

	n.mu.Lock()
	n.sent[txid] = tx
	n.mu.Unlock()

	if n.server.Broadcast(&peer.MsgTx{Tx: tx}) == 0 {
		n.wallet.Release(tx)
		n.mu.Lock()
		delete(n.sent, txid)
		n.mu.Unlock()
		return nil, ErrNoPeers
	}

	metrics.TxsBroadcast.Inc()
	n.logger.Info("transaction broadcast",
		zap.String("txid", txid.String()),
		zap.String("to", addr),
		zap.Int64("amount", amount),
	)
	return tx, nil
}
