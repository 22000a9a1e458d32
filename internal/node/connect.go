package node

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/djkazic/wizards-wallet/internal/chain"
	"github.com/djkazic/wizards-wallet/internal/metrics"
	"github.com/djkazic/wizards-wallet/internal/peer"
	"github.com/djkazic/wizards-wallet/internal/script"
	"github.com/djkazic/wizards-wallet/internal/types"
)

func (n *Node) processHeaders(ev HeadersEvent) {
	added := 0
loop:
	for _, h := range ev.Headers {
		_, err := n.chain.AddHeader(h)
		switch {
		case err == nil:
			added++
		case errors.Is(err, chain.ErrDuplicateHeader):
		case errors.Is(err, chain.ErrOrphanHeader):
			n.logger.Debug("headers do not connect", zap.String("hash", h.Hash().String()))
			if ev.Peer != nil {
				n.requestHeaders(ev.Peer)
			}
			break loop
		default:
			n.logger.Warn("invalid header", zap.String("hash", h.Hash().String()), zap.Error(err))
			return
		}
	}

	metrics.ChainHeight.Set(float64(n.chain.Height()))
	if added > 0 {
		n.logger.Debug("headers added", zap.Int("count", added), zap.Int32("height", n.chain.Height()))
	}

	if ev.Peer == nil {
		return
	}
	if len(ev.Headers) == peer.MaxHeadersPerMsg {
		n.requestHeaders(ev.Peer)
	}
	n.requestBlocks(ev.Peer)
}

// requestBlocks asks p for the next bodies needed to bring the UTXO set to
// the best header.
func (n *Node) requestBlocks(p *peer.Peer) {
	if p == nil {
		return
	}
	path, err := n.chain.Path(n.utxos.LastHash(), n.chain.BestHash())
	if err != nil {
		return
	}

	var want []peer.InvVect
	for _, hash := range path.Connect {
		if len(want) >= maxBlocksInFlight {
			break
		}
		n.mu.RLock()
		_, have := n.cache[hash]
		n.mu.RUnlock()
		if !have && n.markRequested(hash) {
			want = append(want, peer.InvVect{Type: peer.InvTypeBlock, Hash: hash})
		}
	}
	if len(want) == 0 {
		return
	}
	if err := p.Send(&peer.MsgGetData{Inventory: want}); err != nil {
		n.logger.Debug("block getdata not sent", zap.String("peer", p.Addr()), zap.Error(err))
	}
}

func (n *Node) processBlock(ctx context.Context, ev BlockEvent) {
	b := ev.Block
	hash := b.Hash()

	n.mu.Lock()
	delete(n.requested, hash)
	_, applied := n.recent[hash]
	n.mu.Unlock()
	if applied {
		return
	}

	// Nothing is held without valid proof of work and a body that matches
	// its merkle root.
	if err := n.chain.CheckHeader(b.Header); err != nil {
		n.dropBlock(b, err)
		return
	}
	if err := b.CheckSanity(); err != nil {
		n.dropBlock(b, err)
		return
	}

	if _, err := n.chain.AddHeader(b.Header); err != nil {
		switch {
		case errors.Is(err, chain.ErrDuplicateHeader):
		case errors.Is(err, chain.ErrOrphanHeader):
			// Keep the body; its ancestors' headers are on the way.
			n.cacheOrphan(b)
			if ev.Peer != nil {
				n.requestHeaders(ev.Peer)
			}
			return
		default:
			n.rejectBlock(b, err)
			return
		}
	}

	n.cacheBlock(b)
	n.adoptOrphans(hash)
	n.connectBest(ctx)
	n.requestBlocks(ev.Peer)
}

// cacheBlock holds a body whose header is in the chain until it can be
// connected.
func (n *Node) cacheBlock(b *types.Block) {
	hash := b.Hash()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cache[hash] = b
	n.forgetOrphanLocked(hash)
}

// cacheOrphan holds a body whose parent header is unknown. At most
// maxOrphanBlocks are kept, the oldest going first; bodies whose header
// has since joined the chain are never evicted.
func (n *Node) cacheOrphan(b *types.Block) {
	hash := b.Hash()
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.cache[hash]; ok {
		return
	}
	for len(n.orphans) >= maxOrphanBlocks {
		oldest := n.orphans[0]
		n.orphans = n.orphans[1:]
		if _, known := n.chain.Get(oldest); known {
			continue
		}
		delete(n.cache, oldest)
		n.logger.Debug("orphan block evicted", zap.String("hash", oldest.String()))
	}
	n.cache[hash] = b
	n.orphans = append(n.orphans, hash)
}

func (n *Node) forgetOrphanLocked(hash types.Hash256) {
	for i, h := range n.orphans {
		if h == hash {
			n.orphans = append(n.orphans[:i], n.orphans[i+1:]...)
			return
		}
	}
}

// adoptOrphans adds the headers of cached bodies that were waiting for
// parent, and then for those bodies' children.
func (n *Node) adoptOrphans(parent types.Hash256) {
	for queue := []types.Hash256{parent}; len(queue) > 0; queue = queue[1:] {
		var children []*types.Block
		n.mu.RLock()
		for _, b := range n.cache {
			if b.Header.PrevBlock == queue[0] {
				children = append(children, b)
			}
		}
		n.mu.RUnlock()

		for _, b := range children {
			_, err := n.chain.AddHeader(b.Header)
			switch {
			case err == nil:
				queue = append(queue, b.Hash())
				n.cacheBlock(b)
			case errors.Is(err, chain.ErrDuplicateHeader):
				n.cacheBlock(b)
			default:
				n.rejectBlock(b, err)
			}
		}
	}
}

// dropBlock discards a body that failed the context-free checks. Its
// header, if known, stays valid: the body may be a mutated copy.
func (n *Node) dropBlock(b *types.Block, err error) {
	metrics.BlocksRejected.Inc()
	n.logger.Warn("block dropped", zap.String("hash", b.Hash().String()), zap.Error(err))
}

// rejectBlock drops an invalid body and marks its header, and everything
// built on it, invalid.
func (n *Node) rejectBlock(b *types.Block, err error) {
	hash := b.Hash()
	n.mu.Lock()
	delete(n.cache, hash)
	n.forgetOrphanLocked(hash)
	n.mu.Unlock()

	if _, known := n.chain.Get(hash); known {
		if ierr := n.chain.Invalidate(hash); ierr != nil {
			n.logger.Error("invalidate header", zap.String("hash", hash.String()), zap.Error(ierr))
		}
	}

	metrics.BlocksRejected.Inc()
	n.logger.Warn("block rejected", zap.String("hash", hash.String()), zap.Error(err))
	n.logScriptFailure(err)
}

// logScriptFailure shows the scripts of a failing input at debug level.
func (n *Node) logScriptFailure(err error) {
	var ie *InputError
	if !errors.As(err, &ie) || ie.PkScript == nil {
		return
	}
	n.logger.Debug("script failure",
		zap.String("txid", ie.TxID.String()),
		zap.Int("input", ie.Input),
		zap.String("sig_script", script.Disassemble(ie.SigScript)),
		zap.String("pk_script", script.Disassemble(ie.PkScript)),
	)
}

// connectBest moves the UTXO set toward the best header as far as the
// cached bodies allow. A reorg is only started once every body of the new
// branch is at hand.
func (n *Node) connectBest(ctx context.Context) {
	last, best := n.utxos.LastHash(), n.chain.BestHash()
	if last == best {
		return
	}
	path, err := n.chain.Path(last, best)
	if err != nil {
		n.logger.Error("utxo tip not in header chain", zap.String("utxo_tip", last.String()), zap.Error(err))
		return
	}

	n.mu.RLock()
	bodies := make([]*types.Block, 0, len(path.Connect))
	for _, hash := range path.Connect {
		b, ok := n.cache[hash]
		if !ok {
			break
		}
		bodies = append(bodies, b)
	}
	n.mu.RUnlock()

	if len(path.Disconnect) > 0 {
		if len(bodies) < len(path.Connect) {
			return
		}
		if err := n.disconnectBlocks(path.Disconnect); err != nil {
			n.logger.Error("reorg failed", zap.Error(err))
			return
		}
	}

	for _, b := range bodies {
		if err := n.connectBlock(ctx, b); err != nil {
			if ctx.Err() != nil {
				return
			}
			n.rejectBlock(b, err)
			// The tip may have fallen back to a branch we can connect.
			n.connectBest(ctx)
			return
		}
	}
}

func (n *Node) connectBlock(ctx context.Context, b *types.Block) error {
	var confirmed *types.Block
	defer n.holdWallet()()
	n.disconnectMempool()
	defer func() { n.reconnectMempool(confirmed) }()

	if err := validateBlock(ctx, b, n.utxos, n.cfg.ValidationWorkers); err != nil {
		return err
	}
	if err := n.utxos.ApplyBlock(b); err != nil {
		return err
	}
	confirmed = b

	hash := b.Hash()
	n.mu.Lock()
	delete(n.cache, hash)
	n.recent[hash] = b
	n.recentLog = append(n.recentLog, hash)
	if len(n.recentLog) > recentBlocks {
		delete(n.recent, n.recentLog[0])
		n.recentLog = n.recentLog[1:]
	}
	for _, tx := range b.Transactions {
		delete(n.sent, tx.Hash())
	}
	n.mu.Unlock()

	metrics.BlocksApplied.Inc()
	n.updateGauges()

	height, _ := n.chain.HeightOf(hash)
	n.logger.Info("block connected",
		zap.String("hash", hash.String()),
		zap.Int32("height", height),
		zap.Int("txs", len(b.Transactions)),
	)
	return nil
}

// disconnectBlocks reverts the given blocks, newest first. Reverted bodies
// go back into the cache.
func (n *Node) disconnectBlocks(hashes []types.Hash256) error {
	n.mu.RLock()
	bodies := make([]*types.Block, len(hashes))
	for i, hash := range hashes {
		b, ok := n.recent[hash]
		if !ok {
			n.mu.RUnlock()
			return fmt.Errorf("body of block %s is no longer held", hash)
		}
		bodies[i] = b
	}
	n.mu.RUnlock()

	defer n.holdWallet()()
	n.disconnectMempool()
	defer n.reconnectMempool(nil)

	for _, b := range bodies {
		if err := n.utxos.RevertBlock(b); err != nil {
			return err
		}
		hash := b.Hash()
		n.mu.Lock()
		delete(n.recent, hash)
		for i, h := range n.recentLog {
			if h == hash {
				n.recentLog = append(n.recentLog[:i], n.recentLog[i+1:]...)
				break
			}
		}
		n.cache[hash] = b
		n.mu.Unlock()

		n.logger.Info("block disconnected", zap.String("hash", hash.String()))
	}
	n.updateGauges()
	return nil
}

func (n *Node) processTx(ctx context.Context, ev TxEvent) {
	tx := ev.Tx
	txid := tx.Hash()

	n.mu.Lock()
	delete(n.requested, txid)
	n.mu.Unlock()

	if !n.cfg.AcceptMempool {
		n.logger.Debug("ignoring loose transaction", zap.String("txid", txid.String()))
		return
	}
	for _, m := range n.mempool {
		if m.Hash() == txid {
			return
		}
	}

	if tx.IsCoinbase() {
		n.logger.Debug("loose coinbase rejected", zap.String("txid", txid.String()))
		return
	}
	if err := types.CheckTxSanity(tx); err != nil {
		n.logger.Debug("loose transaction rejected", zap.String("txid", txid.String()), zap.Error(err))
		return
	}
	for i, in := range tx.TxIn {
		if err := script.CheckPushOnly(in.SignatureScript); err != nil {
			n.logger.Debug("loose transaction not standard", zap.String("txid", txid.String()), zap.Int("input", i), zap.Error(err))
			return
		}
	}
	if err := validateScripts(ctx, []*types.Tx{tx}, n.utxos, n.cfg.ValidationWorkers); err != nil {
		n.logger.Debug("loose transaction rejected", zap.String("txid", txid.String()), zap.Error(err))
		n.logScriptFailure(err)
		return
	}
	if _, err := n.utxos.Apply(tx); err != nil {
		n.logger.Debug("loose transaction conflicts", zap.String("txid", txid.String()), zap.Error(err))
		return
	}
	n.mempool = append(n.mempool, tx)
	n.updateGauges()
	n.logger.Debug("loose transaction accepted", zap.String("txid", txid.String()))
}

// holdWallet keeps the wallet from selecting coins while loose
// transactions are out of the UTXO set.
func (n *Node) holdWallet() (release func()) {
	if n.wallet == nil {
		return func() {}
	}
	return n.wallet.Hold()
}

// disconnectMempool takes loose transactions out of the UTXO set, newest
// first. The list itself is kept for reconnectMempool.
func (n *Node) disconnectMempool() {
	for i := len(n.mempool) - 1; i >= 0; i-- {
		if err := n.utxos.Revert(n.mempool[i]); err != nil {
			n.logger.Error("loose transaction revert failed", zap.String("txid", n.mempool[i].Hash().String()), zap.Error(err))
		}
	}
}

// reconnectMempool reapplies loose transactions, dropping those confirmed
// in b and those that no longer apply.
func (n *Node) reconnectMempool(b *types.Block) {
	if len(n.mempool) == 0 {
		return
	}
	confirmed := make(map[types.Hash256]struct{})
	if b != nil {
		for _, tx := range b.Transactions {
			confirmed[tx.Hash()] = struct{}{}
		}
	}
	kept := n.mempool[:0]
	for _, tx := range n.mempool {
		if _, ok := confirmed[tx.Hash()]; ok {
			continue
		}
		if _, err := n.utxos.Apply(tx); err != nil {
			n.logger.Debug("loose transaction dropped", zap.String("txid", tx.Hash().String()), zap.Error(err))
			continue
		}
		kept = append(kept, tx)
	}
	n.mempool = kept
}
