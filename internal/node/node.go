// Package node wires the header chain, UTXO set, wallet and peer server
// into a running process.
package node

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/wizards-wallet/internal/chain"
	"github.com/djkazic/wizards-wallet/internal/metrics"
	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/internal/peer"
	"github.com/djkazic/wizards-wallet/internal/store"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/internal/utxo"
	"github.com/djkazic/wizards-wallet/internal/wallet"
)

const (
	// DefaultSaveInterval is how often chain and UTXO state are written.
	DefaultSaveInterval = 600 * time.Second

	eventQueueSize = 256

	// maxBlocksInFlight bounds one getdata of blocks.
	maxBlocksInFlight = 128
	// maxOrphanBlocks bounds bodies held whose parent header is unknown.
	maxOrphanBlocks = 256
	// recentBlocks is how many applied bodies are kept for reorgs and
	// getdata. It matches the UTXO undo depth.
	recentBlocks = 100
)

// Config holds the node's tunables.
type Config struct {
	Params           *params.Params
	PeerAddrs        []string
	ListenAddr       string
	MaxPayload       uint32
	HandshakeTimeout time.Duration
	SaveInterval     time.Duration
	// AcceptMempool applies script-valid loose transactions to the UTXO set
	// before they are mined.
	AcceptMempool     bool
	ValidationWorkers int
}

// Node is the event-driven core. Peer callbacks enqueue events and one
// goroutine applies them, so chain and UTXO writes are serial.
type Node struct {
	cfg    Config
	logger *zap.Logger

	kv     store.KV
	chain  *chain.Chain
	utxos  *utxo.Set
	wallet *wallet.Wallet
	server *peer.Server

	blockCh   chan BlockEvent
	txCh      chan TxEvent
	headersCh chan HeadersEvent
	quit      chan struct{}

	// Owned by the event loop.
	mempool []*types.Tx
	saver   *backoff

	mu        sync.RWMutex
	cache     map[types.Hash256]*types.Block // received, not yet applied
	orphans   []types.Hash256                // cache entries without a known header, oldest first
	recent    map[types.Hash256]*types.Block // applied, newest recentBlocks
	recentLog []types.Hash256
	requested map[types.Hash256]time.Time
	sent      map[types.Hash256]*types.Tx // our own broadcasts, served on getdata
}

// New assembles a node. The chain and UTXO set are usually loaded from kv
// by the caller; the wallet must be built over the same UTXO set.
func New(cfg Config, kv store.KV, ch *chain.Chain, utxos *utxo.Set, w *wallet.Wallet, logger *zap.Logger) (*Node, error) {
	if cfg.Params == nil {
		return nil, errors.New("node: network params required")
	}
	if cfg.SaveInterval == 0 {
		cfg.SaveInterval = DefaultSaveInterval
	}
	if cfg.ValidationWorkers <= 0 {
		cfg.ValidationWorkers = runtime.NumCPU()
	}

	n := &Node{
		cfg:       cfg,
		logger:    logger.Named("node"),
		kv:        kv,
		chain:     ch,
		utxos:     utxos,
		wallet:    w,
		blockCh:   make(chan BlockEvent, eventQueueSize),
		txCh:      make(chan TxEvent, eventQueueSize),
		headersCh: make(chan HeadersEvent, eventQueueSize),
		quit:      make(chan struct{}),
		saver:     newBackoff(cfg.SaveInterval),
		cache:     make(map[types.Hash256]*types.Block),
		recent:    make(map[types.Hash256]*types.Block),
		requested: make(map[types.Hash256]time.Time),
		sent:      make(map[types.Hash256]*types.Tx),
	}

	server, err := peer.NewServer(peer.Config{
		Net:              cfg.Params.Net,
		MaxPayload:       cfg.MaxPayload,
		HandshakeTimeout: cfg.HandshakeTimeout,
		StartHeight:      ch.Height,
		Handler:          n,
	}, logger)
	if err != nil {
		return nil, err
	}
	n.server = server
	n.updateGauges()
	return n, nil
}

// Chain returns the header chain.
func (n *Node) Chain() *chain.Chain { return n.chain }

// UTXOs returns the UTXO set.
func (n *Node) UTXOs() *utxo.Set { return n.utxos }

// Wallet returns the wallet.
func (n *Node) Wallet() *wallet.Wallet { return n.wallet }

// PeerCount counts Ready peers.
func (n *Node) PeerCount() int { return n.server.PeerCount() }

// Server exposes the peer server.
func (n *Node) Server() *peer.Server { return n.server }

// HasBlockData reports whether the body of hash is held in memory.
func (n *Node) HasBlockData(hash types.Hash256) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, applied := n.recent[hash]
	_, cached := n.cache[hash]
	return applied || cached
}

// Block returns the body of hash if it is held in memory.
func (n *Node) Block(hash types.Hash256) (*types.Block, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if b, ok := n.recent[hash]; ok {
		return b, true
	}
	b, ok := n.cache[hash]
	return b, ok
}

// Run listens, dials the configured peers and processes events until ctx
// ends. State is saved on the way out.
func (n *Node) Run(ctx context.Context) error {
	if n.cfg.ListenAddr != "" {
		if err := n.server.Start(n.cfg.ListenAddr); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	for _, addr := range n.cfg.PeerAddrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			n.connectLoop(ctx, addr)
		}(addr)
	}

	n.logger.Info("node started",
		zap.String("network", n.cfg.Params.Name),
		zap.Int32("height", n.chain.Height()),
		zap.String("utxo_tip", n.utxos.LastHash().String()),
		zap.Int("utxos", n.utxos.Count()),
	)

	n.eventLoop(ctx)

	close(n.quit)
	n.server.Stop()
	wg.Wait()

	if err := n.save(); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	n.logger.Info("node stopped")
	return nil
}

func (n *Node) eventLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.headersCh:
			n.processHeaders(ev)
		case ev := <-n.blockCh:
			n.processBlock(ctx, ev)
		case ev := <-n.txCh:
			n.processTx(ctx, ev)
		case <-ticker.C:
			n.saver.run(n.logger, n.save)
		}
	}
}

// connectLoop keeps one outbound connection alive, backing off between
// failed attempts.
func (n *Node) connectLoop(ctx context.Context, addr string) {
	failures := 0
	for {
		p, err := n.server.Connect(ctx, addr)
		if err == nil {
			if err = p.WaitReady(ctx); err == nil {
				failures = 0
				select {
				case <-p.Done():
					err = p.Err()
				case <-ctx.Done():
					return
				}
			}
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		wait := backoffDuration(time.Second, failures)
		n.logger.Warn("peer connection lost",
			zap.String("addr", addr),
			zap.Error(err),
			zap.Int("consecutive_failures", failures),
			zap.Duration("next_retry", wait),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) updateGauges() {
	metrics.ChainHeight.Set(float64(n.chain.Height()))
	metrics.UTXOCount.Set(float64(n.utxos.Count()))
	if n.wallet != nil {
		metrics.WalletBalance.Set(float64(n.wallet.Balance()))
	}
}

// save writes the header chain and a UTXO snapshot in one batch. The
// snapshot excludes loose transactions; they are reverted on a copy so the
// live set keeps them.
func (n *Node) save() error {
	headers, err := n.chain.Encode()
	if err != nil {
		return err
	}
	snap, err := n.confirmedUTXOs().EncodeSnapshot()
	if err != nil {
		return fmt.Errorf("save utxo set: %w", err)
	}
	if err := n.kv.PutBatch(map[string][]byte{
		chain.HeadersKey: headers,
		utxo.SnapshotKey: snap,
	}); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	n.logger.Debug("state saved",
		zap.Int32("height", n.chain.Height()),
		zap.Int("utxos", n.utxos.Count()),
	)
	return nil
}

func (n *Node) confirmedUTXOs() *utxo.Set {
	if len(n.mempool) == 0 {
		return n.utxos
	}
	set := n.utxos.Clone()
	for i := len(n.mempool) - 1; i >= 0; i-- {
		if err := set.Revert(n.mempool[i]); err != nil {
			n.logger.Error("loose transaction revert failed", zap.String("txid", n.mempool[i].Hash().String()), zap.Error(err))
		}
	}
	return set
}
