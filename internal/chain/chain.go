// Package chain keeps the tree of known block headers and tracks the tip
// with the most cumulative work.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/pkg/util"
)

// MaxHeadersPerMsg is the most headers one headers message carries.
const MaxHeadersPerMsg = 2000

type node struct {
	header  types.BlockHeader
	hash    types.Hash256
	height  int32
	work    *big.Int
	parent  *node
	seq     uint64 // arrival order, breaks work ties
	invalid bool
}

// Chain is safe for concurrent use.
type Chain struct {
	mu       sync.RWMutex
	nodes    map[types.Hash256]*node
	genesis  *node
	best     *node
	main     []*node // main chain indexed by height
	powLimit *big.Int
	now      func() time.Time
	seq      uint64
}

// New starts a chain at genesis. powLimitBits is the easiest target headers
// may declare.
func New(genesis types.BlockHeader, powLimitBits uint32) *Chain {
	g := &node{
		header: genesis,
		hash:   genesis.Hash(),
		work:   new(big.Int),
	}
	return &Chain{
		nodes:    map[types.Hash256]*node{g.hash: g},
		genesis:  g,
		best:     g,
		main:     []*node{g},
		powLimit: util.CompactToTarget(powLimitBits),
		now:      time.Now,
	}
}

// AddHeader validates and inserts h. It reports whether the best tip
// changed. The tip only moves to a branch with strictly more work.
func (c *Chain) AddHeader(h types.BlockHeader) (bool, error) {
	hash := h.Hash()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[hash]; ok {
		return false, &ValidationError{Reason: fmt.Sprintf("header %s already known", hash), Err: ErrDuplicateHeader}
	}
	parent, ok := c.nodes[h.PrevBlock]
	if !ok {
		return false, &ValidationError{Reason: fmt.Sprintf("parent %s of %s not found", h.PrevBlock, hash), Err: ErrOrphanHeader}
	}
	if parent.invalid {
		return false, &ValidationError{Reason: fmt.Sprintf("parent %s of %s is invalid", h.PrevBlock, hash), Err: ErrInvalidAncestor}
	}
	if err := checkHeader(&h, c.powLimit, c.now()); err != nil {
		return false, err
	}

	c.seq++
	n := &node{
		header: h,
		hash:   hash,
		height: parent.height + 1,
		work:   new(big.Int).Add(parent.work, util.CalcWork(h.Bits)),
		parent: parent,
		seq:    c.seq,
	}
	c.nodes[hash] = n

	if n.work.Cmp(c.best.work) <= 0 {
		return false, nil
	}
	c.setBest(n)
	return true, nil
}

// CheckHeader runs the context-free checks AddHeader applies: proof of
// work against the declared target and the network limit, and the
// timestamp bound.
func (c *Chain) CheckHeader(h types.BlockHeader) error {
	return checkHeader(&h, c.powLimit, c.now())
}

// setBest moves the tip to n and rewrites the main chain index from the
// fork point up.
func (c *Chain) setBest(n *node) {
	if int(n.height) >= len(c.main) {
		grown := make([]*node, n.height+1)
		copy(grown, c.main)
		c.main = grown
	} else {
		c.main = c.main[:n.height+1]
	}
	for cur := n; cur != nil && c.main[cur.height] != cur; cur = cur.parent {
		c.main[cur.height] = cur
	}
	c.best = n
}

// Invalidate marks hash and all its descendants invalid, for a block whose
// body failed validation. The tip falls back to the valid header with the
// most work, the earliest seen winning ties.
func (c *Chain) Invalidate(hash types.Hash256) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bad, ok := c.nodes[hash]
	if !ok {
		return fmt.Errorf("unknown header %s", hash)
	}
	if bad == c.genesis {
		return errors.New("cannot invalidate genesis")
	}
	bad.invalid = true

	nodes := make([]*node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].height < nodes[j].height })

	best := c.genesis
	for _, n := range nodes {
		if n.parent != nil && n.parent.invalid {
			n.invalid = true
		}
		if n.invalid {
			continue
		}
		if cmp := n.work.Cmp(best.work); cmp > 0 || (cmp == 0 && n.seq < best.seq) {
			best = n
		}
	}
	c.setBest(best)
	return nil
}

// BestTip returns the header at the tip.
func (c *Chain) BestTip() types.BlockHeader {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.best.header
}

// BestHash returns the tip's hash.
func (c *Chain) BestHash() types.Hash256 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.best.hash
}

// Height returns the tip height; genesis is height 0.
func (c *Chain) Height() int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.best.height
}

// TotalWork returns the tip's cumulative work.
func (c *Chain) TotalWork() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.best.work)
}

// Get returns a known header by hash, on any branch.
func (c *Chain) Get(hash types.Hash256) (types.BlockHeader, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[hash]
	if !ok {
		return types.BlockHeader{}, false
	}
	return n.header, true
}

// HeightOf returns the height of a known header.
func (c *Chain) HeightOf(hash types.Hash256) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[hash]
	if !ok {
		return 0, false
	}
	return n.height, true
}

// IsMainChain reports whether hash is on the best chain.
func (c *Chain) IsMainChain(hash types.Hash256) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[hash]
	return ok && int(n.height) < len(c.main) && c.main[n.height] == n
}

// MainChainHashes lists the best chain from genesis to tip.
func (c *Chain) MainChainHashes() []types.Hash256 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Hash256, len(c.main))
	for i, n := range c.main {
		out[i] = n.hash
	}
	return out
}

// LocatorHashes describes the best chain for getheaders/getblocks: the
// newest hashes one apart, then exponentially sparser, always ending at
// genesis.
func (c *Chain) LocatorHashes() []types.Hash256 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var locator []types.Hash256
	step := int32(1)
	for height := c.best.height; ; {
		locator = append(locator, c.main[height].hash)
		if height == 0 {
			break
		}
		height -= step
		if height < 0 {
			height = 0
		}
		if len(locator) > 10 {
			step *= 2
		}
	}
	return locator
}

// HeadersAfter answers a getheaders request: main chain headers after the
// first locator hash we know, up to and including stop, at most max.
func (c *Chain) HeadersAfter(locator []types.Hash256, stop types.Hash256, max int) []types.BlockHeader {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if max <= 0 || max > MaxHeadersPerMsg {
		max = MaxHeadersPerMsg
	}

	start := int32(0)
	for _, h := range locator {
		if n, ok := c.nodes[h]; ok && c.main[n.height] == n {
			start = n.height
			break
		}
	}

	var out []types.BlockHeader
	for height := start + 1; int(height) < len(c.main) && len(out) < max; height++ {
		n := c.main[height]
		out = append(out, n.header)
		if n.hash == stop {
			break
		}
	}
	return out
}

// Fork describes how to move from one tip to another.
type Fork struct {
	// Disconnect lists blocks to revert, newest first.
	Disconnect []types.Hash256
	// Connect lists blocks to apply, oldest first.
	Connect []types.Hash256
}

// Path returns the blocks to disconnect from `from` and connect to reach
// `to`. Both must be known.
func (c *Chain) Path(from, to types.Hash256) (*Fork, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.nodes[from]
	if !ok {
		return nil, fmt.Errorf("unknown header %s", from)
	}
	b, ok := c.nodes[to]
	if !ok {
		return nil, fmt.Errorf("unknown header %s", to)
	}

	f := &Fork{}
	var connect []types.Hash256
	for a.height > b.height {
		f.Disconnect = append(f.Disconnect, a.hash)
		a = a.parent
	}
	for b.height > a.height {
		connect = append(connect, b.hash)
		b = b.parent
	}
	for a != b {
		f.Disconnect = append(f.Disconnect, a.hash)
		connect = append(connect, b.hash)
		a, b = a.parent, b.parent
	}
	for i := len(connect) - 1; i >= 0; i-- {
		f.Connect = append(f.Connect, connect[i])
	}
	return f, nil
}
