// Package utxo tracks unspent transaction outputs with an undo journal so
// applied transactions and blocks can be reverted exactly.
package utxo

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/internal/types"
)

// undoDepth is how many applied blocks keep their undo records.
const undoDepth = 100

// Entry is one unspent output.
type Entry struct {
	OutPoint types.OutPoint
	Output   types.TxOut
}

// SpentOutputs lists the outputs a transaction consumed, in input order.
type SpentOutputs []Entry

// Set is the unspent output set. All methods are safe for concurrent use;
// each holds the lock only for its own duration.
type Set struct {
	mu       sync.RWMutex
	utxos    map[types.OutPoint]types.TxOut
	undo     map[types.Hash256]SpentOutputs
	blocks   [][]types.Hash256 // txids per applied block, oldest first
	lastHash types.Hash256
}

// New returns an empty set whose tip is genesis. The genesis coinbase
// output is never spendable and is not added.
func New(genesis types.Hash256) *Set {
	return &Set{
		utxos:    make(map[types.OutPoint]types.TxOut),
		undo:     make(map[types.Hash256]SpentOutputs),
		lastHash: genesis,
	}
}

// Apply spends the inputs of tx and adds its outputs. It validates
// everything before mutating.
func (s *Set) Apply(tx *types.Tx) (SpentOutputs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(tx)
}

func (s *Set) apply(tx *types.Tx) (SpentOutputs, error) {
	txid := tx.Hash()
	coinbase := tx.IsCoinbase()

	// 1. Validate inputs.
	var spent SpentOutputs
	if !coinbase {
		spent = make(SpentOutputs, 0, len(tx.TxIn))
		seen := make(map[types.OutPoint]struct{}, len(tx.TxIn))
		for _, in := range tx.TxIn {
			op := in.PreviousOutPoint
			out, ok := s.utxos[op]
			if _, dup := seen[op]; !ok || dup {
				return nil, &StateConsistencyError{Kind: SpentOutputNotFound, OutPoint: op}
			}
			seen[op] = struct{}{}
			spent = append(spent, Entry{OutPoint: op, Output: out})
		}
	}

	// 2. Validate outputs.
	for i := range tx.TxOut {
		op := types.NewOutPoint(txid, uint32(i))
		if _, ok := s.utxos[op]; ok {
			return nil, &StateConsistencyError{Kind: OutputAlreadyExists, OutPoint: op}
		}
	}

	// 3. Mutate.
	for _, e := range spent {
		delete(s.utxos, e.OutPoint)
	}
	for i, out := range tx.TxOut {
		s.utxos[types.NewOutPoint(txid, uint32(i))] = out.Copy()
	}
	s.undo[txid] = spent

	return spent, nil
}

// Revert undoes a previous Apply of tx.
func (s *Set) Revert(tx *types.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revert(tx)
}

func (s *Set) revert(tx *types.Tx) error {
	txid := tx.Hash()

	for i := range tx.TxOut {
		op := types.NewOutPoint(txid, uint32(i))
		if _, ok := s.utxos[op]; !ok {
			return &StateConsistencyError{Kind: OutputSpentDownstream, OutPoint: op}
		}
	}
	spent, ok := s.undo[txid]
	if !ok {
		return &StateConsistencyError{Kind: MissingUndoData, TxID: txid}
	}

	for i := range tx.TxOut {
		delete(s.utxos, types.NewOutPoint(txid, uint32(i)))
	}
	for _, e := range spent {
		s.utxos[e.OutPoint] = e.Output.Copy()
	}
	delete(s.undo, txid)
	return nil
}

// ApplyBlock applies every transaction of b in order. If one fails, those
// already applied are reverted and the set is left as it was.
func (s *Set) ApplyBlock(b *types.Block) error {
	hash := b.Hash()

	s.mu.RLock()
	tip := s.lastHash
	s.mu.RUnlock()
	if b.Header.PrevBlock != tip {
		return &StateConsistencyError{Kind: BlockNotConnected, TxID: b.Header.PrevBlock}
	}

	txids := make([]types.Hash256, 0, len(b.Transactions))
	for i, tx := range b.Transactions {
		if _, err := s.Apply(tx); err != nil {
			if uerr := s.unwind(b.Transactions[:i]); uerr != nil {
				err = errors.Join(err, fmt.Errorf("unwind: %w", uerr))
			}
			return &BlockError{Block: hash, TxIndex: i, Err: err}
		}
		txids = append(txids, tx.Hash())
	}

	s.mu.Lock()
	s.lastHash = hash
	s.blocks = append(s.blocks, txids)
	if len(s.blocks) > undoDepth {
		for _, txid := range s.blocks[0] {
			delete(s.undo, txid)
		}
		s.blocks = s.blocks[1:]
	}
	s.mu.Unlock()
	return nil
}

// unwind reverts applied, newest first. It only fails if another caller
// spent these outputs in between.
func (s *Set) unwind(applied []*types.Tx) error {
	var errs []error
	for j := len(applied) - 1; j >= 0; j-- {
		if err := s.Revert(applied[j]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RevertBlock undoes the most recently applied block.
func (s *Set) RevertBlock(b *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Hash() != s.lastHash {
		return &StateConsistencyError{Kind: BlockNotConnected, TxID: b.Hash()}
	}

	// Check the whole block can be reverted before touching anything.
	for _, tx := range b.Transactions {
		if _, ok := s.undo[tx.Hash()]; !ok {
			return &StateConsistencyError{Kind: MissingUndoData, TxID: tx.Hash()}
		}
	}

	for j := len(b.Transactions) - 1; j >= 0; j-- {
		if err := s.revert(b.Transactions[j]); err != nil {
			// Restore what was reverted so far.
			errs := []error{err}
			for k := j + 1; k < len(b.Transactions); k++ {
				if _, aerr := s.apply(b.Transactions[k]); aerr != nil {
					errs = append(errs, fmt.Errorf("restore: %w", aerr))
				}
			}
			return errors.Join(errs...)
		}
	}

	s.lastHash = b.Header.PrevBlock
	if n := len(s.blocks); n > 0 {
		s.blocks = s.blocks[:n-1]
	}
	return nil
}

// Clone returns an independent copy of the set, undo journal included.
func (s *Set) Clone() *Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := &Set{
		utxos:    make(map[types.OutPoint]types.TxOut, len(s.utxos)),
		undo:     make(map[types.Hash256]SpentOutputs, len(s.undo)),
		blocks:   make([][]types.Hash256, len(s.blocks)),
		lastHash: s.lastHash,
	}
	for op, out := range s.utxos {
		c.utxos[op] = out.Copy()
	}
	for txid, spent := range s.undo {
		cp := make(SpentOutputs, len(spent))
		for i, e := range spent {
			cp[i] = Entry{OutPoint: e.OutPoint, Output: e.Output.Copy()}
		}
		c.undo[txid] = cp
	}
	for i, txids := range s.blocks {
		c.blocks[i] = append([]types.Hash256(nil), txids...)
	}
	return c
}

// Lookup returns a copy of the unspent output at op.
func (s *Set) Lookup(op types.OutPoint) (types.TxOut, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.utxos[op]
	if !ok {
		return types.TxOut{}, false
	}
	return out.Copy(), true
}

func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.utxos)
}

// LastHash is the hash of the last applied block.
func (s *Set) LastHash() types.Hash256 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHash
}

// Unspent returns the entries accepted by filter, sorted by outpoint. A nil
// filter returns everything.
func (s *Set) Unspent(filter func(types.OutPoint, types.TxOut) bool) []Entry {
	s.mu.RLock()
	out := make([]Entry, 0)
	for op, txo := range s.utxos {
		if filter == nil || filter(op, txo) {
			out = append(out, Entry{OutPoint: op, Output: txo.Copy()})
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].OutPoint.Less(out[j].OutPoint)
	})
	return out
}

// BalanceFor sums the outputs paying to any of addrs.
func (s *Set) BalanceFor(addrs []address.Address, net *params.Params) int64 {
	owned := make(map[address.Address]struct{}, len(addrs))
	for _, a := range addrs {
		owned[a] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, out := range s.utxos {
		a, ok := address.FromScript(out.PkScript, net)
		if !ok {
			continue
		}
		if _, mine := owned[a]; mine {
			total += out.Value
		}
	}
	return total
}

// Equal reports whether both sets hold the same outputs and tip.
func (s *Set) Equal(other *Set) bool {
	if s == other {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	if s.lastHash != other.lastHash || len(s.utxos) != len(other.utxos) {
		return false
	}
	for op, a := range s.utxos {
		b, ok := other.utxos[op]
		if !ok || a.Value != b.Value || string(a.PkScript) != string(b.PkScript) {
			return false
		}
	}
	return true
}
