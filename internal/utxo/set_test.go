package utxo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/internal/store"
	"github.com/djkazic/wizards-wallet/internal/types"
)

var (
	net     = params.RegTest
	genesis = params.RegTest.GenesisHash
	alice   = address.FromPubKeyHash(types.Hash160{0xaa}, params.RegTest)
	bob     = address.FromPubKeyHash(types.Hash160{0xbb}, params.RegTest)
)

func coinbase(tag byte, value int64, to address.Address) *types.Tx {
	return &types.Tx{
		Version:  1,
		TxIn:     []*types.TxIn{{PreviousOutPoint: types.OutPoint{Index: 0xffffffff}, SignatureScript: []byte{tag}, Sequence: types.MaxSequence}},
		TxOut:    []*types.TxOut{{Value: value, PkScript: to.PkScript()}},
		LockTime: 0,
	}
}

func spend(prev []types.OutPoint, to address.Address, values ...int64) *types.Tx {
	tx := &types.Tx{Version: 1}
	for _, op := range prev {
		tx.TxIn = append(tx.TxIn, &types.TxIn{PreviousOutPoint: op, Sequence: types.MaxSequence})
	}
	for _, v := range values {
		tx.TxOut = append(tx.TxOut, &types.TxOut{Value: v, PkScript: to.PkScript()})
	}
	return tx
}

func op(tx *types.Tx, i uint32) types.OutPoint {
	return types.NewOutPoint(tx.Hash(), i)
}

func block(prev types.Hash256, txs ...*types.Tx) *types.Block {
	b := &types.Block{
		Header:       types.BlockHeader{Version: 1, PrevBlock: prev, Bits: 0x207fffff},
		Transactions: txs,
	}
	b.Header.MerkleRoot = types.ComputeMerkleRoot(b.TxHashes())
	return b
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var sce *StateConsistencyError
	require.True(t, errors.As(err, &sce), "expected *StateConsistencyError, got %v", err)
	return sce.Kind
}

func TestApplyRevert(t *testing.T) {
	s := New(genesis)
	cb := coinbase(1, 50_000, alice)
	_, err := s.Apply(cb)
	require.NoError(t, err)
	require.Equal(t, 1, s.Count())

	before := New(genesis)
	_, err = before.Apply(cb)
	require.NoError(t, err)

	tx := spend([]types.OutPoint{op(cb, 0)}, bob, 20_000, 29_000)
	spent, err := s.Apply(tx)
	require.NoError(t, err)
	require.Len(t, spent, 1)
	require.Equal(t, int64(50_000), spent[0].Output.Value)
	require.Equal(t, 2, s.Count())

	_, ok := s.Lookup(op(cb, 0))
	require.False(t, ok)
	out, ok := s.Lookup(op(tx, 1))
	require.True(t, ok)
	require.Equal(t, int64(29_000), out.Value)

	require.NoError(t, s.Revert(tx))
	require.True(t, s.Equal(before))
}

func TestApplyMissingInputLeavesSetUnchanged(t *testing.T) {
	s := New(genesis)
	cb := coinbase(1, 50_000, alice)
	_, err := s.Apply(cb)
	require.NoError(t, err)

	tx := spend([]types.OutPoint{op(cb, 0), {Hash: types.Hash256{9}, Index: 0}}, bob, 1)
	_, err = s.Apply(tx)
	require.Equal(t, SpentOutputNotFound, kindOf(t, err))
	require.True(t, errors.Is(err, &StateConsistencyError{Kind: SpentOutputNotFound}))

	_, ok := s.Lookup(op(cb, 0))
	require.True(t, ok, "valid input must not be consumed by a failed apply")
	require.Equal(t, 1, s.Count())
}

func TestApplyDoubleSpendWithinTx(t *testing.T) {
	s := New(genesis)
	cb := coinbase(1, 50_000, alice)
	_, err := s.Apply(cb)
	require.NoError(t, err)

	tx := spend([]types.OutPoint{op(cb, 0), op(cb, 0)}, bob, 1)
	_, err = s.Apply(tx)
	require.Equal(t, SpentOutputNotFound, kindOf(t, err))
	require.Equal(t, 1, s.Count())
}

func TestApplyOutputAlreadyExists(t *testing.T) {
	s := New(genesis)
	cb := coinbase(1, 50_000, alice)
	_, err := s.Apply(cb)
	require.NoError(t, err)

	_, err = s.Apply(cb)
	require.Equal(t, OutputAlreadyExists, kindOf(t, err))
}

func TestRevertErrors(t *testing.T) {
	s := New(genesis)
	cb := coinbase(1, 50_000, alice)
	_, err := s.Apply(cb)
	require.NoError(t, err)
	tx := spend([]types.OutPoint{op(cb, 0)}, bob, 40_000)
	_, err = s.Apply(tx)
	require.NoError(t, err)

	// cb's output is spent by tx, so cb cannot be reverted first.
	require.Equal(t, OutputSpentDownstream, kindOf(t, s.Revert(cb)))

	never := spend([]types.OutPoint{op(tx, 0)}, alice, 1)
	require.Equal(t, OutputSpentDownstream, kindOf(t, s.Revert(never)))

	// An output present in the set but never applied through it.
	loaded := New(genesis)
	loaded.utxos[op(tx, 0)] = types.TxOut{Value: 40_000}
	require.Equal(t, MissingUndoData, kindOf(t, loaded.Revert(tx)))
}

func TestApplyBlockUnwindsOnFailure(t *testing.T) {
	s := New(genesis)
	cb0 := coinbase(0, 50_000, alice)
	b0 := block(genesis, cb0)
	require.NoError(t, s.ApplyBlock(b0))
	require.Equal(t, b0.Hash(), s.LastHash())

	snapBefore, err := s.EncodeSnapshot()
	require.NoError(t, err)

	cb1 := coinbase(1, 50_000, bob)
	good := spend([]types.OutPoint{op(cb0, 0)}, bob, 49_000)
	bad := spend([]types.OutPoint{{Hash: types.Hash256{0xde}, Index: 7}}, bob, 1)
	b1 := block(b0.Hash(), cb1, good, bad)

	err = s.ApplyBlock(b1)
	var be *BlockError
	require.True(t, errors.As(err, &be))
	require.Equal(t, 2, be.TxIndex)
	require.Equal(t, SpentOutputNotFound, kindOf(t, err))

	require.Equal(t, b0.Hash(), s.LastHash())
	snapAfter, err := s.EncodeSnapshot()
	require.NoError(t, err)
	require.Equal(t, snapBefore, snapAfter)
}

func TestUnwindReportsFailures(t *testing.T) {
	s := New(genesis)
	cb := coinbase(1, 50_000, alice)
	_, err := s.Apply(cb)
	require.NoError(t, err)
	// Spent by someone else before the unwind got to it.
	_, err = s.Apply(spend([]types.OutPoint{op(cb, 0)}, bob, 40_000))
	require.NoError(t, err)

	err = s.unwind([]*types.Tx{cb})
	require.Error(t, err)
	require.Equal(t, OutputSpentDownstream, kindOf(t, err))
	require.NoError(t, s.unwind(nil))
}

func TestClone(t *testing.T) {
	s := New(genesis)
	cb0 := coinbase(0, 50_000, alice)
	b0 := block(genesis, cb0)
	require.NoError(t, s.ApplyBlock(b0))
	loose := spend([]types.OutPoint{op(cb0, 0)}, bob, 49_000)
	_, err := s.Apply(loose)
	require.NoError(t, err)

	c := s.Clone()
	require.True(t, s.Equal(c))

	require.NoError(t, c.Revert(loose))
	require.False(t, s.Equal(c))
	_, ok := s.Lookup(op(loose, 0))
	require.True(t, ok, "reverting the clone must not touch the original")
	require.NoError(t, c.RevertBlock(b0))
	require.Equal(t, b0.Hash(), s.LastHash())
}

func TestApplyRevertBlock(t *testing.T) {
	s := New(genesis)
	cb0 := coinbase(0, 50_000, alice)
	b0 := block(genesis, cb0)
	require.NoError(t, s.ApplyBlock(b0))

	cb1 := coinbase(1, 50_000, bob)
	tx := spend([]types.OutPoint{op(cb0, 0)}, bob, 10_000, 39_000)
	chained := spend([]types.OutPoint{op(tx, 0)}, alice, 9_000)
	b1 := block(b0.Hash(), cb1, tx, chained)
	require.NoError(t, s.ApplyBlock(b1))
	require.Equal(t, 3, s.Count())

	require.Equal(t, BlockNotConnected, kindOf(t, s.RevertBlock(b0)))
	require.NoError(t, s.RevertBlock(b1))
	require.Equal(t, b0.Hash(), s.LastHash())
	require.Equal(t, 1, s.Count())
	_, ok := s.Lookup(op(cb0, 0))
	require.True(t, ok)
}

func TestApplyBlockNotConnected(t *testing.T) {
	s := New(genesis)
	b := block(types.Hash256{1}, coinbase(0, 1, alice))
	require.Equal(t, BlockNotConnected, kindOf(t, s.ApplyBlock(b)))
	require.Equal(t, 0, s.Count())
}

func TestUnspentAndBalance(t *testing.T) {
	s := New(genesis)
	for i := byte(0); i < 5; i++ {
		to := alice
		if i%2 == 1 {
			to = bob
		}
		_, err := s.Apply(coinbase(i, int64(i+1)*1000, to))
		require.NoError(t, err)
	}
	_, err := s.Apply(&types.Tx{
		Version: 1,
		TxIn:    []*types.TxIn{{PreviousOutPoint: types.OutPoint{Index: 0xffffffff}, SignatureScript: []byte{99}}},
		TxOut:   []*types.TxOut{{Value: 777, PkScript: []byte{0x51}}},
	})
	require.NoError(t, err)

	all := s.Unspent(nil)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		require.True(t, all[i-1].OutPoint.Less(all[i].OutPoint))
	}

	big := s.Unspent(func(_ types.OutPoint, out types.TxOut) bool { return out.Value >= 3000 })
	require.Len(t, big, 3)

	require.Equal(t, int64(1000+3000+5000), s.BalanceFor([]address.Address{alice}, net))
	require.Equal(t, int64(2000+4000), s.BalanceFor([]address.Address{bob}, net))
	require.Equal(t, int64(15000), s.BalanceFor([]address.Address{alice, bob}, net))
	require.Zero(t, s.BalanceFor(nil, net))
}

func TestSnapshotSaveLoad(t *testing.T) {
	s := New(genesis)
	cb0 := coinbase(0, 50_000, alice)
	b0 := block(genesis, cb0)
	require.NoError(t, s.ApplyBlock(b0))
	tx := spend([]types.OutPoint{op(cb0, 0)}, bob, 10_000)
	b1 := block(b0.Hash(), coinbase(1, 50_000, bob), tx)
	require.NoError(t, s.ApplyBlock(b1))

	kv := store.NewMemStore()
	fresh, err := Load(kv, genesis)
	require.NoError(t, err)
	require.Equal(t, genesis, fresh.LastHash())
	require.Zero(t, fresh.Count())

	snap, err := s.EncodeSnapshot()
	require.NoError(t, err)
	require.NoError(t, kv.Put([]byte(SnapshotKey), snap))
	loaded, err := Load(kv, genesis)
	require.NoError(t, err)
	require.True(t, loaded.Equal(s))

	// The undo journal survives, so the loaded set can still revert.
	require.NoError(t, loaded.RevertBlock(b1))
	_, ok := loaded.Lookup(op(cb0, 0))
	require.True(t, ok)

	_, err = DecodeSnapshot([]byte{0x28, 0xb5, 0x2f, 0xfd, 0x00})
	require.Error(t, err)
}

// Applying any chain of valid spends and reverting it in reverse order
// returns to the starting set.
func TestApplyRevertInverseProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New(genesis)
		start := New(genesis)
		for i := byte(0); i < 3; i++ {
			cb := coinbase(i, 100_000, alice)
			if _, err := s.Apply(cb); err != nil {
				t.Fatal(err)
			}
			_, _ = start.Apply(cb)
		}

		var applied []*types.Tx
		steps := rapid.IntRange(1, 12).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			entries := s.Unspent(nil)
			if len(entries) == 0 {
				break
			}
			n := rapid.IntRange(1, min(3, len(entries))).Draw(t, "inputs")
			perm := rapid.Permutation(entries).Draw(t, "pick")
			var prev []types.OutPoint
			var total int64
			for _, e := range perm[:n] {
				prev = append(prev, e.OutPoint)
				total += e.Output.Value
			}
			outs := rapid.IntRange(1, 3).Draw(t, "outputs")
			values := make([]int64, outs)
			for j := range values {
				values[j] = total / int64(outs+1)
			}
			tx := spend(prev, bob, values...)
			tx.LockTime = uint32(i)
			if _, err := s.Apply(tx); err != nil {
				t.Fatalf("apply step %d: %v", i, err)
			}
			applied = append(applied, tx)
		}

		for j := len(applied) - 1; j >= 0; j-- {
			if err := s.Revert(applied[j]); err != nil {
				t.Fatalf("revert %d: %v", j, err)
			}
		}
		if !s.Equal(start) {
			t.Fatal("apply/revert did not restore the set")
		}
	})
}
