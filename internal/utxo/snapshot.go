package utxo

import (
	"errors"
	"fmt"

	"github.com/djkazic/wizards-wallet/internal/store"
	"github.com/djkazic/wizards-wallet/internal/types"
)

// SnapshotKey is where the EncodeSnapshot record is stored.
const SnapshotKey = "utxo/snapshot"

type snapshotEntry struct {
	Hash     types.Hash256 `cbor:"1,keyasint"`
	Index    uint32        `cbor:"2,keyasint"`
	Value    int64         `cbor:"3,keyasint"`
	PkScript []byte        `cbor:"4,keyasint"`
}

type snapshotUndo struct {
	TxID  types.Hash256   `cbor:"1,keyasint"`
	Spent []snapshotEntry `cbor:"2,keyasint"`
}

type snapshot struct {
	LastHash types.Hash256     `cbor:"1,keyasint"`
	Entries  []snapshotEntry   `cbor:"2,keyasint"`
	Blocks   [][]types.Hash256 `cbor:"3,keyasint"`
	Undo     []snapshotUndo    `cbor:"4,keyasint"`
}

func toSnapshotEntry(e Entry) snapshotEntry {
	return snapshotEntry{Hash: e.OutPoint.Hash, Index: e.OutPoint.Index, Value: e.Output.Value, PkScript: e.Output.PkScript}
}

func (se snapshotEntry) entry() Entry {
	return Entry{
		OutPoint: types.NewOutPoint(se.Hash, se.Index),
		Output:   types.TxOut{Value: se.Value, PkScript: se.PkScript},
	}
}

// EncodeSnapshot serializes the set, tip and block undo journal as
// zstd-compressed CBOR. Entries are written in outpoint order so equal sets
// encode identically.
func (s *Set) EncodeSnapshot() ([]byte, error) {
	entries := s.Unspent(nil)

	s.mu.RLock()
	snap := snapshot{
		LastHash: s.lastHash,
		Entries:  make([]snapshotEntry, len(entries)),
		Blocks:   make([][]types.Hash256, len(s.blocks)),
	}
	copy(snap.Blocks, s.blocks)
	for _, txids := range s.blocks {
		for _, txid := range txids {
			spent, ok := s.undo[txid]
			if !ok {
				continue
			}
			u := snapshotUndo{TxID: txid, Spent: make([]snapshotEntry, len(spent))}
			for i, e := range spent {
				u.Spent[i] = toSnapshotEntry(e)
			}
			snap.Undo = append(snap.Undo, u)
		}
	}
	s.mu.RUnlock()

	for i, e := range entries {
		snap.Entries[i] = toSnapshotEntry(e)
	}

	data, err := store.Encode(snap)
	if err != nil {
		return nil, fmt.Errorf("encode utxo snapshot: %w", err)
	}
	return store.Compress(data), nil
}

// DecodeSnapshot rebuilds a set from EncodeSnapshot output.
func DecodeSnapshot(data []byte) (*Set, error) {
	raw, err := store.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompress utxo snapshot: %w", err)
	}
	var snap snapshot
	if err := store.Decode(raw, &snap); err != nil {
		return nil, err
	}

	s := New(snap.LastHash)
	for _, se := range snap.Entries {
		e := se.entry()
		if _, dup := s.utxos[e.OutPoint]; dup {
			return nil, &StateConsistencyError{Kind: OutputAlreadyExists, OutPoint: e.OutPoint}
		}
		s.utxos[e.OutPoint] = e.Output
	}
	for _, u := range snap.Undo {
		spent := make(SpentOutputs, len(u.Spent))
		for i, se := range u.Spent {
			spent[i] = se.entry()
		}
		s.undo[u.TxID] = spent
	}
	s.blocks = snap.Blocks
	return s, nil
}

// Load reads a saved set, or returns a fresh one rooted at genesis if none
// was saved.
func Load(kv store.KV, genesis types.Hash256) (*Set, error) {
	data, err := kv.Get([]byte(SnapshotKey))
	if errors.Is(err, store.ErrNotFound) {
		return New(genesis), nil
	}
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}
