package utxo

import (
	"fmt"

	"github.com/djkazic/wizards-wallet/internal/types"
)

// Kind classifies a state consistency failure.
type Kind int

const (
	SpentOutputNotFound Kind = iota + 1
	OutputAlreadyExists
	OutputSpentDownstream
	MissingUndoData
	BlockNotConnected
)

func (k Kind) String() string {
	switch k {
	case SpentOutputNotFound:
		return "spent output not found"
	case OutputAlreadyExists:
		return "output already exists"
	case OutputSpentDownstream:
		return "output spent downstream"
	case MissingUndoData:
		return "missing undo data"
	case BlockNotConnected:
		return "block does not connect"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// StateConsistencyError reports an operation that does not fit the current
// set. The set is left unchanged whenever one is returned.
type StateConsistencyError struct {
	Kind     Kind
	OutPoint types.OutPoint
	TxID     types.Hash256
}

func (e *StateConsistencyError) Error() string {
	switch e.Kind {
	case MissingUndoData:
		return fmt.Sprintf("utxo: %s for tx %s", e.Kind, e.TxID)
	case BlockNotConnected:
		return fmt.Sprintf("utxo: %s to tip (prev %s)", e.Kind, e.TxID)
	}
	return fmt.Sprintf("utxo: %s: %s", e.Kind, e.OutPoint)
}

// Is matches another *StateConsistencyError of the same kind.
func (e *StateConsistencyError) Is(target error) bool {
	t, ok := target.(*StateConsistencyError)
	return ok && t.Kind == e.Kind
}

// BlockError wraps the failure of one transaction inside ApplyBlock.
type BlockError struct {
	Block   types.Hash256
	TxIndex int
	Err     error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("apply block %s: tx %d: %v", e.Block, e.TxIndex, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }
