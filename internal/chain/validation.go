package chain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/pkg/util"
)

// MaxTimeFuture is how far ahead of our clock a header's timestamp may be.
const MaxTimeFuture = 2 * time.Hour

var (
	ErrOrphanHeader    = errors.New("orphan header")
	ErrDuplicateHeader = errors.New("duplicate header")
	ErrInvalidAncestor = errors.New("header builds on an invalid block")
)

// ValidationError represents a header validation failure.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("header validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// checkHeader performs the context-free checks on a header.
func checkHeader(h *types.BlockHeader, powLimit *big.Int, now time.Time) error {
	// 1. Declared target must be positive and no easier than the network
	//    limit.
	target := util.CompactToTarget(h.Bits)
	if target.Sign() <= 0 {
		return &ValidationError{Reason: fmt.Sprintf("bits 0x%08x encode a non-positive target", h.Bits)}
	}
	if target.Cmp(powLimit) > 0 {
		return &ValidationError{Reason: fmt.Sprintf("bits 0x%08x are easier than the proof of work limit", h.Bits)}
	}

	// 2. Hash meets the declared target.
	if !util.HashMeetsTarget(h.Hash(), target) {
		return &ValidationError{Reason: "header hash does not meet its target"}
	}

	// 3. Not too far in the future.
	if h.Time().After(now.Add(MaxTimeFuture)) {
		return &ValidationError{Reason: fmt.Sprintf("header timestamp %v is too far in the future", h.Time())}
	}

	return nil
}
