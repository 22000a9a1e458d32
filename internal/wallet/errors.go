package wallet

import (
	"errors"
	"fmt"

	"github.com/djkazic/wizards-wallet/internal/address"
)

var (
	// ErrInsufficientFunds matches any *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnknownOutPoint is returned when a selected or spent outpoint is
	// not in the UTXO set.
	ErrUnknownOutPoint = errors.New("unknown outpoint")
	// ErrNoOutputs is returned by BuildTransaction and Send without outputs.
	ErrNoOutputs = errors.New("transaction has no outputs")
)

// InsufficientFundsError reports how much was needed against how much the
// wallet could gather.
type InsufficientFundsError struct {
	Need int64
	Have int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %d sat, have %d sat", e.Need, e.Have)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// MissingKeyError is returned by Sign when an input pays to an address the
// wallet holds no key for.
type MissingKeyError struct {
	InputIndex int
	Address    string
}

func (e *MissingKeyError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("input %d: output script is not pay-to-pubkey-hash", e.InputIndex)
	}
	return fmt.Sprintf("input %d: no key for address %s", e.InputIndex, e.Address)
}

func missingKey(idx int, a *address.Address) *MissingKeyError {
	if a == nil {
		return &MissingKeyError{InputIndex: idx}
	}
	return &MissingKeyError{InputIndex: idx, Address: a.String()}
}
