// Package feesource provides fee rates for transaction building.
package feesource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/djkazic/wizards-wallet/internal/jsonrpc"
)

// FeeRate is a fee in satoshis per 1000 bytes.
type FeeRate int64

// FeeForSize returns the fee for a transaction of size bytes, rounded up.
func (r FeeRate) FeeForSize(size int) int64 {
	if r <= 0 || size <= 0 {
		return 0
	}
	return (int64(size)*int64(r) + 999) / 1000
}

func (r FeeRate) String() string {
	return fmt.Sprintf("%d sat/kB", int64(r))
}

// ErrNoEstimate is returned when the backend has no fee estimate yet.
var ErrNoEstimate = errors.New("no fee estimate available")

// Static always returns the same rate.
type Static FeeRate

func (s Static) CurrentFeeRate(context.Context) (FeeRate, error) {
	return FeeRate(s), nil
}

// BitcoindSource asks a bitcoind node through estimatesmartfee.
type BitcoindSource struct {
	client     *jsonrpc.Client
	confTarget int
	floor      FeeRate
}

// NewBitcoindSource creates a source targeting confirmation within
// confTarget blocks. Estimates below floor are raised to it.
func NewBitcoindSource(client *jsonrpc.Client, confTarget int, floor FeeRate) *BitcoindSource {
	return &BitcoindSource{client: client, confTarget: confTarget, floor: floor}
}

type smartFeeResult struct {
	FeeRate *float64 `json:"feerate"`
	Errors  []string `json:"errors"`
	Blocks  int      `json:"blocks"`
}

func (s *BitcoindSource) CurrentFeeRate(ctx context.Context) (FeeRate, error) {
	var res smartFeeResult
	if err := s.client.Call(ctx, "estimatesmartfee", &res, s.confTarget); err != nil {
		return 0, fmt.Errorf("estimatesmartfee: %w", err)
	}
	if res.FeeRate == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoEstimate, strings.Join(res.Errors, "; "))
	}

	// bitcoind reports BTC per kilobyte.
	amt, err := btcutil.NewAmount(*res.FeeRate)
	if err != nil {
		return 0, fmt.Errorf("parse fee rate %v: %w", *res.FeeRate, err)
	}
	rate := FeeRate(amt)
	if rate < s.floor {
		rate = s.floor
	}
	return rate, nil
}

// Mock is a settable source for tests.
type Mock struct {
	mu    sync.Mutex
	Rate  FeeRate
	Err   error
	Calls int
}

func NewMock(rate FeeRate) *Mock {
	return &Mock{Rate: rate}
}

func (m *Mock) CurrentFeeRate(context.Context) (FeeRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Rate, nil
}
