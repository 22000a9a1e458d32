package wallet

import (
	"context"

	"github.com/djkazic/wizards-wallet/internal/feesource"
)

// FeeRate is satoshis per 1000 bytes.
type FeeRate = feesource.FeeRate

// DefaultDustThreshold is the smallest change output worth creating.
const DefaultDustThreshold = 546

// FeeRateSource supplies the rate used by Send.
type FeeRateSource interface {
	CurrentFeeRate(ctx context.Context) (FeeRate, error)
}

// EstimateSize is the serialized size of a P2PKH transaction with nIn
// inputs and nOut outputs, assuming 72-byte signatures and compressed keys.
func EstimateSize(nIn, nOut int) int {
	return 10 + 148*nIn + 34*nOut
}
