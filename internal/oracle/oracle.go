// Package oracle resolves pairwise reference prices for the validators.
// Adapters are registered per ordered token pair; the bridge adapter
// synthesizes a pair price from two independent USD feeds with per-feed
// staleness bounds and an optional L2 sequencer liveness gate.
package oracle

import (
	"context"
	"errors"
	"math/big"
)

var (
	ErrPairOrder     = errors.New("oracle pair not in canonical order")
	ErrNoOracle      = errors.New("no oracle registered for pair")
	ErrPriceFeed     = errors.New("price feed invalid or stale")
	ErrSequencerDown = errors.New("sequencer down")
)

// Price is a pairwise quote: token1 per token0, scaled by 10^Decimals.
// Never persisted; computed fresh from live adapter reads.
type Price struct {
	Value    *big.Int
	Decimals uint8
}

// Adapter yields the latest price for the pair it was registered under.
type Adapter interface {
	LatestAnswer(ctx context.Context) (*big.Int, error)
	Decimals() uint8
}
