package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/meltingclock/safeguard_v1/internal/helpers"
)

// BridgeAdapter synthesizes a pairwise price from two USD-denominated feeds.
// For a pair (token0, token1) the base feed prices token0/USD and the quote
// feed token1/USD; the combined answer is token1 per token0 at a fixed
// 18-decimal scale. Each feed carries its own staleness bound.
type BridgeAdapter struct {
	base       *Feed
	quote      *Feed
	baseBound  time.Duration
	quoteBound time.Duration
	gate       *Gate

	now func() time.Time
}

func NewBridgeAdapter(base, quote *Feed, baseBound, quoteBound time.Duration, gate *Gate) *BridgeAdapter {
	return &BridgeAdapter{
		base:       base,
		quote:      quote,
		baseBound:  baseBound,
		quoteBound: quoteBound,
		gate:       gate,
		now:        time.Now,
	}
}

// Decimals is fixed by the 18-decimal combination convention.
func (a *BridgeAdapter) Decimals() uint8 { return 18 }

// LatestAnswer reads both feeds and combines them with full-precision
// multiply-before-divide:
//
//	basePrice * 10^(quoteDecimals+18) / (quotePrice * 10^baseDecimals)
func (a *BridgeAdapter) LatestAnswer(ctx context.Context) (*big.Int, error) {
	if err := a.gate.Check(ctx); err != nil {
		return nil, err
	}

	quotePrice, quoteDec, err := a.readFresh(ctx, a.quote, a.quoteBound, "quote")
	if err != nil {
		return nil, err
	}
	basePrice, baseDec, err := a.readFresh(ctx, a.base, a.baseBound, "base")
	if err != nil {
		return nil, err
	}

	num := new(big.Int).Mul(basePrice, helpers.Pow10(uint(quoteDec)+18))
	den := new(big.Int).Mul(quotePrice, helpers.Pow10(uint(baseDec)))
	return num.Div(num, den), nil
}

func (a *BridgeAdapter) readFresh(ctx context.Context, f *Feed, bound time.Duration, side string) (*big.Int, uint8, error) {
	round, err := f.LatestRoundData(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%s feed: %w", side, err)
	}
	if round.Answer.Sign() <= 0 {
		return nil, 0, fmt.Errorf("%s feed %s answer %s: %w", side, f.Address().Hex(), round.Answer, ErrPriceFeed)
	}
	updated := time.Unix(round.UpdatedAt.Int64(), 0)
	// updatedAt + bound <= now fails; the boundary instant is already stale.
	if !updated.Add(bound).After(a.now()) {
		return nil, 0, fmt.Errorf("%s feed %s updated %s ago, bound %s: %w",
			side, f.Address().Hex(), a.now().Sub(updated).Truncate(time.Second), bound, ErrPriceFeed)
	}
	dec, err := f.Decimals(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%s feed: %w", side, err)
	}
	return round.Answer, dec, nil
}
