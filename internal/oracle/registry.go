package oracle

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

// Registry maps ordered token pairs to price adapters.
type Registry struct {
	mu     sync.RWMutex
	byPair map[pairKey]Adapter
}

type pairKey struct {
	token0, token1 common.Address
}

func NewRegistry() *Registry {
	return &Registry{byPair: make(map[pairKey]Adapter)}
}

// Register stores the adapter under exactly the pair given. No ordering
// validation happens at write time; the loader owns that.
func (r *Registry) Register(token0, token1 common.Address, ad Adapter) {
	r.mu.Lock()
	r.byPair[pairKey{token0, token1}] = ad
	r.mu.Unlock()
	telemetry.Debugf("[oracle] registered adapter for %s/%s", token0.Hex(), token1.Hex())
}

// Get returns the stored adapter for exactly the pair given.
func (r *Registry) Get(token0, token1 common.Address) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ad, ok := r.byPair[pairKey{token0, token1}]
	return ad, ok
}

// Size reports registered pair count, for status pages.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPair)
}

// Price reads the live pair price. The pair must be passed in canonical
// order: token0 < token1. Passing the reverse order is a caller bug and
// fails ErrPairOrder regardless of what is registered.
func (r *Registry) Price(ctx context.Context, token0, token1 common.Address) (Price, error) {
	if bytes.Compare(token0.Bytes(), token1.Bytes()) >= 0 {
		return Price{}, fmt.Errorf("%s/%s: %w", token0.Hex(), token1.Hex(), ErrPairOrder)
	}
	ad, ok := r.Get(token0, token1)
	if !ok {
		return Price{}, fmt.Errorf("%s/%s: %w", token0.Hex(), token1.Hex(), ErrNoOracle)
	}
	telemetry.CountOracleRead()
	value, err := ad.LatestAnswer(ctx)
	if err != nil {
		return Price{}, err
	}
	if value == nil || value.Sign() <= 0 {
		return Price{}, fmt.Errorf("%s/%s: non-positive answer: %w", token0.Hex(), token1.Hex(), ErrPriceFeed)
	}
	return Price{Value: value, Decimals: ad.Decimals()}, nil
}
