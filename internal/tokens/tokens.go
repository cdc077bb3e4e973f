// Package tokens caches immutable ERC-20 metadata used for price scaling.
package tokens

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

// Cache reads decimals() once per token and keeps the answer for the process
// lifetime. Decimals are immutable for any sanely deployed ERC-20.
type Cache struct {
	ec ethereum.ContractCaller

	mu  sync.RWMutex
	dec map[common.Address]uint8
}

func NewCache(ec ethereum.ContractCaller) *Cache {
	return &Cache{ec: ec, dec: make(map[common.Address]uint8)}
}

// Decimals returns the token's decimal scale, reading through the cache.
func (c *Cache) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	c.mu.RLock()
	dec, ok := c.dec[token]
	c.mu.RUnlock()
	if ok {
		return dec, nil
	}

	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: common.FromHex("0x313ce567"), // decimals()
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals %s: %w", token.Hex(), err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("decimals %s: short return (%d bytes)", token.Hex(), len(out))
	}
	v := new(big.Int).SetBytes(out[:32])
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, fmt.Errorf("decimals %s: out of range %s", token.Hex(), v)
	}
	dec = uint8(v.Uint64())

	c.mu.Lock()
	c.dec[token] = dec
	c.mu.Unlock()
	telemetry.Tracef("[tokens] cached decimals %d for %s", dec, token.Hex())
	return dec, nil
}

// Size reports cached token count, for status pages.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dec)
}
