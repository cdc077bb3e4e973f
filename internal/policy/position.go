package policy

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/safeguard_v1/internal/dex"
	"github.com/meltingclock/safeguard_v1/internal/helpers"
)

// The four position validators share one deviation core and differ only in
// how they decode the call and recover the pool key. Their config is a
// single bps word; zero means recipient checks only, with the whole
// oracle-and-pool read path skipped.

// MintValidator guards mint: the position must be minted to the calling
// account, and the target pool's price must sit within the deviation bound.
func MintValidator(f dex.Family) Func {
	return func(ctx context.Context, env *Env, caller, target common.Address, params, config []byte) error {
		m, err := f.DecodeMint(params)
		if err != nil {
			return err
		}
		if m.Recipient != caller {
			return fmt.Errorf("mint recipient %s: %w", m.Recipient.Hex(), ErrInvalidRecipient)
		}
		bps, err := DecodeBpsConfig(config)
		if err != nil {
			return err
		}
		if bps.Sign() == 0 {
			return nil
		}
		return checkPoolDeviation(ctx, env, f, target, m.Pool, bps)
	}
}

// IncreaseValidator guards increaseLiquidity. No recipient to check: the
// call can only feed an existing position, so the pool key comes from the
// live position itself.
func IncreaseValidator(f dex.Family) Func {
	return tokenIDValidator(f, "increaseLiquidity", (dex.Family).DecodeIncrease)
}

// DecreaseValidator guards decreaseLiquidity the same way.
func DecreaseValidator(f dex.Family) Func {
	return tokenIDValidator(f, "decreaseLiquidity", (dex.Family).DecodeDecrease)
}

func tokenIDValidator(f dex.Family, name string, decode func(dex.Family, []byte) (dex.TokenIDParams, error)) Func {
	return func(ctx context.Context, env *Env, caller, target common.Address, params, config []byte) error {
		p, err := decode(f, params)
		if err != nil {
			return err
		}
		bps, err := DecodeBpsConfig(config)
		if err != nil {
			return err
		}
		if bps.Sign() == 0 {
			return nil
		}
		key, err := f.Position(ctx, env.Chain, target, p.TokenID)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return checkPoolDeviation(ctx, env, f, target, key, bps)
	}
}

// CollectValidator guards collect: fees must flow to the calling account,
// then the position's pool gets the same deviation check.
func CollectValidator(f dex.Family) Func {
	return func(ctx context.Context, env *Env, caller, target common.Address, params, config []byte) error {
		c, err := f.DecodeCollect(params)
		if err != nil {
			return err
		}
		if c.Recipient != caller {
			return fmt.Errorf("collect recipient %s: %w", c.Recipient.Hex(), ErrInvalidRecipient)
		}
		bps, err := DecodeBpsConfig(config)
		if err != nil {
			return err
		}
		if bps.Sign() == 0 {
			return nil
		}
		key, err := f.Position(ctx, env.Chain, target, c.TokenID)
		if err != nil {
			return fmt.Errorf("collect: %w", err)
		}
		return checkPoolDeviation(ctx, env, f, target, key, bps)
	}
}

// checkPoolDeviation derives the pool, reads its current sqrt price,
// normalizes it into the oracle's scale and enforces
// |pool - oracle| <= oracle * bps / 10000, boundary inclusive.
func checkPoolDeviation(ctx context.Context, env *Env, f dex.Family, manager common.Address, key dex.PoolKey, bps *big.Int) error {
	sorted := key.Sorted()
	ref, err := env.Oracles.Price(ctx, sorted.Token0, sorted.Token1)
	if err != nil {
		return err
	}
	pool, err := f.PoolAddress(ctx, env.Chain, manager, key)
	if err != nil {
		return err
	}
	sqrtPrice, err := f.SqrtPriceX96(ctx, env.Chain, pool)
	if err != nil {
		return err
	}
	dec0, err := env.Tokens.Decimals(ctx, sorted.Token0)
	if err != nil {
		return err
	}
	dec1, err := env.Tokens.Decimals(ctx, sorted.Token1)
	if err != nil {
		return err
	}

	poolPrice := normalizeSqrtPrice(sqrtPrice, ref.Decimals, dec0, dec1)
	diff := new(big.Int).Sub(poolPrice, ref.Value)
	diff.Abs(diff)
	allowed := new(big.Int).Mul(ref.Value, bps)
	allowed.Div(allowed, bpsDenominator)
	if diff.Cmp(allowed) > 0 {
		return fmt.Errorf("pool %s at %s vs oracle %s: %w", pool.Hex(), poolPrice, ref.Value, ErrPriceDeviation)
	}
	return nil
}

// normalizeSqrtPrice converts a Q64.96 sqrt price to the oracle's decimal
// scale: sqrtPrice^2 * 10^(oracleDec+dec0) / (2^192 * 10^dec1). Multiply
// fully before dividing; intermediate truncation here moves real money.
func normalizeSqrtPrice(sqrtPrice *big.Int, oracleDec, dec0, dec1 uint8) *big.Int {
	num := new(big.Int).Mul(sqrtPrice, sqrtPrice)
	num.Mul(num, helpers.Pow10(uint(oracleDec)+uint(dec0)))
	den := new(big.Int).Lsh(big.NewInt(1), 192)
	den.Mul(den, helpers.Pow10(uint(dec1)))
	return num.Div(num, den)
}
