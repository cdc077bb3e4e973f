package policy

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/safeguard_v1/internal/dex"
	"github.com/meltingclock/safeguard_v1/internal/helpers"
)

var bpsDenominator = big.NewInt(10000)

// SwapValidator builds the exactInputSingle guard for one protocol family.
// The swap must pay out to the calling account, and its declared minimum
// output must clear the oracle-implied floor for the configured slippage.
func SwapValidator(f dex.Family) Func {
	return func(ctx context.Context, env *Env, caller, target common.Address, params, config []byte) error {
		sw, err := f.DecodeSwap(params)
		if err != nil {
			return err
		}
		if sw.Recipient != caller {
			return fmt.Errorf("swap recipient %s: %w", sw.Recipient.Hex(), ErrInvalidRecipient)
		}
		bps, err := DecodeBpsConfig(config)
		if err != nil {
			return err
		}
		if bps.Cmp(bpsDenominator) >= 0 {
			return fmt.Errorf("%s bps: %w", bps, ErrSlippageTooHigh)
		}
		floor, err := minAcceptableOut(ctx, env, sw.TokenIn, sw.TokenOut, sw.AmountIn, bps)
		if err != nil {
			return err
		}
		if sw.AmountOutMinimum.Cmp(floor) < 0 {
			return fmt.Errorf("minimum out %s below floor %s: %w", sw.AmountOutMinimum, floor, ErrSlippageExceeded)
		}
		return nil
	}
}

// minAcceptableOut computes floor(expectedOut * (10000-bps) / 10000), where
// expectedOut converts amountIn through the oracle pair price. The oracle
// quotes token1 per token0 in canonical order, so the conversion direction
// depends on which side tokenIn sits.
func minAcceptableOut(ctx context.Context, env *Env, tokenIn, tokenOut common.Address, amountIn, bps *big.Int) (*big.Int, error) {
	token0, token1 := dex.SortTokens(tokenIn, tokenOut)
	ref, err := env.Oracles.Price(ctx, token0, token1)
	if err != nil {
		return nil, err
	}
	decIn, err := env.Tokens.Decimals(ctx, tokenIn)
	if err != nil {
		return nil, err
	}
	decOut, err := env.Tokens.Decimals(ctx, tokenOut)
	if err != nil {
		return nil, err
	}

	expected := new(big.Int)
	if tokenIn == token0 {
		expected.Mul(amountIn, ref.Value)
		expected.Mul(expected, helpers.Pow10(uint(decOut)))
		expected.Div(expected, new(big.Int).Mul(helpers.Pow10(uint(ref.Decimals)), helpers.Pow10(uint(decIn))))
	} else {
		expected.Mul(amountIn, helpers.Pow10(uint(ref.Decimals)))
		expected.Mul(expected, helpers.Pow10(uint(decOut)))
		expected.Div(expected, new(big.Int).Mul(ref.Value, helpers.Pow10(uint(decIn))))
	}

	floor := new(big.Int).Mul(expected, new(big.Int).Sub(bpsDenominator, bps))
	return floor.Div(floor, bpsDenominator), nil
}
