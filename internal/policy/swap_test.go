package policy

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltingclock/safeguard_v1/internal/dex/slipstream"
	"github.com/meltingclock/safeguard_v1/internal/oracle"
)

func swapParams(in, out common.Address, recipient common.Address, amountIn, minOut *big.Int) []byte {
	return concat(
		addrWord(in),
		addrWord(out),
		numWord(200),
		addrWord(recipient),
		numWord(1_700_000),
		bigWord(amountIn),
		bigWord(minOut),
		numWord(0),
	)
}

// Oracle 2.0 on an 8-decimal feed, 18-decimal input token, 6-decimal output
// token: swapping 1e18 should expect 2e6 out, and 100 bps of slippage puts
// the floor at 1.98e6.
func newSwapEnv(t *testing.T) *Env {
	t.Helper()
	fc := newFakeChain()
	installDecimals(fc, tokenA, 18)
	installDecimals(fc, tokenB, 6)
	env := newEnv(fc)
	env.Oracles.Register(tokenA, tokenB, &fakeAdapter{value: big.NewInt(200_000_000), dec: 8})
	return env
}

func TestSwap_FloorBoundary(t *testing.T) {
	validate := SwapValidator(slipstream.New(common.Hash{}))
	env := newSwapEnv(t)
	cfg := EncodeBpsConfig(100)
	ctx := context.Background()
	amountIn := e18(1)

	err := validate(ctx, env, wallet, manager, swapParams(tokenA, tokenB, wallet, amountIn, big.NewInt(1_980_000)), cfg)
	assert.NoError(t, err, "minimum exactly at the floor passes")

	err = validate(ctx, env, wallet, manager, swapParams(tokenA, tokenB, wallet, amountIn, big.NewInt(1_980_001)), cfg)
	assert.NoError(t, err)

	err = validate(ctx, env, wallet, manager, swapParams(tokenA, tokenB, wallet, amountIn, big.NewInt(1_979_999)), cfg)
	assert.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestSwap_ReverseDirectionDividesByPrice(t *testing.T) {
	validate := SwapValidator(slipstream.New(common.Hash{}))
	env := newSwapEnv(t)
	cfg := EncodeBpsConfig(100)
	ctx := context.Background()

	// 2e6 of the 6-decimal token should buy 1e18 of the 18-decimal one;
	// the floor is 0.99e18.
	amountIn := big.NewInt(2_000_000)
	floor := new(big.Int).Div(new(big.Int).Mul(e18(1), big.NewInt(9900)), big.NewInt(10000))

	err := validate(ctx, env, wallet, manager, swapParams(tokenB, tokenA, wallet, amountIn, floor), cfg)
	assert.NoError(t, err)

	below := new(big.Int).Sub(floor, big.NewInt(1))
	err = validate(ctx, env, wallet, manager, swapParams(tokenB, tokenA, wallet, amountIn, below), cfg)
	assert.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestSwap_ZeroBpsDemandsFullOracleOutput(t *testing.T) {
	validate := SwapValidator(slipstream.New(common.Hash{}))
	env := newSwapEnv(t)
	cfg := EncodeBpsConfig(0)
	ctx := context.Background()

	err := validate(ctx, env, wallet, manager, swapParams(tokenA, tokenB, wallet, e18(1), big.NewInt(2_000_000)), cfg)
	assert.NoError(t, err)

	err = validate(ctx, env, wallet, manager, swapParams(tokenA, tokenB, wallet, e18(1), big.NewInt(1_999_999)), cfg)
	assert.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestSwap_ThresholdAtOrAbove10000Rejected(t *testing.T) {
	validate := SwapValidator(slipstream.New(common.Hash{}))
	env := newEnv(newFakeChain()) // deliberately no oracle: the bps gate comes first
	ctx := context.Background()

	err := validate(ctx, env, wallet, manager, swapParams(tokenA, tokenB, wallet, e18(1), big.NewInt(1)), EncodeBpsConfig(10000))
	assert.ErrorIs(t, err, ErrSlippageTooHigh)

	err = validate(ctx, env, wallet, manager, swapParams(tokenA, tokenB, wallet, e18(1), big.NewInt(1)), EncodeBpsConfig(10001))
	assert.ErrorIs(t, err, ErrSlippageTooHigh)
}

func TestSwap_RecipientMustBeCaller(t *testing.T) {
	validate := SwapValidator(slipstream.New(common.Hash{}))
	env := newEnv(newFakeChain())
	ctx := context.Background()

	for _, evil := range []common.Address{crook, {}, manager} {
		err := validate(ctx, env, wallet, manager, swapParams(tokenA, tokenB, evil, e18(1), big.NewInt(1)), nil)
		assert.ErrorIs(t, err, ErrInvalidRecipient, "recipient %s", evil.Hex())
	}
}

func TestSwap_MissingOracleSurfaces(t *testing.T) {
	validate := SwapValidator(slipstream.New(common.Hash{}))
	fc := newFakeChain()
	installDecimals(fc, tokenA, 18)
	installDecimals(fc, tokenB, 6)
	env := newEnv(fc)

	err := validate(context.Background(), env, wallet, manager, swapParams(tokenA, tokenB, wallet, e18(1), big.NewInt(1)), EncodeBpsConfig(100))
	assert.ErrorIs(t, err, oracle.ErrNoOracle)
}

func TestSwap_PairOrderHandledBySort(t *testing.T) {
	// Whichever direction the swap goes, the oracle is consulted in
	// canonical order; no ErrPairOrder can escape this path.
	validate := SwapValidator(slipstream.New(common.Hash{}))
	env := newSwapEnv(t)
	ctx := context.Background()

	err := validate(ctx, env, wallet, manager, swapParams(tokenB, tokenA, wallet, big.NewInt(2_000_000), e18(1)), EncodeBpsConfig(100))
	assert.NoError(t, err)
	assert.NotErrorIs(t, err, oracle.ErrPairOrder)
}
