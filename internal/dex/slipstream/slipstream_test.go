package slipstream

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltingclock/safeguard_v1/internal/cursor"
	"github.com/meltingclock/safeguard_v1/internal/dex"
)

var (
	token0    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	token1    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	recipient = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	manager   = common.HexToAddress("0x9000000000000000000000000000000000000009")
	factory   = common.HexToAddress("0x8000000000000000000000000000000000000008")
)

func addrWord(a common.Address) []byte { return common.LeftPadBytes(a.Bytes(), 32) }

func numWord(v int64) []byte { return common.LeftPadBytes(big.NewInt(v).Bytes(), 32) }

func concat(words ...[]byte) []byte {
	var out []byte
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

func mintCalldata() []byte {
	return concat(
		addrWord(token0),    // token0
		addrWord(token1),    // token1
		numWord(200),        // tickSpacing
		numWord(100),        // tickLower
		numWord(300),        // tickUpper
		numWord(1_000_000),  // amount0Desired
		numWord(2_000_000),  // amount1Desired
		numWord(990_000),    // amount0Min
		numWord(1_980_000),  // amount1Min
		addrWord(recipient), // recipient
		numWord(1_700_000),  // deadline
		numWord(0),          // sqrtPriceX96 bootstrap
	)
}

func TestDecodeMint_TwelveWords(t *testing.T) {
	f := New(common.Hash{})

	got, err := f.DecodeMint(mintCalldata())
	require.NoError(t, err)
	assert.Equal(t, token0, got.Pool.Token0)
	assert.Equal(t, token1, got.Pool.Token1)
	assert.Equal(t, int64(200), got.Pool.TickSpacing.Int64())
	assert.Equal(t, recipient, got.Recipient)
}

func TestDecodeMint_RejectsTruncated(t *testing.T) {
	f := New(common.Hash{})

	_, err := f.DecodeMint(mintCalldata()[:11*32])
	assert.ErrorIs(t, err, cursor.ErrInvalidLength)

	_, err = f.DecodeMint(append(mintCalldata(), 0x00))
	assert.ErrorIs(t, err, cursor.ErrInvalidLength)
}

func TestDecodeSwap_EightWords(t *testing.T) {
	f := New(common.Hash{})
	params := concat(
		addrWord(token0),    // tokenIn
		addrWord(token1),    // tokenOut
		numWord(200),        // tickSpacing
		addrWord(recipient), // recipient
		numWord(1_700_000),  // deadline
		numWord(5_000_000),  // amountIn
		numWord(4_900_000),  // amountOutMinimum
		numWord(0),          // sqrtPriceLimitX96
	)

	got, err := f.DecodeSwap(params)
	require.NoError(t, err)
	assert.Equal(t, token0, got.TokenIn)
	assert.Equal(t, token1, got.TokenOut)
	assert.Equal(t, recipient, got.Recipient)
	assert.Equal(t, int64(5_000_000), got.AmountIn.Int64())
	assert.Equal(t, int64(4_900_000), got.AmountOutMinimum.Int64())
}

func TestDecodeCollect_RecipientAndTokenID(t *testing.T) {
	f := New(common.Hash{})
	params := concat(
		numWord(42),         // tokenId
		addrWord(recipient), // recipient
		numWord(0),          // amount0Max
		numWord(0),          // amount1Max
	)

	got, err := f.DecodeCollect(params)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.TokenID.Int64())
	assert.Equal(t, recipient, got.Recipient)
}

func TestDecodeIncreaseDecrease_TokenID(t *testing.T) {
	f := New(common.Hash{})

	inc, err := f.DecodeIncrease(concat(numWord(7), numWord(0), numWord(0), numWord(0), numWord(0), numWord(1)))
	require.NoError(t, err)
	assert.Equal(t, int64(7), inc.TokenID.Int64())

	dec, err := f.DecodeDecrease(concat(numWord(9), numWord(0), numWord(0), numWord(0), numWord(1)))
	require.NoError(t, err)
	assert.Equal(t, int64(9), dec.TokenID.Int64())

	_, err = f.DecodeIncrease(concat(numWord(7)))
	assert.ErrorIs(t, err, cursor.ErrInvalidLength)
}

type fakeCaller struct {
	out map[string][]byte // selector hex -> return data
}

func (fc *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	out, ok := fc.out[common.Bytes2Hex(msg.Data[:4])]
	if !ok {
		return nil, fmt.Errorf("unexpected call %x to %s", msg.Data[:4], msg.To.Hex())
	}
	return out, nil
}

func TestPosition_RecoversPoolKey(t *testing.T) {
	f := New(common.Hash{})

	positionsOut, err := f.positions.Methods["positions"].Outputs.Pack(
		big.NewInt(1), common.Address{}, token0, token1, big.NewInt(200),
		big.NewInt(100), big.NewInt(300), big.NewInt(5),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
	)
	require.NoError(t, err)

	sel := dex.Keccak4("positions(uint256)")
	ec := &fakeCaller{out: map[string][]byte{common.Bytes2Hex(sel[:]): positionsOut}}

	key, err := f.Position(context.Background(), ec, manager, big.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, token0, key.Token0)
	assert.Equal(t, token1, key.Token1)
	assert.Equal(t, int64(200), key.TickSpacing.Int64())
}

func TestPoolAddress_SortsPairAndUsesSpacing(t *testing.T) {
	f := New(common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"))

	facSel := dex.Keccak4("factory()")
	ec := &fakeCaller{out: map[string][]byte{
		common.Bytes2Hex(facSel[:]): common.LeftPadBytes(factory.Bytes(), 32),
	}}

	sorted, err := f.PoolAddress(context.Background(), ec, manager,
		dex.PoolKey{Token0: token0, Token1: token1, TickSpacing: big.NewInt(200)})
	require.NoError(t, err)

	reversed, err := f.PoolAddress(context.Background(), ec, manager,
		dex.PoolKey{Token0: token1, Token1: token0, TickSpacing: big.NewInt(200)})
	require.NoError(t, err)
	assert.Equal(t, sorted, reversed, "pair order must not change the derived pool")

	other, err := f.PoolAddress(context.Background(), ec, manager,
		dex.PoolKey{Token0: token0, Token1: token1, TickSpacing: big.NewInt(10)})
	require.NoError(t, err)
	assert.NotEqual(t, sorted, other, "spacing is part of the pool identity")
}

func TestSignatures_CoverEveryOp(t *testing.T) {
	f := New(common.Hash{})
	sigs := f.Signatures()
	for _, op := range []dex.Op{dex.OpMint, dex.OpIncrease, dex.OpDecrease, dex.OpCollect, dex.OpSwap} {
		assert.NotEmpty(t, sigs[op], "missing signature for %s", op)
	}
}
