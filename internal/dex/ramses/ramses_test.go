package ramses

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltingclock/safeguard_v1/internal/cursor"
	"github.com/meltingclock/safeguard_v1/internal/dex"
	"github.com/meltingclock/safeguard_v1/internal/dex/slipstream"
)

var (
	token0    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	token1    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	recipient = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
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

func TestDecodeMint_ElevenWords(t *testing.T) {
	f := New(common.Hash{})
	params := concat(
		addrWord(token0),    // token0
		addrWord(token1),    // token1
		numWord(100),        // tickSpacing
		numWord(-60),        // tickLower (negatives pad high, still one word)
		numWord(60),         // tickUpper
		numWord(1_000_000),  // amount0Desired
		numWord(2_000_000),  // amount1Desired
		numWord(0),          // amount0Min
		numWord(0),          // amount1Min
		addrWord(recipient), // recipient
		numWord(1_700_000),  // deadline
	)
	// Negative ticks are sign-extended words on the wire; the builder above
	// only pads magnitudes, so patch the lower-tick word by hand.
	copy(params[3*32:4*32], common.LeftPadBytes(new(big.Int).Add(
		new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(-60)).Bytes(), 32))

	got, err := f.DecodeMint(params)
	require.NoError(t, err)
	assert.Equal(t, token0, got.Pool.Token0)
	assert.Equal(t, token1, got.Pool.Token1)
	assert.Equal(t, int64(100), got.Pool.TickSpacing.Int64())
	assert.Equal(t, recipient, got.Recipient)

	_, err = f.DecodeMint(params[:10*32])
	assert.ErrorIs(t, err, cursor.ErrInvalidLength)
}

func TestDecodeSwap_SharesSlipstreamSelector(t *testing.T) {
	assert.Equal(t, dex.Keccak4(slipstream.SigSwap), dex.Keccak4(SigSwap),
		"the two tick-spacing families advertise the same swap entrypoint")

	f := New(common.Hash{})
	params := concat(
		addrWord(token1),    // tokenIn
		addrWord(token0),    // tokenOut
		numWord(100),        // tickSpacing
		addrWord(recipient), // recipient
		numWord(1_700_000),  // deadline
		numWord(3_000_000),  // amountIn
		numWord(2_970_000),  // amountOutMinimum
		numWord(0),          // sqrtPriceLimitX96
	)

	got, err := f.DecodeSwap(params)
	require.NoError(t, err)
	assert.Equal(t, token1, got.TokenIn)
	assert.Equal(t, token0, got.TokenOut)
	assert.Equal(t, recipient, got.Recipient)
	assert.Equal(t, int64(3_000_000), got.AmountIn.Int64())
	assert.Equal(t, int64(2_970_000), got.AmountOutMinimum.Int64())
}

func TestDecodeCollect_RecipientAndTokenID(t *testing.T) {
	f := New(common.Hash{})

	got, err := f.DecodeCollect(concat(numWord(7), addrWord(recipient), numWord(1), numWord(1)))
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.TokenID.Int64())
	assert.Equal(t, recipient, got.Recipient)
}

func TestMintWidth_DiffersFromSlipstream(t *testing.T) {
	calldata := make([]byte, 11*32)

	_, err := New(common.Hash{}).DecodeMint(calldata)
	require.NoError(t, err)

	_, err = slipstream.New(common.Hash{}).DecodeMint(calldata)
	assert.ErrorIs(t, err, cursor.ErrInvalidLength,
		"slipstream expects the extra bootstrap word")
}
