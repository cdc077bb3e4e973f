package batch

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltingclock/safeguard_v1/internal/cursor"
)

var (
	targetA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	targetB = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// record builds one raw wire record by hand, independent of Append.
func record(op byte, target common.Address, value int64, data []byte) []byte {
	var buf []byte
	buf = append(buf, op)
	buf = append(buf, target.Bytes()...)
	buf = append(buf, common.LeftPadBytes(uint256.NewInt(uint64(value)).Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(uint256.NewInt(uint64(len(data))).Bytes(), 32)...)
	return append(buf, data...)
}

func TestDecode_EmptyEnvelope(t *testing.T) {
	calls, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestDecode_SingleCall(t *testing.T) {
	data := []byte{0xa9, 0x05, 0x9c, 0xbb, 0x01, 0x02}
	calls, err := Decode(record(0, targetA, 0, data))
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, byte(0), calls[0].Op)
	assert.Equal(t, targetA, calls[0].Target)
	assert.True(t, calls[0].Value.IsZero())
	assert.Equal(t, data, calls[0].Data)
}

func TestDecode_TrailingEmptyData(t *testing.T) {
	buf := append(record(0, targetA, 0, []byte{0x01}), record(0, targetB, 0, nil)...)
	calls, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, targetB, calls[1].Target)
	assert.Empty(t, calls[1].Data)
}

func TestDecode_RejectsDelegateCall(t *testing.T) {
	_, err := Decode(record(1, targetA, 0, nil))
	assert.ErrorIs(t, err, ErrDelegateCall)
	assert.NotErrorIs(t, err, cursor.ErrInvalidLength)
}

func TestDecode_RejectsValue(t *testing.T) {
	_, err := Decode(record(0, targetA, 1, nil))
	assert.ErrorIs(t, err, ErrValueForbidden)
}

func TestDecode_TruncatedHeader(t *testing.T) {
	_, err := Decode(record(0, targetA, 0, nil)[:84])
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorIs(t, err, cursor.ErrInvalidLength)
}

func TestDecode_DataLengthPastEnd(t *testing.T) {
	buf := record(0, targetA, 0, []byte{0x01, 0x02})
	_, err := Decode(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecode_AbsurdDataLength(t *testing.T) {
	buf := record(0, targetA, 0, nil)
	buf[53] = 0xff // most significant length byte: far beyond uint64
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecode_ErrorNamesFailingIndex(t *testing.T) {
	buf := append(record(0, targetA, 0, nil), record(0, targetB, 7, nil)...)
	_, err := Decode(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call 1:")
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	in := []Call{
		{Target: targetA, Data: []byte{0xde, 0xad}},
		{Target: targetB},
		{Target: targetA, Value: uint256.NewInt(0), Data: make([]byte, 100)},
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := range in {
		assert.Equal(t, in[i].Target, out[i].Target)
		assert.Equal(t, len(in[i].Data), len(out[i].Data))
	}
}
