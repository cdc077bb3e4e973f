// Package batch decodes the packed multi-call envelope the executor module
// accepts. Each record is laid out as
//
//	[1B op][20B target][32B value][32B dataLen][dataLen B data]
//
// and records concatenate with no separator. An empty envelope is a valid
// batch of zero calls. Only op 0 (plain call) with zero value passes the
// decoder: delegatecall records and value-bearing records are rejected here,
// before any validator runs.
package batch

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/meltingclock/safeguard_v1/internal/cursor"
)

var (
	ErrTruncated      = fmt.Errorf("truncated batch record: %w", cursor.ErrInvalidLength)
	ErrDelegateCall   = errors.New("delegatecall records are forbidden")
	ErrValueForbidden = errors.New("value-bearing records are forbidden")
)

const headerLen = 1 + 20 + 32 + 32

// Call is one decoded sub-call. Data aliases the envelope buffer.
type Call struct {
	Op     byte
	Target common.Address
	Value  *uint256.Int
	Data   []byte
}

// Decode walks the envelope from offset zero and returns every record, or
// the first structural failure wrapped with its record index.
func Decode(buf []byte) ([]Call, error) {
	var calls []Call
	rest := buf
	for i := 0; len(rest) > 0; i++ {
		call, tail, err := decodeOne(rest)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		calls = append(calls, call)
		rest = tail
	}
	return calls, nil
}

func decodeOne(buf []byte) (Call, []byte, error) {
	head, rest, err := cursor.PopHead(buf, headerLen)
	if err != nil {
		return Call{}, nil, ErrTruncated
	}
	if head[0] != 0 {
		return Call{}, nil, ErrDelegateCall
	}
	value := new(uint256.Int).SetBytes(head[21:53])
	if !value.IsZero() {
		return Call{}, nil, ErrValueForbidden
	}
	dataLen := new(uint256.Int).SetBytes(head[53:85])
	if !dataLen.IsUint64() || dataLen.Uint64() > uint64(len(rest)) {
		return Call{}, nil, ErrTruncated
	}
	n := int(dataLen.Uint64())
	return Call{
		Op:     head[0],
		Target: common.BytesToAddress(head[1:21]),
		Value:  value,
		Data:   rest[:n],
	}, rest[n:], nil
}

// Append serializes one record onto buf.
func Append(buf []byte, c Call) []byte {
	buf = append(buf, c.Op)
	buf = append(buf, c.Target.Bytes()...)
	var value [32]byte
	if c.Value != nil {
		value = c.Value.Bytes32()
	}
	buf = append(buf, value[:]...)
	dataLen := uint256.NewInt(uint64(len(c.Data))).Bytes32()
	buf = append(buf, dataLen[:]...)
	return append(buf, c.Data...)
}

// Encode packs calls into a fresh envelope.
func Encode(calls []Call) []byte {
	var buf []byte
	for _, c := range calls {
		buf = Append(buf, c)
	}
	return buf
}
