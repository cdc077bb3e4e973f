// Package cursor provides bounds-checked, fixed-width field extraction from
// packed call buffers. Every function is pure: no panics, no allocation beyond
// the returned value, and any width mismatch surfaces as ErrInvalidLength.
package cursor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInvalidLength reports a byte-slice width mismatch or buffer overrun.
var ErrInvalidLength = errors.New("invalid byte length")

// Selector is a 4-byte function identifier, the first four bytes of the
// keccak256 hash of the canonical signature.
type Selector [4]byte

// SelectorFromBytes copies exactly 4 bytes into a Selector.
func SelectorFromBytes(b []byte) (Selector, error) {
	if len(b) != 4 {
		return Selector{}, fmt.Errorf("selector needs 4 bytes, got %d: %w", len(b), ErrInvalidLength)
	}
	var s Selector
	copy(s[:], b)
	return s, nil
}

// String renders the selector as 0x-prefixed hex.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// SliceFixed returns the n bytes of buf starting at offset. It fails if the
// requested window extends past the end of buf.
func SliceFixed(buf []byte, offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(buf) {
		return nil, fmt.Errorf("slice [%d:%d] of %d-byte buffer: %w", offset, offset+n, len(buf), ErrInvalidLength)
	}
	return buf[offset : offset+n], nil
}

// ToAddress converts exactly 20 bytes into an address.
func ToAddress(b []byte) (common.Address, error) {
	if len(b) != common.AddressLength {
		return common.Address{}, fmt.Errorf("address needs %d bytes, got %d: %w", common.AddressLength, len(b), ErrInvalidLength)
	}
	return common.BytesToAddress(b), nil
}

// ToUint256 converts exactly 32 big-endian bytes into a 256-bit word.
func ToUint256(b []byte) (*uint256.Int, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("uint256 needs 32 bytes, got %d: %w", len(b), ErrInvalidLength)
	}
	return new(uint256.Int).SetBytes(b), nil
}

// ToSelector converts exactly 4 bytes into a function selector.
func ToSelector(b []byte) (Selector, error) {
	return SelectorFromBytes(b)
}

// PopHead splits buf into its first n bytes and the remainder. n may be zero,
// in which case head is empty and rest is buf unchanged.
func PopHead(buf []byte, n int) (head, rest []byte, err error) {
	if n < 0 || n > len(buf) {
		return nil, nil, fmt.Errorf("pop %d of %d bytes: %w", n, len(buf), ErrInvalidLength)
	}
	return buf[:n], buf[n:], nil
}

// Static-tuple word readers. Validator code receives calldata with the 4-byte
// selector already stripped, so parameter i lives at byte offset 32*i.

// Word returns the 32-byte word for parameter i.
func Word(params []byte, i int) ([]byte, bool) {
	offset := 32 * i
	if i < 0 || offset+32 > len(params) {
		return nil, false
	}
	return params[offset : offset+32], true
}

// AddressWord reads parameter i as an address (right-aligned in its word).
func AddressWord(params []byte, i int) (common.Address, bool) {
	word, ok := Word(params, i)
	if !ok {
		return common.Address{}, false
	}
	return common.BytesToAddress(word[12:32]), true
}

// Uint256Word reads parameter i as a 256-bit word.
func Uint256Word(params []byte, i int) (*uint256.Int, bool) {
	word, ok := Word(params, i)
	if !ok {
		return nil, false
	}
	return new(uint256.Int).SetBytes(word), true
}

// BigWord reads parameter i as an arbitrary-precision integer. Price math
// downstream stays in big.Int, so this avoids a widening conversion there.
func BigWord(params []byte, i int) (*big.Int, bool) {
	word, ok := Word(params, i)
	if !ok {
		return nil, false
	}
	return new(big.Int).SetBytes(word), true
}
