// Package dex defines the per-protocol capability set consumed by the generic
// position and swap validators, plus the machinery every family shares:
// deterministic pool addressing, declared-deployer discovery, and sqrt-price
// reads. Family drift (calldata shapes, salt composition, price-read method)
// lives entirely in the subpackages.
package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/meltingclock/safeguard_v1/internal/cursor"
)

// Protocol tags an AMM family. Rules carry the tag explicitly; nothing is
// ever inferred from position read lengths.
type Protocol string

const (
	Slipstream Protocol = "slipstream"
	Ramses     Protocol = "ramses"
	Algebra    Protocol = "algebra"
)

// Op names the guarded operations of a family, as they appear in policy
// bundles.
type Op string

const (
	OpMint     Op = "mint"
	OpIncrease Op = "increase_liquidity"
	OpDecrease Op = "decrease_liquidity"
	OpCollect  Op = "collect"
	OpSwap     Op = "exact_input_single"
)

// PoolKey identifies one pool of a family. TickSpacing is nil for families
// that key pools on the bare pair.
type PoolKey struct {
	Token0      common.Address
	Token1      common.Address
	TickSpacing *big.Int
}

// Sorted returns the key with token0 < token1, the order every pool stores
// its tokens in.
func (k PoolKey) Sorted() PoolKey {
	t0, t1 := SortTokens(k.Token0, k.Token1)
	return PoolKey{Token0: t0, Token1: t1, TickSpacing: k.TickSpacing}
}

// MintParams is the slice of a mint call the validators act on.
type MintParams struct {
	Pool      PoolKey
	Recipient common.Address
}

// TokenIDParams covers increase/decrease liquidity calls.
type TokenIDParams struct {
	TokenID *big.Int
}

// CollectParams covers fee collection calls.
type CollectParams struct {
	TokenID   *big.Int
	Recipient common.Address
}

// SwapParams covers single-hop exact-input swaps.
type SwapParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Recipient        common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

// Family is the per-protocol capability set. Decoders take calldata with the
// 4-byte selector already stripped; live reads go through the caller handed
// in, so families stay connection-free singletons.
type Family interface {
	Protocol() Protocol

	DecodeMint(params []byte) (MintParams, error)
	DecodeIncrease(params []byte) (TokenIDParams, error)
	DecodeDecrease(params []byte) (TokenIDParams, error)
	DecodeCollect(params []byte) (CollectParams, error)
	DecodeSwap(params []byte) (SwapParams, error)

	// Position recovers the pool key of an existing position from its manager.
	Position(ctx context.Context, ec ethereum.ContractCaller, manager common.Address, tokenID *big.Int) (PoolKey, error)
	// PoolAddress derives the deterministic pool address for the key via the
	// manager's declared factory or deployer.
	PoolAddress(ctx context.Context, ec ethereum.ContractCaller, manager common.Address, key PoolKey) (common.Address, error)
	// SqrtPriceX96 reads the pool's current sqrt price.
	SqrtPriceX96(ctx context.Context, ec ethereum.ContractCaller, pool common.Address) (*big.Int, error)

	// Signatures lists the canonical external signature per guarded op, for
	// selector derivation at registration time.
	Signatures() map[Op]string
}

// SortTokens orders a pair canonically (byte-wise ascending).
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// Keccak4 derives the 4-byte selector for a canonical signature.
func Keccak4(signature string) cursor.Selector {
	hash := crypto.Keccak256([]byte(signature))
	var s cursor.Selector
	copy(s[:], hash[:4])
	return s
}

// ExactWords enforces that params is exactly n static 32-byte words. The
// firewall treats trailing garbage in calldata as malformed, not ignorable.
func ExactWords(params []byte, n int) error {
	if len(params) != 32*n {
		return fmt.Errorf("want %d words (%d bytes), got %d: %w", n, 32*n, len(params), cursor.ErrInvalidLength)
	}
	return nil
}

// Tuple is a static-tuple view validated to an exact word count, so family
// decoders read fields without per-word bounds checks.
type Tuple []byte

// AsTuple validates params to exactly n words.
func AsTuple(params []byte, n int) (Tuple, error) {
	if err := ExactWords(params, n); err != nil {
		return nil, err
	}
	return Tuple(params), nil
}

// Address reads word i as a right-aligned address.
func (t Tuple) Address(i int) common.Address {
	a, _ := cursor.AddressWord(t, i)
	return a
}

// Big reads word i as an unsigned big integer.
func (t Tuple) Big(i int) *big.Int {
	v, _ := cursor.BigWord(t, i)
	return v
}

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic("dex: bad abi type " + t)
	}
	return ty
}

var (
	addressTy = mustType("address")
	int24Ty   = mustType("int24")

	spacedSaltArgs = abi.Arguments{{Type: addressTy}, {Type: addressTy}, {Type: int24Ty}}
	pairSaltArgs   = abi.Arguments{{Type: addressTy}, {Type: addressTy}}
)

// SpacedSalt hashes abi.encode(token0, token1, tickSpacing). Callers pass
// the pair already sorted.
func SpacedSalt(token0, token1 common.Address, tickSpacing *big.Int) (common.Hash, error) {
	if tickSpacing == nil {
		return common.Hash{}, fmt.Errorf("nil tick spacing for %s/%s", token0.Hex(), token1.Hex())
	}
	enc, err := spacedSaltArgs.Pack(token0, token1, tickSpacing)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack pool salt: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// PairSalt hashes abi.encode(token0, token1) for spacing-free families.
func PairSalt(token0, token1 common.Address) (common.Hash, error) {
	enc, err := pairSaltArgs.Pack(token0, token1)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack pool salt: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// Create2 computes keccak(0xff ++ deployer ++ salt ++ initCodeHash)[12:].
func Create2(deployer common.Address, salt common.Hash, initCodeHash common.Hash) common.Address {
	return crypto.CreateAddress2(deployer, salt, initCodeHash.Bytes())
}

// AddressCache memoizes a parameterless address-returning view, one entry per
// contract. Families use it for factory()/poolDeployer() discovery: the
// declared deployer of a position manager never changes.
type AddressCache struct {
	call cursor.Selector

	mu         sync.RWMutex
	byContract map[common.Address]common.Address
}

// NewAddressCache builds a cache around the view named by signature,
// e.g. "factory()".
func NewAddressCache(signature string) *AddressCache {
	return &AddressCache{
		call:       Keccak4(signature),
		byContract: make(map[common.Address]common.Address),
	}
}

// Get resolves the declared address, reading through the cache.
func (c *AddressCache) Get(ctx context.Context, ec ethereum.ContractCaller, contract common.Address) (common.Address, error) {
	c.mu.RLock()
	addr, ok := c.byContract[contract]
	c.mu.RUnlock()
	if ok {
		return addr, nil
	}

	out, err := ec.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: c.call[:]}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("read %s on %s: %w", c.call, contract.Hex(), err)
	}
	if len(out) < 32 {
		return common.Address{}, fmt.Errorf("read %s on %s: short return (%d bytes)", c.call, contract.Hex(), len(out))
	}
	addr = common.BytesToAddress(out[12:32])
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("contract %s declares zero address for %s", contract.Hex(), c.call)
	}

	c.mu.Lock()
	c.byContract[contract] = addr
	c.mu.Unlock()
	return addr, nil
}

// ReadPriceWord calls the pool's price view and returns the first return
// word. Both slot0-style and globalState-style pools lead with the sqrt
// price, so families only differ in the signature they pass.
func ReadPriceWord(ctx context.Context, ec ethereum.ContractCaller, pool common.Address, call cursor.Selector) (*big.Int, error) {
	out, err := ec.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: call[:]}, nil)
	if err != nil {
		return nil, fmt.Errorf("pool %s price read: %w", pool.Hex(), err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("pool %s price read: short return (%d bytes)", pool.Hex(), len(out))
	}
	price := new(big.Int).SetBytes(out[:32])
	if price.Sign() == 0 {
		return nil, fmt.Errorf("pool %s reports zero sqrt price (uninitialized)", pool.Hex())
	}
	return price, nil
}
