// Package algebra covers Algebra-style deployments: one pool per bare token
// pair (no tick spacing anywhere), pools created through a dedicated
// poolDeployer rather than the factory, and the current price read from
// globalState() instead of slot0().
package algebra

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/safeguard_v1/internal/cursor"
	"github.com/meltingclock/safeguard_v1/internal/dex"
)

// Canonical external signatures of the guarded operations.
const (
	SigMint     = "mint((address,address,int24,int24,uint256,uint256,uint256,uint256,address,uint256))"
	SigIncrease = "increaseLiquidity((uint256,uint256,uint256,uint256,uint256,uint256))"
	SigDecrease = "decreaseLiquidity((uint256,uint128,uint256,uint256,uint256))"
	SigCollect  = "collect((uint256,address,uint128,uint128))"
	SigSwap     = "exactInputSingle((address,address,address,uint256,uint256,uint256,uint160))"
)

const positionsABI = `[
	{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],
	"name":"positions","outputs":[
		{"internalType":"uint96","name":"nonce","type":"uint96"},
		{"internalType":"address","name":"operator","type":"address"},
		{"internalType":"address","name":"token0","type":"address"},
		{"internalType":"address","name":"token1","type":"address"},
		{"internalType":"int24","name":"tickLower","type":"int24"},
		{"internalType":"int24","name":"tickUpper","type":"int24"},
		{"internalType":"uint128","name":"liquidity","type":"uint128"},
		{"internalType":"uint256","name":"feeGrowthInside0LastX128","type":"uint256"},
		{"internalType":"uint256","name":"feeGrowthInside1LastX128","type":"uint256"},
		{"internalType":"uint128","name":"tokensOwed0","type":"uint128"},
		{"internalType":"uint128","name":"tokensOwed1","type":"uint128"}],
	"stateMutability":"view","type":"function"}
]`

type Family struct {
	initCodeHash common.Hash
	deployer     *dex.AddressCache
	positions    abi.ABI
	priceCall    cursor.Selector
}

// New builds the family around the deployment's pool init code hash.
func New(initCodeHash common.Hash) *Family {
	ab, _ := abi.JSON(strings.NewReader(positionsABI))
	return &Family{
		initCodeHash: initCodeHash,
		deployer:     dex.NewAddressCache("poolDeployer()"),
		positions:    ab,
		priceCall:    dex.Keccak4("globalState()"),
	}
}

func (f *Family) Protocol() dex.Protocol { return dex.Algebra }

func (f *Family) Signatures() map[dex.Op]string {
	return map[dex.Op]string{
		dex.OpMint:     SigMint,
		dex.OpIncrease: SigIncrease,
		dex.OpDecrease: SigDecrease,
		dex.OpCollect:  SigCollect,
		dex.OpSwap:     SigSwap,
	}
}

// DecodeMint reads the 10-word mint tuple; no spacing and no bootstrap word.
func (f *Family) DecodeMint(params []byte) (dex.MintParams, error) {
	t, err := dex.AsTuple(params, 10)
	if err != nil {
		return dex.MintParams{}, fmt.Errorf("mint: %w", err)
	}
	return dex.MintParams{
		Pool: dex.PoolKey{
			Token0: t.Address(0),
			Token1: t.Address(1),
		},
		Recipient: t.Address(8),
	}, nil
}

func (f *Family) DecodeIncrease(params []byte) (dex.TokenIDParams, error) {
	t, err := dex.AsTuple(params, 6)
	if err != nil {
		return dex.TokenIDParams{}, fmt.Errorf("increaseLiquidity: %w", err)
	}
	return dex.TokenIDParams{TokenID: t.Big(0)}, nil
}

func (f *Family) DecodeDecrease(params []byte) (dex.TokenIDParams, error) {
	t, err := dex.AsTuple(params, 5)
	if err != nil {
		return dex.TokenIDParams{}, fmt.Errorf("decreaseLiquidity: %w", err)
	}
	return dex.TokenIDParams{TokenID: t.Big(0)}, nil
}

func (f *Family) DecodeCollect(params []byte) (dex.CollectParams, error) {
	t, err := dex.AsTuple(params, 4)
	if err != nil {
		return dex.CollectParams{}, fmt.Errorf("collect: %w", err)
	}
	return dex.CollectParams{TokenID: t.Big(0), Recipient: t.Address(1)}, nil
}

func (f *Family) DecodeSwap(params []byte) (dex.SwapParams, error) {
	t, err := dex.AsTuple(params, 7)
	if err != nil {
		return dex.SwapParams{}, fmt.Errorf("exactInputSingle: %w", err)
	}
	return dex.SwapParams{
		TokenIn:          t.Address(0),
		TokenOut:         t.Address(1),
		Recipient:        t.Address(2),
		AmountIn:         t.Big(4),
		AmountOutMinimum: t.Big(5),
	}, nil
}

func (f *Family) Position(ctx context.Context, ec ethereum.ContractCaller, manager common.Address, tokenID *big.Int) (dex.PoolKey, error) {
	data, err := f.positions.Pack("positions", tokenID)
	if err != nil {
		return dex.PoolKey{}, fmt.Errorf("pack positions: %w", err)
	}
	out, err := ec.CallContract(ctx, ethereum.CallMsg{To: &manager, Data: data}, nil)
	if err != nil {
		return dex.PoolKey{}, fmt.Errorf("positions(%s) on %s: %w", tokenID, manager.Hex(), err)
	}
	vals, err := f.positions.Unpack("positions", out)
	if err != nil {
		return dex.PoolKey{}, fmt.Errorf("positions(%s) on %s: %w", tokenID, manager.Hex(), err)
	}
	return dex.PoolKey{
		Token0: vals[2].(common.Address),
		Token1: vals[3].(common.Address),
	}, nil
}

func (f *Family) PoolAddress(ctx context.Context, ec ethereum.ContractCaller, manager common.Address, key dex.PoolKey) (common.Address, error) {
	deployer, err := f.deployer.Get(ctx, ec, manager)
	if err != nil {
		return common.Address{}, err
	}
	k := key.Sorted()
	salt, err := dex.PairSalt(k.Token0, k.Token1)
	if err != nil {
		return common.Address{}, err
	}
	return dex.Create2(deployer, salt, f.initCodeHash), nil
}

func (f *Family) SqrtPriceX96(ctx context.Context, ec ethereum.ContractCaller, pool common.Address) (*big.Int, error) {
	return dex.ReadPriceWord(ctx, ec, pool, f.priceCall)
}
