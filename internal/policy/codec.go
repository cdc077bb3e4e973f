package policy

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/meltingclock/safeguard_v1/internal/cursor"
)

// Config blobs travel ABI-encoded so the same bytes work against the
// on-chain registry. Three shapes exist: a bare bps word for the price
// validators, (uint256 cap, address[] list) for erc20 rules, and
// (address[] list) for erc721 rules.

var (
	uint256Type, _   = abi.NewType("uint256", "", nil)
	addressesType, _ = abi.NewType("address[]", "", nil)

	cappedListArgs = abi.Arguments{{Type: uint256Type}, {Type: addressesType}}
	bareListArgs   = abi.Arguments{{Type: addressesType}}
)

// EncodeBpsConfig packs a basis-point threshold as one 32-byte word.
func EncodeBpsConfig(bps uint64) []byte {
	w := uint256.NewInt(bps).Bytes32()
	return w[:]
}

// DecodeBpsConfig reads the threshold word back.
func DecodeBpsConfig(config []byte) (*big.Int, error) {
	v, err := cursor.ToUint256(config)
	if err != nil {
		return nil, fmt.Errorf("bps config: %w", err)
	}
	return v.ToBig(), nil
}

// EncodeCapConfig packs a bare amount cap for the allow-any rule variants.
func EncodeCapConfig(maxAmount *big.Int) []byte {
	return common.LeftPadBytes(maxAmount.Bytes(), 32)
}

func DecodeCapConfig(config []byte) (*big.Int, error) {
	v, err := cursor.ToUint256(config)
	if err != nil {
		return nil, fmt.Errorf("cap config: %w", err)
	}
	return v.ToBig(), nil
}

// EncodeCappedListConfig packs (maxAmount, allowed) for transfer and
// approval rules.
func EncodeCappedListConfig(maxAmount *big.Int, allowed []common.Address) ([]byte, error) {
	return cappedListArgs.Pack(maxAmount, allowed)
}

func DecodeCappedListConfig(config []byte) (*big.Int, []common.Address, error) {
	vals, err := cappedListArgs.Unpack(config)
	if err != nil {
		return nil, nil, fmt.Errorf("capped list config: %w", err)
	}
	return vals[0].(*big.Int), vals[1].([]common.Address), nil
}

// EncodeListConfig packs a bare allow list for erc721 rules.
func EncodeListConfig(allowed []common.Address) ([]byte, error) {
	return bareListArgs.Pack(allowed)
}

func DecodeListConfig(config []byte) ([]common.Address, error) {
	vals, err := bareListArgs.Unpack(config)
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	return vals[0].([]common.Address), nil
}

func onList(list []common.Address, a common.Address) bool {
	for _, allowed := range list {
		if allowed == a {
			return true
		}
	}
	return false
}
