package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Chainlink-compatible aggregator fragment; covers every feed we read.
const AggregatorABI = `[
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
		"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[
		{"internalType":"uint8","name":"","type":"uint8"}],
		"stateMutability":"view","type":"function"}
]`

// RoundData is the slice of a feed round the firewall cares about.
type RoundData struct {
	Answer    *big.Int
	StartedAt *big.Int
	UpdatedAt *big.Int
}

// Feed reads one Chainlink-style aggregator contract. Decimals are immutable
// on-chain, so the first successful read is cached for the process lifetime.
type Feed struct {
	addr common.Address
	ec   ethereum.ContractCaller
	ab   abi.ABI

	decMu  sync.Mutex
	dec    uint8
	decSet bool
}

func NewFeed(ec ethereum.ContractCaller, addr common.Address) *Feed {
	ab, _ := abi.JSON(strings.NewReader(AggregatorABI))
	return &Feed{addr: addr, ec: ec, ab: ab}
}

// Address returns the aggregator contract address.
func (f *Feed) Address() common.Address { return f.addr }

// LatestRoundData performs the live read.
func (f *Feed) LatestRoundData(ctx context.Context) (RoundData, error) {
	data, err := f.ab.Pack("latestRoundData")
	if err != nil {
		return RoundData{}, fmt.Errorf("pack latestRoundData: %w", err)
	}
	out, err := f.ec.CallContract(ctx, ethereum.CallMsg{To: &f.addr, Data: data}, nil)
	if err != nil {
		return RoundData{}, fmt.Errorf("feed %s latestRoundData: %w", f.addr.Hex(), err)
	}
	vals, err := f.ab.Unpack("latestRoundData", out)
	if err != nil {
		return RoundData{}, fmt.Errorf("feed %s unpack: %w", f.addr.Hex(), err)
	}
	return RoundData{
		Answer:    vals[1].(*big.Int),
		StartedAt: vals[2].(*big.Int),
		UpdatedAt: vals[3].(*big.Int),
	}, nil
}

// Decimals reads the feed's scale; the first successful read sticks.
func (f *Feed) Decimals(ctx context.Context) (uint8, error) {
	f.decMu.Lock()
	defer f.decMu.Unlock()
	if f.decSet {
		return f.dec, nil
	}

	data, err := f.ab.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}
	out, err := f.ec.CallContract(ctx, ethereum.CallMsg{To: &f.addr, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("feed %s decimals: %w", f.addr.Hex(), err)
	}
	vals, err := f.ab.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("feed %s unpack decimals: %w", f.addr.Hex(), err)
	}
	f.dec = vals[0].(uint8)
	f.decSet = true
	return f.dec, nil
}
