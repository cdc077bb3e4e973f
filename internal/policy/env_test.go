package policy

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/safeguard_v1/internal/oracle"
	"github.com/meltingclock/safeguard_v1/internal/tokens"
)

var (
	wallet  = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	crook   = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
	manager = common.HexToAddress("0x9000000000000000000000000000000000000009")
	factory = common.HexToAddress("0x8000000000000000000000000000000000000008")
	tokenA  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB  = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

// fakeChain answers eth_call by (target, selector) lookup and counts reads.
type fakeChain struct {
	mu    sync.Mutex
	out   map[common.Address]map[string][]byte
	calls int
}

func newFakeChain() *fakeChain {
	return &fakeChain{out: make(map[common.Address]map[string][]byte)}
}

func (fc *fakeChain) install(target common.Address, selector, ret []byte) {
	m := fc.out[target]
	if m == nil {
		m = make(map[string][]byte)
		fc.out[target] = m
	}
	m[common.Bytes2Hex(selector[:4])] = ret
}

func (fc *fakeChain) callCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.calls
}

func (fc *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.calls++
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	if m := fc.out[*msg.To]; m != nil {
		if ret, ok := m[common.Bytes2Hex(msg.Data[:4])]; ok {
			return ret, nil
		}
	}
	return nil, fmt.Errorf("unexpected call %x to %s", msg.Data[:4], msg.To.Hex())
}

type fakeAdapter struct {
	value *big.Int
	dec   uint8
}

func (a *fakeAdapter) LatestAnswer(context.Context) (*big.Int, error) { return a.value, nil }
func (a *fakeAdapter) Decimals() uint8                                { return a.dec }

func newEnv(fc *fakeChain) *Env {
	return &Env{Chain: fc, Oracles: oracle.NewRegistry(), Tokens: tokens.NewCache(fc)}
}

func installDecimals(fc *fakeChain, token common.Address, dec uint8) {
	fc.install(token, common.FromHex("0x313ce567"), common.LeftPadBytes([]byte{dec}, 32))
}

func addrWord(a common.Address) []byte { return common.LeftPadBytes(a.Bytes(), 32) }

func numWord(v int64) []byte { return common.LeftPadBytes(big.NewInt(v).Bytes(), 32) }

func bigWord(v *big.Int) []byte { return common.LeftPadBytes(v.Bytes(), 32) }

func concat(words ...[]byte) []byte {
	var out []byte
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}
