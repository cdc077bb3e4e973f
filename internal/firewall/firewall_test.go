package firewall

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltingclock/safeguard_v1/internal/batch"
	"github.com/meltingclock/safeguard_v1/internal/dex"
	"github.com/meltingclock/safeguard_v1/internal/dex/slipstream"
	"github.com/meltingclock/safeguard_v1/internal/oracle"
	"github.com/meltingclock/safeguard_v1/internal/policy"
	"github.com/meltingclock/safeguard_v1/internal/registry"
	"github.com/meltingclock/safeguard_v1/internal/tokens"
)

var (
	wallet  = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	crook   = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
	tokenA  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	manager = common.HexToAddress("0x9000000000000000000000000000000000000009")
	r1      = common.HexToAddress("0x5100000000000000000000000000000000000051")

	transferSel = dex.Keccak4("transfer(address,uint256)")
)

// deadChain fails every read; these paths must not touch the chain.
type deadChain struct{}

func (deadChain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, fmt.Errorf("unexpected chain read")
}

type fakeForwarder struct {
	got  [][]byte
	hash common.Hash
	err  error
}

func (f *fakeForwarder) Forward(_ context.Context, envelope []byte) (common.Hash, error) {
	f.got = append(f.got, append([]byte(nil), envelope...))
	return f.hash, f.err
}

func addrWord(a common.Address) []byte { return common.LeftPadBytes(a.Bytes(), 32) }

func numWord(v int64) []byte { return common.LeftPadBytes(big.NewInt(v).Bytes(), 32) }

func concat(words ...[]byte) []byte {
	var out []byte
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

func transferData(to common.Address, amount int64) []byte {
	return concat(transferSel[:], addrWord(to), numWord(amount))
}

func mintData(recipient common.Address) []byte {
	sel := dex.Keccak4(slipstream.SigMint)
	return concat(sel[:],
		addrWord(tokenA), addrWord(tokenB), numWord(200),
		numWord(100), numWord(300),
		numWord(0), numWord(0), numWord(0), numWord(0),
		addrWord(recipient), numWord(1_700_000), numWord(0),
	)
}

func newEngine(t *testing.T, fwd Forwarder) (*Engine, *registry.Registry) {
	t.Helper()
	env := &policy.Env{
		Chain:   deadChain{},
		Oracles: oracle.NewRegistry(),
		Tokens:  tokens.NewCache(deadChain{}),
	}
	rules := registry.New()
	families := map[dex.Protocol]dex.Family{dex.Slipstream: slipstream.New(common.Hash{})}
	return New(env, rules, wallet, families, fwd), rules
}

func registerTransferRule(t *testing.T, rules *registry.Registry, maxAmount int64) {
	t.Helper()
	cfg, err := policy.EncodeCappedListConfig(big.NewInt(maxAmount), []common.Address{r1})
	require.NoError(t, err)
	rules.Register(tokenA, transferSel, ValidatorID(NameERC20Transfer), cfg)
}

func TestScreen_PassesConfiguredTransfer(t *testing.T) {
	e, rules := newEngine(t, nil)
	registerTransferRule(t, rules, 100)

	envelope := batch.Encode([]batch.Call{{Target: tokenA, Data: transferData(r1, 50)}})
	calls, err := e.Screen(context.Background(), envelope)
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}

func TestScreen_FirstFailureNamesIndex(t *testing.T) {
	e, rules := newEngine(t, nil)
	registerTransferRule(t, rules, 100)

	envelope := batch.Encode([]batch.Call{
		{Target: tokenA, Data: transferData(r1, 50)},
		{Target: tokenA, Data: transferData(r1, 101)},
	})
	_, err := e.Screen(context.Background(), envelope)
	assert.ErrorIs(t, err, policy.ErrTransferTooMuch)
	assert.Contains(t, err.Error(), "call 1 to")
	assert.Contains(t, err.Error(), NameERC20Transfer)
}

func TestScreen_UnregisteredTarget(t *testing.T) {
	e, _ := newEngine(t, nil)

	envelope := batch.Encode([]batch.Call{{Target: tokenB, Data: transferData(r1, 1)}})
	_, err := e.Screen(context.Background(), envelope)
	assert.ErrorIs(t, err, policy.ErrNotConfigured)
}

func TestScreen_DisabledRuleAndRevival(t *testing.T) {
	e, rules := newEngine(t, nil)
	registerTransferRule(t, rules, 100)
	require.True(t, rules.Disable(tokenA, transferSel))

	envelope := batch.Encode([]batch.Call{{Target: tokenA, Data: transferData(r1, 1)}})
	_, err := e.Screen(context.Background(), envelope)
	assert.ErrorIs(t, err, policy.ErrRuleDisabled)

	registerTransferRule(t, rules, 100)
	_, err = e.Screen(context.Background(), envelope)
	assert.NoError(t, err)
}

func TestScreen_UnknownValidatorID(t *testing.T) {
	e, rules := newEngine(t, nil)
	rules.Register(tokenA, transferSel, ValidatorID("no.such.validator"), nil)

	envelope := batch.Encode([]batch.Call{{Target: tokenA, Data: transferData(r1, 1)}})
	_, err := e.Screen(context.Background(), envelope)
	assert.ErrorIs(t, err, policy.ErrNotConfigured)
}

func TestScreen_SelectorlessCall(t *testing.T) {
	e, _ := newEngine(t, nil)

	envelope := batch.Encode([]batch.Call{{Target: tokenA, Data: []byte{0xa9}}})
	_, err := e.Screen(context.Background(), envelope)
	assert.ErrorIs(t, err, policy.ErrNotConfigured)
}

func TestScreen_DelegateCallAborts(t *testing.T) {
	e, rules := newEngine(t, nil)
	registerTransferRule(t, rules, 100)

	envelope := batch.Encode([]batch.Call{{Op: 1, Target: tokenA, Data: transferData(r1, 1)}})
	_, err := e.Screen(context.Background(), envelope)
	assert.ErrorIs(t, err, batch.ErrDelegateCall)
}

func TestScreen_FamilyValidatorThroughTable(t *testing.T) {
	e, rules := newEngine(t, nil)
	mintSel := dex.Keccak4(slipstream.SigMint)
	rules.Register(manager, mintSel,
		ValidatorID(FamilyValidatorName(dex.Slipstream, dex.OpMint)), policy.EncodeBpsConfig(0))

	good := batch.Encode([]batch.Call{{Target: manager, Data: mintData(wallet)}})
	_, err := e.Screen(context.Background(), good)
	assert.NoError(t, err)

	bad := batch.Encode([]batch.Call{{Target: manager, Data: mintData(crook)}})
	_, err = e.Screen(context.Background(), bad)
	assert.ErrorIs(t, err, policy.ErrInvalidRecipient)
	assert.Contains(t, err.Error(), "slipstream.mint")
}

func TestExecute_ForwardsVerbatimOnSuccessOnly(t *testing.T) {
	fwd := &fakeForwarder{hash: common.HexToHash("0x01")}
	e, rules := newEngine(t, fwd)
	registerTransferRule(t, rules, 100)

	good := batch.Encode([]batch.Call{{Target: tokenA, Data: transferData(r1, 50)}})
	hash, err := e.Execute(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, fwd.hash, hash)
	require.Len(t, fwd.got, 1)
	assert.Equal(t, good, fwd.got[0], "the original envelope goes out untouched")

	bad := batch.Encode([]batch.Call{{Target: tokenA, Data: transferData(r1, 101)}})
	_, err = e.Execute(context.Background(), bad)
	assert.ErrorIs(t, err, policy.ErrTransferTooMuch)
	assert.Len(t, fwd.got, 1, "nothing forwarded for a rejected batch")
}

func TestExecute_PauseBlocksOnlyExecution(t *testing.T) {
	fwd := &fakeForwarder{hash: common.HexToHash("0x01")}
	e, rules := newEngine(t, fwd)
	registerTransferRule(t, rules, 100)

	envelope := batch.Encode([]batch.Call{{Target: tokenA, Data: transferData(r1, 50)}})

	e.SetPaused(true)
	require.True(t, e.Paused())
	_, err := e.Execute(context.Background(), envelope)
	assert.ErrorIs(t, err, ErrPaused)
	assert.Empty(t, fwd.got)

	_, err = e.Screen(context.Background(), envelope)
	assert.NoError(t, err, "screening stays live while paused")

	e.SetPaused(false)
	_, err = e.Execute(context.Background(), envelope)
	require.NoError(t, err)
	assert.Len(t, fwd.got, 1)
}

func TestExecute_WithoutForwarder(t *testing.T) {
	e, rules := newEngine(t, nil)
	registerTransferRule(t, rules, 100)

	envelope := batch.Encode([]batch.Call{{Target: tokenA, Data: transferData(r1, 1)}})
	_, err := e.Execute(context.Background(), envelope)
	assert.ErrorIs(t, err, ErrNoForwarder)
}

func TestValidatorNames_RoundTrip(t *testing.T) {
	e, _ := newEngine(t, nil)

	assert.True(t, e.HasValidator(NameERC20Transfer))
	assert.True(t, e.HasValidator("slipstream.exact_input_single"))
	assert.False(t, e.HasValidator("ramses.mint"), "only deployed families join the table")

	name, ok := e.ValidatorName(ValidatorID(NameERC721Approve))
	require.True(t, ok)
	assert.Equal(t, NameERC721Approve, name)
}
