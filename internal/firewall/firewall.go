// Package firewall is the screening engine: it decodes a packed multi-call
// envelope, resolves each sub-call's rule, runs the named validator, and
// only forwards envelopes every sub-call of which passed. One rejection
// fails the whole batch.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/safeguard_v1/internal/batch"
	"github.com/meltingclock/safeguard_v1/internal/cursor"
	"github.com/meltingclock/safeguard_v1/internal/dex"
	"github.com/meltingclock/safeguard_v1/internal/policy"
	"github.com/meltingclock/safeguard_v1/internal/registry"
	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

// Canonical names of the non-family validators. Family validators are named
// FamilyValidatorName(protocol, op), e.g. "slipstream.mint".
const (
	NameERC20Transfer    = "erc20.transfer"
	NameERC20TransferAny = "erc20.transfer_any"
	NameERC20Approve     = "erc20.approve"
	NameERC20ApproveAny  = "erc20.approve_any"
	NameERC721Approve    = "erc721.approve"
)

// FamilyValidatorName builds the canonical table name for a family op.
func FamilyValidatorName(p dex.Protocol, op dex.Op) string {
	return string(p) + "." + string(op)
}

// ValidatorID derives the 4-byte table key rules are registered under.
func ValidatorID(name string) cursor.Selector {
	return dex.Keccak4(name)
}

// Forwarder hands a fully validated envelope to the executor module.
type Forwarder interface {
	Forward(ctx context.Context, envelope []byte) (common.Hash, error)
}

var (
	// ErrPaused rejects execution while the guardian kill switch is
	// engaged. Screening stays available so verdicts remain observable.
	ErrPaused = errors.New("execution paused by guardian")

	// ErrNoForwarder rejects execution on screen-only deployments.
	ErrNoForwarder = errors.New("forwarding is not configured")
)

type Engine struct {
	env     *policy.Env
	rules   *registry.Registry
	account common.Address
	fwd     Forwarder
	paused  atomic.Bool

	validators map[cursor.Selector]policy.Func
	names      map[cursor.Selector]string
}

// New builds the engine for one screened account. families carries every
// deployed protocol the policy bundle names; fwd may be nil for
// screen-only deployments.
func New(env *policy.Env, rules *registry.Registry, account common.Address, families map[dex.Protocol]dex.Family, fwd Forwarder) *Engine {
	e := &Engine{
		env:        env,
		rules:      rules,
		account:    account,
		fwd:        fwd,
		validators: make(map[cursor.Selector]policy.Func),
		names:      make(map[cursor.Selector]string),
	}
	e.install(NameERC20Transfer, policy.ValidateTransfer)
	e.install(NameERC20TransferAny, policy.ValidateTransferAny)
	e.install(NameERC20Approve, policy.ValidateApprove)
	e.install(NameERC20ApproveAny, policy.ValidateApproveAny)
	e.install(NameERC721Approve, policy.ValidateApproveNFT)
	for proto, f := range families {
		e.install(FamilyValidatorName(proto, dex.OpMint), policy.MintValidator(f))
		e.install(FamilyValidatorName(proto, dex.OpIncrease), policy.IncreaseValidator(f))
		e.install(FamilyValidatorName(proto, dex.OpDecrease), policy.DecreaseValidator(f))
		e.install(FamilyValidatorName(proto, dex.OpCollect), policy.CollectValidator(f))
		e.install(FamilyValidatorName(proto, dex.OpSwap), policy.SwapValidator(f))
	}
	return e
}

func (e *Engine) install(name string, fn policy.Func) {
	id := ValidatorID(name)
	e.validators[id] = fn
	e.names[id] = name
}

// HasValidator reports whether a canonical name resolves in this engine's
// table; the loader refuses bundles naming validators that do not.
func (e *Engine) HasValidator(name string) bool {
	_, ok := e.validators[ValidatorID(name)]
	return ok
}

// ValidatorName resolves a table ID back to its canonical name, for audit
// records and rule listings.
func (e *Engine) ValidatorName(id cursor.Selector) (string, bool) {
	name, ok := e.names[id]
	return name, ok
}

// Account is the identity sub-call recipients are checked against.
func (e *Engine) Account() common.Address { return e.account }

// Forwarding reports whether a forwarder is wired in.
func (e *Engine) Forwarding() bool { return e.fwd != nil }

// Rules exposes the rule store for the admin surface.
func (e *Engine) Rules() *registry.Registry { return e.rules }

// Screen decodes the envelope and validates every sub-call in order. It
// returns the decoded calls alongside the first failure, wrapped with the
// failing record's index and target.
func (e *Engine) Screen(ctx context.Context, envelope []byte) ([]batch.Call, error) {
	telemetry.CountBatchScreened()
	calls, err := batch.Decode(envelope)
	if err != nil {
		telemetry.CountBatchRejected()
		return nil, err
	}
	for i, c := range calls {
		if err := e.screenCall(ctx, c); err != nil {
			telemetry.CountBatchRejected()
			return calls, fmt.Errorf("call %d to %s: %w", i, c.Target.Hex(), err)
		}
	}
	return calls, nil
}

func (e *Engine) screenCall(ctx context.Context, c batch.Call) error {
	if len(c.Data) < 4 {
		return fmt.Errorf("no function selector: %w", policy.ErrNotConfigured)
	}
	sel, err := cursor.ToSelector(c.Data[:4])
	if err != nil {
		return err
	}
	params := c.Data[4:]

	rule, ok := e.rules.Lookup(c.Target, sel)
	if !ok {
		return fmt.Errorf("%s: %w", sel, policy.ErrNotConfigured)
	}
	if rule.Disabled {
		return fmt.Errorf("%s (rule v%d): %w", sel, rule.Version, policy.ErrRuleDisabled)
	}
	fn, ok := e.validators[rule.Validator]
	if !ok {
		return fmt.Errorf("%s names unknown validator %s: %w", sel, rule.Validator, policy.ErrNotConfigured)
	}
	telemetry.CountCallValidated()
	if err := fn(ctx, e.env, e.account, c.Target, params, rule.Config); err != nil {
		return fmt.Errorf("%s: %w", e.names[rule.Validator], err)
	}
	return nil
}

// SetPaused flips the execution kill switch.
func (e *Engine) SetPaused(on bool) {
	if e.paused.Swap(on) != on {
		if on {
			telemetry.Warnf("execution paused")
		} else {
			telemetry.Warnf("execution resumed")
		}
	}
}

func (e *Engine) Paused() bool { return e.paused.Load() }

// Execute screens the envelope and, only on a clean pass, forwards the
// original bytes verbatim to the executor boundary.
func (e *Engine) Execute(ctx context.Context, envelope []byte) (common.Hash, error) {
	if e.paused.Load() {
		return common.Hash{}, ErrPaused
	}
	if _, err := e.Screen(ctx, envelope); err != nil {
		return common.Hash{}, err
	}
	if e.fwd == nil {
		return common.Hash{}, ErrNoForwarder
	}
	hash, err := e.fwd.Forward(ctx, envelope)
	if err != nil {
		return common.Hash{}, fmt.Errorf("forward: %w", err)
	}
	telemetry.CountBatchForwarded()
	return hash, nil
}
