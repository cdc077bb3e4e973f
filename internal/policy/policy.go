// Package policy holds the validator functions the firewall dispatches to.
// Every validator shares one shape: it decodes the sub-call's parameters,
// decodes its own registered config blob, consults the chain through Env
// where needed, and returns nil to accept or a wrapped sentinel to reject
// the whole batch. Validators never mutate anything.
package policy

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/safeguard_v1/internal/oracle"
	"github.com/meltingclock/safeguard_v1/internal/tokens"
)

var (
	// Configuration failures.
	ErrNotConfigured = errors.New("no validation rule configured")
	ErrRuleDisabled  = errors.New("validation rule disabled")

	// Policy violations: the firewall working as intended.
	ErrInvalidRecipient = errors.New("recipient is not the calling account")
	ErrPriceDeviation   = errors.New("pool price deviates beyond threshold")
	ErrSlippageExceeded = errors.New("declared minimum output below slippage floor")
	ErrSlippageTooHigh  = errors.New("slippage threshold must be below 10000 bps")
	ErrTransferTooMuch  = errors.New("transfer amount above policy cap")
	ErrApproveTooMuch   = errors.New("approval amount above policy cap")
	ErrERC20NotAllowed  = errors.New("counterparty not on the erc20 allow list")
	ErrERC721NotAllowed = errors.New("operator not on the erc721 allow list")
)

// Env carries the live-chain handles validators read through. It is shared
// across calls and safe for concurrent use.
type Env struct {
	Chain   ethereum.ContractCaller
	Oracles *oracle.Registry
	Tokens  *tokens.Cache
}

// Func validates one sub-call. caller is the account the batch executes as;
// target is the sub-call's destination; params is calldata after the
// selector; config is the rule's registered blob.
type Func func(ctx context.Context, env *Env, caller, target common.Address, params, config []byte) error

// Violation reports whether err is a policy rejection rather than a
// configuration, decode, or chain-read failure. The audit journal uses the
// distinction: violations are the system saying no, the rest are faults.
func Violation(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidRecipient, ErrPriceDeviation, ErrSlippageExceeded, ErrSlippageTooHigh,
		ErrTransferTooMuch, ErrApproveTooMuch, ErrERC20NotAllowed, ErrERC721NotAllowed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
