package policy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/safeguard_v1/internal/dex"
)

// ValidateTransfer guards transfer(address,uint256): the amount must not
// exceed the configured cap and the recipient must be on the allow list.
// An empty list rejects everything; "any recipient" is a loader-side
// declaration, never an empty-list convention.
func ValidateTransfer(ctx context.Context, env *Env, caller, target common.Address, params, config []byte) error {
	t, err := dex.AsTuple(params, 2)
	if err != nil {
		return fmt.Errorf("transfer params: %w", err)
	}
	recipient, amount := t.Address(0), t.Big(1)

	maxAmount, allowed, err := DecodeCappedListConfig(config)
	if err != nil {
		return err
	}
	if amount.Cmp(maxAmount) > 0 {
		return fmt.Errorf("%s of %s exceeds cap %s: %w", amount, target.Hex(), maxAmount, ErrTransferTooMuch)
	}
	if !onList(allowed, recipient) {
		return fmt.Errorf("recipient %s: %w", recipient.Hex(), ErrERC20NotAllowed)
	}
	return nil
}

// ValidateApprove guards approve(address,uint256) the same way, with the
// spender standing in for the recipient.
func ValidateApprove(ctx context.Context, env *Env, caller, target common.Address, params, config []byte) error {
	t, err := dex.AsTuple(params, 2)
	if err != nil {
		return fmt.Errorf("approve params: %w", err)
	}
	spender, amount := t.Address(0), t.Big(1)

	maxAmount, allowed, err := DecodeCappedListConfig(config)
	if err != nil {
		return err
	}
	if amount.Cmp(maxAmount) > 0 {
		return fmt.Errorf("%s for %s exceeds cap %s: %w", amount, spender.Hex(), maxAmount, ErrApproveTooMuch)
	}
	if !onList(allowed, spender) {
		return fmt.Errorf("spender %s: %w", spender.Hex(), ErrERC20NotAllowed)
	}
	return nil
}

// ValidateTransferAny caps the amount but accepts any recipient. "Allow
// anyone" is declared by registering this variant, never by an empty list.
func ValidateTransferAny(ctx context.Context, env *Env, caller, target common.Address, params, config []byte) error {
	t, err := dex.AsTuple(params, 2)
	if err != nil {
		return fmt.Errorf("transfer params: %w", err)
	}
	amount := t.Big(1)

	maxAmount, err := DecodeCapConfig(config)
	if err != nil {
		return err
	}
	if amount.Cmp(maxAmount) > 0 {
		return fmt.Errorf("%s of %s exceeds cap %s: %w", amount, target.Hex(), maxAmount, ErrTransferTooMuch)
	}
	return nil
}

// ValidateApproveAny is the spender analog of ValidateTransferAny.
func ValidateApproveAny(ctx context.Context, env *Env, caller, target common.Address, params, config []byte) error {
	t, err := dex.AsTuple(params, 2)
	if err != nil {
		return fmt.Errorf("approve params: %w", err)
	}
	amount := t.Big(1)

	maxAmount, err := DecodeCapConfig(config)
	if err != nil {
		return err
	}
	if amount.Cmp(maxAmount) > 0 {
		return fmt.Errorf("%s exceeds cap %s: %w", amount, maxAmount, ErrApproveTooMuch)
	}
	return nil
}

// ValidateApproveNFT guards erc721 approve(address,uint256). Only the
// operator matters; the token id is the owner's business.
func ValidateApproveNFT(ctx context.Context, env *Env, caller, target common.Address, params, config []byte) error {
	t, err := dex.AsTuple(params, 2)
	if err != nil {
		return fmt.Errorf("approve params: %w", err)
	}
	operator := t.Address(0)

	allowed, err := DecodeListConfig(config)
	if err != nil {
		return err
	}
	if !onList(allowed, operator) {
		return fmt.Errorf("operator %s: %w", operator.Hex(), ErrERC721NotAllowed)
	}
	return nil
}
