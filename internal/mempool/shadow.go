package mempool

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/meltingclock/safeguard_v1/internal/audit"
	execution "github.com/meltingclock/safeguard_v1/internal/executor"
	"github.com/meltingclock/safeguard_v1/internal/firewall"
	"github.com/meltingclock/safeguard_v1/internal/helpers"
	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

// Shadow gives every execBatch envelope seen in pending traffic the verdict
// the live engine would give, without executing anything. Useful both as an
// early warning (someone is pushing a batch the policy would reject) and as
// a dry run for new rules against real traffic.
type Shadow struct {
	engine  *firewall.Engine
	journal *audit.Journal // optional
	module  common.Address
	alert   func(string) // optional

	execABI     abi.ABI
	execBatchID [4]byte
}

func NewShadow(engine *firewall.Engine, journal *audit.Journal, module common.Address, alert func(string)) (*Shadow, error) {
	parsed, err := abi.JSON(strings.NewReader(execution.ModuleABI))
	if err != nil {
		return nil, fmt.Errorf("module abi: %w", err)
	}
	s := &Shadow{
		engine:  engine,
		journal: journal,
		module:  module,
		alert:   alert,
		execABI: parsed,
	}
	copy(s.execBatchID[:], parsed.Methods["execBatch"].ID)
	return s, nil
}

// OnTx is the Watcher callback. Traffic not addressed to the executor module,
// and module calls that are not execBatch, pass through untouched.
func (s *Shadow) OnTx(ctx context.Context, tx *types.Transaction) error {
	if tx == nil || tx.To() == nil || *tx.To() != s.module {
		return nil
	}
	data := tx.Data()
	if len(data) < 4 || !bytes.Equal(data[:4], s.execBatchID[:]) {
		return nil
	}
	args, err := s.execABI.Methods["execBatch"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 1 {
		telemetry.Debugf("[mempool] undecodable execBatch call in %s", tx.Hash().Hex())
		return nil
	}
	envelope, ok := args[0].([]byte)
	if !ok {
		return nil
	}

	calls, screenErr := s.engine.Screen(ctx, envelope)
	reason := ""
	if screenErr != nil {
		reason = screenErr.Error()
	}
	if s.journal != nil {
		if _, err := s.journal.RecordScreening(ctx, s.engine.Account(), envelope, len(calls), audit.VerdictShadow, reason); err != nil {
			telemetry.Errorf("[mempool] journal: %v", err)
		}
	}
	if screenErr == nil {
		telemetry.Debugf("[mempool] shadow pass: %s, %d calls", tx.Hash().Hex(), len(calls))
		return nil
	}

	sender, _ := Sender(tx)
	telemetry.Warnf("[mempool] shadow reject: %s from %s: %v", tx.Hash().Hex(), sender.Hex(), screenErr)
	if s.alert != nil {
		s.alert(fmt.Sprintf("👁 *Shadow reject*\ntx `%s`\nfrom `%s`\n%v",
			helpers.FormatTxHash(tx.Hash()), helpers.FormatAddress(sender), screenErr))
	}
	return screenErr
}
