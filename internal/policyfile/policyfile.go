// Package policyfile loads the policy bundle: the YAML document declaring
// which protocols are deployed, which oracle pairs back the price checks,
// and which rules guard which entrypoints. The loader is deliberately
// strict; a bundle that leaves intent ambiguous is refused at startup
// rather than interpreted at validation time.
package policyfile

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/meltingclock/safeguard_v1/internal/dex"
	"github.com/meltingclock/safeguard_v1/internal/dex/algebra"
	"github.com/meltingclock/safeguard_v1/internal/dex/ramses"
	"github.com/meltingclock/safeguard_v1/internal/dex/slipstream"
	"github.com/meltingclock/safeguard_v1/internal/firewall"
	"github.com/meltingclock/safeguard_v1/internal/helpers"
	"github.com/meltingclock/safeguard_v1/internal/oracle"
	"github.com/meltingclock/safeguard_v1/internal/policy"
	"github.com/meltingclock/safeguard_v1/internal/registry"
	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

type Bundle struct {
	Protocols map[string]ProtocolSpec `yaml:"protocols"`
	Oracles   []OracleSpec            `yaml:"oracles"`
	Rules     []RuleSpec              `yaml:"rules"`
}

type ProtocolSpec struct {
	InitCodeHash string `yaml:"init_code_hash"`
}

// OracleSpec describes one bridged pair: two USD feeds combined into a
// token1-per-token0 price. Tokens must already be in canonical order; the
// loader refuses to sort for you.
type OracleSpec struct {
	Token0            string `yaml:"token0"`
	Token1            string `yaml:"token1"`
	BaseFeed          string `yaml:"base_feed"`
	QuoteFeed         string `yaml:"quote_feed"`
	BaseStalenessSec  int64  `yaml:"base_staleness_sec"`
	QuoteStalenessSec int64  `yaml:"quote_staleness_sec"`
}

// RuleSpec is one guarded entrypoint. Exactly one of the protocol/op pair,
// erc20, or erc721 forms must be used.
type RuleSpec struct {
	Target string `yaml:"target"`

	Protocol     string  `yaml:"protocol,omitempty"`
	Op           string  `yaml:"op,omitempty"`
	DeviationBps *uint64 `yaml:"deviation_bps,omitempty"`
	SlippageBps  *uint64 `yaml:"slippage_bps,omitempty"`

	ERC20     string   `yaml:"erc20,omitempty"`
	ERC721    string   `yaml:"erc721,omitempty"`
	MaxAmount string   `yaml:"max_amount,omitempty"`
	Allow     []string `yaml:"allow,omitempty"`
	AllowAny  *bool    `yaml:"allow_any,omitempty"`
}

var (
	selTransfer = dex.Keccak4("transfer(address,uint256)")
	selApprove  = dex.Keccak4("approve(address,uint256)")
)

// Load reads and structurally validates a bundle.
func Load(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy bundle: %w", err)
	}
	var b Bundle
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parse policy bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Families builds the protocol descriptors the bundle declares.
func (b *Bundle) Families() (map[dex.Protocol]dex.Family, error) {
	fams := make(map[dex.Protocol]dex.Family, len(b.Protocols))
	for name, spec := range b.Protocols {
		hash := common.HexToHash(spec.InitCodeHash)
		if hash == (common.Hash{}) {
			return nil, fmt.Errorf("protocol %s: missing init_code_hash", name)
		}
		switch dex.Protocol(name) {
		case dex.Slipstream:
			fams[dex.Slipstream] = slipstream.New(hash)
		case dex.Ramses:
			fams[dex.Ramses] = ramses.New(hash)
		case dex.Algebra:
			fams[dex.Algebra] = algebra.New(hash)
		default:
			return nil, fmt.Errorf("protocol %s: unknown family", name)
		}
	}
	return fams, nil
}

// Validate performs every check that needs no chain access. It compiles all
// rules against freshly built families, so a bundle that validates will
// also apply.
func (b *Bundle) Validate() error {
	fams, err := b.Families()
	if err != nil {
		return err
	}
	if _, err := b.compile(fams); err != nil {
		return err
	}
	for i, o := range b.Oracles {
		if err := o.validate(); err != nil {
			return fmt.Errorf("oracle %d: %w", i, err)
		}
	}
	return nil
}

func (o OracleSpec) validate() error {
	t0, err := helpers.ValidateAddress(o.Token0)
	if err != nil {
		return fmt.Errorf("token0: %w", err)
	}
	t1, err := helpers.ValidateAddress(o.Token1)
	if err != nil {
		return fmt.Errorf("token1: %w", err)
	}
	if err := helpers.ValidateTokenPair(t0, t1); err != nil {
		return err
	}
	if s0, _ := dex.SortTokens(t0, t1); s0 != t0 {
		return fmt.Errorf("pair not in canonical order: %w", oracle.ErrPairOrder)
	}
	if _, err := helpers.ValidateAddress(o.BaseFeed); err != nil {
		return fmt.Errorf("base_feed: %w", err)
	}
	if _, err := helpers.ValidateAddress(o.QuoteFeed); err != nil {
		return fmt.Errorf("quote_feed: %w", err)
	}
	if o.BaseStalenessSec <= 0 || o.QuoteStalenessSec <= 0 {
		return fmt.Errorf("staleness bounds must be positive")
	}
	return nil
}

// compile turns every rule into a registry registration.
func (b *Bundle) compile(fams map[dex.Protocol]dex.Family) ([]registry.Registration, error) {
	regs := make([]registry.Registration, 0, len(b.Rules))
	for i, r := range b.Rules {
		reg, err := r.compile(fams)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Target, err)
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (r RuleSpec) compile(fams map[dex.Protocol]dex.Family) (registry.Registration, error) {
	target, err := helpers.ValidateAddress(r.Target)
	if err != nil {
		return registry.Registration{}, err
	}

	forms := 0
	if r.Protocol != "" || r.Op != "" {
		forms++
	}
	if r.ERC20 != "" {
		forms++
	}
	if r.ERC721 != "" {
		forms++
	}
	if forms != 1 {
		return registry.Registration{}, fmt.Errorf("exactly one of protocol/op, erc20, erc721 must be set")
	}

	switch {
	case r.ERC20 != "":
		return r.compileERC20(target)
	case r.ERC721 != "":
		return r.compileERC721(target)
	default:
		return r.compileFamily(target, fams)
	}
}

func (r RuleSpec) compileFamily(target common.Address, fams map[dex.Protocol]dex.Family) (registry.Registration, error) {
	f, ok := fams[dex.Protocol(r.Protocol)]
	if !ok {
		return registry.Registration{}, fmt.Errorf("protocol %q not declared in bundle", r.Protocol)
	}
	op := dex.Op(r.Op)
	sig, ok := f.Signatures()[op]
	if !ok {
		return registry.Registration{}, fmt.Errorf("unknown op %q", r.Op)
	}

	var bps *uint64
	switch op {
	case dex.OpSwap:
		if r.DeviationBps != nil {
			return registry.Registration{}, fmt.Errorf("swap rules take slippage_bps, not deviation_bps")
		}
		if r.SlippageBps == nil {
			return registry.Registration{}, fmt.Errorf("slippage_bps is required")
		}
		if *r.SlippageBps >= 10000 {
			return registry.Registration{}, fmt.Errorf("slippage_bps %d: %w", *r.SlippageBps, policy.ErrSlippageTooHigh)
		}
		bps = r.SlippageBps
	default:
		if r.SlippageBps != nil {
			return registry.Registration{}, fmt.Errorf("position rules take deviation_bps, not slippage_bps")
		}
		if r.DeviationBps == nil {
			return registry.Registration{}, fmt.Errorf("deviation_bps is required (0 disables the price check)")
		}
		bps = r.DeviationBps
	}

	return registry.Registration{
		Target:    target,
		Selector:  dex.Keccak4(sig),
		Validator: firewall.ValidatorID(firewall.FamilyValidatorName(f.Protocol(), op)),
		Config:    policy.EncodeBpsConfig(*bps),
	}, nil
}

func (r RuleSpec) compileERC20(target common.Address) (registry.Registration, error) {
	var selector = selTransfer
	var name, anyName string
	switch r.ERC20 {
	case "transfer":
		name, anyName = firewall.NameERC20Transfer, firewall.NameERC20TransferAny
	case "approve":
		selector = selApprove
		name, anyName = firewall.NameERC20Approve, firewall.NameERC20ApproveAny
	default:
		return registry.Registration{}, fmt.Errorf("unknown erc20 op %q", r.ERC20)
	}

	if r.MaxAmount == "" {
		return registry.Registration{}, fmt.Errorf("max_amount is required")
	}
	maxAmount, ok := new(big.Int).SetString(r.MaxAmount, 10)
	if !ok || maxAmount.Sign() < 0 {
		return registry.Registration{}, fmt.Errorf("max_amount %q is not a decimal amount", r.MaxAmount)
	}

	allowed, err := r.allowList()
	if err != nil {
		return registry.Registration{}, err
	}

	if r.AllowAny != nil && *r.AllowAny {
		// Any counterparty, amount cap only.
		return registry.Registration{
			Target:    target,
			Selector:  selector,
			Validator: firewall.ValidatorID(anyName),
			Config:    policy.EncodeCapConfig(maxAmount),
		}, nil
	}

	cfg, err := policy.EncodeCappedListConfig(maxAmount, allowed)
	if err != nil {
		return registry.Registration{}, err
	}
	return registry.Registration{
		Target:    target,
		Selector:  selector,
		Validator: firewall.ValidatorID(name),
		Config:    cfg,
	}, nil
}

func (r RuleSpec) compileERC721(target common.Address) (registry.Registration, error) {
	if r.ERC721 != "approve" {
		return registry.Registration{}, fmt.Errorf("unknown erc721 op %q", r.ERC721)
	}
	if r.AllowAny != nil && *r.AllowAny {
		return registry.Registration{}, fmt.Errorf("erc721 rules have no allow_any variant; an unrestricted operator approval is no policy at all")
	}
	allowed, err := r.allowList()
	if err != nil {
		return registry.Registration{}, err
	}
	cfg, err := policy.EncodeListConfig(allowed)
	if err != nil {
		return registry.Registration{}, err
	}
	return registry.Registration{
		Target:    target,
		Selector:  selApprove,
		Validator: firewall.ValidatorID(firewall.NameERC721Approve),
		Config:    cfg,
	}, nil
}

// allowList parses the allow entries, enforcing that an empty list is an
// explicit deny-all (allow_any: false spelled out) and that a populated
// list never rides with allow_any: true.
func (r RuleSpec) allowList() ([]common.Address, error) {
	anySet := r.AllowAny != nil && *r.AllowAny
	if len(r.Allow) == 0 {
		if anySet {
			return nil, nil
		}
		if r.AllowAny == nil {
			return nil, fmt.Errorf("empty allow list: set allow_any: false to deny everyone, or allow_any: true to cap amounts only")
		}
		return nil, nil // explicit deny-all
	}
	if anySet {
		return nil, fmt.Errorf("allow list and allow_any: true contradict each other")
	}
	out := make([]common.Address, 0, len(r.Allow))
	for _, s := range r.Allow {
		a, err := helpers.ValidateAddress(s)
		if err != nil {
			return nil, fmt.Errorf("allow entry %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Apply loads the bundle's rules and oracle adapters into the live
// registries. gate may be nil on L1 deployments.
func (b *Bundle) Apply(ec ethereum.ContractCaller, gate *oracle.Gate, rules *registry.Registry, oracles *oracle.Registry) (map[dex.Protocol]dex.Family, error) {
	fams, err := b.Families()
	if err != nil {
		return nil, err
	}
	regs, err := b.compile(fams)
	if err != nil {
		return nil, err
	}
	rules.RegisterBatch(regs)

	for i, o := range b.Oracles {
		if err := o.validate(); err != nil {
			return nil, fmt.Errorf("oracle %d: %w", i, err)
		}
		base := oracle.NewFeed(ec, common.HexToAddress(o.BaseFeed))
		quote := oracle.NewFeed(ec, common.HexToAddress(o.QuoteFeed))
		adapter := oracle.NewBridgeAdapter(base, quote,
			time.Duration(o.BaseStalenessSec)*time.Second,
			time.Duration(o.QuoteStalenessSec)*time.Second,
			gate)
		oracles.Register(common.HexToAddress(o.Token0), common.HexToAddress(o.Token1), adapter)
	}

	telemetry.Infof("policy bundle applied: %d rules, %d oracle pairs, %d protocols",
		len(regs), len(b.Oracles), len(fams))
	return fams, nil
}
