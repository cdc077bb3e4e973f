package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/meltingclock/safeguard_v1/internal/helpers"
)

// Config is the daemon configuration. YAML keys double as the environment
// variable names; any variable set in the environment wins over the file.
type Config struct {
	RPC_URL  string `yaml:"RPC_URL" env:"RPC_URL"`
	CHAIN_ID int64  `yaml:"CHAIN_ID" env:"CHAIN_ID"`

	// Pending-tx subscription endpoint; empty disables shadow screening.
	WSS_URL string `yaml:"WSS_URL" env:"WSS_URL"`

	// The smart account whose batches are screened, and the executor module
	// validated batches are forwarded to.
	ACCOUNT_ADDRESS  string `yaml:"ACCOUNT_ADDRESS" env:"ACCOUNT_ADDRESS"`
	EXECUTOR_ADDRESS string `yaml:"EXECUTOR_ADDRESS" env:"EXECUTOR_ADDRESS"`

	// secrets kept in YAML or env (never via telegram)
	PRIVATE_KEY  string `yaml:"PRIVATE_KEY" env:"PRIVATE_KEY"`
	IDENTITY_KEY string `yaml:"IDENTITY_KEY" env:"IDENTITY_KEY"`

	// Policy bundle: rules, oracle pairs, protocol managers.
	POLICY_BUNDLE string `yaml:"POLICY_BUNDLE" env:"POLICY_BUNDLE"`

	// Screening API.
	LISTEN_ADDR string `yaml:"LISTEN_ADDR" env:"LISTEN_ADDR"`
	ADMIN_TOKEN string `yaml:"ADMIN_TOKEN" env:"ADMIN_TOKEN"`

	// Audit journal (sqlite file; empty disables journaling).
	AUDIT_DB string `yaml:"AUDIT_DB" env:"AUDIT_DB"`

	// Guardian channel.
	TELEGRAM_TOKEN   string `yaml:"TELEGRAM_TOKEN" env:"TELEGRAM_TOKEN"`
	TELEGRAM_CHAT_ID int64  `yaml:"TELEGRAM_CHAT_ID" env:"TELEGRAM_CHAT_ID"`

	// Forwarding. Screen-only mode when disabled.
	FORWARD_ENABLED    bool   `yaml:"FORWARD_ENABLED" env:"FORWARD_ENABLED"`
	RELAY_URL          string `yaml:"RELAY_URL" env:"RELAY_URL"`
	MAX_GAS_PRICE_GWEI string `yaml:"MAX_GAS_PRICE_GWEI" env:"MAX_GAS_PRICE_GWEI"`
	GAS_BOOST_PERCENT  int    `yaml:"GAS_BOOST_PERCENT" env:"GAS_BOOST_PERCENT"`
	GAS_LIMIT          uint64 `yaml:"GAS_LIMIT" env:"GAS_LIMIT"`

	// L2 sequencer gate: optional uptime feed plus recovery grace period.
	SEQUENCER_FEED      string `yaml:"SEQUENCER_FEED" env:"SEQUENCER_FEED"`
	SEQUENCER_GRACE_SEC int64  `yaml:"SEQUENCER_GRACE_SEC" env:"SEQUENCER_GRACE_SEC"`

	DEBUG bool `yaml:"DEBUG" env:"DEBUG"`
}

const DefaultPath = "config.yml"

func Default() *Config {
	return &Config{
		RPC_URL:  "",
		CHAIN_ID: 8453,
		WSS_URL:  "",

		ACCOUNT_ADDRESS:  "",
		EXECUTOR_ADDRESS: "",
		PRIVATE_KEY:      "",
		IDENTITY_KEY:     "",

		POLICY_BUNDLE: "policy.yml",

		LISTEN_ADDR: ":8787",
		ADMIN_TOKEN: "",

		AUDIT_DB: "safeguard.db",

		TELEGRAM_TOKEN:   "",
		TELEGRAM_CHAT_ID: 0,

		FORWARD_ENABLED:    false, // start in screen-only mode
		RELAY_URL:          "",
		MAX_GAS_PRICE_GWEI: "100",
		GAS_BOOST_PERCENT:  10,
		GAS_LIMIT:          0, // 0 picks the executor default

		SEQUENCER_FEED:      "",
		SEQUENCER_GRACE_SEC: 3600,

		DEBUG: true,
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	// create if missing
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.RPC_URL == "" {
		return fmt.Errorf("RPC_URL is required (set in config.yml or RPC_URL env)")
	}
	if c.ACCOUNT_ADDRESS == "" || !common.IsHexAddress(c.ACCOUNT_ADDRESS) {
		return fmt.Errorf("ACCOUNT_ADDRESS must be a hex address, got %q", c.ACCOUNT_ADDRESS)
	}
	if c.FORWARD_ENABLED {
		if c.EXECUTOR_ADDRESS == "" || !common.IsHexAddress(c.EXECUTOR_ADDRESS) {
			return fmt.Errorf("EXECUTOR_ADDRESS must be a hex address when forwarding is enabled")
		}
		if c.PRIVATE_KEY == "" {
			return fmt.Errorf("PRIVATE_KEY is required when forwarding is enabled")
		}
	}
	if c.SEQUENCER_FEED != "" && !common.IsHexAddress(c.SEQUENCER_FEED) {
		return fmt.Errorf("SEQUENCER_FEED must be a hex address, got %q", c.SEQUENCER_FEED)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

// Account returns the guarded smart account address.
func (c *Config) Account() common.Address {
	return common.HexToAddress(c.ACCOUNT_ADDRESS)
}

// Executor returns the executor module address.
func (c *Config) Executor() common.Address {
	return common.HexToAddress(c.EXECUTOR_ADDRESS)
}

// MaxGasPriceWei parses the configured gas price ceiling. Fractional gwei
// is accepted.
func (c *Config) MaxGasPriceWei() (*big.Int, error) {
	wei, err := helpers.GweiToWei(c.MAX_GAS_PRICE_GWEI)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_GAS_PRICE_GWEI: %w", err)
	}
	return wei, nil
}
