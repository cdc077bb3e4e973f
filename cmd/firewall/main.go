package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/meltingclock/safeguard_v1/internal/audit"
	"github.com/meltingclock/safeguard_v1/internal/bundle"
	"github.com/meltingclock/safeguard_v1/internal/config"
	"github.com/meltingclock/safeguard_v1/internal/dex"
	execution "github.com/meltingclock/safeguard_v1/internal/executor"
	"github.com/meltingclock/safeguard_v1/internal/firewall"
	"github.com/meltingclock/safeguard_v1/internal/helpers"
	"github.com/meltingclock/safeguard_v1/internal/mempool"
	"github.com/meltingclock/safeguard_v1/internal/oracle"
	"github.com/meltingclock/safeguard_v1/internal/policy"
	"github.com/meltingclock/safeguard_v1/internal/policyfile"
	"github.com/meltingclock/safeguard_v1/internal/registry"
	"github.com/meltingclock/safeguard_v1/internal/server"
	"github.com/meltingclock/safeguard_v1/internal/telegram"
	"github.com/meltingclock/safeguard_v1/internal/telemetry"
	"github.com/meltingclock/safeguard_v1/internal/tokens"
)

func main() {
	telemetry.Start()
	defer telemetry.Stop()

	// Ctrl-C / SIGTERM handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig(ctx, config.DefaultPath)
	if cfg == nil {
		return // shutdown requested while waiting
	}
	telemetry.EnableDebug(cfg.DEBUG)

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("firewall: %v", err)
	}
}

// loadConfig blocks until the config file holds something runnable. The
// daemon ships before the operator has an RPC endpoint, so first boot waits
// for the file to be filled in instead of crash-looping under a supervisor.
func loadConfig(ctx context.Context, path string) *config.Config {
	for {
		select {
		case <-ctx.Done():
			telemetry.Infof("Shutting down...")
			return nil
		default:
		}

		cfg, err := config.Load(path)
		if err != nil {
			log.Printf("Config load error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		if cfg.RPC_URL == "" {
			log.Println("⏳ Waiting for RPC endpoint...")
			log.Printf("📝 Please add RPC_URL to %s\n", path)
			if waitForEdit(ctx, path, "RPC_URL") {
				continue
			}
			return nil
		}

		if err := cfg.Validate(); err != nil {
			log.Printf("Config validation: %v", err)
			if waitForEdit(ctx, path, "") {
				continue
			}
			return nil
		}
		return cfg
	}
}

// waitForEdit monitors the config file for changes.
func waitForEdit(ctx context.Context, path, envVar string) bool {
	initialInfo, err := os.Stat(path)
	if err != nil {
		_ = config.Save(path, config.Default())
		initialInfo, _ = os.Stat(path)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			currentInfo, err := os.Stat(path)
			if err != nil {
				continue
			}
			if currentInfo.ModTime().After(initialInfo.ModTime()) {
				telemetry.Infof("config file changed, reloading")
				return true
			}
			if envVar != "" && os.Getenv(envVar) != "" {
				telemetry.Infof("%s found in environment", envVar)
				return true
			}
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	client, err := ethclient.DialContext(ctx, cfg.RPC_URL)
	if err != nil {
		return fmt.Errorf("rpc dial: %w", err)
	}
	defer client.Close()

	// The gate always exists so the guardian can flip the manual flag; an
	// uptime feed is wired in only when the deployment has one.
	gate := oracle.NewGate(nil, 0)
	if cfg.SEQUENCER_FEED != "" {
		feedAddr, err := helpers.ValidateAddress(cfg.SEQUENCER_FEED)
		if err != nil {
			return fmt.Errorf("SEQUENCER_FEED: %w", err)
		}
		grace := time.Duration(cfg.SEQUENCER_GRACE_SEC) * time.Second
		gate = oracle.NewGate(oracle.NewFeed(client, feedAddr), grace)
	}

	rules := registry.New()
	oracles := oracle.NewRegistry()

	// Without a bundle the registry starts empty, which rejects everything:
	// rules then come in over the admin API.
	var families map[dex.Protocol]dex.Family
	if _, err := os.Stat(cfg.POLICY_BUNDLE); os.IsNotExist(err) {
		telemetry.Warnf("policy bundle %s not found; starting with an empty rule set", cfg.POLICY_BUNDLE)
	} else {
		pol, err := policyfile.Load(cfg.POLICY_BUNDLE)
		if err != nil {
			return fmt.Errorf("policy bundle: %w", err)
		}
		families, err = pol.Apply(client, gate, rules, oracles)
		if err != nil {
			return fmt.Errorf("policy bundle: %w", err)
		}
	}

	env := &policy.Env{Chain: client, Oracles: oracles, Tokens: tokens.NewCache(client)}

	var journal *audit.Journal
	if cfg.AUDIT_DB != "" {
		journal, err = audit.Open(cfg.AUDIT_DB)
		if err != nil {
			return fmt.Errorf("audit journal: %w", err)
		}
		defer journal.Close()
	}

	var fwd firewall.Forwarder
	if cfg.FORWARD_ENABLED {
		ex, err := buildExecutor(ctx, cfg, client)
		if err != nil {
			return fmt.Errorf("executor: %w", err)
		}
		fwd = ex
	} else {
		telemetry.Infof("screen-only mode: FORWARD_ENABLED is false")
	}

	engine := firewall.New(env, rules, cfg.Account(), families, fwd)
	srv := server.New(engine, journal, gate, cfg.ADMIN_TOKEN)

	var ctrl *telegram.Controller
	if cfg.TELEGRAM_TOKEN != "" {
		ctrl, err = telegram.NewController(cfg, config.DefaultPath, engine, journal, gate)
		if err != nil {
			return fmt.Errorf("telegram init: %w", err)
		}
		srv.SetAlerter(ctrl)
		go func() {
			if err := ctrl.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				telemetry.Errorf("[telegram] controller: %v", err)
			}
		}()
	}

	if cfg.WSS_URL != "" {
		shadow, err := mempool.NewShadow(engine, journal, cfg.Executor(), alertFunc(ctrl))
		if err != nil {
			return fmt.Errorf("shadow screening: %w", err)
		}
		watcher := mempool.NewWatcher(cfg.WSS_URL, cfg.Executor(), shadow.OnTx)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("mempool watcher: %w", err)
		}
		defer watcher.Wait()
	}

	httpSrv := &http.Server{
		Addr:              cfg.LISTEN_ADDR,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		telemetry.Infof("listening on %s, account %s", cfg.LISTEN_ADDR, cfg.Account().Hex())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	telemetry.Infof("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func buildExecutor(ctx context.Context, cfg *config.Config, client *ethclient.Client) (*execution.Executor, error) {
	key, wallet, err := helpers.ValidatePrivateKey(cfg.PRIVATE_KEY)
	if err != nil {
		return nil, fmt.Errorf("PRIVATE_KEY: %w", err)
	}
	maxGas, err := cfg.MaxGasPriceWei()
	if err != nil {
		return nil, err
	}

	var relay *bundle.Relay
	if cfg.RELAY_URL != "" || cfg.CHAIN_ID == 1 {
		var identity *ecdsa.PrivateKey
		if cfg.IDENTITY_KEY != "" {
			identity, _, err = helpers.ValidatePrivateKey(cfg.IDENTITY_KEY)
			if err != nil {
				return nil, fmt.Errorf("IDENTITY_KEY: %w", err)
			}
		}
		relay, err = bundle.NewRelay(client, identity, big.NewInt(cfg.CHAIN_ID), cfg.RELAY_URL)
		if err != nil {
			return nil, err
		}
		telemetry.Infof("[relay] submitting as %s", relay.Identity())
	}

	ex, err := execution.New(client, key, cfg.Executor(), relay, execution.Config{
		GasBoostPercent: cfg.GAS_BOOST_PERCENT,
		MaxGasPrice:     maxGas,
		GasLimit:        cfg.GAS_LIMIT,
	})
	if err != nil {
		return nil, err
	}
	telemetry.Infof("[executor] forwarding from %s to module %s", wallet.Hex(), cfg.Executor().Hex())
	if bal, err := ex.Balance(ctx); err == nil {
		telemetry.Infof("[executor] wallet balance %s ETH", helpers.FormatTokenAmount(bal, 18))
	}
	return ex, nil
}

func alertFunc(ctrl *telegram.Controller) func(string) {
	if ctrl == nil {
		return nil
	}
	return ctrl.Alert
}
