// Package execution turns validated envelopes into signed transactions
// against the on-chain executor module. It is the only component holding
// the session key; everything upstream deals in bytes and verdicts.
package execution

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/meltingclock/safeguard_v1/internal/bundle"
	"github.com/meltingclock/safeguard_v1/internal/helpers"
	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

// Config bounds what one forwarded transaction may cost.
type Config struct {
	GasBoostPercent int      // percentage added to the suggested gas price
	MaxGasPrice     *big.Int // hard ceiling in wei; nil disables the check
	GasLimit        uint64   // per-transaction gas limit
}

const defaultGasLimit = 1_500_000

type Executor struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	walletAddr common.Address
	module     common.Address
	chainID    *big.Int
	execABI    abi.ABI
	relay      *bundle.Relay // nil sends through the public mempool
	cfg        Config
}

// New builds the executor for one module address. relay may be nil.
func New(client *ethclient.Client, privateKey *ecdsa.PrivateKey, module common.Address, relay *bundle.Relay, cfg Config) (*Executor, error) {
	execABI, err := abi.JSON(strings.NewReader(ModuleABI))
	if err != nil {
		return nil, fmt.Errorf("parse executor ABI: %w", err)
	}
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = defaultGasLimit
	}
	return &Executor{
		client:     client,
		privateKey: privateKey,
		walletAddr: crypto.PubkeyToAddress(privateKey.PublicKey),
		module:     module,
		chainID:    chainID,
		execABI:    execABI,
		relay:      relay,
		cfg:        cfg,
	}, nil
}

// Forward wraps the envelope in an execBatch call, signs it, and submits
// it. Satisfies the firewall's Forwarder boundary.
func (ex *Executor) Forward(ctx context.Context, envelope []byte) (common.Hash, error) {
	data, err := ex.execABI.Pack("execBatch", envelope)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack execBatch: %w", err)
	}

	gasPrice, err := ex.gasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	// The wallet must cover gas at the limit, not the estimate; a
	// reverting batch still burns what it metered.
	balance, err := ex.client.BalanceAt(ctx, ex.walletAddr, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get balance: %w", err)
	}
	worstCase := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(ex.cfg.GasLimit))
	if balance.Cmp(worstCase) < 0 {
		return common.Hash{}, fmt.Errorf("insufficient balance for gas: have %s, worst case %s wei",
			balance, worstCase)
	}

	nonce, err := ex.client.PendingNonceAt(ctx, ex.walletAddr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}

	tx := types.NewTransaction(nonce, ex.module, big.NewInt(0), ex.cfg.GasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(ex.chainID), ex.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := ex.submit(ctx, signedTx); err != nil {
		return common.Hash{}, err
	}

	telemetry.Infof("[executor] batch forwarded: %d byte envelope, tx=%s",
		len(envelope), signedTx.Hash().Hex())
	return signedTx.Hash(), nil
}

// submit prefers the private relay and falls back to the public mempool
// when the relay refuses.
func (ex *Executor) submit(ctx context.Context, tx *types.Transaction) error {
	if ex.relay != nil {
		err := ex.relay.Submit(ctx, tx)
		if err == nil {
			return nil
		}
		telemetry.Warnf("[executor] relay submit failed, sending public: %v", err)
	}
	if err := ex.client.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	return nil
}

// gasPrice applies the configured boost and ceiling to the node's
// suggestion.
func (ex *Executor) gasPrice(ctx context.Context) (*big.Int, error) {
	gasPrice, err := ex.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	if ex.cfg.GasBoostPercent > 0 {
		boost := big.NewInt(100 + int64(ex.cfg.GasBoostPercent))
		gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, boost), big.NewInt(100))
	}
	if err := helpers.ValidateGasPrice(gasPrice, ex.cfg.MaxGasPrice); err != nil {
		return nil, err
	}
	telemetry.Debugf("[executor] gas price %s gwei after %d%% boost", helpers.WeiToGwei(gasPrice), ex.cfg.GasBoostPercent)
	return gasPrice, nil
}

// Wallet returns the forwarding address derived from the session key.
func (ex *Executor) Wallet() common.Address { return ex.walletAddr }

// Balance returns the forwarding wallet's ETH balance.
func (ex *Executor) Balance(ctx context.Context) (*big.Int, error) {
	return ex.client.BalanceAt(ctx, ex.walletAddr, nil)
}

// ModuleABI is the minimal executor module ABI: the single batch entrypoint.
// The mempool shadow screener parses the same descriptor to unwrap envelopes
// it sees in pending traffic.
const ModuleABI = `[
	{
		"inputs": [{"name": "data", "type": "bytes"}],
		"name": "execBatch",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`
