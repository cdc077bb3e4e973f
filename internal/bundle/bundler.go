// Package bundle submits signed transactions through a private relay so
// forwarded batches never sit in the public mempool. Speaks the
// eth_sendBundle / eth_callBundle JSON-RPC dialect with the signed
// identity header relays use for reputation.
package bundle

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sugawarayuuta/sonnet"

	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

// submitWindow is how many consecutive blocks each transaction is offered
// to. Relays drop bundles whose target block has passed.
const submitWindow = 3

type Relay struct {
	client      *ethclient.Client
	identityKey *ecdsa.PrivateKey
	endpoint    string
}

type BundleResponse struct {
	BundleHash string `json:"bundleHash"`
}

type SimulationResponse struct {
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	StateBlockNumber uint64 `json:"stateBlockNumber"`
	TotalGasUsed     uint64 `json:"totalGasUsed"`
	Results          []struct {
		TxHash  string `json:"txHash"`
		GasUsed uint64 `json:"gasUsed"`
		Error   string `json:"error,omitempty"`
	} `json:"results"`
}

// NewRelay builds a relay client. identityKey signs the reputation header;
// a fresh key is generated when nil, trading accumulated reputation for an
// unlinkable identity each boot. endpoint may be empty on mainnet only.
func NewRelay(client *ethclient.Client, identityKey *ecdsa.PrivateKey, chainID *big.Int, endpoint string) (*Relay, error) {
	if identityKey == nil {
		k, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate relay identity: %w", err)
		}
		identityKey = k
	}
	if endpoint == "" {
		if chainID == nil || chainID.Int64() != 1 {
			return nil, fmt.Errorf("relay endpoint required for chain %v", chainID)
		}
		endpoint = "https://relay.flashbots.net"
	}
	return &Relay{
		client:      client,
		identityKey: identityKey,
		endpoint:    endpoint,
	}, nil
}

// Identity returns the address the reputation header is signed with.
func (r *Relay) Identity() string {
	return crypto.PubkeyToAddress(r.identityKey.PublicKey).Hex()
}

// Submit offers the signed transaction to the relay for each of the next
// submitWindow blocks. Succeeds if any submission is accepted.
func (r *Relay) Submit(ctx context.Context, tx *types.Transaction) error {
	current, err := r.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get block number: %w", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal tx: %w", err)
	}
	encoded := hexutil.Encode(raw)

	accepted := 0
	var lastErr error
	for i := uint64(1); i <= submitWindow; i++ {
		block := new(big.Int).SetUint64(current + i)
		params := map[string]interface{}{
			"txs":         []string{encoded},
			"blockNumber": hexutil.EncodeBig(block),
		}
		result, err := r.call(ctx, "eth_sendBundle", []interface{}{params})
		if err != nil {
			lastErr = err
			telemetry.Warnf("[relay] submit for block %d: %v", current+i, err)
			continue
		}
		accepted++
		var resp BundleResponse
		if err := sonnet.Unmarshal(result, &resp); err == nil && resp.BundleHash != "" {
			telemetry.Debugf("[relay] bundle %s queued for block %d", resp.BundleHash, current+i)
		}
	}
	if accepted == 0 {
		return fmt.Errorf("relay rejected all %d submissions: %w", submitWindow, lastErr)
	}
	telemetry.Infof("[relay] tx %s offered for blocks %d-%d (%d accepted)",
		tx.Hash().Hex(), current+1, current+submitWindow, accepted)
	return nil
}

// Simulate dry-runs the transaction against the next block's state.
func (r *Relay) Simulate(ctx context.Context, tx *types.Transaction) (*SimulationResponse, error) {
	current, err := r.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get block number: %w", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal tx: %w", err)
	}

	params := map[string]interface{}{
		"txs":              []string{hexutil.Encode(raw)},
		"blockNumber":      hexutil.EncodeBig(new(big.Int).SetUint64(current + 1)),
		"stateBlockNumber": "latest",
	}
	result, err := r.call(ctx, "eth_callBundle", []interface{}{params})
	if err != nil {
		return nil, fmt.Errorf("simulate bundle: %w", err)
	}

	var resp SimulationResponse
	if err := sonnet.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse simulation: %w", err)
	}
	return &resp, nil
}

// call makes one authenticated JSON-RPC call to the relay.
func (r *Relay) call(ctx context.Context, method string, params []interface{}) ([]byte, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}
	body, err := sonnet.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	signature, err := r.sign(body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flashbots-Signature", signature)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := sonnet.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("relay error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// sign builds the identity header: keccak of the body signed by the
// identity key, formatted address:signature.
func (r *Relay) sign(body []byte) (string, error) {
	sig, err := crypto.Sign(crypto.Keccak256Hash(body).Bytes(), r.identityKey)
	if err != nil {
		return "", err
	}
	addr := crypto.PubkeyToAddress(r.identityKey.PublicKey)
	return fmt.Sprintf("%s:0x%s", addr.Hex(), hex.EncodeToString(sig)), nil
}
