package bundle

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nodeStub answers the one node RPC the relay needs.
type nodeStub struct{}

func (nodeStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	var result any
	switch req.Method {
	case "eth_blockNumber":
		result = "0x64"
	case "eth_chainId":
		result = "0x1"
	default:
		result = "0x0"
	}
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

// relayStub captures authenticated bundle submissions.
type relayStub struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []string
	methods []string
	blocks  []string
	fail    bool
}

func (s *relayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params []struct {
			BlockNumber string `json:"blockNumber"`
		} `json:"params"`
	}
	json.Unmarshal(body, &req)

	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	s.headers = append(s.headers, r.Header.Get("X-Flashbots-Signature"))
	s.methods = append(s.methods, req.Method)
	if len(req.Params) > 0 {
		s.blocks = append(s.blocks, req.Params[0].BlockNumber)
	}
	s.mu.Unlock()

	if s.fail {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32000, "message": "bundle refused"},
		})
		return
	}
	var result any
	switch req.Method {
	case "eth_sendBundle":
		result = map[string]string{"bundleHash": "0xfeed"}
	case "eth_callBundle":
		result = map[string]any{
			"success":          true,
			"stateBlockNumber": 100,
			"totalGasUsed":     21000,
			"results":          []map[string]any{{"txHash": "0x01", "gasUsed": 21000}},
		}
	}
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func signedTestTx(t *testing.T) *types.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx := types.NewTransaction(0, common.HexToAddress("0xec"), big.NewInt(0), 21000, big.NewInt(1_000_000_000), nil)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(1)), key)
	require.NoError(t, err)
	return signed
}

func newTestRelay(t *testing.T, rs *relayStub) *Relay {
	t.Helper()
	node := httptest.NewServer(nodeStub{})
	t.Cleanup(node.Close)
	relayServer := httptest.NewServer(rs)
	t.Cleanup(relayServer.Close)

	client, err := ethclient.Dial(node.URL)
	require.NoError(t, err)

	relay, err := NewRelay(client, nil, big.NewInt(1), relayServer.URL)
	require.NoError(t, err)
	return relay
}

func TestSubmit_OffersWindowOfBlocks(t *testing.T) {
	rs := &relayStub{}
	relay := newTestRelay(t, rs)

	require.NoError(t, relay.Submit(context.Background(), signedTestTx(t)))

	require.Len(t, rs.methods, 3)
	for _, m := range rs.methods {
		assert.Equal(t, "eth_sendBundle", m)
	}
	// Node reports block 0x64; submissions target the next three.
	assert.Equal(t, []string{"0x65", "0x66", "0x67"}, rs.blocks)
}

func TestSubmit_SignsIdentityHeader(t *testing.T) {
	rs := &relayStub{}
	relay := newTestRelay(t, rs)

	require.NoError(t, relay.Submit(context.Background(), signedTestTx(t)))
	require.NotEmpty(t, rs.headers)

	parts := strings.SplitN(rs.headers[0], ":", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, relay.Identity(), parts[0])

	sig := hexutil.MustDecode(parts[1])
	pub, err := crypto.SigToPub(crypto.Keccak256Hash(rs.bodies[0]).Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, relay.Identity(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestSubmit_AllRejected(t *testing.T) {
	rs := &relayStub{fail: true}
	relay := newTestRelay(t, rs)

	err := relay.Submit(context.Background(), signedTestTx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected all 3")
	assert.Contains(t, err.Error(), "bundle refused")
}

func TestSimulate_ParsesRelayVerdict(t *testing.T) {
	rs := &relayStub{}
	relay := newTestRelay(t, rs)

	sim, err := relay.Simulate(context.Background(), signedTestTx(t))
	require.NoError(t, err)
	assert.True(t, sim.Success)
	assert.Equal(t, uint64(21000), sim.TotalGasUsed)
	require.Len(t, sim.Results, 1)
	assert.Equal(t, "0x01", sim.Results[0].TxHash)
	assert.Equal(t, []string{"eth_callBundle"}, rs.methods)
}

func TestNewRelay_EndpointRules(t *testing.T) {
	_, err := NewRelay(nil, nil, big.NewInt(8453), "")
	require.Error(t, err, "no default relay off mainnet")

	relay, err := NewRelay(nil, nil, big.NewInt(1), "")
	require.NoError(t, err)
	assert.Equal(t, "https://relay.flashbots.net", relay.endpoint)
	assert.True(t, common.IsHexAddress(relay.Identity()), "generated identity must be an address")
}
