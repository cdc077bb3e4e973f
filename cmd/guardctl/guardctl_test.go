package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltingclock/safeguard_v1/internal/batch"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestSelector_KnownFourBytes(t *testing.T) {
	out, err := runCLI(t, "selector", "transfer(address,uint256)", "approve(address,uint256)")
	require.NoError(t, err)
	assert.Contains(t, out, "0xa9059cbb  transfer(address,uint256)")
	assert.Contains(t, out, "0x095ea7b3  approve(address,uint256)")

	_, err = runCLI(t, "selector", "transfer(address, uint256)")
	assert.ErrorContains(t, err, "whitespace")
}

func TestLint_AcceptsCleanBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - target: "0x1000000000000000000000000000000000000001"
    erc20: transfer
    max_amount: "1000"
    allow:
      - "0x5000000000000000000000000000000000000005"
`), 0o600))

	out, err := runCLI(t, "lint", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 rules")
}

func TestLint_RejectsBrokenBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - target: "0x1000000000000000000000000000000000000001"
    erc20: transfer
    max_amount: "1000"
`), 0o600))

	_, err := runCLI(t, "lint", path)
	assert.ErrorContains(t, err, "allow")
}

func TestDecode_ListsCalls(t *testing.T) {
	target := common.HexToAddress("0x1000000000000000000000000000000000000001")
	bare := common.HexToAddress("0x2000000000000000000000000000000000000002")
	envelope := batch.Encode([]batch.Call{
		{Target: target, Data: hexutil.MustDecode("0xa9059cbb")},
		{Target: bare},
	})

	out, err := runCLI(t, "decode", hexutil.Encode(envelope))
	require.NoError(t, err)
	assert.Contains(t, out, "2 calls")
	assert.Contains(t, out, target.Hex())
	assert.Contains(t, out, "0xa9059cbb")
	assert.Contains(t, out, "(no data)")

	_, err = runCLI(t, "decode", "0x01")
	assert.Error(t, err)
}

func TestScreen_ReportsVerdicts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/screen", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"req-1","verdict":"pass","calls":2}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, "screen", "--addr", srv.URL, "0xdead")
	require.NoError(t, err)
	assert.Contains(t, out, "pass: 2 calls, id req-1")

	reject := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"verdict":"reject","calls":1,"reason":"amount over cap"}`))
	}))
	defer reject.Close()

	_, err = runCLI(t, "screen", "--addr", reject.URL, "0xdead")
	assert.ErrorContains(t, err, "amount over cap")
}

func TestStatus_PrintsDaemonState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"account":"0xabc","uptime_sec":61,"paused":true,"forwarding":false,` +
			`"rules":3,"revision":7,"sequencer":"up",` +
			`"counters":{"batches_screened":9,"batches_rejected":2,"batches_forwarded":1}}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, "status", "--addr", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "0xabc")
	assert.Contains(t, out, "1m1s")
	assert.Contains(t, out, "paused      true")
	assert.Contains(t, out, "rules       3 (rev 7)")
	assert.Contains(t, out, "screened    9 (rejected 2, forwarded 1)")
}
