package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"
)

var screenCmd = &cobra.Command{
	Use:   "screen <hex-envelope>",
	Short: "Screen an envelope against a running daemon",
	Long: `Submit an envelope to the daemon's /v1/screen endpoint and report the
verdict. A rejection exits non-zero, so this slots into release pipelines.`,
	Args: cobra.ExactArgs(1),
	RunE: runScreen,
}

func init() {
	rootCmd.AddCommand(screenCmd)
}

func runScreen(cmd *cobra.Command, args []string) error {
	payload, err := sonnet.Marshal(map[string]string{"envelope": strings.TrimSpace(args[0])})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, daemonURL("/v1/screen"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var v struct {
		ID      string `json:"id"`
		Verdict string `json:"verdict"`
		Calls   int    `json:"calls"`
		Reason  string `json:"reason"`
		Error   string `json:"error"`
	}
	if err := sonnet.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("daemon answered %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if v.Error != "" {
		return fmt.Errorf("daemon: %s", v.Error)
	}
	if v.Verdict != "pass" {
		return fmt.Errorf("reject (%d calls): %s", v.Calls, v.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pass: %d calls, id %s\n", v.Calls, v.ID)
	return nil
}
