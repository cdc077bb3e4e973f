package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"

	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running daemon's state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, daemonURL("/v1/status"), nil)
	if err != nil {
		return err
	}
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
		Account    string             `json:"account"`
		UptimeSec  int64              `json:"uptime_sec"`
		Paused     bool               `json:"paused"`
		Forwarding bool               `json:"forwarding"`
		Rules      int                `json:"rules"`
		Revision   uint64             `json:"revision"`
		Sequencer  string             `json:"sequencer"`
		Counters   telemetry.Snapshot `json:"counters"`
	}
	if err := sonnet.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("daemon answered %d: %s", resp.StatusCode, body)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "account     %s\n", v.Account)
	fmt.Fprintf(out, "uptime      %s\n", (time.Duration(v.UptimeSec) * time.Second).String())
	fmt.Fprintf(out, "paused      %v\n", v.Paused)
	fmt.Fprintf(out, "forwarding  %v\n", v.Forwarding)
	fmt.Fprintf(out, "rules       %d (rev %d)\n", v.Rules, v.Revision)
	if v.Sequencer != "" {
		fmt.Fprintf(out, "sequencer   %s\n", v.Sequencer)
	}
	fmt.Fprintf(out, "screened    %d (rejected %d, forwarded %d)\n",
		v.Counters.BatchesScreened, v.Counters.BatchesRejected, v.Counters.BatchesForwarded)
	return nil
}
