package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var daemonAddr string

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Operator tooling for the safeguard firewall",
	Long: `guardctl is the operator's side door into the firewall: derive dispatch
selectors, lint policy bundles before they go live, decode batch envelopes
offline, and screen envelopes against a running daemon.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "http://127.0.0.1:8787", "daemon base URL")
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func daemonURL(path string) string {
	return strings.TrimRight(daemonAddr, "/") + path
}
