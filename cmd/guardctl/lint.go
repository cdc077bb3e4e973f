package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meltingclock/safeguard_v1/internal/policyfile"
)

var lintCmd = &cobra.Command{
	Use:   "lint [bundle]",
	Short: "Validate a policy bundle without touching a daemon",
	Long: `Load and compile a policy bundle the exact way the daemon does at boot.
A bundle that lints clean will also apply clean.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLint,
}

func init() {
	rootCmd.AddCommand(lintCmd)
}

func runLint(cmd *cobra.Command, args []string) error {
	path := "policy.yml"
	if len(args) == 1 {
		path = args[0]
	}
	b, err := policyfile.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules, %d oracle pairs, %d protocols\n",
		path, len(b.Rules), len(b.Oracles), len(b.Protocols))
	return nil
}
