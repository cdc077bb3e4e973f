package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meltingclock/safeguard_v1/internal/dex"
)

var selectorCmd = &cobra.Command{
	Use:   "selector <signature>...",
	Short: "Derive 4-byte dispatch selectors from function signatures",
	Long: `Derive the keccak-based 4-byte selector for each canonical function
signature, the form rule keys and validator ids are built from.

Examples:
  guardctl selector 'transfer(address,uint256)'
  guardctl selector 'approve(address,uint256)' 'setApprovalForAll(address,bool)'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSelector,
}

func init() {
	rootCmd.AddCommand(selectorCmd)
}

func runSelector(cmd *cobra.Command, args []string) error {
	for _, sig := range args {
		if strings.ContainsAny(sig, " \t") {
			return fmt.Errorf("signature %q contains whitespace; write the canonical form, e.g. transfer(address,uint256)", sig)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", dex.Keccak4(sig), sig)
	}
	return nil
}
