package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/meltingclock/safeguard_v1/internal/batch"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex-envelope>",
	Short: "Decode a batch envelope offline",
	Long: `Walk a packed batch envelope and list its sub-calls. A structurally
invalid envelope fails with the same error the daemon would reject it with.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	raw, err := hexutil.Decode(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("envelope: %w", err)
	}
	calls, err := batch.Decode(raw)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d calls, %d bytes\n", len(calls), len(raw))
	for i, c := range calls {
		sel := "(no data)"
		if len(c.Data) >= 4 {
			sel = hexutil.Encode(c.Data[:4])
		}
		fmt.Fprintf(out, "%3d  %s  %s  %d byte data\n", i, c.Target.Hex(), sel, len(c.Data))
	}
	return nil
}
