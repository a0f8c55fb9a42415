package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "findsim",
		Short: "Find websites similar to a given site",
		Long: `findsim discovers hosts that run the same site, template or product as a
given website.

It fetches the target, extracts fingerprints (favicon and asset hashes,
titles, response headers, custom markers), filters out generic components
with a language model, compiles the distinctive fingerprints into FOFA
queries and merges the paginated results into a deduplicated host list.

Credentials are read from the configuration file or from the
FINDSIM_LLM_API_KEY and FINDSIM_SEARCH_API_KEY environment variables.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")

	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewCompareCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
