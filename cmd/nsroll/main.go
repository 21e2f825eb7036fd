// nsroll - name registry rollup node tools
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	rootCmd := &cobra.Command{
		Use:   "nsroll",
		Short: "Verifiable name registry rollup",
		Long: `nsroll batches name registry operations, proves every state transition,
aggregates the proofs into one statement per batch and settles it against a
reference ledger. Validator committees vote on governance decisions.`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (NSROLL_* env vars override it)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level, overrides the config")
	rootCmd.PersistentFlags().StringVar(&opts.debugModules, "debug", "", "Comma separated modules to debug, e.g. aggregator_mod,trie_mod")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "LevelDB directory, overrides the config (empty keeps state in memory)")

	rootCmd.AddCommand(
		newKeygenCmd(),
		newAggregateCmd(&opts),
		newBulkRootCmd(&opts),
		newVoteCmd(&opts),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "nsroll %s (commit %s, built %s)\n", Version, Commit, BuildTime)
			},
		},
	)
	return rootCmd
}
