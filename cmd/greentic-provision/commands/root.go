package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var jsonOutput bool

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "greentic-provision",
		Short: "Provisioning engine for third-party integration packs",
		Long: `greentic-provision drives the lifecycle of third-party integration packs:
loading a pack's manifest, running its sandboxed wasm components through the
Collect/Validate/Apply/Summary pipeline, and either reporting the resulting
plan (dry-run) or applying it to config, secrets, subscription and install
stores.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newPackCommand())
	rootCmd.AddCommand(newDryRunCommand())
	rootCmd.AddCommand(newConformanceCommand())
	rootCmd.AddCommand(newApplyCommand())

	return rootCmd
}
