package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/greentic-ai/greentic-provision/pkg/conformance"
)

func newConformanceCommand() *cobra.Command {
	var (
		packsDir   string
		reportPath string
		provider   string
		live       bool
		strictOps  bool
	)

	cmd := &cobra.Command{
		Use:   "conformance",
		Short: "Scan a directory of packs and report their conformance",
		Long: `Scans a directory of packs, running each through the Collect/Validate/Apply/
Summary pipeline in dry-run mode and checking its resulting plan against the
conformance invariants (plan-serialization determinism, secrets_patch
redaction, and, with --strict-ops, the op-schema policy's warn tier). Writes
a JSON report to --report and a per-pack text log under
target/conformance_logs, and exits non-zero if any pack failed.`,
		Example: `  greentic-provision conformance --packs ./packs --report ./report.json
  greentic-provision conformance --packs ./packs --report ./report.json \
      --provider github --strict-ops`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			driver := conformance.NewDriver(log.Logger)
			report, err := driver.Run(ctx, packsDir, reportPath, conformance.Options{
				Provider:  provider,
				StrictOps: strictOps,
				Live:      live,
			})
			if err != nil && !report.AnyFailed() {
				return fmt.Errorf("run conformance: %w", err)
			}

			for _, pack := range report.Packs {
				if pack.OK {
					log.Info().Str("pack", pack.Pack).Msg("conformance passed")
					continue
				}
				log.Error().Str("pack", pack.Pack).Strs("errors", pack.Errors).Msg("conformance failed")
			}

			fmt.Printf("Report written to %s (%d packs, %d failed)\n",
				reportPath, len(report.Packs), countFailed(report))

			return err
		},
	}

	cmd.Flags().StringVar(&packsDir, "packs", "", "directory containing packs to scan")
	cmd.Flags().StringVar(&reportPath, "report", "", "path to write the JSON conformance report")
	cmd.Flags().StringVar(&provider, "provider", "", "only scan packs whose directory or file stem equals this provider name")
	cmd.Flags().BoolVar(&live, "live", false, "accepted for compatibility; live mode is not implemented and every run stays dry-run")
	cmd.Flags().BoolVar(&strictOps, "strict-ops", false, "also fail packs on op-schema warnings, not just denials")
	cmd.MarkFlagRequired("packs")
	cmd.MarkFlagRequired("report")

	return cmd
}

func countFailed(report conformance.ConformanceReport) int {
	failed := 0
	for _, pack := range report.Packs {
		if !pack.OK {
			failed++
		}
	}
	return failed
}
