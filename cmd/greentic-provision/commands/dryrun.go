package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
)

func newDryRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Run a pack's pipeline without applying its plan",
	}
	cmd.AddCommand(newDryRunSetupCommand())
	return cmd
}

func newDryRunSetupCommand() *cobra.Command {
	var (
		packPath      string
		executorKind  string
		providerID    string
		installID     string
		publicBaseURL string
		answersPath   string
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Dry-run a pack's Collect/Validate/Apply/Summary pipeline",
		Long: `Resolves and loads a pack, then runs its full four-step pipeline in
DryRun mode, printing the accumulated plan without projecting it onto any
store. --executor noop runs the pipeline against a NoopExecutor (useful for
exercising the engine sequencing without a real component); --executor wasm
(the default) loads whichever components the pack ships and runs them under
the sandboxed wasm executor.`,
		Example: `  greentic-provision dry-run setup --pack ./packs/github-issues \
      --provider-id github --install-id acme-co --json

  greentic-provision dry-run setup --pack ./packs/github-issues \
      --executor noop --provider-id github --install-id acme-co`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			resolved, err := provision.ResolvePackPath(packPath)
			if err != nil {
				return fmt.Errorf("resolve pack: %w", err)
			}
			defer resolved.Cleanup()

			if _, err := provision.LoadManifest(resolved.Root); err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}

			answers := json.RawMessage("{}")
			if answersPath != "" {
				data, err := os.ReadFile(answersPath)
				if err != nil {
					return fmt.Errorf("read answers file: %w", err)
				}
				answers = json.RawMessage(data)
			}

			inputs := provision.ProvisionInputs{
				ProviderID: providerID,
				InstallID:  installID,
				Answers:    answers,
			}
			if publicBaseURL != "" {
				inputs.PublicBaseURL = &publicBaseURL
			}

			var executor provision.ProvisionExecutor
			switch executorKind {
			case "noop":
				executor = provision.NoopExecutor{}
			case "wasm":
				wasmExecutor, err := provision.NewExecutorForPack(ctx, resolved.Root, provision.DefaultExecutionLimits())
				if err != nil {
					return fmt.Errorf("build executor: %w", err)
				}
				defer wasmExecutor.Close(ctx)
				executor = wasmExecutor
			default:
				return fmt.Errorf("unknown executor kind %q (want noop or wasm)", executorKind)
			}

			// Run is a best-effort traversal: a step failure is folded
			// into that step's own error-envelope output rather than
			// aborting, so the returned error here is only ever the
			// defensive fallback for a misbehaving ProvisionExecutor. It
			// is logged, never treated as a CLI failure — the pipeline
			// always completes and its result is always worth printing.
			engine := provision.NewProvisionEngine(executor)
			result, err := engine.Run(ctx, provision.ModeDryRun, inputs)
			if err != nil {
				log.Error().Err(err).Msg("pipeline engine returned an unexpected error")
			}

			if jsonOutput {
				data, marshalErr := json.MarshalIndent(result, "", "  ")
				if marshalErr != nil {
					return fmt.Errorf("marshal result: %w", marshalErr)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Dry-run completed %d of %d steps.\n", len(result.StepResults), len(provision.Steps))
			fmt.Printf("Diagnostics: %d\n", len(result.Diagnostics))
			fmt.Printf("Plan notes: %d\n", len(result.Plan.Notes))
			fmt.Printf("Config keys: %v\n", result.Plan.ConfigPatch.Keys())
			fmt.Printf("Secret keys: %v\n", result.Plan.SecretsPatch.Set.Keys())
			return nil
		},
	}

	cmd.Flags().StringVar(&packPath, "pack", "", "path to the pack directory or .gtpack archive")
	cmd.Flags().StringVar(&executorKind, "executor", "wasm", "executor to run the pipeline with: noop or wasm")
	cmd.Flags().StringVar(&providerID, "provider-id", "", "provider id for this install")
	cmd.Flags().StringVar(&installID, "install-id", "", "install id for this install")
	cmd.Flags().StringVar(&publicBaseURL, "public-base-url", "", "public base URL, if the pack requires one")
	cmd.Flags().StringVar(&answersPath, "answers", "", "path to a JSON file of answers (default: empty object)")
	cmd.MarkFlagRequired("pack")
	cmd.MarkFlagRequired("provider-id")
	cmd.MarkFlagRequired("install-id")

	return cmd
}
