package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
	"github.com/greentic-ai/greentic-provision/pkg/stores"
)

func newApplyCommand() *cobra.Command {
	var (
		packPath    string
		providerID  string
		installID   string
		mode        string
		storeKind   string
		storePath   string
		answersPath string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Run a pack's pipeline and project the resulting plan onto a store",
		Long: `Resolves and loads a pack, runs its full pipeline, and projects the
resulting plan onto a config/secrets/install store backend. --mode dry-run
runs the same projection logic as apply but writes nothing; --mode apply
persists config, secrets, subscription and oauth state.`,
		Example: `  greentic-provision apply --pack ./packs/github-issues \
      --provider-id github --install-id acme-co --mode dry-run --store memory

  greentic-provision apply --pack ./packs/github-issues \
      --provider-id github --install-id acme-co --mode apply --store sqlite \
      --store-path ./greentic-provision.db`,
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

			var provisionMode provision.ProvisionMode
			switch mode {
			case "dry-run":
				provisionMode = provision.ModeDryRun
			case "apply":
				provisionMode = provision.ModeInstall
			default:
				return fmt.Errorf("unknown mode %q (want dry-run or apply)", mode)
			}

			executor, err := provision.NewExecutorForPack(ctx, resolved.Root, provision.DefaultExecutionLimits())
			if err != nil {
				return fmt.Errorf("build executor: %w", err)
			}
			defer executor.Close(ctx)

			engine := provision.NewProvisionEngine(executor)
			result, err := engine.Run(ctx, provisionMode, inputs)
			if err != nil {
				log.Error().Err(err).Msg("pipeline failed partway through")
				return err
			}

			applier, closeStore, err := buildApplier(ctx, storeKind, storePath)
			if err != nil {
				return fmt.Errorf("build store: %w", err)
			}
			if closeStore != nil {
				defer closeStore()
			}

			report, err := applier.Apply(ctx, result, inputs, provisionMode)
			if err != nil {
				return fmt.Errorf("apply plan: %w", err)
			}

			if jsonOutput {
				data, marshalErr := json.MarshalIndent(report, "", "  ")
				if marshalErr != nil {
					return fmt.Errorf("marshal report: %w", marshalErr)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("mode:            %s\n", mode)
			fmt.Printf("config namespace: %s\n", report.ConfigNamespace)
			fmt.Printf("config changes:  %d\n", len(report.ConfigChanges))
			fmt.Printf("secrets set:     %d\n", len(report.SecretSetKeys))
			fmt.Printf("secrets deleted: %d\n", len(report.SecretDeletedKeys))
			fmt.Printf("subscriptions:   %d\n", len(report.Install.Subscriptions))
			return nil
		},
	}

	cmd.Flags().StringVar(&packPath, "pack", "", "path to the pack directory or .gtpack archive")
	cmd.Flags().StringVar(&providerID, "provider-id", "", "provider id for this install")
	cmd.Flags().StringVar(&installID, "install-id", "", "install id for this install")
	cmd.Flags().StringVar(&mode, "mode", "dry-run", "dry-run or apply")
	cmd.Flags().StringVar(&storeKind, "store", "memory", "store backend to use: memory, file, or sqlite")
	cmd.Flags().StringVar(&storePath, "store-path", "", "path for file/sqlite store backends")
	cmd.Flags().StringVar(&answersPath, "answers", "", "path to a JSON file of answers (default: empty object)")
	cmd.MarkFlagRequired("pack")
	cmd.MarkFlagRequired("provider-id")
	cmd.MarkFlagRequired("install-id")

	return cmd
}

// buildApplier constructs a ProvisionApplier backed by the requested store
// kind. For "file", only install state is file-backed: no file-backed
// config/secrets store exists (see pkg/stores), so config and secrets fall
// back to in-memory stores even under --store file.
func buildApplier(ctx context.Context, storeKind, storePath string) (*provision.ProvisionApplier, func(), error) {
	switch storeKind {
	case "memory":
		applier := provision.NewProvisionApplier(
			stores.NewInMemoryConfigStore(),
			stores.NewInMemorySecretsStore(),
			nil,
			stores.NewInMemoryInstallStore(),
		)
		return applier, nil, nil

	case "file":
		if storePath == "" {
			return nil, nil, fmt.Errorf("--store-path is required for --store file")
		}
		installStore, err := stores.NewFileInstallStore(storePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open file install store: %w", err)
		}
		applier := provision.NewProvisionApplier(
			stores.NewInMemoryConfigStore(),
			stores.NewInMemorySecretsStore(),
			nil,
			installStore,
		)
		return applier, nil, nil

	case "sqlite":
		if storePath == "" {
			return nil, nil, fmt.Errorf("--store-path is required for --store sqlite")
		}
		db, err := stores.Open(ctx, stores.Config{Path: storePath})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate sqlite database: %w", err)
		}
		applier := provision.NewProvisionApplier(
			stores.NewSQLiteConfigStore(db),
			stores.NewSQLiteSecretsStore(db),
			nil,
			stores.NewSQLiteInstallStore(db),
		)
		return applier, func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store kind %q (want memory, file, or sqlite)", storeKind)
	}
}
