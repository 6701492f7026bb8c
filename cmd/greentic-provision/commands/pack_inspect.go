package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
)

func newPackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Inspect pack manifests",
	}
	cmd.AddCommand(newPackInspectCommand())
	return cmd
}

func newPackInspectCommand() *cobra.Command {
	var packPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Load a pack's manifest and print its provisioning descriptor",
		Long: `Resolves a pack (a directory or a .gtpack archive), loads and normalizes its
manifest, and prints the provisioning descriptor discovery derives from it —
the setup/requirements/subscriptions entry flows, whether the pack needs a
public base URL, and its declared capabilities.`,
		Example: `  greentic-provision pack inspect --pack ./packs/github-issues
  greentic-provision pack inspect --pack ./packs/github-issues.gtpack --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := provision.ResolvePackPath(packPath)
			if err != nil {
				return fmt.Errorf("resolve pack: %w", err)
			}
			defer resolved.Cleanup()

			manifest, err := provision.LoadManifest(resolved.Root)
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}

			descriptor, err := provision.DiscoverProvisioning(manifest)
			if err != nil {
				return fmt.Errorf("discover provisioning entry: %w", err)
			}

			if jsonOutput {
				data, err := json.MarshalIndent(descriptor, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal descriptor: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			log.Info().
				Str("pack_id", descriptor.PackID).
				Str("pack_version", descriptor.PackVersion).
				Msg("pack descriptor")
			fmt.Printf("pack_id:                %s\n", descriptor.PackID)
			fmt.Printf("pack_version:           %s\n", descriptor.PackVersion)
			fmt.Printf("setup_entry_flow:       %s\n", descriptor.SetupEntryFlow)
			fmt.Printf("requirements_flow:      %s\n", descriptor.RequirementsFlow)
			fmt.Printf("subscriptions_flow:     %s\n", descriptor.SubscriptionsFlow)
			fmt.Printf("requires_public_base_url: %t\n", descriptor.RequiresPublicBaseURL)
			fmt.Printf("outputs:                %v\n", descriptor.Outputs)
			return nil
		},
	}

	cmd.Flags().StringVar(&packPath, "pack", "", "path to the pack directory or .gtpack archive")
	cmd.MarkFlagRequired("pack")

	return cmd
}
