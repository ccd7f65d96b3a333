package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync operation",
}

var syncAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Sync the local provider, then the cloud provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := GetApp()
		if err != nil {
			return err
		}
		ok, err := a.Orchestrator.SyncAllMedia(cmd.Context())
		return reportOutcome(cmd, "sync all", ok, err)
	},
}

var syncLocalCmd = &cobra.Command{
	Use:   "local",
	Short: "Sync the local provider only",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := GetApp()
		if err != nil {
			return err
		}
		ok, err := a.Orchestrator.SyncAllMediaFromLocalProvider(cmd.Context())
		return reportOutcome(cmd, "sync local", ok, err)
	},
}

var syncCloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Sync the active cloud provider only",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := GetApp()
		if err != nil {
			return err
		}
		ok, err := a.Orchestrator.SyncAllMediaFromCloudProvider(cmd.Context())
		return reportOutcome(cmd, "sync cloud", ok, err)
	},
}

var (
	syncAlbumLocal bool
)

var syncAlbumCmd = &cobra.Command{
	Use:   "album <albumId>",
	Short: "Sync one album's media",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := GetApp()
		if err != nil {
			return err
		}
		ok, err := a.Orchestrator.SyncAlbumMedia(cmd.Context(), args[0], syncAlbumLocal)
		return reportOutcome(cmd, "sync album", ok, err)
	},
}

var syncResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard every cached row and cursor for both providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := GetApp()
		if err != nil {
			return err
		}
		ok, err := a.Orchestrator.ResetAllMedia(cmd.Context())
		return reportOutcome(cmd, "sync reset", ok, err)
	},
}

func init() {
	syncAlbumCmd.Flags().BoolVar(&syncAlbumLocal, "local", false, "sync the album against the local provider instead of the cloud provider")

	syncCmd.AddCommand(syncAllCmd)
	syncCmd.AddCommand(syncLocalCmd)
	syncCmd.AddCommand(syncCloudCmd)
	syncCmd.AddCommand(syncAlbumCmd)
	syncCmd.AddCommand(syncResetCmd)
}

func reportOutcome(cmd *cobra.Command, label string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: did not complete (see logs)\n", label)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", label)
	return nil
}
