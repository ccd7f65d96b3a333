package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Inspect or change the active cloud provider",
}

var providerIgnoreAllowlist bool

var providerSetCmd = &cobra.Command{
	Use:   "set <authority>",
	Short: "Set the active cloud provider (empty string clears it)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := GetApp()
		if err != nil {
			return err
		}
		var authority string
		if len(args) == 1 {
			authority = args[0]
		}
		ok, err := a.CloudState.SetCloudProvider(cmd.Context(), authority, providerIgnoreAllowlist)
		if err != nil {
			return fmt.Errorf("provider set: %w", err)
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "provider set: rejected (disabled, unknown, or not allow-listed)")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "provider set: ok")
		return nil
	},
}

var providerGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the active cloud provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := GetApp()
		if err != nil {
			return err
		}
		info := a.CloudState.GetCloudProvider()
		if info.IsEmpty() {
			fmt.Fprintln(cmd.OutOrStdout(), "(none)")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (package %s)\n", info.Authority, info.PackageName)
		return nil
	},
}

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every installed cloud provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := GetApp()
		if err != nil {
			return err
		}
		for _, info := range a.Registry.AllAvailable() {
			if info.Authority == localAuthority {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", info.Authority, info.PackageName)
		}
		return nil
	},
}

func init() {
	providerSetCmd.Flags().BoolVar(&providerIgnoreAllowlist, "ignore-allowlist", false, "allow setting a provider outside the configured allow-list")

	providerCmd.AddCommand(providerSetCmd)
	providerCmd.AddCommand(providerGetCmd)
	providerCmd.AddCommand(providerListCmd)
}
