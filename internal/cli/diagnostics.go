package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Dump the controller's current state as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := GetApp()
		if err != nil {
			return err
		}
		report, err := a.Diagnostics.Dump(cmd.Context())
		if err != nil {
			return fmt.Errorf("diagnostics: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}
