// Package cli implements the pickersync command-line interface.
// Built with cobra following the same operational shape as the teacher's
// CLI: a silent root command, persistent flags read by every subcommand,
// and a lazily-initialized App wiring every component together.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	verbose   bool
	configDir string
	dbPath    string
	prefsPath string
	dbKey     string
)

// rootCmd is the base command for pickersync.
var rootCmd = &cobra.Command{
	Use:   "pickersync",
	Short: "Media-picker cloud/local sync controller",
	Long: `pickersync drives the media-picker's sync controller: it tracks which
cloud provider is active, decides what kind of sync each provider needs,
and runs the paged add/remove operations against the picker database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "use an alternate config directory")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the picker database (default: <config dir>/picker.db)")
	rootCmd.PersistentFlags().StringVar(&prefsPath, "prefs", "", "path to the sync-prefs database (default: <config dir>/prefs.db)")
	rootCmd.PersistentFlags().StringVar(&dbKey, "db-key", "", "SQLCipher encryption key (default: $PICKERSYNC_DB_KEY, else \"dev\")")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(providerCmd)
	rootCmd.AddCommand(diagnosticsCmd)
}
