package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	keyEnabled        = "cloud_media_enabled"
	keyDefaultPackage = "default_cloud_provider_package"
	keyAllowList      = "cloud_provider_allowlist"
)

// ViperStore is the reference Store implementation: a YAML file loaded
// through viper, reloaded in-place via viper.WatchConfig() so a config
// edit (e.g. toggling the feature flag) takes effect without restarting
// the process — spec.md never implements a ConfigStore backend, so this
// follows the teacher's getConfigDir() directory-resolution order instead
// (explicit flag, then repo-local, then home).
type ViperStore struct {
	*StaticStore
	v *viper.Viper
}

// ResolveConfigDir mirrors the teacher's getConfigDir(): an explicit
// override wins, then a repo-local ".pickersync" directory, then the
// user's home directory.
func ResolveConfigDir(override string) string {
	if override != "" {
		return override
	}

	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, ".pickersync")
		if _, err := os.Stat(local); err == nil {
			return local
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".pickersync")
	}

	return ".pickersync"
}

// NewViperStore loads config.yaml from dir, applies defaults for any
// unset key, and watches the file for hot reload. logger may be nil.
func NewViperStore(dir string, logger *zap.Logger) (*ViperStore, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault(keyEnabled, true)
	v.SetDefault(keyDefaultPackage, "")
	v.SetDefault(keyAllowList, []string{})

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
		// No file on disk yet: proceed with defaults, matching the
		// teacher's tolerant behavior when .cloudfs hasn't been
		// initialized.
	}

	store := &ViperStore{
		StaticStore: NewStaticStore(
			v.GetBool(keyEnabled),
			v.GetString(keyDefaultPackage),
			v.GetStringSlice(keyAllowList),
		),
		v: v,
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		store.replace(snapshot{
			enabled:        v.GetBool(keyEnabled),
			defaultPackage: v.GetString(keyDefaultPackage),
			allowList:      v.GetStringSlice(keyAllowList),
		})
		if logger != nil {
			logger.Info("config reloaded", zap.String("file", e.Name))
		}
	})
	v.WatchConfig()

	return store, nil
}
