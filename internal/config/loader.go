package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AppName names the single application this config package serves,
// used for search-path and env-prefix derivation.
const AppName = "pph"

// configSearchPaths returns the paths to search for config files, in
// the order they are added to Viper. Viper reads a single config file
// found in them; files in several of the paths are not merged.
func configSearchPaths() []string {
	paths := []string{filepath.Join("/etc", AppName)}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", AppName))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, cwd)
	}
	return paths
}

// UserConfigDir returns the user-specific config directory.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

// newViper creates and configures a new Viper instance.
func newViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for _, path := range configSearchPaths() {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads configuration from cfgFile (or the search paths, if
// empty), layers environment variables over it, and resolves any
// env://, file:// secret references.
func Load(cfgFile string) (*FileConfig, error) {
	v := newViper()
	setViperDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	// A missing config file, whether from the search paths or named
	// explicitly, just means defaults plus environment.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	return &cfg, nil
}

// setViperDefaults seeds Viper with cfg's values so that an absent key
// in the config file or environment falls back to the default rather
// than the zero value.
func setViperDefaults(v *viper.Viper, cfg *FileConfig) {
	v.SetDefault("hasher.threshold", cfg.Hasher.Threshold)
	v.SetDefault("hasher.partial_bytes", cfg.Hasher.PartialBytes)
	v.SetDefault("hasher.secret_length", cfg.Hasher.SecretLength)
	v.SetDefault("hasher.secret_verification_bytes", cfg.Hasher.SecretVerificationBytes)
	v.SetDefault("hasher.iterations", cfg.Hasher.Iterations)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
	v.SetDefault("log.audit_max_age_days", cfg.Log.AuditMaxAgeDays)
	v.SetDefault("log.redact_fields", cfg.Log.RedactFields)

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.sqlite_path", cfg.Store.SQLitePath)
	v.SetDefault("store.migrate_on_start", cfg.Store.MigrateOnStart)
}

// ConfigFileUsed returns the config file path Viper resolved, if any.
func ConfigFileUsed() string {
	v := newViper()
	_ = v.ReadInConfig()
	return v.ConfigFileUsed()
}

// NewViperFromConfig populates a fresh Viper instance from cfg, used by
// Generate to write a default file.
func NewViperFromConfig(cfg *FileConfig) *viper.Viper {
	v := viper.New()

	v.Set("hasher.threshold", cfg.Hasher.Threshold)
	v.Set("hasher.partial_bytes", cfg.Hasher.PartialBytes)
	v.Set("hasher.secret_length", cfg.Hasher.SecretLength)
	v.Set("hasher.secret_verification_bytes", cfg.Hasher.SecretVerificationBytes)
	v.Set("hasher.iterations", cfg.Hasher.Iterations)

	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)
	v.Set("log.output", cfg.Log.Output)
	v.Set("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.Set("log.max_backups", cfg.Log.MaxBackups)
	v.Set("log.max_age_days", cfg.Log.MaxAgeDays)
	v.Set("log.audit_max_age_days", cfg.Log.AuditMaxAgeDays)
	v.Set("log.redact_fields", cfg.Log.RedactFields)

	v.Set("store.backend", cfg.Store.Backend)
	v.Set("store.sqlite_path", cfg.Store.SQLitePath)
	v.Set("store.migrate_on_start", cfg.Store.MigrateOnStart)

	return v
}
