// Package config loads and hot-reloads the engine's file/env
// configuration: viper-backed layered sources, env:// / file:// secret
// references, and an fsnotify-backed watcher.
package config

import "pph"

// HasherConfig mirrors pph.Config's enumerated settings in a
// viper-unmarshalable shape.
type HasherConfig struct {
	Threshold               int `mapstructure:"threshold"`
	PartialBytes            int `mapstructure:"partial_bytes"`
	SecretLength            int `mapstructure:"secret_length"`
	SecretVerificationBytes int `mapstructure:"secret_verification_bytes"`
	Iterations              int `mapstructure:"iterations"`
}

// ToPPHConfig converts the loaded settings into pph.Config.
func (h HasherConfig) ToPPHConfig() pph.Config {
	return pph.Config{
		Threshold:               h.Threshold,
		PartialBytes:            h.PartialBytes,
		SecretLength:            h.SecretLength,
		SecretVerificationBytes: h.SecretVerificationBytes,
		Iterations:              h.Iterations,
	}
}

// LogConfig holds logging configuration consumed by internal/logger.New.
type LogConfig struct {
	Level           string   `mapstructure:"level"`              // debug, info, warn, error
	Format          string   `mapstructure:"format"`             // text, json, pretty
	Output          string   `mapstructure:"output"`             // stdout, stderr, or file path
	FilePath        string   `mapstructure:"file_path"`          // path to log file (in addition to output)
	MaxSizeMB       int      `mapstructure:"max_size_mb"`        // max size in MB before rotation
	MaxBackups      int      `mapstructure:"max_backups"`        // max number of old log files to keep
	MaxAgeDays      int      `mapstructure:"max_age_days"`       // max days to retain old log files
	EnableCaller    bool     `mapstructure:"enable_caller"`      // include source file/line in logs
	NoColor         bool     `mapstructure:"no_color"`           // disable colored output (pretty format only)
	AuditPath       string   `mapstructure:"audit_path"`         // path to the dedicated SecurityEvent/audit log
	AuditMaxAgeDays int      `mapstructure:"audit_max_age_days"` // max days to retain audit logs
	RedactFields    []string `mapstructure:"redact_fields"`      // field names to redact from logs
}

// StoreConfig selects and configures the Cache/UserStore backend.
type StoreConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `mapstructure:"backend"`

	// SQLitePath is the database file path when Backend == "sqlite".
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgresDSN is the connection string when Backend == "postgres".
	// May be written as env://NAME or file:///path and is resolved by
	// resolveSecrets before use, so a DSN carrying a password never sits
	// in the YAML file in plaintext.
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// MigrateOnStart runs the embedded schema migrations for Backend at
	// startup when true.
	MigrateOnStart bool `mapstructure:"migrate_on_start"`
}

// FileConfig is the complete on-disk/env configuration for a process
// embedding this engine.
type FileConfig struct {
	Hasher HasherConfig `mapstructure:"hasher"`
	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
}

// Default returns the stock configuration.
func Default() *FileConfig {
	return &FileConfig{
		Hasher: HasherConfig{
			Threshold:               2,
			PartialBytes:            2,
			SecretLength:            32,
			SecretVerificationBytes: 4,
			Iterations:              12000,
		},
		Log: LogConfig{
			Level:           "info",
			Format:          "text",
			Output:          "stderr",
			MaxSizeMB:       100,
			MaxBackups:      3,
			MaxAgeDays:      28,
			AuditMaxAgeDays: 365,
			RedactFields:    []string{"password", "passhash", "secret", "salt"},
		},
		Store: StoreConfig{
			Backend:        "sqlite",
			SQLitePath:     "pph.db",
			MigrateOnStart: true,
		},
	}
}
