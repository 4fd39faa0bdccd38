package config

import (
	"fmt"
	"os"
	"strings"
)

// Secret-bearing fields may reference their value indirectly so that a
// credential never sits in the YAML file in plaintext:
//
//	env://NAME      reads the environment variable NAME
//	file:///path    reads the file and trims surrounding whitespace
//
// Anything else is taken literally.
const (
	envRefPrefix  = "env://"
	fileRefPrefix = "file://"
)

// resolveSecrets rewrites every secret-capable field of cfg in place.
// Today that is only the Postgres DSN; the SQLite path and log paths
// are locations, not credentials.
func resolveSecrets(cfg *FileConfig) error {
	dsn, err := resolveRef(cfg.Store.PostgresDSN)
	if err != nil {
		return fmt.Errorf("store.postgres_dsn: %w", err)
	}
	cfg.Store.PostgresDSN = dsn
	return nil
}

func resolveRef(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, envRefPrefix):
		name := strings.TrimPrefix(value, envRefPrefix)
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("environment variable %q is not set", name)
		}
		return v, nil
	case strings.HasPrefix(value, fileRefPrefix):
		path := strings.TrimPrefix(value, fileRefPrefix)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading secret file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return value, nil
}
