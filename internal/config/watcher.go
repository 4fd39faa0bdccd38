package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ErrImmutableField is returned (via the watcher's error callback)
// when a reloaded config file attempts to change one of the hasher
// parameters that must remain fixed for the lifetime of the persisted
// state: Threshold, PartialBytes, SecretLength,
// SecretVerificationBytes.
type ErrImmutableField struct {
	Field string
}

func (e *ErrImmutableField) Error() string {
	return fmt.Sprintf("config: %s cannot be changed by hot-reload; restart the process instead", e.Field)
}

// ConfigWatcher watches the configuration file for changes and, on
// each change, reloads everything except the immutable hasher
// parameters.
type ConfigWatcher struct {
	v         *viper.Viper
	cfgFile   string
	fixed     HasherConfig
	mu        sync.RWMutex
	callbacks []func(*FileConfig)
	onError   []func(error)
	last      *FileConfig
}

// NewConfigWatcher creates a new configuration watcher seeded from an
// already-loaded config. initial.Hasher is captured as the immutable
// baseline that every subsequent reload is checked against.
func NewConfigWatcher(cfgFile string, initial *FileConfig) (*ConfigWatcher, error) {
	v := newViper()
	setViperDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &ConfigWatcher{
		v:       v,
		cfgFile: cfgFile,
		fixed:   initial.Hasher,
		last:    initial,
	}, nil
}

// OnChange registers a callback invoked with the new configuration after
// every accepted reload.
func (cw *ConfigWatcher) OnChange(callback func(*FileConfig)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// OnError registers a callback invoked when a reload is rejected or
// otherwise fails, instead of silently dropping it.
func (cw *ConfigWatcher) OnError(callback func(error)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.onError = append(cw.onError, callback)
}

// Start begins watching for configuration file changes.
func (cw *ConfigWatcher) Start() error {
	cw.v.OnConfigChange(func(e fsnotify.Event) {
		cw.handleChange()
	})
	cw.v.WatchConfig()
	return nil
}

// handleChange reloads the config file, rejects it if any immutable
// hasher field changed, and otherwise notifies registered callbacks.
func (cw *ConfigWatcher) handleChange() {
	cfg, err := cw.load()
	if err != nil {
		cw.notifyError(err)
		return
	}

	if err := cw.checkImmutable(cfg.Hasher); err != nil {
		cw.notifyError(err)
		return
	}

	cw.mu.Lock()
	callbacks := make([]func(*FileConfig), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.last = cfg
	cw.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (cw *ConfigWatcher) checkImmutable(h HasherConfig) error {
	switch {
	case h.Threshold != cw.fixed.Threshold:
		return &ErrImmutableField{Field: "hasher.threshold"}
	case h.PartialBytes != cw.fixed.PartialBytes:
		return &ErrImmutableField{Field: "hasher.partial_bytes"}
	case h.SecretLength != cw.fixed.SecretLength:
		return &ErrImmutableField{Field: "hasher.secret_length"}
	case h.SecretVerificationBytes != cw.fixed.SecretVerificationBytes:
		return &ErrImmutableField{Field: "hasher.secret_verification_bytes"}
	}
	return nil
}

func (cw *ConfigWatcher) load() (*FileConfig, error) {
	var cfg FileConfig
	if err := cw.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}
	return &cfg, nil
}

func (cw *ConfigWatcher) notifyError(err error) {
	cw.mu.RLock()
	callbacks := make([]func(error), len(cw.onError))
	copy(callbacks, cw.onError)
	cw.mu.RUnlock()

	for _, cb := range callbacks {
		cb(err)
	}
}

// Current returns the last accepted configuration.
func (cw *ConfigWatcher) Current() *FileConfig {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.last
}

// Reload forces an immediate reload and check, bypassing the fsnotify
// event loop; useful in tests.
func (cw *ConfigWatcher) Reload() error {
	if err := cw.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	cw.handleChange()
	return nil
}
