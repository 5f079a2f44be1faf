package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/lxd-inventory/pkg/engine"
)

// EnvConfigPath names the environment variable pointing at a config file.
const EnvConfigPath = "LXD_INVENTORY_CONFIG"

// DefaultSearchPaths are tried in order when no config file is given.
var DefaultSearchPaths = []string{
	"lxd_inventory.yml",
	"lxd_inventory.yaml",
	"lxd_inventory.cue",
	"/etc/lxd-inventory/config.yml",
}

// Loader locates, reads and schema-checks configuration files.
type Loader struct {
	logger      zerolog.Logger
	schemas     *SchemaRegistry
	cue         *CUEParser
	searchPaths []string
	getenv      func(string) string
}

// NewLoader creates a new configuration loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "config-loader").Logger(),
		schemas:     NewSchemaRegistry(),
		cue:         NewCUEParser(),
		searchPaths: DefaultSearchPaths,
		getenv:      os.Getenv,
	}
}

// WithSearchPaths replaces the default search paths.
func (l *Loader) WithSearchPaths(paths ...string) *Loader {
	l.searchPaths = paths
	return l
}

// WithEnv replaces the environment lookup.
func (l *Loader) WithEnv(getenv func(string) string) *Loader {
	l.getenv = getenv
	return l
}

// Locate returns the configuration file to use. An explicit path or the
// LXD_INVENTORY_CONFIG variable must point at an existing file; otherwise the
// search paths are tried and "" is returned when none exists.
func (l *Loader) Locate(explicit string) (string, error) {
	for _, candidate := range []string{explicit, l.getenv(EnvConfigPath)} {
		if candidate == "" {
			continue
		}
		if _, err := os.Stat(candidate); err != nil {
			return "", engine.NewConfigurationError(fmt.Sprintf("config file %s", candidate), err).
				WithCode(ErrCodeConfigNotFound)
		}
		return candidate, nil
	}

	for _, candidate := range l.searchPaths {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn().Err(err).Str("path", candidate).Msg("Cannot stat config candidate")
		}
	}
	return "", nil
}

// Load reads and validates a configuration file. An empty path yields an
// empty RawConfig.
func (l *Loader) Load(ctx context.Context, path string) (RawConfig, error) {
	if path == "" {
		l.logger.Debug().Msg("No configuration file found, using built-in defaults")
		return RawConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read config file %s", path), err).
			WithCode(ErrCodeConfigNotFound)
	}

	var raw RawConfig
	if IsCUEFile(path) {
		raw, err = l.cue.Parse(ctx, path, data)
		if err == nil {
			err = l.check(ctx, raw)
		}
	} else {
		raw, err = l.Parse(ctx, data)
	}
	if err != nil {
		if ee, ok := err.(*engine.EngineError); ok {
			ee.WithDetail("path", path)
		}
		return nil, err
	}

	l.logger.Debug().
		Str("path", path).
		Int("keys", len(raw)).
		Msg("Configuration loaded")

	return raw, nil
}

// Parse decodes YAML configuration and checks it against the schema.
func (l *Loader) Parse(ctx context.Context, data []byte) (RawConfig, error) {
	var raw RawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, engine.NewConfigurationError("malformed configuration", err).
			WithCode(engine.ErrCodeMalformedConfig)
	}
	if raw == nil {
		return RawConfig{}, nil
	}

	if err := l.check(ctx, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// check validates a raw tree against the configuration schema.
func (l *Loader) check(ctx context.Context, raw RawConfig) error {
	if err := l.schemas.ValidateConfig(ctx, raw); err != nil {
		return engine.NewConfigurationError("configuration does not match schema", err).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// LoadDefault locates and loads the configuration in one step.
func (l *Loader) LoadDefault(ctx context.Context, explicit string) (RawConfig, string, error) {
	path, err := l.Locate(explicit)
	if err != nil {
		return nil, "", err
	}
	raw, err := l.Load(ctx, path)
	return raw, path, err
}

// Watch calls onChange after the configuration file is written, created or
// renamed. Events are debounced. The parent directory is watched so that
// editors replacing the file are noticed. Watch blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	l.logger.Info().Str("path", abs).Msg("Watching configuration file")

	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Configuration file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Error codes specific to configuration loading.
const (
	ErrCodeConfigNotFound = "CONFIG_NOT_FOUND"
)
