// Package config provides configuration management for smallmerge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/smallmerge/internal/consolidation"
)

const (
	// DefaultRatio is the similarity threshold used when none is configured.
	DefaultRatio = consolidation.DefaultSimilarityThreshold
	// DefaultPithyFilter is the minimum output size used when none is configured.
	DefaultPithyFilter = consolidation.DefaultMinimumOutputSize
	// DefaultHTTPAddr is the listen address of the merge service.
	DefaultHTTPAddr = "127.0.0.1:37800"
	// DefaultDBDriver is the run history database driver.
	DefaultDBDriver = "sqlite"
	// DefaultMaxParallel bounds how many collections are merged at once.
	DefaultMaxParallel = 4

	dataDirName  = ".smallmerge"
	settingsName = "settings.json"
	dbName       = "smallmerge.db"
)

// Config holds smallmerge settings.
type Config struct {
	DBDriver            string  `json:"SMALLMERGE_DB_DRIVER"`
	DBPath              string  `json:"SMALLMERGE_DB_PATH"`
	HTTPAddr            string  `json:"SMALLMERGE_HTTP_ADDR"`
	SimilarityThreshold float64 `json:"SMALLMERGE_RATIO"`
	PithyFilter         int     `json:"SMALLMERGE_PITHY_FILTER"`
	MaxParallel         int     `json:"SMALLMERGE_MAX_PARALLEL"`
	DebugSubsets        bool    `json:"SMALLMERGE_DEBUG_SUBSETS"`
	DebugMerges         bool    `json:"SMALLMERGE_DEBUG_MERGES"`
}

var (
	current *Config
	mu      sync.RWMutex
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		SimilarityThreshold: DefaultRatio,
		PithyFilter:         DefaultPithyFilter,
		DBDriver:            DefaultDBDriver,
		DBPath:              DBPath(),
		HTTPAddr:            DefaultHTTPAddr,
		MaxParallel:         DefaultMaxParallel,
	}
}

// DataDir returns the smallmerge data directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, dataDirName)
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), settingsName)
}

// DBPath returns the default run history database path.
func DBPath() string {
	return filepath.Join(DataDir(), dbName)
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a settings file with default values if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default settings: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and the settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := EnsureSettings(); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	return nil
}

// Load reads the settings file on top of the defaults and applies environment overrides.
// A missing or unparsable settings file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
			cfg = Default()
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		loaded, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load config, using defaults")
			loaded = Default()
		}
		current = loaded
	}
	return current
}

// Set replaces the process-wide configuration.
func Set(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

// Reload re-reads the settings file and replaces the process-wide configuration.
// The previous configuration stays in place if the new one is invalid.
func Reload() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	Set(cfg)
	return cfg, nil
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("SMALLMERGE_RATIO must be in (0, 1], got %v", c.SimilarityThreshold))
	}
	if c.PithyFilter < 0 {
		errs = append(errs, fmt.Errorf("SMALLMERGE_PITHY_FILTER must not be negative, got %d", c.PithyFilter))
	}
	if c.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("SMALLMERGE_MAX_PARALLEL must be at least 1, got %d", c.MaxParallel))
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("SMALLMERGE_DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver))
	}
	return errors.Join(errs...)
}

// MergeOptions returns the merge options described by the configuration.
func (c *Config) MergeOptions() consolidation.Options {
	return consolidation.Options{
		SimilarityThreshold: c.SimilarityThreshold,
		MinimumOutputSize:   c.PithyFilter,
	}
}

// applyEnv overrides settings with SMALLMERGE_* environment variables.
// Values that fail to parse are ignored.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SMALLMERGE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("SMALLMERGE_PITHY_FILTER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PithyFilter = n
		}
	}
	if v := os.Getenv("SMALLMERGE_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxParallel = n
		}
	}
	if v := os.Getenv("SMALLMERGE_DEBUG_SUBSETS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DebugSubsets = b
		}
	}
	if v := os.Getenv("SMALLMERGE_DEBUG_MERGES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DebugMerges = b
		}
	}
	if v := os.Getenv("SMALLMERGE_DB_DRIVER"); v != "" {
		cfg.DBDriver = v
	}
	if v := os.Getenv("SMALLMERGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SMALLMERGE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
}
