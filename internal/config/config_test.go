// Package config provides configuration management for smallmerge.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var envKeys = []string{
	"SMALLMERGE_RATIO",
	"SMALLMERGE_PITHY_FILTER",
	"SMALLMERGE_MAX_PARALLEL",
	"SMALLMERGE_DEBUG_SUBSETS",
	"SMALLMERGE_DEBUG_MERGES",
	"SMALLMERGE_DB_DRIVER",
	"SMALLMERGE_DB_PATH",
	"SMALLMERGE_HTTP_ADDR",
}

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir string
}

func (s *ConfigSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.T().Setenv("HOME", s.tempDir)
	for _, k := range envKeys {
		s.T().Setenv(k, "")
	}
}

func (s *ConfigSuite) TearDownTest() {
	Set(nil)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) writeSettings(content string) {
	s.Require().NoError(os.MkdirAll(filepath.Join(s.tempDir, ".smallmerge"), 0750))
	s.Require().NoError(os.WriteFile(SettingsPath(), []byte(content), 0600))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(0.5, cfg.SimilarityThreshold)
	s.Equal(10, cfg.PithyFilter)
	s.Equal(DefaultHTTPAddr, cfg.HTTPAddr)
	s.Equal("sqlite", cfg.DBDriver)
	s.Equal(DefaultMaxParallel, cfg.MaxParallel)
	s.False(cfg.DebugSubsets)
	s.False(cfg.DebugMerges)
	s.Contains(cfg.DBPath, "smallmerge.db")
	s.NoError(cfg.Validate())
}

// TestPaths tests data directory paths.
func (s *ConfigSuite) TestPaths() {
	s.Equal(filepath.Join(s.tempDir, ".smallmerge"), DataDir())
	s.Contains(SettingsPath(), "settings.json")
	s.Contains(DBPath(), "smallmerge.db")
}

// TestEnsureAll tests full initialization.
func (s *ConfigSuite) TestEnsureAll() {
	s.NoError(EnsureAll())

	info, err := os.Stat(DataDir())
	s.NoError(err)
	s.True(info.IsDir())

	_, err = os.Stat(SettingsPath())
	s.NoError(err)

	// Second call should not error (file exists)
	s.NoError(EnsureAll())

	// The written defaults load back unchanged.
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(Default(), cfg)
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name          string
		settingsJSON  string
		expectedRatio float64
		expectedPithy int
		expectedAddr  string
	}{
		{
			name:          "no settings file",
			expectedRatio: DefaultRatio,
			expectedPithy: DefaultPithyFilter,
			expectedAddr:  DefaultHTTPAddr,
		},
		{
			name:          "custom ratio",
			settingsJSON:  `{"SMALLMERGE_RATIO": 0.75}`,
			expectedRatio: 0.75,
			expectedPithy: DefaultPithyFilter,
			expectedAddr:  DefaultHTTPAddr,
		},
		{
			name:          "multiple settings",
			settingsJSON:  `{"SMALLMERGE_RATIO": 0.6, "SMALLMERGE_PITHY_FILTER": 3, "SMALLMERGE_HTTP_ADDR": ":9000"}`,
			expectedRatio: 0.6,
			expectedPithy: 3,
			expectedAddr:  ":9000",
		},
		{
			name:          "invalid JSON returns defaults",
			settingsJSON:  `{invalid}`,
			expectedRatio: DefaultRatio,
			expectedPithy: DefaultPithyFilter,
			expectedAddr:  DefaultHTTPAddr,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_ = os.Remove(SettingsPath())
			if tt.settingsJSON != "" {
				s.writeSettings(tt.settingsJSON)
			}

			cfg, err := Load()
			s.NoError(err)
			s.Require().NotNil(cfg)
			s.Equal(tt.expectedRatio, cfg.SimilarityThreshold)
			s.Equal(tt.expectedPithy, cfg.PithyFilter)
			s.Equal(tt.expectedAddr, cfg.HTTPAddr)
		})
	}
}

// TestLoad_EnvOverrides tests that environment variables win over the settings file.
func (s *ConfigSuite) TestLoad_EnvOverrides() {
	s.writeSettings(`{"SMALLMERGE_RATIO": 0.6, "SMALLMERGE_PITHY_FILTER": 3}`)

	s.T().Setenv("SMALLMERGE_RATIO", "0.9")
	s.T().Setenv("SMALLMERGE_PITHY_FILTER", "not-a-number")
	s.T().Setenv("SMALLMERGE_DEBUG_MERGES", "true")
	s.T().Setenv("SMALLMERGE_DB_DRIVER", "postgres")
	s.T().Setenv("SMALLMERGE_DB_PATH", "postgres://localhost/smallmerge")
	s.T().Setenv("SMALLMERGE_MAX_PARALLEL", "0")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(0.9, cfg.SimilarityThreshold)
	s.Equal(3, cfg.PithyFilter)
	s.True(cfg.DebugMerges)
	s.False(cfg.DebugSubsets)
	s.Equal("postgres", cfg.DBDriver)
	s.Equal("postgres://localhost/smallmerge", cfg.DBPath)
	s.Equal(DefaultMaxParallel, cfg.MaxParallel)
}

// TestGetAndReload tests the process-wide config accessors.
func (s *ConfigSuite) TestGetAndReload() {
	cfg := Get()
	s.Require().NotNil(cfg)
	s.Equal(DefaultRatio, cfg.SimilarityThreshold)
	s.Same(cfg, Get())

	s.writeSettings(`{"SMALLMERGE_RATIO": 0.8}`)
	reloaded, err := Reload()
	s.Require().NoError(err)
	s.Equal(0.8, reloaded.SimilarityThreshold)
	s.Same(reloaded, Get())

	// An invalid file leaves the current config in place.
	s.writeSettings(`{"SMALLMERGE_RATIO": 7}`)
	_, err = Reload()
	s.Error(err)
	s.Equal(0.8, Get().SimilarityThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "ratio of one", mutate: func(c *Config) { c.SimilarityThreshold = 1 }},
		{name: "zero ratio", mutate: func(c *Config) { c.SimilarityThreshold = 0 }, wantErr: "SMALLMERGE_RATIO"},
		{name: "ratio above one", mutate: func(c *Config) { c.SimilarityThreshold = 1.5 }, wantErr: "SMALLMERGE_RATIO"},
		{name: "negative pithy", mutate: func(c *Config) { c.PithyFilter = -1 }, wantErr: "SMALLMERGE_PITHY_FILTER"},
		{name: "zero parallel", mutate: func(c *Config) { c.MaxParallel = 0 }, wantErr: "SMALLMERGE_MAX_PARALLEL"},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }, wantErr: "SMALLMERGE_DB_DRIVER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeOptions(t *testing.T) {
	cfg := Default()
	cfg.SimilarityThreshold = 0.7
	cfg.PithyFilter = 4

	o := cfg.MergeOptions()
	assert.Equal(t, 0.7, o.SimilarityThreshold)
	assert.Equal(t, 4, o.MinimumOutputSize)
}
