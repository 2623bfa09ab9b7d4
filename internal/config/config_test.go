package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"empty images dir", func(c *Config) { c.Images.Dir = "" }},
		{"negative retry attempts", func(c *Config) { c.Images.RetryAttempts = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"negative debounce", func(c *Config) { c.Cache.DebounceInterval = -time.Second }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAccessorFallbacks(t *testing.T) {
	cfg := &Config{}

	assert.Equal(t, time.Second, cfg.GetDebounceInterval())
	assert.Equal(t, 15*time.Minute, cfg.GetValidateInterval())
	assert.Equal(t, 30*time.Second, cfg.GetAPITimeout())
	assert.Equal(t, int64(100*1024*1024), cfg.GetImageMaxTotalBytes())
	assert.Equal(t, 3, cfg.GetImageRetryAttempts())
	assert.Equal(t, 256, cfg.GetImageMemoryEntries())

	cfg.Cache.DebounceInterval = 5 * time.Second
	assert.Equal(t, 5*time.Second, cfg.GetDebounceInterval())

	cfg.Images.MaxTotalSizeMB = 10
	assert.Equal(t, int64(10*1024*1024), cfg.GetImageMaxTotalBytes())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.API.BaseURL = "https://api.example.com"
	cfg.Cache.ValidateInterval = 5 * time.Minute
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", loaded.API.BaseURL)
	assert.Equal(t, 5*time.Minute, loaded.Cache.ValidateInterval)
}

func TestLoadConfigMissingExplicitFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSaveToFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")
	require.NoError(t, SaveToFile(DefaultConfig(), path))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestManagerUpdateNotifiesCallbacks(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg, "")

	var gotOld, gotNew *Config
	m.OnConfigChange(func(oldConfig, newConfig *Config) {
		gotOld = oldConfig
		gotNew = newConfig
	})

	updated := DefaultConfig()
	updated.API.BaseURL = "https://changed.example.com"
	require.NoError(t, m.UpdateConfig(updated))

	require.NotNil(t, gotOld)
	require.NotNil(t, gotNew)
	assert.Equal(t, "http://localhost:8080/api", gotOld.API.BaseURL)
	assert.Equal(t, "https://changed.example.com", gotNew.API.BaseURL)
	assert.Equal(t, "https://changed.example.com", m.GetConfig().API.BaseURL)
}

func TestManagerOldConfigSnapshotIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg, "")

	var snapshot *Config
	m.OnConfigChange(func(oldConfig, _ *Config) {
		snapshot = oldConfig
	})

	require.NoError(t, m.UpdateConfig(DefaultConfig()))
	require.NotNil(t, snapshot)

	// Mutating the original must not reach the callback's snapshot
	cfg.API.BaseURL = "mutated"
	assert.Equal(t, "http://localhost:8080/api", snapshot.API.BaseURL)
}

func TestDeepCopy(t *testing.T) {
	cfg := DefaultConfig()
	copied := cfg.DeepCopy()

	require.NotSame(t, cfg, copied)
	assert.Equal(t, cfg.API.BaseURL, copied.API.BaseURL)

	copied.API.BaseURL = "changed"
	assert.NotEqual(t, cfg.API.BaseURL, copied.API.BaseURL)
}
