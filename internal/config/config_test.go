package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  type: postgres
  dsn: postgres://ctm@localhost/ctm
cache:
  backend: bolt
  ttl: 30m
analysis:
  progress_every: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "postgres://ctm@localhost/ctm", cfg.Storage.DSN)
	assert.Equal(t, "bolt", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.Analysis.ProgressEvery)
	assert.Equal(t, "main", cfg.Analysis.DefaultBranch, "unset keys keep defaults")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CACHE_DURATION", "120")
	t.Setenv("DATABASE_PATH", "/tmp/ctm-test.db")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Default()
	applyEnvOverrides(cfg)

	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "/tmp/ctm-test.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCacheTTLFallback(t *testing.T) {
	cfg := Default()
	cfg.Cache.TTL = 0
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL())

	cfg.Cache.TTL = -time.Second
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL())

	cfg.Cache.TTL = 5 * time.Minute
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	cfg := Default()
	cfg.Storage.Type = "postgres"

	require.NoError(t, cfg.Save(path))
	_, err := os.Stat(path)
	require.NoError(t, err)
}
