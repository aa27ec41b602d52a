package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	m, err := NewManager(dir)
	require.NoError(t, err)

	cfg := m.Config()
	assert.Equal(t, "127.0.0.1:8000", cfg.APIAddr)
	assert.Equal(t, "127.0.0.1:8766", cfg.IngestAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.MetricsEnabled)

	// First run writes the default file.
	_, err = os.Stat(filepath.Join(dir, "loupe-config.json"))
	assert.NoError(t, err)
}

func TestNewManagerReadsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loupe-config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_addr":"127.0.0.1:9000","log_level":"debug"}`), 0o644))

	m, err := NewManager(dir)
	require.NoError(t, err)

	cfg := m.Config()
	assert.Equal(t, "127.0.0.1:9000", cfg.APIAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset keys keep their defaults.
	assert.Equal(t, "127.0.0.1:8766", cfg.IngestAddr)
}

func TestNewManagerRejectsNonLoopbackAddr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loupe-config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_addr":"0.0.0.0:8000"}`), 0o644))

	_, err := NewManager(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not loopback")
}

func TestSetPersists(t *testing.T) {
	dir := t.TempDir()

	m, err := NewManager(dir)
	require.NoError(t, err)
	require.NoError(t, m.Set("log_level", "warn"))

	reloaded, err := NewManager(dir)
	require.NoError(t, err)
	assert.Equal(t, "warn", reloaded.Config().LogLevel)
}

func TestNewPathsCreatesLayout(t *testing.T) {
	dir := t.TempDir()

	p, err := NewPaths(filepath.Join(dir, "nested"))
	require.NoError(t, err)

	for _, d := range []string{p.SoundsDir, p.ImagesDir, p.DailyLogsDir, p.MonthlyLogsDir} {
		info, err := os.Stat(d)
		require.NoError(t, err, d)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, filepath.Join(p.DataDir, "activity_tracker.db"), p.DBFile)
}
