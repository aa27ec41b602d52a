package config

import (
	"fmt"
	"net"

	"github.com/spf13/viper"
)

// Config holds process-level configuration. Behavioural settings users edit
// from the UI (polling interval, alert toggles, ...) live in the store's
// settings table instead, so the file only carries what must be known before
// the store is open.
type Config struct {
	// APIAddr is the HTTP façade listen address. Must resolve to loopback.
	APIAddr string `mapstructure:"api_addr" json:"api_addr"`
	// IngestAddr is the browser-extension WebSocket listen address.
	IngestAddr string `mapstructure:"ingest_addr" json:"ingest_addr"`
	// DataDir overrides the per-OS application data directory.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	LogLevel  string `mapstructure:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" json:"log_format"` // json, text

	MetricsEnabled bool `mapstructure:"metrics_enabled" json:"metrics_enabled"`
}

// Manager loads, exposes and persists the process configuration.
type Manager struct {
	v          *viper.Viper
	configPath string
	config     Config
	paths      Paths
}

// NewManager resolves the data directory, loads loupe-config.json from it
// (creating a default file on first run) and prepares the directory layout.
func NewManager(dataDirOverride string) (*Manager, error) {
	v := viper.New()
	v.SetConfigName("loupe-config")
	v.SetConfigType("json")
	v.SetEnvPrefix("LOUPE")
	v.AutomaticEnv()

	v.SetDefault("api_addr", "127.0.0.1:8000")
	v.SetDefault("ingest_addr", "127.0.0.1:8766")
	v.SetDefault("data_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("metrics_enabled", true)

	dataDir := dataDirOverride
	if dataDir == "" {
		dataDir = v.GetString("data_dir")
	}
	if dataDir == "" {
		var err error
		dataDir, err = DefaultDataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
	}

	paths, err := NewPaths(dataDir)
	if err != nil {
		return nil, err
	}

	v.AddConfigPath(dataDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := v.SafeWriteConfigAs(paths.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.DataDir = dataDir

	if err := validateLoopback(cfg.APIAddr); err != nil {
		return nil, fmt.Errorf("api_addr: %w", err)
	}
	if err := validateLoopback(cfg.IngestAddr); err != nil {
		return nil, fmt.Errorf("ingest_addr: %w", err)
	}

	return &Manager{
		v:          v,
		configPath: paths.ConfigFile,
		config:     cfg,
		paths:      paths,
	}, nil
}

// Config returns the loaded configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Paths returns the resolved data-directory layout.
func (m *Manager) Paths() Paths {
	return m.paths
}

// Set updates a key and persists the file.
func (m *Manager) Set(key string, value any) error {
	m.v.Set(key, value)
	if err := m.v.Unmarshal(&m.config); err != nil {
		return fmt.Errorf("failed to apply %s: %w", key, err)
	}
	m.config.DataDir = m.paths.DataDir
	if err := m.v.WriteConfigAs(m.configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// validateLoopback rejects listen addresses that would expose the daemon
// beyond the local machine.
func validateLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("listen address %q is not loopback", addr)
	}
	return nil
}
