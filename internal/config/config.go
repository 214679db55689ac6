package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/codepad/padclient/internal/lang"
)

const envPrefix = "padclient"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Channel   ChannelConfig   `yaml:"channel"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Languages []lang.Language `yaml:"languages"`
}

type ServerConfig struct {
	// BaseURL is the pad web address; realtime endpoints are derived from it.
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type ChannelConfig struct {
	// CompressThreshold in bytes; 0 uses the default, negative disables.
	CompressThreshold  int   `yaml:"compress_threshold"`
	WriteTimeoutMs     int   `yaml:"write_timeout_ms"`
	HandshakeTimeoutMs int   `yaml:"handshake_timeout_ms"`
	MaxMessageBytes    int64 `yaml:"max_message_bytes"`
}

func (c ChannelConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

func (c ChannelConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

type TerminalConfig struct {
	Buffered        bool `yaml:"buffered"`
	FlushIntervalMs int  `yaml:"flush_interval_ms"`
}

func (c TerminalConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

type StorageConfig struct {
	StateDir          string `yaml:"state_dir"`
	JournalMaxEntries int    `yaml:"journal_max_entries"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// env holds the PADCLIENT_* overrides. Unset variables leave the file value.
type env struct {
	BaseURL           string `envconfig:"BASE_URL"`
	Token             string `envconfig:"TOKEN"`
	CompressThreshold *int   `envconfig:"COMPRESS_THRESHOLD"`
	StateDir          string `envconfig:"STATE_DIR"`
	MetricsListen     string `envconfig:"METRICS_LISTEN"`
	LogLevel          string `envconfig:"LOG_LEVEL"`
	LogFormat         string `envconfig:"LOG_FORMAT"`
}

// DefaultPath is where LoadConfig looks when no path is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "padclient", "config.yaml")
}

// LoadConfig reads path, fills defaults and applies environment overrides.
// An empty path falls back to DefaultPath, which may be absent.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	var e env
	if err := envconfig.Process(envPrefix, &e); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if e.BaseURL != "" {
		cfg.Server.BaseURL = e.BaseURL
	}
	if e.Token != "" {
		cfg.Server.Token = e.Token
	}
	if e.CompressThreshold != nil {
		cfg.Channel.CompressThreshold = *e.CompressThreshold
	}
	if e.StateDir != "" {
		cfg.Storage.StateDir = e.StateDir
	}
	if e.MetricsListen != "" {
		cfg.Metrics.Listen = e.MetricsListen
	}
	if e.LogLevel != "" {
		cfg.Log.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		cfg.Log.Format = e.LogFormat
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:8080"
	}
	if cfg.Channel.CompressThreshold == 0 {
		cfg.Channel.CompressThreshold = 128
	}
	if cfg.Channel.WriteTimeoutMs == 0 {
		cfg.Channel.WriteTimeoutMs = 10000
	}
	if cfg.Channel.HandshakeTimeoutMs == 0 {
		cfg.Channel.HandshakeTimeoutMs = 15000
	}
	if cfg.Channel.MaxMessageBytes == 0 {
		cfg.Channel.MaxMessageBytes = 8 << 20
	}
	if cfg.Terminal.FlushIntervalMs == 0 {
		cfg.Terminal.FlushIntervalMs = 10
	}
	if cfg.Storage.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Storage.StateDir = filepath.Join(home, ".padclient")
		} else {
			cfg.Storage.StateDir = filepath.Join(os.TempDir(), "padclient")
		}
	}
	if cfg.Storage.JournalMaxEntries == 0 {
		cfg.Storage.JournalMaxEntries = 10000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "auto"
	}
}

// Registry returns the built-in languages extended by any configured ones.
func (cfg *Config) Registry() *lang.Registry {
	if len(cfg.Languages) == 0 {
		return lang.Default()
	}
	return lang.NewRegistry(append(lang.Default().All(), cfg.Languages...))
}
