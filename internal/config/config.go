// Package config is the YAML configuration surface of the daemon.
// Defaults and validation are centralized here so the rest of the code
// can assume a well-formed config.
package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendFile      = "file"
	BackendEncrypted = "encrypted"
)

// Config is the top-level YAML configuration.
type Config struct {
	// DataDir holds settings, the instance record and the encryption key.
	DataDir string `yaml:"data_dir"`

	Bridge       BridgeConfig       `yaml:"bridge"`
	Storage      StorageConfig      `yaml:"storage"`
	Session      SessionConfig      `yaml:"session"`
	Ads          AdsConfig          `yaml:"ads"`
	Entitlements EntitlementsConfig `yaml:"entitlements"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// BridgeConfig configures the shell-facing WebSocket listener.
type BridgeConfig struct {
	// ListenAddr must be a loopback address; the shell runs locally.
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig selects the settings backend.
type StorageConfig struct {
	// Backend is "encrypted" (SQLCipher database) or "file" (plain JSON).
	Backend string `yaml:"backend"`
}

// SessionConfig tunes the time-boxed access grant.
type SessionConfig struct {
	// Duration of one ad-funded session.
	Duration time.Duration `yaml:"duration"`
}

// AdsConfig tunes interstitial retry behavior.
type AdsConfig struct {
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	NoFillBackoff time.Duration `yaml:"no_fill_backoff"`
}

// EntitlementsConfig points at the subscription backend. An empty
// endpoint disables entitlement checks; every user is treated as free.
type EntitlementsConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	UserID   string `yaml:"user_id"`
}

// LoggingConfig configures the file logger.
type LoggingConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Default returns a fully-populated Config.
func Default() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local/share/switchd")

	return Config{
		DataDir: dataDir,
		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:7600",
		},
		Storage: StorageConfig{
			Backend: BackendEncrypted,
		},
		Session: SessionConfig{
			Duration: time.Hour,
		},
		Ads: AdsConfig{
			RetryBackoff:  15 * time.Second,
			NoFillBackoff: 90 * time.Second,
		},
		Logging: LoggingConfig{
			File:  filepath.Join(dataDir, "switchd.log"),
			Level: "info",
		},
	}
}

// Load reads a YAML config file on top of defaults. An empty path returns
// the defaults unchanged. Unknown fields are rejected to catch typos.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the code relies on.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	switch c.Storage.Backend {
	case BackendFile, BackendEncrypted:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q",
			BackendFile, BackendEncrypted, c.Storage.Backend)
	}

	host, _, err := net.SplitHostPort(c.Bridge.ListenAddr)
	if err != nil {
		return fmt.Errorf("bridge.listen_addr: %w", err)
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("bridge.listen_addr must bind a loopback address, got %q", host)
	}

	if c.Session.Duration <= 0 {
		return fmt.Errorf("session.duration must be positive")
	}
	if c.Ads.RetryBackoff <= 0 || c.Ads.NoFillBackoff <= 0 {
		return fmt.Errorf("ads backoffs must be positive")
	}
	return nil
}
