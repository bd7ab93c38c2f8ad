// Package config loads the timechain daemon's configuration from a YAML
// file: read, unmarshal, merge defaults into zero-valued fields, then
// validate.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/hornetd/timechain/pkg/timechain"
)

// ErrConfigFileNotFound distinguishes a missing file, a recoverable
// condition, from a malformed one.
var ErrConfigFileNotFound = errors.New("config: file not found")

// ErrInvalidConfig reports a config that failed validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Network magic words, bit-exact per the protocol. The wire framer itself
// lives outside this daemon; the values are kept here so an embedder's
// dispatch loop and this core agree on which network a deployment serves.
const (
	MagicMain    uint32 = 0xD9B4BEF9
	MagicTestnet uint32 = 0xDAB5BFFA
	MagicSignet  uint32 = 0x0709110B
)

// Config aggregates every setting the daemon's composition root needs.
type Config struct {
	// MaxSearchDepth bounds HeaderTimechain.Search's linear scan.
	MaxSearchDepth int32 `yaml:"max_search_depth"`
	// MaxKeepDepth bounds how deep stale forest branches are retained.
	MaxKeepDepth int32 `yaml:"max_keep_depth"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
	// LogFile, if non-empty, tees logs to a rotating file in addition to
	// stderr.
	LogFile string `yaml:"log_file"`

	// MetricsListenAddr is the address the Prometheus HTTP handler binds
	// to, e.g. ":9090". Empty disables the metrics listener; Load replaces
	// an empty value with the default, so only a Config built in code can
	// leave it empty.
	MetricsListenAddr string `yaml:"metrics_listen_addr"`

	// Network selects which network's magic word the embedder's framing
	// layer should use: "main", "testnet", or "signet".
	Network string `yaml:"network"`
}

// Magic returns the wire magic word for cfg.Network. Call only after
// Validate has accepted the config.
func (cfg *Config) Magic() uint32 {
	switch cfg.Network {
	case "testnet":
		return MagicTestnet
	case "signet":
		return MagicSignet
	default:
		return MagicMain
	}
}

// Default returns a Config with every field set to its default value,
// matching timechain.DefaultMaxSearchDepth/DefaultMaxKeepDepth.
func Default() *Config {
	return &Config{
		MaxSearchDepth:    timechain.DefaultMaxSearchDepth,
		MaxKeepDepth:      timechain.DefaultMaxKeepDepth,
		LogLevel:          "info",
		MetricsListenAddr: ":9090",
		Network:           "main",
	}
}

// Load reads and parses a YAML config file at path, applying defaults to
// any field the file leaves at its zero value. An empty path returns
// Default() unchanged.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	mergeDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeDefaults fills in any zero-valued field in cfg from Default().
func mergeDefaults(cfg *Config) {
	d := Default()
	if cfg.MaxSearchDepth == 0 {
		cfg.MaxSearchDepth = d.MaxSearchDepth
	}
	if cfg.MaxKeepDepth == 0 {
		cfg.MaxKeepDepth = d.MaxKeepDepth
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	if cfg.MetricsListenAddr == "" {
		cfg.MetricsListenAddr = d.MetricsListenAddr
	}
	if cfg.Network == "" {
		cfg.Network = d.Network
	}
}

// Validate checks cfg for internal consistency.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if cfg.MaxSearchDepth <= 0 {
		return fmt.Errorf("%w: max_search_depth must be positive, got %d", ErrInvalidConfig, cfg.MaxSearchDepth)
	}
	if cfg.MaxKeepDepth <= 0 {
		return fmt.Errorf("%w: max_keep_depth must be positive, got %d", ErrInvalidConfig, cfg.MaxKeepDepth)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, cfg.LogLevel)
	}
	switch cfg.Network {
	case "main", "testnet", "signet":
	default:
		return fmt.Errorf("%w: unknown network %q", ErrInvalidConfig, cfg.Network)
	}
	return nil
}
