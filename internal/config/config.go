// Package config holds the runtime settings read from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/zeusync/ecs/internal/core/observability/log"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix namespaces the environment overrides applied by Load.
const EnvPrefix = "ECSD_"

// Transports understood by the replication section.
const (
	TransportNone      = "none"
	TransportWebSocket = "websocket"
	TransportQUIC      = "quic"
	// TransportJournal appends envelopes to SQLite files named by Endpoints.
	TransportJournal = "journal"
)

// Replication modes for more than one endpoint.
const (
	ModeFanout      = "fanout"
	ModePartitioned = "partitioned"
)

type Config struct {
	Log         Log         `yaml:"log" envPrefix:"LOG_"`
	Dispatch    Dispatch    `yaml:"dispatch" envPrefix:"DISPATCH_"`
	Prefabs     Prefabs     `yaml:"prefabs" envPrefix:"PREFABS_"`
	Replication Replication `yaml:"replication" envPrefix:"REPLICATION_"`
}

type Log struct {
	Level string `yaml:"level" env:"LEVEL"`
}

type Dispatch struct {
	// MaxDepth bounds nested publishes; 0 disables the guard.
	MaxDepth int `yaml:"max_depth" env:"MAX_DEPTH"`
}

type Prefabs struct {
	// Paths are prefab documents or directories holding them.
	Paths []string `yaml:"paths" env:"PATHS"`
}

type Replication struct {
	Transport string        `yaml:"transport" env:"TRANSPORT"`
	Mode      string        `yaml:"mode" env:"MODE"`
	Endpoints []string      `yaml:"endpoints" env:"ENDPOINTS"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Insecure skips certificate verification on QUIC endpoints.
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// Default returns the settings used when a key is absent.
func Default() *Config {
	return &Config{
		Log:      Log{Level: log.LevelInfo.String()},
		Dispatch: Dispatch{MaxDepth: 64},
		Replication: Replication{
			Transport: TransportNone,
			Mode:      ModeFanout,
			Timeout:   5 * time.Second,
		},
	}
}

// Load reads a YAML file on top of Default, applies ECSD_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overwrites cfg with the ECSD_* variables that are set,
// e.g. ECSD_DISPATCH_MAX_DEPTH or ECSD_REPLICATION_ENDPOINTS=a,b.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: log.level: %w", ErrInvalid, err))
	}
	if c.Dispatch.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("%w: dispatch.max_depth must not be negative", ErrInvalid))
	}

	r := c.Replication
	switch r.Transport {
	case TransportNone:
	case TransportWebSocket, TransportQUIC, TransportJournal:
		if len(r.Endpoints) == 0 {
			errs = append(errs, fmt.Errorf("%w: replication.endpoints required for %s", ErrInvalid, r.Transport))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: replication.transport %q", ErrInvalid, r.Transport))
	}
	if r.Mode != ModeFanout && r.Mode != ModePartitioned {
		errs = append(errs, fmt.Errorf("%w: replication.mode %q", ErrInvalid, r.Mode))
	}
	if r.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%w: replication.timeout must not be negative", ErrInvalid))
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level; call Validate first.
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.LevelInfo
	}
	return level
}
