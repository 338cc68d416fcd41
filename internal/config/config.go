// Package config resolves the daemon settings.
//
// With no environment set, the settings are the fixed defaults and no
// file is read. The TOML overlay is off by default: it is read only when
// AESDSOCKET_CONFIG names a file. The AESDSOCKET_ADDR,
// AESDSOCKET_DATA_PATH and AESDSOCKET_METRICS_ADDR overrides apply last.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvConfigPath  = "AESDSOCKET_CONFIG"
	EnvAddr        = "AESDSOCKET_ADDR"
	EnvDataPath    = "AESDSOCKET_DATA_PATH"
	EnvMetricsAddr = "AESDSOCKET_METRICS_ADDR"

	DefaultAddr      = "0.0.0.0:9000"
	DefaultDataPath  = "/var/tmp/aesdsocketdata"
	DefaultBacklog   = 10
	DefaultChunkSize = 1024
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the daemon runtime configuration. Zero timeouts mean none.
type Config struct {
	Addr         string
	DataPath     string
	Backlog      int
	ChunkSize    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsAddr  string
	Syslog       bool
}

type fileConfig struct {
	Addr         string `toml:"addr"`
	DataPath     string `toml:"data_path"`
	Backlog      int    `toml:"backlog"`
	ChunkSize    int    `toml:"chunk_size"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
	MetricsAddr  string `toml:"metrics_addr"`
	Syslog       bool   `toml:"syslog"`
}

func Default() Config {
	return Config{
		Addr:      DefaultAddr,
		DataPath:  DefaultDataPath,
		Backlog:   DefaultBacklog,
		ChunkSize: DefaultChunkSize,
	}
}

// Load starts from Default, applies the TOML file named by
// AESDSOCKET_CONFIG if set, then the env overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		var err error
		cfg, err = LoadFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	// a detached process runs from "/", so relative paths must not leak out
	abs, err := filepath.Abs(cfg.DataPath)
	if err != nil {
		return Config{}, fmt.Errorf("resolve data_path: %w", err)
	}
	cfg.DataPath = abs
	return cfg, nil
}

// ChildEnv pins the resolved settings for a re-executed copy of the
// process whose working directory differs from ours.
func (c Config) ChildEnv() ([]string, error) {
	env := []string{EnvDataPath + "=" + c.DataPath}
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", EnvConfigPath, err)
		}
		env = append(env, EnvConfigPath+"="+abs)
	}
	return env, nil
}

// LoadFile overlays keys present in the TOML file at path onto base.
func LoadFile(path string, base Config) (Config, error) {
	cfg := base

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("data_path") {
		cfg.DataPath = strings.TrimSpace(raw.DataPath)
	}
	if meta.IsDefined("backlog") {
		cfg.Backlog = raw.Backlog
	}
	if meta.IsDefined("chunk_size") {
		cfg.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("syslog") {
		cfg.Syslog = raw.Syslog
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDataPath)); v != "" {
		cfg.DataPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMetricsAddr)); v != "" {
		cfg.MetricsAddr = v
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.DataPath) == "" {
		return fmt.Errorf("%w: data_path is required", ErrInvalidConfig)
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("%w: backlog must be positive, got %d", ErrInvalidConfig, c.Backlog)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}
