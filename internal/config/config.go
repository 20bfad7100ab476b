// Package config loads hyperjs settings from an optional TOML file and then
// applies HYPERJS_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"github.com/cryguy/hyperjs/internal/core"
	"github.com/cryguy/hyperjs/internal/dbquery"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "HYPERJS_"

// Duration is a time.Duration written as "30s" in TOML and env.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Server struct {
	Addr           string   `toml:"addr"             env:"ADDR"`
	HandlerTimeout Duration `toml:"handler_timeout"  env:"HANDLER_TIMEOUT"`
	ReadTimeout    Duration `toml:"read_timeout"     env:"READ_TIMEOUT"`
	IdleTimeout    Duration `toml:"idle_timeout"     env:"IDLE_TIMEOUT"`
	MaxBodyBytes   int64    `toml:"max_body_bytes"   env:"MAX_BODY_BYTES"`
	MaxConnections int      `toml:"max_connections"  env:"MAX_CONNECTIONS"`
	// RateLimit is requests per second across all clients. Zero disables it.
	RateLimit   float64 `toml:"rate_limit"   env:"RATE_LIMIT"`
	RateBurst   int     `toml:"rate_burst"   env:"RATE_BURST"`
	Compression bool    `toml:"compression"  env:"COMPRESSION"`
	TailEnabled bool    `toml:"tail_enabled" env:"TAIL_ENABLED"`
}

type Worker struct {
	ExecutionTimeout Duration `toml:"execution_timeout" env:"EXECUTION_TIMEOUT"`
	MemoryLimitMB    int      `toml:"memory_limit_mb"   env:"MEMORY_LIMIT_MB"`
}

// Engine converts the section into the engine configuration.
func (w Worker) Engine() core.EngineConfig {
	return core.EngineConfig{
		MemoryLimitMB:    w.MemoryLimitMB,
		ExecutionTimeout: w.ExecutionTimeout.Std(),
	}
}

type Handlers struct {
	Dir string `toml:"dir" env:"DIR"`
}

type Log struct {
	Level string `toml:"level" env:"LEVEL"`
	// File, when set, receives a rotated JSON copy of every log line.
	File string `toml:"file" env:"FILE"`
	JSON bool   `toml:"json" env:"JSON"`
}

// Config is the full process configuration.
type Config struct {
	Server   Server         `toml:"server"   envPrefix:"SERVER_"`
	Worker   Worker         `toml:"worker"   envPrefix:"WORKER_"`
	Handlers Handlers       `toml:"handlers" envPrefix:"HANDLERS_"`
	Database dbquery.Config `toml:"database" envPrefix:"DATABASE_"`
	Log      Log            `toml:"log"      envPrefix:"LOG_"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: Server{
			Addr:           ":3000",
			HandlerTimeout: Duration(30 * time.Second),
			ReadTimeout:    Duration(15 * time.Second),
			IdleTimeout:    Duration(60 * time.Second),
			MaxBodyBytes:   1 << 20,
			RateBurst:      50,
		},
		Worker: Worker{
			MemoryLimitMB: 128,
		},
		Handlers: Handlers{Dir: "handlers"},
		Database: dbquery.Config{DSN: dbquery.MemoryDSN},
		Log:      Log{Level: "info"},
	}
}

// Load reads path on top of the defaults and then applies the environment.
// An empty path skips the file; a named file that does not exist is an
// error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := Parse(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML into cfg. Keys absent from b keep their current values.
// Unknown keys are rejected.
func Parse(b []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must be set"))
	}
	if c.Server.HandlerTimeout <= 0 {
		errs = append(errs, errors.New("server.handler_timeout must be positive"))
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("server.max_body_bytes must not be negative"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("server.max_connections must not be negative"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rate_burst must be at least 1 when rate_limit is set"))
	}
	if c.Worker.ExecutionTimeout < 0 {
		errs = append(errs, errors.New("worker.execution_timeout must not be negative"))
	}
	if c.Worker.MemoryLimitMB < 0 {
		errs = append(errs, errors.New("worker.memory_limit_mb must not be negative"))
	}
	if c.Handlers.Dir == "" {
		errs = append(errs, errors.New("handlers.dir must be set"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}
