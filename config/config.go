package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration. Values are resolved in
// precedence order: defaults, then the TOML file named by BFF_CONFIG, then
// BFF_* environment variables, then flags.
type Config struct {
	Port               int    `toml:"port"`
	Workers            int    `toml:"workers"`
	MaxConnsPerWorker  int    `toml:"max_conns_per_worker"`
	GlobalPoolSize     int    `toml:"global_pool_size"`
	TimerCapacity      int    `toml:"timer_capacity"`
	RequestTimeoutMS   int    `toml:"request_timeout_ms"`
	KeepAliveTimeoutMS int    `toml:"keepalive_timeout_ms"`
	RepeatedByteGuard  bool   `toml:"repeated_byte_guard"`
	Env                string `toml:"env"`
	LogLevel           string `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:               8080,
		Workers:            0, // CPU count
		MaxConnsPerWorker:  512,
		GlobalPoolSize:     512,
		RequestTimeoutMS:   5000,
		KeepAliveTimeoutMS: 10000,
		RepeatedByteGuard:  false,
		Env:                "development",
		LogLevel:           "info",
	}
}

// Load resolves the configuration from args (usually os.Args[1:]).
func Load(args []string) (*Config, error) {
	cfg := Default()

	if path := os.Getenv("BFF_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	fs := flag.NewFlagSet("bff-server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "worker count (0 = CPU count)")
	fs.IntVar(&cfg.MaxConnsPerWorker, "max-conns", cfg.MaxConnsPerWorker, "connection records per worker")
	fs.IntVar(&cfg.RequestTimeoutMS, "request-timeout-ms", cfg.RequestTimeoutMS, "request-phase timeout")
	fs.IntVar(&cfg.KeepAliveTimeoutMS, "keepalive-timeout-ms", cfg.KeepAliveTimeoutMS, "keep-alive idle timeout")
	fs.BoolVar(&cfg.RepeatedByteGuard, "repeated-byte-guard", cfg.RepeatedByteGuard, "enable the repeated-byte flood heuristic")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "environment (development/production)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "zerolog level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnv applies BFF_* environment overrides.
func (c *Config) loadEnv() {
	envInt("BFF_PORT", &c.Port)
	envInt("BFF_WORKERS", &c.Workers)
	envInt("BFF_MAX_CONNS", &c.MaxConnsPerWorker)
	envInt("BFF_REQUEST_TIMEOUT_MS", &c.RequestTimeoutMS)
	envInt("BFF_KEEPALIVE_TIMEOUT_MS", &c.KeepAliveTimeoutMS)
	envBool("BFF_REPEATED_BYTE_GUARD", &c.RepeatedByteGuard)
	envString("BFF_ENV", &c.Env)
	envString("BFF_LOG_LEVEL", &c.LogLevel)
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.RequestTimeoutMS <= 0 || c.KeepAliveTimeoutMS <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	return nil
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "yes" || v == "1"
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
