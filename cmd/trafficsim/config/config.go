// Package config provides configuration parsing for the traffic simulator.
//
// Flags take precedence over environment variables, which take precedence
// over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Listen      string
	DetectorURL string
	LogFormat   string
	LogLevel    string

	Traffic           bool
	RequestsPerSecond int
	Seed              uint64

	// DatabaseURL enables the Postgres request ledger when set.
	DatabaseURL string

	ProxyTimeout time.Duration
}

// Parse defines the simulator flags on fs and parses args.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8000"), "HTTP listen address")
	fs.StringVar(&cfg.DetectorURL, "detector-url", getEnv("ANOMALY_SERVICE_URL", "http://localhost:8001"), "Detector base URL for the dashboard proxy")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.BoolVar(&cfg.Traffic, "traffic", getEnvBool("TRAFFIC", true), "Generate background traffic")
	fs.IntVar(&cfg.RequestsPerSecond, "rps", getEnvInt("REQUESTS_PER_SECOND", 5), "Background requests per second")
	fs.Uint64Var(&cfg.Seed, "seed", getEnvUint("SEED", 0), "Random seed (0 picks one from the clock)")

	fs.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", ""), "Postgres DSN for the request ledger (empty disables)")
	fs.DurationVar(&cfg.ProxyTimeout, "proxy-timeout", getEnvDuration("PROXY_TIMEOUT", 3*time.Second), "Timeout for detector proxy calls")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFlags parses os.Args with the global flag set and exits on error.
func ParseFlags() *Config {
	cfg, err := Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.DetectorURL == "" {
		return errors.New("detector URL is required")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must be >= 0, got %d", c.RequestsPerSecond)
	}
	if c.ProxyTimeout <= 0 {
		return errors.New("proxy timeout must be > 0")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
