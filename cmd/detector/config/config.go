// Package config provides configuration parsing for the detector.
//
// Values come from command-line flags whose defaults are read from
// environment variables, so flags take precedence over the environment.
// An optional YAML file (-config-file) can override the tunable subset
// (entities, threshold, query template, window) for every key whose flag
// was not given explicitly; see Load and Watch.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Config file
//  3. Environment variables
//  4. Default values
//
// Example usage:
//
//	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
//	if err != nil { ... }
//	settings := cfg.Settings()
package config

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/signalguard/signalguard/pkg/adapters"
	"github.com/signalguard/signalguard/pkg/scoring"
	"github.com/signalguard/signalguard/pkg/tls"
)

// Mirror backends.
const (
	MirrorNone  = "none"
	MirrorRedis = "redis"
)

// DefaultEntities are the services monitored when nothing else is configured.
var DefaultEntities = []string{"orders", "payments"}

// Config holds all detector configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string
	TLS        tls.Config

	Source        string
	SourceURL     string
	AdapterConfig map[string]string
	QueryTimeout  time.Duration
	Interval      time.Duration

	Entities      []string
	Threshold     float64
	QueryTemplate string
	Window        time.Duration
	ConfigFile    string

	Mirror        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	PushgatewayURL string

	// explicit records flags given on the command line; the config file
	// never overrides them.
	explicit map[string]bool
	// base holds the settings from flags and environment only. Reloads
	// start from it so keys removed from the file fall back.
	base Settings
}

// Settings is the part of the configuration that can change while the
// detector runs.
type Settings struct {
	Entities      []string
	Threshold     float64
	QueryTemplate string
	Window        time.Duration
}

// Parse defines the detector flags on fs and parses args. It loads the
// config file when one is named and validates the result.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	var entities string

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8001"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC listen address (empty disables)")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for HTTP/gRPC servers and source client")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file")

	fs.StringVar(&cfg.Source, "source", getEnv("SOURCE", adapters.KindPrometheus), "Metrics source: prometheus, victoriametrics, or http")
	fs.StringVar(&cfg.SourceURL, "source-url", getEnv("SOURCE_URL", getEnv("PROMETHEUS_URL", "")), "Metrics source base URL")
	fs.DurationVar(&cfg.QueryTimeout, "query-timeout", getEnvSeconds("QUERY_TIMEOUT_SECONDS", 5*time.Second), "Per-entity query timeout")
	fs.DurationVar(&cfg.Interval, "interval", getEnvSeconds("TICK_INTERVAL_SECONDS", 30*time.Second), "Evaluation interval")

	fs.StringVar(&entities, "entities", getEnv("ENTITIES", strings.Join(DefaultEntities, ",")), "Comma-separated entities to monitor")
	fs.Float64Var(&cfg.Threshold, "threshold", getEnvFloat("THRESHOLD", scoring.DefaultThreshold), "Error-rate threshold")
	fs.StringVar(&cfg.QueryTemplate, "query-template", getEnv("QUERY_TEMPLATE", scoring.DefaultQueryTemplate), "Per-entity query template")
	fs.DurationVar(&cfg.Window, "window", getEnvDuration("WINDOW", 5*time.Minute), "Trailing window for the rate query")
	fs.StringVar(&cfg.ConfigFile, "config-file", getEnv("CONFIG_FILE", ""), "Optional YAML file with entities/threshold/queryTemplate/window")

	fs.StringVar(&cfg.Mirror, "mirror", getEnv("MIRROR", MirrorNone), "Snapshot mirror: none or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 5*time.Minute), "Redis snapshot TTL")

	fs.StringVar(&cfg.PushgatewayURL, "pushgateway-url", getEnv("PUSHGATEWAY_URL", ""), "Pushgateway URL (empty disables pushing)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.explicit = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { cfg.explicit[f.Name] = true })

	cfg.Entities = splitList(entities)
	cfg.AdapterConfig = parseAdapterConfig()
	if cfg.SourceURL == "" {
		cfg.SourceURL = adapters.DefaultSourceURL(cfg.Source)
	}
	if cfg.SourceURL != "" {
		cfg.AdapterConfig["url"] = cfg.SourceURL
	}

	cfg.base = cfg.Settings()
	if cfg.ConfigFile != "" {
		fc, err := Load(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.apply(fc)
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

// Settings returns the current tunable settings.
func (c *Config) Settings() Settings {
	return Settings{
		Entities:      append([]string(nil), c.Entities...),
		Threshold:     c.Threshold,
		QueryTemplate: c.QueryTemplate,
		Window:        c.Window,
	}
}

// Reload merges fc over the flag and environment settings, honoring explicit
// flags, and returns the result. A key missing from fc takes its pre-file
// value, not the one loaded earlier. c is not modified.
func (c *Config) Reload(fc *FileConfig) (Settings, error) {
	next := Config{
		Entities:      append([]string(nil), c.base.Entities...),
		Threshold:     c.base.Threshold,
		QueryTemplate: c.base.QueryTemplate,
		Window:        c.base.Window,
		explicit:      c.explicit,
	}
	next.apply(fc)
	s := next.Settings()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (c *Config) apply(fc *FileConfig) {
	if fc == nil {
		return
	}
	if len(fc.Entities) > 0 && !c.explicit["entities"] {
		c.Entities = append([]string(nil), fc.Entities...)
	}
	if fc.Threshold != nil && !c.explicit["threshold"] {
		c.Threshold = *fc.Threshold
	}
	if fc.QueryTemplate != "" && !c.explicit["query-template"] {
		c.QueryTemplate = fc.QueryTemplate
	}
	if fc.Window.Duration > 0 && !c.explicit["window"] {
		c.Window = fc.Window.Duration
	}
}

// Validate checks the full configuration.
func (c *Config) Validate() error {
	switch c.Source {
	case adapters.KindPrometheus, adapters.KindVictoriaMetrics, adapters.KindHTTP:
	default:
		return fmt.Errorf("invalid source %q (must be prometheus, victoriametrics, or http)", c.Source)
	}
	if c.Interval <= 0 {
		return errors.New("interval must be > 0")
	}
	if c.QueryTimeout <= 0 {
		return errors.New("query timeout must be > 0")
	}
	switch c.Mirror {
	case MirrorNone, MirrorRedis:
	default:
		return fmt.Errorf("invalid mirror %q (must be none or redis)", c.Mirror)
	}
	if c.Mirror == MirrorRedis && c.RedisAddr == "" {
		return errors.New("redis mirror requires a redis address")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	return c.Settings().Validate()
}

var entityNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

// Validate checks the tunable settings.
func (s Settings) Validate() error {
	if len(s.Entities) == 0 {
		return errors.New("at least one entity is required")
	}
	seen := make(map[string]bool, len(s.Entities))
	for i, e := range s.Entities {
		if !entityNameRegex.MatchString(e) {
			return fmt.Errorf("entity[%d]: invalid name %q (must be alphanumeric with dash/underscore, 1-253 chars)", i, e)
		}
		if seen[e] {
			return fmt.Errorf("entity %q listed twice", e)
		}
		seen[e] = true
	}
	if math.IsNaN(s.Threshold) || math.IsInf(s.Threshold, 0) || s.Threshold < 0 {
		return fmt.Errorf("threshold must be a finite number >= 0, got %v", s.Threshold)
	}
	if s.Window <= 0 {
		return errors.New("window must be > 0")
	}
	if _, err := scoring.ParseQueryTemplate(s.QueryTemplate); err != nil {
		return err
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseAdapterConfig collects ADAPTER_* environment variables into a map
// keyed by lowerCamelCase name (ADAPTER_VALUE_PATH -> valuePath).
func parseAdapterConfig() map[string]string {
	config := make(map[string]string)

	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, "ADAPTER_") || len(key) == len("ADAPTER_") {
			continue
		}
		config[toLowerCamelCase(strings.TrimPrefix(key, "ADAPTER_"))] = value
	}

	return config
}

func toLowerCamelCase(s string) string {
	var b strings.Builder
	nextUpper := false
	for i, r := range strings.ToLower(s) {
		if r == '_' {
			nextUpper = i > 0
			continue
		}
		if nextUpper {
			b.WriteString(strings.ToUpper(string(r)))
			nextUpper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

// getEnvSeconds reads a plain number of seconds ("30", "2.5") or a Go
// duration ("30s").
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
