package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML config file. Every key is optional.
//
//	entities: [orders, payments, checkout]
//	threshold: 0.25
//	queryTemplate: 'sum(rate(http_errors_total{service="{{.Entity}}"}[{{.Window}}]))'
//	window: 2m
type FileConfig struct {
	Entities      []string `yaml:"entities"`
	Threshold     *float64 `yaml:"threshold"`
	QueryTemplate string   `yaml:"queryTemplate"`
	Window        Duration `yaml:"window"`
}

// Duration accepts Go duration strings ("5m") in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads and decodes the YAML file at path. Unknown keys are rejected
// so typos do not silently fall back to defaults.
func Load(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var fc FileConfig
	if err := dec.Decode(&fc); err != nil {
		// An empty file decodes to io.EOF; treat it as "no overrides".
		if errors.Is(err, io.EOF) {
			return &fc, nil
		}
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return &fc, nil
}

// Watch monitors the config file and calls onChange with the merged
// settings each time it is rewritten with valid content. Invalid content is
// logged and the previous settings stay active. Watch runs until ctx is
// cancelled.
//
// The parent directory is watched so editors that save by rename are seen.
func Watch(ctx context.Context, cfg *Config, logger *slog.Logger, onChange func(Settings)) error {
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.ConfigFile
	if path == "" {
		return errors.New("no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %q: %w", path, err)
	}

	logger.Info("watching config file", "path", path)
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			fc, err := Load(path)
			if err != nil {
				logger.Error("config reload failed, keeping previous settings", "path", path, "error", err)
				continue
			}
			settings, err := cfg.Reload(fc)
			if err != nil {
				logger.Error("config reload rejected, keeping previous settings", "path", path, "error", err)
				continue
			}

			logger.Info("config reloaded", "path", path, "entities", settings.Entities, "threshold", settings.Threshold)
			onChange(settings)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
