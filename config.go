package hookscan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FailurePolicy says what to do when an attach ultimately fails.
type FailurePolicy string

const (
	// FailAbort stops the caller's startup sequence on the first failed
	// attach.
	FailAbort FailurePolicy = "abort"
	// FailLogAndContinue records the failure and moves on to the next
	// hook.
	FailLogAndContinue FailurePolicy = "log-and-continue"
)

// Duration is a time.Duration that unmarshals from YAML strings like "250ms"
// or "3s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds the externally supplied attach parameters for one hook.
type Config struct {
	// Signature is the pattern in hex-with-wildcards form, e.g.
	// "48 8B ?? 00 FF".
	Signature string `yaml:"signature"`
	// Module names the target module image, e.g. "game.dll".
	Module string `yaml:"module_name"`
	// Timeout bounds the wait for module readiness. Zero means fail
	// immediately if the module is not ready.
	Timeout Duration `yaml:"timeout"`
	// OnFailure selects the failure policy. Defaults to FailAbort.
	OnFailure FailurePolicy `yaml:"on_failure"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.OnFailure == "" {
		cfg.OnFailure = FailAbort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the config is complete and the signature compiles.
func (c *Config) Validate() error {
	if c.Signature == "" {
		return fmt.Errorf("config: signature is required")
	}
	if _, err := Compile(c.Signature); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Module == "" {
		return fmt.Errorf("config: module_name is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative")
	}
	switch c.OnFailure {
	case FailAbort, FailLogAndContinue:
	default:
		return fmt.Errorf("config: unknown on_failure policy %q", c.OnFailure)
	}
	return nil
}

// Pattern compiles the configured signature. Validate or LoadConfig must
// have succeeded first.
func (c *Config) Pattern() *Pattern {
	return MustCompile(c.Signature)
}

// WatchConfig reloads path whenever it changes and hands each successfully
// loaded config to fn. The watch is on the containing directory, so editors
// and config managers that replace the file by rename are picked up too.
// Load failures are reported to sink and the previous config stays in
// effect.
//
// WatchConfig blocks until ctx is cancelled.
func WatchConfig(ctx context.Context, path string, sink Sink, fn func(*Config)) error {
	if sink == nil {
		sink = NopSink{}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				sink.Emit(Event{
					Time:      time.Now(),
					Component: "config",
					Severity:  SeverityWarn,
					Message:   fmt.Sprintf("config reload failed, keeping previous: %v", err),
				})
				continue
			}
			sink.Emit(Event{
				Time:      time.Now(),
				Component: "config",
				Severity:  SeverityInfo,
				Message:   fmt.Sprintf("config reloaded from %s", path),
			})
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sink.Emit(Event{
				Time:      time.Now(),
				Component: "config",
				Severity:  SeverityError,
				Message:   fmt.Sprintf("config watch: %v", err),
			})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
