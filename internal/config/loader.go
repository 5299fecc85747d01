package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"agent": {"elevenlabs", "mock"},
	"audio": {"local", "mock"},
}

// LoadOption configures [Load].
type LoadOption func(*loadOptions)

type loadOptions struct {
	allowMissing bool
	dotenv       []string
}

// AllowMissing makes [Load] fall back to defaults plus environment when the
// file does not exist.
func AllowMissing() LoadOption {
	return func(o *loadOptions) { o.allowMissing = true }
}

// WithDotEnv loads the given .env files into the process environment before
// the overlay is applied. Missing files are ignored; variables already set
// are never overwritten.
func WithDotEnv(files ...string) LoadOption {
	return func(o *loadOptions) { o.dotenv = append(o.dotenv, files...) }
}

// Load reads the YAML configuration file at path, overlays the environment,
// applies defaults and returns a validated [Config].
func Load(path string, opts ...LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	for _, f := range o.dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %q: %w", f, err)
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case o.allowMissing && errors.Is(err, fs.ErrNotExist):
		slog.Debug("config file not found, using defaults and environment", "path", path)
		data = nil
	default:
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// parse is the full pipeline shared by [Load] and the [Watcher].
func parse(data []byte) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays the variables named in the env struct tags of [Config]
// onto cfg. Unset variables leave the field untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("agent", cfg.Agent.Provider)
	validateProviderName("audio", cfg.Audio.Provider)

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	} else if cfg.Audio.SampleRate > 0 && (cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 48000]", cfg.Audio.SampleRate))
	}

	// Session
	if cfg.Session.EndTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.end_timeout %s must not be negative", cfg.Session.EndTimeout))
	}

	// Storage
	if cfg.Storage.PostgresDSN != "" && cfg.Storage.Path != "" {
		slog.Warn("both storage.postgres_dsn and storage.path are set; using PostgreSQL")
	}

	// Agent
	if cfg.Agent.AgentID == "" {
		slog.Debug("agent.agent_id is empty; chat sessions cannot be started")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
