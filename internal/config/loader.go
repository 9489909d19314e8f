package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envAPIKey is the environment variable consulted when upstream.api_key is
// not set in the config file.
const envAPIKey = "OPENAI_API_KEY"

// Debounce window bounds. The window must be long enough to not commit
// within-utterance pauses and short enough to not add noticeable turn
// latency.
const (
	minDebounce = 150 * time.Millisecond
	maxDebounce = 500 * time.Millisecond
)

// Load reads the YAML configuration file at path, fills defaults and the
// environment credential, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment credential, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg from [Default] and pulls the
// upstream credential from the environment when the file omits it.
func ApplyDefaults(cfg *Config) {
	def := Default()

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = def.Server.ListenAddr
	}
	if cfg.Server.Path == "" {
		cfg.Server.Path = def.Server.Path
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Server.DrainTimeout == 0 {
		cfg.Server.DrainTimeout = def.Server.DrainTimeout
	}
	if cfg.Upstream.URL == "" {
		cfg.Upstream.URL = def.Upstream.URL
	}
	if cfg.Upstream.Model == "" {
		cfg.Upstream.Model = def.Upstream.Model
	}
	if cfg.Upstream.APIKey == "" {
		cfg.Upstream.APIKey = os.Getenv(envAPIKey)
	}
	if cfg.Audio.DebounceWindow == 0 {
		cfg.Audio.DebounceWindow = def.Audio.DebounceWindow
	}
	if cfg.Audio.CommitThreshold == 0 {
		cfg.Audio.CommitThreshold = def.Audio.CommitThreshold
	}
	if cfg.Session.AckTimeout == 0 {
		cfg.Session.AckTimeout = def.Session.AckTimeout
	}
	if cfg.Session.WriteQueueSize == 0 {
		cfg.Session.WriteQueueSize = def.Session.WriteQueueSize
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		errs = append(errs, fmt.Errorf("server.path %q must start with /", cfg.Server.Path))
	}

	if cfg.Upstream.APIKey == "" {
		errs = append(errs, fmt.Errorf("upstream.api_key is required (or set %s)", envAPIKey))
	}
	if !strings.HasPrefix(cfg.Upstream.URL, "ws://") && !strings.HasPrefix(cfg.Upstream.URL, "wss://") {
		errs = append(errs, fmt.Errorf("upstream.url %q must be a ws:// or wss:// URL", cfg.Upstream.URL))
	}

	if cfg.Audio.DebounceWindow < minDebounce || cfg.Audio.DebounceWindow > maxDebounce {
		errs = append(errs, fmt.Errorf("audio.debounce_window %v is out of range [%v, %v]", cfg.Audio.DebounceWindow, minDebounce, maxDebounce))
	}
	if cfg.Audio.CommitThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.commit_threshold must not be negative"))
	}

	if cfg.Session.AckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.ack_timeout must be positive"))
	}
	if cfg.Session.WriteQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("session.write_queue_size must be positive"))
	}

	return errors.Join(errs...)
}
