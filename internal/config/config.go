// Package config provides the configuration schema, loader, and validation
// for the voice-agent proxy.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the proxy.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to its [slog.Level]. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the proxy.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Audio    AudioConfig    `yaml:"audio"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds network and logging settings for the client-facing
// listener.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// Path is the WebSocket path clients connect to.
	Path string `yaml:"path"`

	// LogLevel controls verbosity. Debug logs the type of every translated
	// message.
	LogLevel LogLevel `yaml:"log_level"`

	// LogPayloads additionally logs message content at debug level. Off by
	// default; credentials are never logged regardless.
	LogPayloads bool `yaml:"log_payloads"`

	// DrainTimeout bounds how long active sessions may run after a shutdown
	// signal before they are force-closed.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// UpstreamConfig holds the realtime-speech provider endpoint and credential.
type UpstreamConfig struct {
	// URL is the provider's realtime WebSocket endpoint.
	URL string `yaml:"url"`

	// APIKey authenticates the upstream handshake. Required; may also be
	// supplied via the OPENAI_API_KEY environment variable. It never appears
	// in any message emitted to a client.
	APIKey string `yaml:"api_key"`

	// Model selects the realtime model appended to the dial URL.
	Model string `yaml:"model"`
}

// AudioConfig tunes the microphone-audio commit debounce.
type AudioConfig struct {
	// DebounceWindow is the inactivity window after the last client audio
	// frame before the buffered turn is committed upstream. Must lie within
	// [150ms, 500ms]; fixed per session once loaded.
	DebounceWindow time.Duration `yaml:"debounce_window"`

	// CommitThreshold is the minimum buffered byte count for a commit. The
	// provider rejects too-small buffers; below this the window extends.
	CommitThreshold int `yaml:"commit_threshold"`
}

// SessionConfig tunes per-session limits.
type SessionConfig struct {
	// AckTimeout bounds the wait for the upstream session-configuration
	// acknowledgement. Expiry is fatal to the session.
	AckTimeout time.Duration `yaml:"ack_timeout"`

	// WriteQueueSize bounds each socket's outbound queue. A full queue is a
	// backpressure breach: the session warns the client and closes.
	WriteQueueSize int `yaml:"write_queue_size"`
}

// Default returns the configuration used when no config file is present.
// The upstream credential still has to come from the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			Path:         "/openai",
			LogLevel:     LogInfo,
			DrainTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			URL:   "wss://api.openai.com/v1/realtime",
			Model: "gpt-4o-realtime-preview",
		},
		Audio: AudioConfig{
			DebounceWindow:  250 * time.Millisecond,
			CommitThreshold: 3200,
		},
		Session: SessionConfig{
			AckTimeout:     15 * time.Second,
			WriteQueueSize: 256,
		},
	}
}
