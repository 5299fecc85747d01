// Package config provides the configuration schema, loader, and provider
// registry for the Chinese tutor.
//
// Values come from three layers, later layers winning: the YAML file, a .env
// file in the working directory, and the process environment.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
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

// SlogLevel maps l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
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

// Defaults applied by [ApplyDefaults] to empty fields.
const (
	DefaultListenAddr    = "127.0.0.1:3000"
	DefaultAgentProvider = "elevenlabs"
	DefaultAudioProvider = "local"
	DefaultSampleRate    = 16000
	DefaultEndTimeout    = 10 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded with [Load] or, in tests, [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Audio   AudioConfig   `yaml:"audio"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig holds network and logging settings for the web control room.
type ServerConfig struct {
	// ListenAddr is the TCP address the control room listens on.
	ListenAddr string `yaml:"listen_addr" env:"CHINESE_TUTOR_LISTEN_ADDR"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" env:"CHINESE_TUTOR_LOG_LEVEL"`
}

// AgentConfig selects the conversational agent.
type AgentConfig struct {
	// Provider selects the registered agent transport ("elevenlabs", "mock").
	Provider string `yaml:"provider"`

	// AgentID identifies the tutor agent. Required to start a chat.
	AgentID string `yaml:"agent_id" env:"AGENT_ID"`

	// APIKey, when set, is used to fetch a signed conversation URL.
	APIKey string `yaml:"api_key" env:"ELEVENLABS_API_KEY"`

	// BaseURL overrides the websocket endpoint. Leave empty for the default.
	BaseURL string `yaml:"base_url"`

	// APIBaseURL overrides the REST endpoint used for signed URLs.
	APIBaseURL string `yaml:"api_base_url"`
}

// AudioConfig selects the audio device.
type AudioConfig struct {
	// Provider selects the registered audio platform ("local", "mock").
	Provider string `yaml:"provider"`

	// SampleRate is the microphone and speaker rate in Hz.
	SampleRate int `yaml:"sample_rate"`
}

// StorageConfig selects where sessions and vocabulary are kept.
type StorageConfig struct {
	// Path is the SQLite database file. Empty resolves through [DBPath].
	Path string `yaml:"path" env:"CHINESE_TUTOR_DB_PATH"`

	// PostgresDSN selects the PostgreSQL backend instead of SQLite.
	PostgresDSN string `yaml:"postgres_dsn" env:"CHINESE_TUTOR_POSTGRES_DSN"`
}

// SessionConfig tunes the session driver.
type SessionConfig struct {
	// EndTimeout bounds the wait for the agent to confirm the end of a
	// conversation.
	EndTimeout time.Duration `yaml:"end_timeout"`
}

// ApplyDefaults fills every empty field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Agent.Provider == "" {
		cfg.Agent.Provider = DefaultAgentProvider
	}
	if cfg.Audio.Provider == "" {
		cfg.Audio.Provider = DefaultAudioProvider
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Session.EndTimeout == 0 {
		cfg.Session.EndTimeout = DefaultEndTimeout
	}
}

// MaskAgentID shortens an agent id for display: ids longer than eight
// characters keep their first and last four.
func MaskAgentID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + "..." + id[len(id)-4:]
}
