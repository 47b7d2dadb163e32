// Package config provides configuration management for sinain-core.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for sinain-core.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Escalation  EscalationConfig  `mapstructure:"escalation"`
	OpenClaw    OpenClawConfig    `mapstructure:"openclaw"`
	Situation   SituationConfig   `mapstructure:"situation"`
	Trace       TraceConfig       `mapstructure:"trace"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Transcriber TranscriberConfig `mapstructure:"transcriber"`
}

// ServerConfig holds the bind settings for the combined HTTP + WebSocket surface.
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	WSPort int    `mapstructure:"wsPort"` // fan-out and HTTP bind port
}

// AgentConfig holds the tick engine and model chain configuration.
type AgentConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Model          string   `mapstructure:"model"`
	FallbackModels []string `mapstructure:"fallbackModels"`
	APIKey         string   `mapstructure:"apiKey"`
	APIBase        string   `mapstructure:"apiBase"`
	MaxTokens      int      `mapstructure:"maxTokens"`
	Temperature    float64  `mapstructure:"temperature"`
	DebounceMs     int      `mapstructure:"debounceMs"`
	MaxIntervalMs  int      `mapstructure:"maxIntervalMs"`
	CooldownMs     int      `mapstructure:"cooldownMs"`
	MaxAgeMs       int      `mapstructure:"maxAgeMs"`
	Richness       string   `mapstructure:"richness"` // lean, standard, rich
	PushToFeed     bool     `mapstructure:"pushToFeed"`
}

// EscalationConfig holds the escalation decision settings.
type EscalationConfig struct {
	Mode       string `mapstructure:"mode"` // off, selective, focus, rich
	CooldownMs int    `mapstructure:"cooldownMs"`
}

// OpenClawConfig holds the assistant gateway connection settings.
// The gateway token authenticates the WebSocket RPC channel; the hook
// token is the bearer for the HTTP fallback.
type OpenClawConfig struct {
	GatewayWsURL string `mapstructure:"gatewayWsUrl"`
	GatewayToken string `mapstructure:"gatewayToken"`
	HookURL      string `mapstructure:"hookUrl"`
	HookToken    string `mapstructure:"hookToken"`
	SessionKey   string `mapstructure:"sessionKey"`
}

// SituationConfig holds the situation snapshot file settings.
type SituationConfig struct {
	MdPath    string `mapstructure:"mdPath"`
	MdEnabled bool   `mapstructure:"mdEnabled"`
}

// TraceConfig holds the tick trace journal settings.
type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TranscriberConfig bounds the transcription ingest path.
type TranscriberConfig struct {
	MaxPending      int    `mapstructure:"maxPending"`
	PrimaryDevice   string `mapstructure:"primaryDevice"`
	AlternateDevice string `mapstructure:"alternateDevice"`
}

// ModelConfigured reports whether the model chain has enough credentials to
// run. Without both a model name and an API key the tick engine stays off.
func (a *AgentConfig) ModelConfigured() bool {
	return a.Model != "" && a.APIKey != ""
}

// DebounceDuration returns the tick debounce as a time.Duration.
func (a *AgentConfig) DebounceDuration() time.Duration {
	return time.Duration(a.DebounceMs) * time.Millisecond
}

// MaxIntervalDuration returns the max tick interval as a time.Duration.
func (a *AgentConfig) MaxIntervalDuration() time.Duration {
	return time.Duration(a.MaxIntervalMs) * time.Millisecond
}

// CooldownDuration returns the tick cooldown as a time.Duration.
func (a *AgentConfig) CooldownDuration() time.Duration {
	return time.Duration(a.CooldownMs) * time.Millisecond
}

// MaxAgeDuration returns the context window age bound as a time.Duration.
func (a *AgentConfig) MaxAgeDuration() time.Duration {
	return time.Duration(a.MaxAgeMs) * time.Millisecond
}

// CooldownDuration returns the escalation cooldown as a time.Duration.
func (e *EscalationConfig) CooldownDuration() time.Duration {
	return time.Duration(e.CooldownMs) * time.Millisecond
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.wsPort", 8722)

	// Agent defaults
	v.SetDefault("agent.enabled", true)
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.fallbackModels", []string{})
	v.SetDefault("agent.apiKey", "")
	v.SetDefault("agent.apiBase", "")
	v.SetDefault("agent.maxTokens", 350)
	v.SetDefault("agent.temperature", 0.3)
	v.SetDefault("agent.debounceMs", 3000)
	v.SetDefault("agent.maxIntervalMs", 30000)
	v.SetDefault("agent.cooldownMs", 0)
	v.SetDefault("agent.maxAgeMs", 120000)
	v.SetDefault("agent.richness", "standard")
	v.SetDefault("agent.pushToFeed", true)

	// Escalation defaults
	v.SetDefault("escalation.mode", "off")
	v.SetDefault("escalation.cooldownMs", 90000)

	// OpenClaw gateway defaults
	v.SetDefault("openclaw.gatewayWsUrl", "")
	v.SetDefault("openclaw.gatewayToken", "")
	v.SetDefault("openclaw.hookUrl", "")
	v.SetDefault("openclaw.hookToken", "")
	v.SetDefault("openclaw.sessionKey", "sinain-hud")

	// Situation snapshot defaults
	v.SetDefault("situation.mdPath", "./situation.md")
	v.SetDefault("situation.mdEnabled", true)

	// Trace journal defaults
	v.SetDefault("trace.enabled", true)
	v.SetDefault("trace.dir", "./traces")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "sinain-core")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	// Transcriber defaults
	v.SetDefault("transcriber.maxPending", 3)
	v.SetDefault("transcriber.primaryDevice", "default")
	v.SetDefault("transcriber.alternateDevice", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix SINAIN_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/sinain/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SINAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for keys whose camelCase name does not round-trip
	// through AutomaticEnv.
	_ = v.BindEnv("server.wsPort", "SINAIN_WS_PORT", "SINAIN_SERVER_WSPORT")
	_ = v.BindEnv("agent.apiKey", "SINAIN_AGENT_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("agent.apiBase", "SINAIN_AGENT_API_BASE")
	_ = v.BindEnv("openclaw.gatewayWsUrl", "SINAIN_OPENCLAW_GATEWAY_WS_URL")
	_ = v.BindEnv("openclaw.gatewayToken", "SINAIN_OPENCLAW_GATEWAY_TOKEN")
	_ = v.BindEnv("openclaw.hookUrl", "SINAIN_OPENCLAW_HOOK_URL")
	_ = v.BindEnv("openclaw.hookToken", "SINAIN_OPENCLAW_HOOK_TOKEN")
	_ = v.BindEnv("openclaw.sessionKey", "SINAIN_OPENCLAW_SESSION_KEY")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sinain/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// Missing optional credentials degrade features rather than fail startup.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.WSPort <= 0 || cfg.Server.WSPort > 65535 {
		errs = append(errs, "server.wsPort must be between 1 and 65535")
	}

	validModes := map[string]bool{"off": true, "selective": true, "focus": true, "rich": true}
	if !validModes[cfg.Escalation.Mode] {
		errs = append(errs, "escalation.mode must be one of: off, selective, focus, rich")
	}

	validRichness := map[string]bool{"lean": true, "standard": true, "rich": true}
	if !validRichness[cfg.Agent.Richness] {
		errs = append(errs, "agent.richness must be one of: lean, standard, rich")
	}

	if cfg.Agent.DebounceMs < 0 || cfg.Agent.MaxIntervalMs <= 0 {
		errs = append(errs, "agent.debounceMs must be >= 0 and agent.maxIntervalMs > 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Transcriber.MaxPending <= 0 {
		errs = append(errs, "transcriber.maxPending must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
