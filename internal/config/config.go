/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultIdleStatusText is shown on the voice channel when nothing plays.
const DefaultIdleStatusText = "Grimnir Jukebox was here"

// PlatformEntry maps a platform name to the URL substrings that identify it.
type PlatformEntry struct {
	Platform string   `yaml:"platform"`
	Domains  []string `yaml:"domains"`
}

// WebhookEntry is an endpoint that receives session events. Empty Events
// means every event.
type WebhookEntry struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Config covers process level configuration read from environment variables
// and an optional YAML file.
type Config struct {
	Environment string
	LogLevel    string
	HTTPBind    string
	HTTPPort    int
	ConfigFile  string

	// Session behavior
	IdleTimeout    time.Duration
	SyncInterval   time.Duration
	HistorySize    int
	MaxQueueSize   int
	DefaultVolume  float64
	IdleStatusText string

	// Resolver
	ResolveTimeout time.Duration
	YTDLPFormat    string
	YTDLPProxy     string
	Platforms      []PlatformEntry

	// Playout
	PlayerBin         string
	PlayerArgs        []string      // {url} and {volume} are substituted per track
	StreamOpenTimeout time.Duration // bounds opening one track's stream

	// Resolver cache
	CacheEnabled    bool
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ResolveCacheTTL time.Duration

	// Event fan-out
	NATSURL   string
	NATSToken string

	// Outbound webhooks for session events
	Webhooks []WebhookEntry

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// fileConfig is the YAML overlay. Environment variables win over it.
type fileConfig struct {
	IdleStatusText string          `yaml:"idle_status_text"`
	PlayerBin      string          `yaml:"player_bin"`
	PlayerArgs     []string        `yaml:"player_args"`
	YTDLPFormat    string          `yaml:"ytdlp_format"`
	Platforms      []PlatformEntry `yaml:"platforms"`
	Webhooks       []WebhookEntry  `yaml:"webhooks"`
}

// Load reads .env, the optional YAML file and environment variables, applies
// defaults, and validates the result.
func Load() (*Config, error) {
	loadDotEnv()

	configFile := getEnvAny([]string{"JUKEBOX_CONFIG_FILE", "JUKEBOX_CONFIG"}, "")
	var fc fileConfig
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"JUKEBOX_ENV", "GRIMNIR_ENV"}, "development"),
		LogLevel:    getEnvAny([]string{"JUKEBOX_LOG_LEVEL", "LOG_LEVEL"}, ""),
		HTTPBind:    getEnvAny([]string{"JUKEBOX_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"JUKEBOX_HTTP_PORT", "PORT"}, 8080),
		ConfigFile:  configFile,

		IdleTimeout:    getEnvDurationAny([]string{"JUKEBOX_IDLE_TIMEOUT"}, 10*time.Second),
		SyncInterval:   getEnvDurationAny([]string{"JUKEBOX_SYNC_INTERVAL"}, 2*time.Second),
		HistorySize:    getEnvIntAny([]string{"JUKEBOX_HISTORY_SIZE"}, 10),
		MaxQueueSize:   getEnvIntAny([]string{"JUKEBOX_MAX_QUEUE_SIZE", "MAX_QUEUE_SIZE"}, 100),
		DefaultVolume:  getEnvFloatAny([]string{"JUKEBOX_DEFAULT_VOLUME", "DEFAULT_VOLUME"}, 0.5),
		IdleStatusText: getEnvAny([]string{"JUKEBOX_IDLE_STATUS_TEXT"}, orDefault(fc.IdleStatusText, DefaultIdleStatusText)),

		ResolveTimeout: getEnvDurationAny([]string{"JUKEBOX_RESOLVE_TIMEOUT"}, 30*time.Second),
		YTDLPFormat:    getEnvAny([]string{"JUKEBOX_YTDLP_FORMAT"}, orDefault(fc.YTDLPFormat, "bestaudio[ext=webm]/bestaudio/best")),
		YTDLPProxy:     getEnvAny([]string{"JUKEBOX_YTDLP_PROXY", "YOUTUBE_PROXY"}, ""),
		Platforms:      fc.Platforms,
		Webhooks:       fc.Webhooks,

		PlayerBin:         getEnvAny([]string{"JUKEBOX_PLAYER_BIN"}, orDefault(fc.PlayerBin, "ffplay")),
		PlayerArgs:        fc.PlayerArgs,
		StreamOpenTimeout: getEnvDurationAny([]string{"JUKEBOX_STREAM_OPEN_TIMEOUT"}, 15*time.Second),

		CacheEnabled:    getEnvBoolAny([]string{"JUKEBOX_CACHE_ENABLED"}, false),
		RedisAddr:       getEnvAny([]string{"JUKEBOX_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:   getEnvAny([]string{"JUKEBOX_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:         getEnvIntAny([]string{"JUKEBOX_REDIS_DB", "REDIS_DB"}, 0),
		ResolveCacheTTL: getEnvDurationAny([]string{"JUKEBOX_RESOLVE_CACHE_TTL"}, 6*time.Hour),

		NATSURL:   getEnvAny([]string{"JUKEBOX_NATS_URL", "NATS_URL"}, ""),
		NATSToken: getEnvAny([]string{"JUKEBOX_NATS_TOKEN", "NATS_TOKEN"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"JUKEBOX_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"JUKEBOX_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"JUKEBOX_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if raw := getEnvAny([]string{"JUKEBOX_PLAYER_ARGS"}, ""); raw != "" {
		cfg.PlayerArgs = strings.Fields(raw)
	}

	if raw := getEnvAny([]string{"JUKEBOX_WEBHOOK_URL"}, ""); raw != "" {
		cfg.Webhooks = append(cfg.Webhooks, WebhookEntry{
			URL:    raw,
			Secret: getEnvAny([]string{"JUKEBOX_WEBHOOK_SECRET"}, ""),
		})
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("JUKEBOX_HTTP_PORT out of range: %d", c.HTTPPort)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("JUKEBOX_IDLE_TIMEOUT must be positive")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("JUKEBOX_SYNC_INTERVAL must be positive")
	}
	if c.StreamOpenTimeout <= 0 {
		return fmt.Errorf("JUKEBOX_STREAM_OPEN_TIMEOUT must be positive")
	}
	if c.ResolveTimeout <= 0 {
		return fmt.Errorf("JUKEBOX_RESOLVE_TIMEOUT must be positive")
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("JUKEBOX_HISTORY_SIZE must be at least 1")
	}
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("JUKEBOX_MAX_QUEUE_SIZE must be at least 1")
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 1 {
		return fmt.Errorf("JUKEBOX_DEFAULT_VOLUME must be within [0, 1], got %v", c.DefaultVolume)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("JUKEBOX_TRACING_SAMPLE_RATE must be within [0, 1]")
	}
	for _, p := range c.Platforms {
		switch strings.ToLower(p.Platform) {
		case "youtube", "spotify", "soundcloud":
		default:
			return fmt.Errorf("config file: unknown platform %q", p.Platform)
		}
		if len(p.Domains) == 0 {
			return fmt.Errorf("config file: platform %q has no domains", p.Platform)
		}
	}
	for _, w := range c.Webhooks {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return fmt.Errorf("webhook url must be http(s): %q", w.URL)
		}
	}
	if strings.EqualFold(c.Environment, "production") && c.NATSURL != "" && c.NATSToken == "" {
		return fmt.Errorf("JUKEBOX_NATS_TOKEN must be set when NATS is enabled in production")
	}
	return nil
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func loadDotEnv() {
	path := os.Getenv("JUKEBOX_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	// Existing variables are never overridden.
	_ = godotenv.Load(path)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use JUKEBOX_ENV",
		"DISCORD_TOKEN":   "tokens are owned by the gateway adapter, not the jukebox",
		"COMMAND_PREFIX":  "commands arrive over the HTTP API",
		"TRACING_ENABLED": "use JUKEBOX_TRACING_ENABLED",
		"OTLP_ENDPOINT":   "use JUKEBOX_OTLP_ENDPOINT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("10s") or bare seconds ("10").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
