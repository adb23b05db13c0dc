/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JUKEBOX_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.IdleTimeout != 10*time.Second {
		t.Errorf("IdleTimeout = %v, want 10s", cfg.IdleTimeout)
	}
	if cfg.SyncInterval != 2*time.Second {
		t.Errorf("SyncInterval = %v, want 2s", cfg.SyncInterval)
	}
	if cfg.StreamOpenTimeout != 15*time.Second {
		t.Errorf("StreamOpenTimeout = %v, want 15s", cfg.StreamOpenTimeout)
	}
	if cfg.HistorySize != 10 || cfg.MaxQueueSize != 100 {
		t.Errorf("unexpected sizes: history %d, queue %d", cfg.HistorySize, cfg.MaxQueueSize)
	}
	if cfg.DefaultVolume != 0.5 {
		t.Errorf("DefaultVolume = %v, want 0.5", cfg.DefaultVolume)
	}
	if cfg.IdleStatusText != DefaultIdleStatusText {
		t.Errorf("IdleStatusText = %q", cfg.IdleStatusText)
	}
}

func TestLoadReadsEnvAliases(t *testing.T) {
	t.Setenv("JUKEBOX_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("MAX_QUEUE_SIZE", "25")
	t.Setenv("JUKEBOX_IDLE_TIMEOUT", "30")
	t.Setenv("JUKEBOX_SYNC_INTERVAL", "500ms")
	t.Setenv("JUKEBOX_STREAM_OPEN_TIMEOUT", "5s")
	t.Setenv("YOUTUBE_PROXY", "socks5://127.0.0.1:1080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MaxQueueSize != 25 {
		t.Errorf("MaxQueueSize = %d, want 25", cfg.MaxQueueSize)
	}
	if cfg.IdleTimeout != 30*time.Second {
		t.Errorf("IdleTimeout = %v, want 30s", cfg.IdleTimeout)
	}
	if cfg.SyncInterval != 500*time.Millisecond {
		t.Errorf("SyncInterval = %v, want 500ms", cfg.SyncInterval)
	}
	if cfg.StreamOpenTimeout != 5*time.Second {
		t.Errorf("StreamOpenTimeout = %v, want 5s", cfg.StreamOpenTimeout)
	}
	if cfg.YTDLPProxy != "socks5://127.0.0.1:1080" {
		t.Errorf("YTDLPProxy = %q", cfg.YTDLPProxy)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envFile, []byte("JUKEBOX_HISTORY_SIZE=4\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JUKEBOX_ENV_FILE", envFile)
	// Registers cleanup so the value loaded from the file does not leak.
	t.Setenv("JUKEBOX_HISTORY_SIZE", "")
	os.Unsetenv("JUKEBOX_HISTORY_SIZE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HistorySize != 4 {
		t.Errorf("HistorySize = %d, want 4 from .env", cfg.HistorySize)
	}
}

func TestLoadConfigFileOverlay(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "jukebox.yaml")
	yaml := `
idle_status_text: "Back soon"
player_bin: mpv
platforms:
  - platform: soundcloud
    domains: ["snd.sc", "soundcloud.com"]
  - platform: youtube
    domains: ["youtube.com", "youtu.be"]
webhooks:
  - url: https://hooks.example.com/jukebox
    secret: s3cret
    events: ["now_playing"]
`
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JUKEBOX_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("JUKEBOX_CONFIG_FILE", file)
	t.Setenv("JUKEBOX_PLAYER_BIN", "ffplay")
	t.Setenv("JUKEBOX_WEBHOOK_URL", "http://localhost:9000/hook")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.IdleStatusText != "Back soon" {
		t.Errorf("IdleStatusText = %q, want file value", cfg.IdleStatusText)
	}
	if cfg.PlayerBin != "ffplay" {
		t.Errorf("PlayerBin = %q, env should win over file", cfg.PlayerBin)
	}
	if len(cfg.Platforms) != 2 || cfg.Platforms[0].Domains[0] != "snd.sc" {
		t.Errorf("Platforms = %+v", cfg.Platforms)
	}
	if len(cfg.Webhooks) != 2 {
		t.Fatalf("Webhooks = %+v, want file entry plus env entry", cfg.Webhooks)
	}
	if cfg.Webhooks[0].Secret != "s3cret" || len(cfg.Webhooks[0].Events) != 1 {
		t.Errorf("Webhooks[0] = %+v", cfg.Webhooks[0])
	}
	if cfg.Webhooks[1].URL != "http://localhost:9000/hook" {
		t.Errorf("Webhooks[1].URL = %q", cfg.Webhooks[1].URL)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"volume above one", map[string]string{"JUKEBOX_DEFAULT_VOLUME": "1.5"}},
		{"zero history", map[string]string{"JUKEBOX_HISTORY_SIZE": "0"}},
		{"bad port", map[string]string{"JUKEBOX_HTTP_PORT": "70000"}},
		{"sample rate", map[string]string{"JUKEBOX_TRACING_SAMPLE_RATE": "2"}},
		{"webhook scheme", map[string]string{"JUKEBOX_WEBHOOK_URL": "ftp://example.com"}},
		{"nats token in production", map[string]string{
			"JUKEBOX_ENV":      "production",
			"JUKEBOX_NATS_URL": "nats://localhost:4222",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JUKEBOX_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("JUKEBOX_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DISCORD_TOKEN", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) < 2 {
		t.Fatalf("expected legacy env warnings, got %v", cfg.LegacyEnvWarnings)
	}
}
