/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/config"
	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/models"
)

func TestSecurityHeadersMiddleware_BaselineHeaders(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options=%q, want nosniff", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options=%q, want DENY", got)
	}
	if got := rr.Header().Get("Referrer-Policy"); got != "strict-origin-when-cross-origin" {
		t.Fatalf("Referrer-Policy=%q, want strict-origin-when-cross-origin", got)
	}
	if got := rr.Header().Get("Content-Security-Policy"); !strings.Contains(got, "frame-ancestors 'none'") {
		t.Fatalf("Content-Security-Policy=%q, want frame-ancestors 'none'", got)
	}
	if got := rr.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("expected no HSTS on non-HTTPS request, got %q", got)
	}
}

func TestSecurityHeadersMiddleware_SetsHSTSOnHTTPS(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Fatalf("Strict-Transport-Security=%q, want max-age=31536000; includeSubDomains", got)
	}
}

func TestTimeoutMiddlewareSkipsWebSocket(t *testing.T) {
	tests := []struct {
		name         string
		upgrade      string
		wantDeadline bool
	}{
		{name: "plain request", wantDeadline: true},
		{name: "websocket upgrade", upgrade: "websocket", wantDeadline: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hasDeadline bool
			h := timeoutMiddleware(time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, hasDeadline = r.Context().Deadline()
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/g1/ws", nil)
			if tt.upgrade != "" {
				req.Header.Set("Upgrade", tt.upgrade)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if hasDeadline != tt.wantDeadline {
				t.Fatalf("deadline=%v, want %v", hasDeadline, tt.wantDeadline)
			}
		})
	}
}

func TestResolverPlatforms(t *testing.T) {
	if got := ResolverPlatforms(nil); len(got) == 0 {
		t.Fatal("expected built-in table when nothing is configured")
	}

	table := ResolverPlatforms([]config.PlatformEntry{
		{Platform: "soundcloud", Domains: []string{"snd.sc"}},
	})
	if len(table) != 1 {
		t.Fatalf("len=%d, want 1", len(table))
	}
	if got := table.Detect("https://snd.sc/abc"); got != models.PlatformSoundCloud {
		t.Fatalf("Detect=%q, want %q", got, models.PlatformSoundCloud)
	}
}

func TestWebhookTargets(t *testing.T) {
	targets := WebhookTargets([]config.WebhookEntry{
		{URL: "https://hooks.example/a", Secret: "s", Events: []string{"now_playing"}},
		{URL: "https://hooks.example/b"},
	})
	if len(targets) != 2 {
		t.Fatalf("len=%d, want 2", len(targets))
	}
	if targets[0].Secret != "s" || len(targets[0].Events) != 1 || targets[0].Events[0] != events.EventNowPlaying {
		t.Errorf("targets[0]=%+v", targets[0])
	}
	if targets[1].Events != nil {
		t.Errorf("targets[1].Events=%v, want all events", targets[1].Events)
	}
}

func TestServerWiring(t *testing.T) {
	cfg := &config.Config{
		Environment:    "test",
		HTTPBind:       "127.0.0.1",
		HTTPPort:       0,
		IdleTimeout:    time.Minute,
		SyncInterval:   time.Second,
		HistorySize:    10,
		DefaultVolume:  0.5,
		IdleStatusText: "idle",
		PlayerBin:      "ffplay",
	}
	srv, err := New(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Close()

	if srv.HTTPServer().Addr != cfg.Addr() {
		t.Fatalf("Addr=%q, want %q", srv.HTTPServer().Addr, cfg.Addr())
	}

	for _, path := range []string{"/healthz", "/api/v1/health"} {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d, want 200", path, rr.Code)
		}
		var body map[string]any
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("%s decode: %v", path, err)
		}
		if body["status"] != "ok" {
			t.Fatalf("%s status field=%v", path, body["status"])
		}
	}

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("logs without buffer status=%d, want 503", rr.Code)
	}
}
