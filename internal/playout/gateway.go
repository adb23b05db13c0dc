/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout is the local audio sink: every session voice plays its
// tracks through a player subprocess.
package playout

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/session"
)

// DefaultArgs plays one stream with ffplay and exits at its end.
var DefaultArgs = []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-volume", "{volume}", "{url}"}

const defaultStopGrace = 5 * time.Second

var (
	_ session.Gateway = (*Gateway)(nil)
	_ session.Voice   = (*Voice)(nil)
)

// StreamURLer turns a track locator into something the player can open.
type StreamURLer interface {
	StreamURL(ctx context.Context, locator string) (string, error)
}

// Config configures the player subprocess.
type Config struct {
	PlayerBin  string
	PlayerArgs []string      // {url} and {volume} are substituted per track
	StopGrace  time.Duration // wait after interrupt before killing
}

// Gateway hands out voices and tracks them per session key.
type Gateway struct {
	cfg    Config
	urls   StreamURLer
	logger zerolog.Logger

	mu     sync.Mutex
	voices map[string]*Voice
}

// NewGateway creates a gateway. A nil urls passes locators to the player
// unchanged.
func NewGateway(cfg Config, urls StreamURLer, logger zerolog.Logger) *Gateway {
	if cfg.PlayerBin == "" {
		cfg.PlayerBin = "ffplay"
	}
	if len(cfg.PlayerArgs) == 0 {
		cfg.PlayerArgs = DefaultArgs
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	return &Gateway{
		cfg:    cfg,
		urls:   urls,
		logger: logger.With().Str("component", "playout").Logger(),
		voices: make(map[string]*Voice),
	}
}

// Connect opens a voice for sessionKey on channelID. An existing voice for
// the key is disconnected first.
func (g *Gateway) Connect(ctx context.Context, sessionKey, channelID string) (session.Voice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin, err := exec.LookPath(g.cfg.PlayerBin)
	if err != nil {
		return nil, fmt.Errorf("player %q not available: %w", g.cfg.PlayerBin, err)
	}

	v := &Voice{
		gw:        g,
		key:       sessionKey,
		bin:       bin,
		channelID: channelID,
		connected: true,
		logger:    g.logger.With().Str("session_key", sessionKey).Logger(),
	}

	g.mu.Lock()
	old := g.voices[sessionKey]
	g.voices[sessionKey] = v
	g.mu.Unlock()

	if old != nil {
		_ = old.Disconnect(ctx)
	}
	v.logger.Info().Str("channel_id", channelID).Msg("voice opened")
	return v, nil
}

// Len returns the number of open voices.
func (g *Gateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.voices)
}

// Shutdown disconnects every voice.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	voices := make([]*Voice, 0, len(g.voices))
	for _, v := range g.voices {
		voices = append(voices, v)
	}
	g.voices = make(map[string]*Voice)
	g.mu.Unlock()

	var firstErr error
	for _, v := range voices {
		if err := v.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// forget drops v only if it is still the voice registered for its key.
func (g *Gateway) forget(v *Voice) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.voices[v.key]; ok && cur == v {
		delete(g.voices, v.key)
	}
}
