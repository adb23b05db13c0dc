/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/session"
)

// ErrDisconnected is returned by a voice after Disconnect.
var ErrDisconnected = errors.New("voice disconnected")

type stream struct {
	locator string
	url     string
}

func (s *stream) Locator() string { return s.locator }
func (s *stream) Close() error    { return nil }

// Voice is one session's audio output.
type Voice struct {
	gw     *Gateway
	key    string
	bin    string
	logger zerolog.Logger

	mu        sync.Mutex
	channelID string
	connected bool
	status    string
	player    *player
}

// ChannelID returns the channel the voice is attached to.
func (v *Voice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelID
}

// Connected reports whether the voice is still usable.
func (v *Voice) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// MoveTo reattaches the voice. The local sink has a single output, so only
// the channel label changes.
func (v *Voice) MoveTo(_ context.Context, channelID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return ErrDisconnected
	}
	v.channelID = channelID
	return nil
}

// Disconnect stops playback and releases the voice. It is idempotent.
func (v *Voice) Disconnect(context.Context) error {
	v.mu.Lock()
	if !v.connected {
		v.mu.Unlock()
		return nil
	}
	v.connected = false
	p := v.player
	v.player = nil
	v.mu.Unlock()

	v.gw.forget(v)
	v.logger.Info().Msg("voice closed")
	if p != nil {
		return p.stop()
	}
	return nil
}

// OpenStream resolves locator to a playable URL.
func (v *Voice) OpenStream(ctx context.Context, locator string) (session.Stream, error) {
	if !v.Connected() {
		return nil, ErrDisconnected
	}
	url := locator
	if v.gw.urls != nil {
		var err error
		url, err = v.gw.urls.StreamURL(ctx, locator)
		if err != nil {
			return nil, fmt.Errorf("open stream: %w", err)
		}
	}
	return &stream{locator: locator, url: url}, nil
}

// Play starts a player for s. onComplete runs on the player's waiter
// goroutine once the process has exited, whether it ended on its own or was
// stopped.
func (v *Voice) Play(s session.Stream, volume float64, onComplete func(error)) error {
	url := s.Locator()
	if st, ok := s.(*stream); ok {
		url = st.url
	}

	v.mu.Lock()
	if !v.connected {
		v.mu.Unlock()
		return ErrDisconnected
	}
	prev := v.player
	p := newPlayer(v.bin, v.gw.cfg.StopGrace, v.logger)
	v.player = p
	v.mu.Unlock()

	if prev != nil {
		_ = prev.stop()
	}
	return p.start(expandArgs(v.gw.cfg.PlayerArgs, url, volume), onComplete)
}

func (v *Voice) current() *player {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.player
}

// Pause suspends the player.
func (v *Voice) Pause() error {
	if p := v.current(); p != nil {
		return p.pause()
	}
	return nil
}

// Resume continues a suspended player.
func (v *Voice) Resume() error {
	if p := v.current(); p != nil {
		return p.resume()
	}
	return nil
}

// Stop ends the current track. Its completion callback still fires.
func (v *Voice) Stop() error {
	if p := v.current(); p != nil {
		return p.stop()
	}
	return nil
}

// IsPlaying reports whether a player is running and not suspended.
func (v *Voice) IsPlaying() bool {
	p := v.current()
	return p != nil && p.running() && !p.isPaused()
}

// IsPaused reports whether the player is suspended.
func (v *Voice) IsPaused() bool {
	p := v.current()
	return p != nil && p.isPaused()
}

// SetVolume is accepted but only takes effect from the next track; the
// player reads its volume once at start.
func (v *Voice) SetVolume(volume float64) error {
	v.logger.Debug().Float64("volume", volume).Msg("volume applies from next track")
	return nil
}

// SetStatus records the channel status line.
func (v *Voice) SetStatus(_ context.Context, text string) error {
	v.mu.Lock()
	v.status = text
	v.mu.Unlock()
	v.logger.Info().Str("status", text).Msg("channel status")
	return nil
}

// Status returns the last status line set.
func (v *Voice) Status() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

func expandArgs(tmpl []string, url string, volume float64) []string {
	vol := strconv.Itoa(int(math.Round(volume * 100)))
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		a = strings.ReplaceAll(a, "{url}", url)
		out[i] = strings.ReplaceAll(a, "{volume}", vol)
	}
	return out
}
