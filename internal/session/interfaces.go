/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"

	"github.com/friendsincode/grimnir_jukebox/internal/models"
)

// Stream is an opaque playable handle obtained from a Voice.
type Stream interface {
	Locator() string
	Close() error
}

// Gateway opens voice connections on the chat platform.
type Gateway interface {
	Connect(ctx context.Context, sessionKey, channelID string) (Voice, error)
}

// Voice is one attached voice connection.
//
// Play must return without invoking onComplete; the callback fires later from
// another goroutine when the stream ends, fails, or is stopped.
type Voice interface {
	ChannelID() string
	Connected() bool
	MoveTo(ctx context.Context, channelID string) error
	Disconnect(ctx context.Context) error

	OpenStream(ctx context.Context, locator string) (Stream, error)
	Play(stream Stream, volume float64, onComplete func(error)) error
	Pause() error
	Resume() error
	Stop() error
	IsPlaying() bool
	IsPaused() bool
	SetVolume(volume float64) error

	// SetStatus updates the channel status text. Best effort.
	SetStatus(ctx context.Context, text string) error
}

// Resolver turns a query into a track. Failures are reported as an error
// the caller treats as "not found".
type Resolver interface {
	Search(ctx context.Context, query string) (*models.Track, error)
}

// Observer is a panel kept in sync with a session. Returning an error
// removes it. Implementations must be comparable; use pointer receivers.
type Observer interface {
	OnStateChanged(ctx context.Context, snapshot models.Snapshot) error
}
