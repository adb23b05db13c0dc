/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"

	"github.com/google/uuid"
)

// Platform identifies the service a track was resolved from.
type Platform string

const (
	PlatformYouTube    Platform = "youtube"
	PlatformSpotify    Platform = "spotify"
	PlatformSoundCloud Platform = "soundcloud"
)

// DefaultUploader is used when the backend reports no uploader.
const DefaultUploader = "Unknown"

// String returns the platform name.
func (p Platform) String() string {
	if p == "" {
		return string(PlatformYouTube)
	}
	return string(p)
}

// ParsePlatform converts a name to a Platform, defaulting to YouTube.
func ParsePlatform(s string) Platform {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformSpotify:
		return PlatformSpotify
	case PlatformSoundCloud:
		return PlatformSoundCloud
	default:
		return PlatformYouTube
	}
}

// Requester identifies who asked for a track. The command surface owns it.
type Requester struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Track is an immutable descriptor of a playable item.
// Tracks are shared by pointer between the queue, the current slot and the
// history; nothing modifies a Track once it has been created.
type Track struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Locator   string    `json:"locator"`
	Duration  *int      `json:"duration,omitempty"` // seconds, nil when unknown
	Uploader  string    `json:"uploader"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	Platform  Platform  `json:"platform"`
	Requester Requester `json:"requester"`
}

// NewTrack builds a descriptor with a fresh identity and defaults applied.
func NewTrack(title, locator string, duration *int, uploader, thumbnail string, platform Platform) *Track {
	if title == "" {
		title = "Unknown"
	}
	if uploader == "" {
		uploader = DefaultUploader
	}
	if platform == "" {
		platform = PlatformYouTube
	}
	if duration != nil && *duration < 0 {
		duration = nil
	}
	return &Track{
		ID:        uuid.NewString(),
		Title:     title,
		Locator:   locator,
		Duration:  duration,
		Uploader:  uploader,
		Thumbnail: thumbnail,
		Platform:  platform,
	}
}

// WithRequester returns a copy of the track attributed to requester.
// The copy gets its own identity.
func (t *Track) WithRequester(requester Requester) *Track {
	cp := *t
	cp.ID = uuid.NewString()
	cp.Requester = requester
	return &cp
}

// DurationSeconds returns the duration or 0 when unknown.
func (t *Track) DurationSeconds() int {
	if t == nil || t.Duration == nil {
		return 0
	}
	return *t.Duration
}
