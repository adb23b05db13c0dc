/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"regexp"
	"strings"

	"github.com/friendsincode/grimnir_jukebox/internal/models"
)

// PlatformDomains maps a platform to the URL substrings that identify it.
type PlatformDomains struct {
	Platform models.Platform `yaml:"platform"`
	Domains  []string        `yaml:"domains"`
}

// PlatformTable is checked in order; the first matching entry wins.
type PlatformTable []PlatformDomains

// DefaultPlatforms is the built-in classification table.
func DefaultPlatforms() PlatformTable {
	return PlatformTable{
		{Platform: models.PlatformYouTube, Domains: []string{"youtube.com", "youtu.be", "music.youtube.com"}},
		{Platform: models.PlatformSpotify, Domains: []string{"open.spotify.com"}},
		{Platform: models.PlatformSoundCloud, Domains: []string{"soundcloud.com"}},
	}
}

// Detect classifies a URL. Unmatched and empty URLs are YouTube.
func (t PlatformTable) Detect(url string) models.Platform {
	if url == "" {
		return models.PlatformYouTube
	}
	for _, entry := range t {
		for _, domain := range entry.Domains {
			if domain != "" && strings.Contains(url, domain) {
				return entry.Platform
			}
		}
	}
	return models.PlatformYouTube
}

// IsURL reports whether the query is an http(s) URL rather than search text.
func IsURL(query string) bool {
	return strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://")
}

var spotifyTrackRe = regexp.MustCompile(`/track/([a-zA-Z0-9]+)`)

// SpotifyTrackID extracts the track id from a Spotify track URL.
func SpotifyTrackID(url string) string {
	m := spotifyTrackRe.FindStringSubmatch(url)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
