/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolver turns user queries and URLs into track descriptors.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/cache"
	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
)

// ErrNotFound is the only error Search returns.
var ErrNotFound = errors.New("no song found")

var errEmptyResult = errors.New("empty result")

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 30 * time.Second

// Text searches are tried in this order, each only after the previous failed.
var searchPrefixes = []string{"ytsearch1:", "scsearch1:"}

// RawMetadata is what a backend knows about a query.
// Search results arrive either flattened or as Entries.
type RawMetadata struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	URL        string        `json:"url"`
	WebpageURL string        `json:"webpage_url"`
	Duration   float64       `json:"duration"`
	Uploader   string        `json:"uploader"`
	Thumbnail  string        `json:"thumbnail"`
	Artist     string        `json:"artist"`
	Creator    string        `json:"creator"`
	Track      string        `json:"track"`
	Entries    []RawMetadata `json:"entries,omitempty"`
}

// Backend extracts metadata for a URL or a prefixed search query.
type Backend interface {
	Extract(ctx context.Context, query string) (*RawMetadata, error)
}

// Options configures a Client.
type Options struct {
	Platforms PlatformTable
	Timeout   time.Duration
	Cache     *cache.Cache // optional
}

// Client resolves queries through a Backend with a fixed fallback chain.
type Client struct {
	backend   Backend
	platforms PlatformTable
	timeout   time.Duration
	cache     *cache.Cache
	logger    zerolog.Logger
}

// New creates a resolver client.
func New(backend Backend, opts Options, logger zerolog.Logger) *Client {
	if len(opts.Platforms) == 0 {
		opts.Platforms = DefaultPlatforms()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		backend:   backend,
		platforms: opts.Platforms,
		timeout:   opts.Timeout,
		cache:     opts.Cache,
		logger:    logger.With().Str("component", "resolver").Logger(),
	}
}

// SearchBudget is the longest a Search can take when every backend call
// runs to its timeout: a Spotify lookup followed by each search prefix.
func (c *Client) SearchBudget() time.Duration {
	return c.timeout * time.Duration(len(searchPrefixes)+1)
}

// Platforms returns the classification table in use.
func (c *Client) Platforms() PlatformTable {
	return c.platforms
}

// Search resolves query to a new Track. Every failure is reported as
// ErrNotFound; the cause is logged.
func (c *Client) Search(ctx context.Context, query string) (*models.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNotFound
	}

	start := time.Now()
	defer func() {
		telemetry.ResolverDuration.Observe(time.Since(start).Seconds())
	}()

	if t, ok := c.cache.GetTrack(ctx, query); ok {
		telemetry.ResolverRequestsTotal.WithLabelValues("cached").Inc()
		return t, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "resolver", "resolver.Search")
	telemetry.AddSpanAttributes(span, map[string]any{
		"query":  query,
		"is_url": IsURL(query),
	})

	md, err := c.lookup(ctx, query)
	var t *models.Track
	if err == nil {
		t, err = c.toTrack(md)
	}
	telemetry.EndSpan(span, err)

	if err != nil {
		telemetry.ResolverRequestsTotal.WithLabelValues("not_found").Inc()
		c.logger.Warn().Err(err).Str("query", query).Msg("resolution failed")
		return nil, ErrNotFound
	}

	telemetry.ResolverRequestsTotal.WithLabelValues("found").Inc()
	c.logger.Debug().
		Str("query", query).
		Str("title", t.Title).
		Str("platform", t.Platform.String()).
		Msg("resolved")

	if err := c.cache.SetTrack(ctx, query, t); err != nil {
		c.logger.Debug().Err(err).Msg("cache store failed")
	}
	return t, nil
}

func (c *Client) lookup(ctx context.Context, query string) (*RawMetadata, error) {
	if !IsURL(query) {
		return c.searchText(ctx, query)
	}
	if c.platforms.Detect(query) != models.PlatformSpotify {
		return c.extract(ctx, query)
	}

	term, err := c.spotifySearchTerm(ctx, query)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("url", query).Str("term", term).Msg("spotify url converted to search")
	return c.searchText(ctx, term)
}

// searchText runs the text search chain sequentially.
func (c *Client) searchText(ctx context.Context, text string) (*RawMetadata, error) {
	var lastErr error
	for _, prefix := range searchPrefixes {
		md, err := c.extract(ctx, prefix+text)
		if err == nil {
			return md, nil
		}
		c.logger.Debug().Err(err).Str("search", prefix+text).Msg("search attempt failed")
		lastErr = err
	}
	return nil, fmt.Errorf("all searches failed: %w", lastErr)
}

// spotifySearchTerm builds a search term from a Spotify track URL, which
// cannot be streamed directly.
func (c *Client) spotifySearchTerm(ctx context.Context, url string) (string, error) {
	id := SpotifyTrackID(url)

	md, err := c.extract(ctx, url)
	if err != nil {
		if id == "" {
			return "", fmt.Errorf("spotify extract: %w", err)
		}
		return "track " + id, nil
	}

	artist := firstNonEmpty(md.Artist, md.Uploader, md.Creator)
	switch {
	case artist != "" && md.Title != "":
		return artist + " - " + md.Title, nil
	case md.Title != "":
		return md.Title, nil
	case id != "":
		return "spotify track " + id, nil
	default:
		return "", errors.New("spotify url has no usable metadata")
	}
}

// extract calls the backend with the per-call timeout and unwraps result sets.
func (c *Client) extract(ctx context.Context, query string) (*RawMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	md, err := c.backend.Extract(ctx, query)
	if err != nil {
		return nil, err
	}
	if md == nil {
		return nil, errEmptyResult
	}
	if len(md.Entries) > 0 {
		first := md.Entries[0]
		md = &first
	}
	if md.URL == "" && md.WebpageURL == "" && md.Title == "" {
		return nil, errEmptyResult
	}
	return md, nil
}

func (c *Client) toTrack(md *RawMetadata) (*models.Track, error) {
	locator := firstNonEmpty(md.WebpageURL, md.URL)
	if locator == "" {
		return nil, errors.New("result has no playable url")
	}

	var duration *int
	if md.Duration > 0 {
		d := int(math.Round(md.Duration))
		duration = &d
	}

	platform := c.platforms.Detect(locator)
	return models.NewTrack(md.Title, locator, duration, md.Uploader, md.Thumbnail, platform), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
