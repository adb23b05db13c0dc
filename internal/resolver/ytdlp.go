/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lrstanley/go-ytdlp"
)

// DefaultFormat prefers webm audio, then any audio, then anything.
const DefaultFormat = "bestaudio[ext=webm]/bestaudio/best"

// metadataTemplate prints the fields RawMetadata needs as one JSON object per entry.
const metadataTemplate = "%(.{id,title,url,webpage_url,duration,uploader,thumbnail,artist,creator,track})j"

// YTDLP is a Backend that shells out to yt-dlp.
type YTDLP struct {
	Format string
	Proxy  string
}

// NewYTDLP returns a yt-dlp backend using format for stream selection.
func NewYTDLP(format, proxy string) *YTDLP {
	if format == "" {
		format = DefaultFormat
	}
	return &YTDLP{Format: format, Proxy: proxy}
}

func (y *YTDLP) command() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		NoCheckCertificates().
		Format(y.Format)
	if y.Proxy != "" {
		cmd.Proxy(y.Proxy)
	}
	return cmd
}

// Extract returns metadata for the first entry yt-dlp reports for query.
func (y *YTDLP) Extract(ctx context.Context, query string) (*RawMetadata, error) {
	res, err := y.command().
		Print(metadataTemplate).
		PlaylistItems("1").
		Run(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp extract: %w", err)
	}
	return parseMetadata(res.Stdout)
}

// StreamURL returns the direct media URL for a track locator.
func (y *YTDLP) StreamURL(ctx context.Context, locator string) (string, error) {
	res, err := y.command().
		Print("%(url)s").
		PlaylistItems("1").
		Run(ctx, locator)
	if err != nil {
		return "", fmt.Errorf("yt-dlp stream url: %w", err)
	}
	line := firstLine(res.Stdout)
	if line == "" || line == "NA" {
		return "", errEmptyResult
	}
	return line, nil
}

func parseMetadata(stdout string) (*RawMetadata, error) {
	line := firstLine(stdout)
	if line == "" {
		return nil, errEmptyResult
	}
	var md RawMetadata
	if err := json.Unmarshal([]byte(line), &md); err != nil {
		return nil, fmt.Errorf("decode yt-dlp output: %w", err)
	}
	return &md, nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
