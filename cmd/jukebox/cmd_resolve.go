/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_jukebox/internal/cache"
	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/friendsincode/grimnir_jukebox/internal/server"
)

var (
	resolveStreamURL bool
	resolveNoCache   bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <query or url>",
	Short: "Resolve a request into a track",
	Long: `Run a query through the same resolver the server uses and print the
resulting track as JSON. Useful for checking yt-dlp and the platform table
without starting a session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveStreamURL, "stream-url", false, "Also resolve the direct stream URL the player would open")
	resolveCmd.Flags().BoolVar(&resolveNoCache, "no-cache", false, "Bypass the Redis resolve cache even when enabled")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	query := strings.Join(args, " ")

	var c *cache.Cache
	if cfg.CacheEnabled && !resolveNoCache {
		var err error
		c, err = cache.New(cache.Config{
			RedisAddr:      cfg.RedisAddr,
			RedisPassword:  cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			ResolveTTL:     cfg.ResolveCacheTTL,
			DisableOnError: true,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect cache: %w", err)
		}
		defer c.Close()
	}

	ytdlp := resolver.NewYTDLP(cfg.YTDLPFormat, cfg.YTDLPProxy)
	client := resolver.New(ytdlp, resolver.Options{
		Platforms: server.ResolverPlatforms(cfg.Platforms),
		Timeout:   cfg.ResolveTimeout,
		Cache:     c,
	}, logger)

	// The stream URL lookup gets one more resolve timeout.
	budget := client.SearchBudget()
	if resolveStreamURL {
		budget += cfg.ResolveTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	track, err := client.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", query, err)
	}

	out := map[string]any{"track": track}
	if resolveStreamURL {
		url, err := ytdlp.StreamURL(ctx, track.Locator)
		if err != nil {
			return fmt.Errorf("stream url: %w", err)
		}
		out["stream_url"] = url
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
