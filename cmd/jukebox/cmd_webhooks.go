/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/server"
	"github.com/friendsincode/grimnir_jukebox/internal/webhooks"
)

var webhookTestSecret string

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Webhook utilities",
}

var webhooksTestCmd = &cobra.Command{
	Use:   "test [url]",
	Short: "Send a test delivery to webhook endpoints",
	Long: `Send a signed test payload to the given URL, or to every configured
webhook when no URL is given. Exits non-zero if any endpoint fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWebhooksTest,
}

func init() {
	webhooksTestCmd.Flags().StringVar(&webhookTestSecret, "secret", "", "Signing secret when a URL is given")
	webhooksCmd.AddCommand(webhooksTestCmd)
	rootCmd.AddCommand(webhooksCmd)
}

func runWebhooksTest(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	targets := server.WebhookTargets(cfg.Webhooks)
	if len(args) == 1 {
		targets = []webhooks.Target{{URL: args[0], Secret: webhookTestSecret}}
	}
	if len(targets) == 0 {
		return errors.New("no webhooks configured")
	}

	svc := webhooks.NewService(targets, events.NewBus(), logger)

	failed := 0
	for _, t := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := svc.TestTarget(ctx, t)
		cancel()
		if err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", t.URL, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", t.URL)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d webhooks failed", failed, len(targets))
	}
	return nil
}
