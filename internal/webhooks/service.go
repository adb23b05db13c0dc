/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks delivers session events to external HTTP endpoints.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
)

// Target is an endpoint and the event types it wants. Empty Events means all.
type Target struct {
	URL    string
	Secret string
	Events []events.EventType
}

func (t Target) handles(eventType events.EventType) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookPayload is the body sent to webhook endpoints.
type WebhookPayload struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	Timestamp  time.Time      `json:"timestamp"`
	SessionKey string         `json:"session_key,omitempty"`
	Data       events.Payload `json:"data"`
}

// Source is the bus events are read from.
type Source interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// Service handles webhook delivery.
type Service struct {
	targets []Target
	bus     Source
	logger  zerolog.Logger
	client  *http.Client

	wg sync.WaitGroup
}

// NewService creates a new webhook service.
func NewService(targets []Target, bus Source, logger zerolog.Logger) *Service {
	return &Service{
		targets: targets,
		bus:     bus,
		logger:  logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start listens for events until ctx is done. It returns once subscriptions
// are in place; deliveries run in the background.
func (s *Service) Start(ctx context.Context) {
	wanted := s.eventTypes()
	if len(wanted) == 0 {
		return
	}

	for _, et := range wanted {
		sub := s.bus.Subscribe(et)
		s.wg.Add(1)
		go func(et events.EventType, sub events.Subscriber) {
			defer s.wg.Done()
			defer s.bus.Unsubscribe(et, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					s.fire(ctx, et, payload)
				}
			}
		}(et, sub)
	}

	s.logger.Info().Int("targets", len(s.targets)).Int("event_types", len(wanted)).Msg("webhook service started")
}

// Wait blocks until all listeners and deliveries have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// eventTypes is the union of what the targets want.
func (s *Service) eventTypes() []events.EventType {
	if len(s.targets) == 0 {
		return nil
	}
	seen := make(map[events.EventType]bool)
	var out []events.EventType
	for _, t := range s.targets {
		types := t.Events
		if len(types) == 0 {
			types = events.AllEventTypes
		}
		for _, et := range types {
			if !seen[et] {
				seen[et] = true
				out = append(out, et)
			}
		}
	}
	return out
}

func (s *Service) fire(ctx context.Context, eventType events.EventType, data events.Payload) {
	payload := WebhookPayload{
		ID:        uuid.NewString(),
		Event:     string(eventType),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	payload.SessionKey, _ = data["session_key"].(string)

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(eventType)).Msg("failed to marshal webhook payload")
		return
	}

	for _, target := range s.targets {
		if !target.handles(eventType) {
			continue
		}
		s.wg.Add(1)
		go func(target Target) {
			defer s.wg.Done()
			if err := s.send(ctx, target, string(eventType), body); err != nil {
				s.logger.Warn().Err(err).Str("url", target.URL).Str("event", string(eventType)).Msg("webhook delivery failed")
				return
			}
			s.logger.Debug().Str("url", target.URL).Str("event", string(eventType)).Msg("webhook delivered")
		}(target)
	}
}

func (s *Service) send(ctx context.Context, target Target, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Grimnir-Jukebox-Webhook/1.0")
	req.Header.Set("X-Grimnir-Event", eventType)
	req.Header.Set("X-Grimnir-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if target.Secret != "" {
		req.Header.Set("X-Grimnir-Signature", Sign(body, target.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// TestTarget sends a test payload to a single target.
func (s *Service) TestTarget(ctx context.Context, target Target) error {
	body, err := json.Marshal(WebhookPayload{
		ID:        uuid.NewString(),
		Event:     "test",
		Timestamp: time.Now().UTC(),
		Data:      events.Payload{"message": "This is a test webhook delivery"},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return s.send(ctx, target, "test", body)
}
