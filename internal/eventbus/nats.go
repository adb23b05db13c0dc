/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays session events between jukebox processes over NATS.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
)

// SubjectPrefix is prepended to the event type to form the NATS subject.
const SubjectPrefix = "jukebox.events."

// NATSBus publishes events to the local bus and to NATS. Events published by
// other nodes are delivered to local subscribers too.
type NATSBus struct {
	logger zerolog.Logger
	local  *events.Bus
	conn   *nats.Conn
	sub    *nats.Subscription
	nodeID string
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "grimnir-jukebox",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus connects to NATS. If the server is unreachable the bus works
// in-process only and the error is logged, not returned.
func NewNATSBus(cfg NATSConfig, local *events.Bus, logger zerolog.Logger) *NATSBus {
	if local == nil {
		local = events.NewBus()
	}
	nb := &NATSBus{
		logger: logger.With().Str("component", "eventbus").Logger(),
		local:  local,
		nodeID: generateNodeID(),
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			nb.logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS unavailable, using in-memory event bus only")
		return nb
	}
	nb.conn = conn

	sub, err := conn.Subscribe(SubjectPrefix+">", nb.handleRemote)
	if err != nil {
		nb.logger.Warn().Err(err).Msg("nats subscribe failed, remote events will not be relayed")
	} else {
		nb.sub = sub
	}

	nb.logger.Info().Str("url", cfg.URL).Str("node_id", nb.nodeID).Msg("nats event bus connected")
	return nb
}

// Connected reports whether the bus currently talks to NATS.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

// Local returns the in-process bus.
func (nb *NATSBus) Local() *events.Bus {
	return nb.local
}

// Subscribe registers a subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers payload locally and forwards it to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	if nb.conn == nil {
		return
	}
	data, err := marshalNATSMessage(eventType, payload, nb.nodeID)
	if err != nil {
		telemetry.EventsForwardedTotal.WithLabelValues("error").Inc()
		nb.logger.Debug().Err(err).Str("event", string(eventType)).Msg("encode event")
		return
	}
	if err := nb.conn.Publish(SubjectPrefix+string(eventType), data); err != nil {
		telemetry.EventsForwardedTotal.WithLabelValues("error").Inc()
		nb.logger.Debug().Err(err).Str("event", string(eventType)).Msg("nats publish failed")
		return
	}
	telemetry.EventsForwardedTotal.WithLabelValues("ok").Inc()
}

func (nb *NATSBus) handleRemote(msg *nats.Msg) {
	m, err := unmarshalNATSMessage(msg.Data)
	if err != nil {
		nb.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event")
		return
	}
	if m.NodeID == nb.nodeID {
		return
	}
	nb.local.Publish(m.EventType, m.Payload)
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	if nb.sub != nil {
		_ = nb.sub.Unsubscribe()
	}
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("nats message without event type")
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "jukebox"
	}
	return strings.ToLower(host) + "-" + uuid.NewString()[:8]
}
