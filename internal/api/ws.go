/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
)

const pingInterval = 15 * time.Second

var errObserverGone = errors.New("observer connection closed")

type wsMessage struct {
	Type       string           `json:"type"`
	SessionKey string           `json:"session_key,omitempty"`
	State      *models.Snapshot `json:"state,omitempty"`
	Payload    events.Payload   `json:"payload,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// wsObserver is a panel backed by a WebSocket. It stays registered until a
// write fails or the client goes away.
type wsObserver struct {
	conn *ws.Conn
	key  string

	mu     sync.Mutex
	closed bool
}

func (o *wsObserver) OnStateChanged(ctx context.Context, snap models.Snapshot) error {
	return o.write(ctx, wsMessage{Type: "state", SessionKey: o.key, State: &snap, Timestamp: time.Now()})
}

func (o *wsObserver) write(ctx context.Context, msg wsMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errObserverGone
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return o.conn.Write(ctx, ws.MessageText, data)
}

func (o *wsObserver) markClosed() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (a *API) handleObserver(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)
	c, ok := a.registry.Lookup(key)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	ctx := r.Context()
	obs := &wsObserver{conn: conn, key: key}
	defer obs.markClosed()

	// The synchronizer sends the current state as the first message.
	if err := c.RegisterObserver(obs); err != nil {
		conn.Close(ws.StatusGoingAway, "session closed")
		return
	}
	a.logger.Debug().Str("session_key", key).Msg("observer panel connected")

	// Reads only detect the client going away; panels do not send commands.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-gone:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return
		case <-c.Done():
			conn.Close(ws.StatusGoingAway, "session closed")
			return
		case <-ticker.C:
			if err := obs.write(ctx, wsMessage{Type: "ping", Timestamp: time.Now()}); err != nil {
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}
		}
	}
}

// handleEvents streams bus events. ?types=a,b narrows the set.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, http.StatusServiceUnavailable, "events_disabled")
		return
	}

	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.AllEventTypes
	}

	type tagged struct {
		eventType events.EventType
		payload   events.Payload
	}
	merged := make(chan tagged, 16)
	stop := make(chan struct{})
	defer close(stop)

	for _, eventType := range eventTypes {
		sub := a.events.Subscribe(eventType)
		defer a.events.Unsubscribe(eventType, sub)
		go func(eventType events.EventType, sub events.Subscriber) {
			for {
				select {
				case <-stop:
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- tagged{eventType, payload}:
					case <-stop:
						return
					}
				}
			}
		}(eventType, sub)
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := writeMessage(ctx, conn, wsMessage{Type: "ping", Timestamp: time.Now()}); err != nil {
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		case ev := <-merged:
			msg := wsMessage{Type: string(ev.eventType), Payload: ev.payload, Timestamp: time.Now()}
			if key, ok := ev.payload["session_key"].(string); ok {
				msg.SessionKey = key
			}
			if err := writeMessage(ctx, conn, msg); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *ws.Conn, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, events.EventType(part))
		}
	}
	return out
}
