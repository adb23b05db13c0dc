/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api is the HTTP command surface for jukebox sessions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/logbuffer"
	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/friendsincode/grimnir_jukebox/internal/session"
)

// EventSource is what the event stream endpoint subscribes to.
type EventSource interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// API exposes HTTP handlers.
type API struct {
	registry *session.Registry
	events   EventSource
	logs     *logbuffer.Buffer
	version  string
	logger   zerolog.Logger
}

// New creates the API router wrapper. events may be nil, which disables the
// event stream.
func New(registry *session.Registry, events EventSource, logger zerolog.Logger) *API {
	return &API{
		registry: registry,
		events:   events,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

type connectRequest struct {
	ChannelID string `json:"channel_id"`
}

type enqueueRequest struct {
	Query     string           `json:"query"`
	Requester models.Requester `json:"requester"`
}

type loopRequest struct {
	Mode models.LoopMode `json:"mode"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

// SetVersion sets the version reported by the health endpoint.
func (a *API) SetVersion(v string) {
	a.version = v
}

// Routes registers API routes.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/events", a.handleEvents)
		r.Get("/logs", a.handleLogs)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", a.handleSessionsList)
			r.Route("/{key}", func(r chi.Router) {
				r.Delete("/", a.handleDisconnect)
				r.Post("/connect", a.handleConnect)

				r.Get("/queue", a.handleQueue)
				r.Post("/tracks", a.handleEnqueue)
				r.Delete("/tracks/{index}", a.handleRemoveTrack)
				r.Post("/shuffle", a.handleShuffle)
				r.Post("/clear", a.handleClear)

				r.Post("/pause", a.handlePause)
				r.Post("/resume", a.handleResume)
				r.Post("/skip", a.handleSkip)
				r.Post("/stop", a.handleStop)
				r.Post("/previous", a.handlePrevious)

				r.Post("/loop", a.handleLoopToggle)
				r.Put("/loop", a.handleLoopSet)
				r.Put("/volume", a.handleVolume)

				r.Get("/ws", a.handleObserver)
				r.Get("/logs", a.handleSessionLogs)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  a.version,
		"sessions": a.registry.Len(),
	})
}

func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": a.registry.Keys()})
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "channel_id_required")
		return
	}

	var ok bool
	err := a.registry.Do(sessionKey(r), func(c *session.Controller) error {
		var err error
		ok, err = c.Connect(r.Context(), req.ChannelID)
		return err
	})
	if err != nil {
		a.writeSessionError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusBadGateway, "connect_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "channel_id": req.ChannelID})
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query_required")
		return
	}

	var track *models.Track
	err := a.registry.Do(sessionKey(r), func(c *session.Controller) error {
		var err error
		track, err = c.Enqueue(r.Context(), req.Query, req.Requester)
		return err
	})
	if err != nil {
		a.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, track)
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	c, ok := a.registry.Lookup(sessionKey(r))
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	info, err := c.QueueInfo(r.Context())
	if err != nil {
		a.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) handleRemoveTrack(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index")
		return
	}

	var (
		removed *models.Track
		ok      bool
	)
	err = a.registry.DoExisting(sessionKey(r), func(c *session.Controller) error {
		var err error
		removed, ok, err = c.RemoveAt(r.Context(), index)
		return err
	})
	if err != nil {
		a.writeSessionError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "index_out_of_range")
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (a *API) handleShuffle(w http.ResponseWriter, r *http.Request) {
	a.simpleCommand(w, r, "shuffled", (*session.Controller).Shuffle)
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	a.simpleCommand(w, r, "cleared", (*session.Controller).ClearQueue)
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.simpleCommand(w, r, "stopped", (*session.Controller).Stop)
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.boolCommand(w, r, "paused", "nothing_playing", (*session.Controller).Pause)
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	a.boolCommand(w, r, "resumed", "nothing_paused", (*session.Controller).Resume)
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request) {
	a.boolCommand(w, r, "skipped", "nothing_playing", (*session.Controller).Skip)
}

func (a *API) handlePrevious(w http.ResponseWriter, r *http.Request) {
	a.boolCommand(w, r, "previous", "no_history", (*session.Controller).GoToPrevious)
}

func (a *API) handleLoopToggle(w http.ResponseWriter, r *http.Request) {
	var mode models.LoopMode
	err := a.registry.DoExisting(sessionKey(r), func(c *session.Controller) error {
		var err error
		mode, err = c.ToggleLoop(r.Context())
		return err
	})
	if err != nil {
		a.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loop_mode": mode})
}

func (a *API) handleLoopSet(w http.ResponseWriter, r *http.Request) {
	var req loopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	err := a.registry.DoExisting(sessionKey(r), func(c *session.Controller) error {
		return c.SetLoopMode(r.Context(), req.Mode)
	})
	if err != nil {
		a.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loop_mode": req.Mode})
}

func (a *API) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Volume == nil {
		writeError(w, http.StatusBadRequest, "volume_required")
		return
	}

	var applied float64
	err := a.registry.DoExisting(sessionKey(r), func(c *session.Controller) error {
		var err error
		applied, err = c.SetVolume(r.Context(), *req.Volume)
		return err
	})
	if err != nil {
		a.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"volume": applied})
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	found, err := a.registry.Disconnect(r.Context(), sessionKey(r))
	if err != nil {
		a.writeSessionError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (a *API) simpleCommand(w http.ResponseWriter, r *http.Request, status string, fn func(*session.Controller, context.Context) error) {
	err := a.registry.DoExisting(sessionKey(r), func(c *session.Controller) error {
		return fn(c, r.Context())
	})
	if err != nil {
		a.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (a *API) boolCommand(w http.ResponseWriter, r *http.Request, status, refusal string, fn func(*session.Controller, context.Context) (bool, error)) {
	var ok bool
	err := a.registry.DoExisting(sessionKey(r), func(c *session.Controller) error {
		var err error
		ok, err = fn(c, r.Context())
		return err
	})
	if err != nil {
		a.writeSessionError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, refusal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (a *API) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		writeError(w, http.StatusNotFound, "no_song_found")
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found")
	case errors.Is(err, session.ErrQueueFull):
		writeError(w, http.StatusConflict, "queue_full")
	case errors.Is(err, session.ErrNotConnected):
		writeError(w, http.StatusConflict, "not_connected")
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusGone, "session_closed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request_cancelled")
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("session command failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func sessionKey(r *http.Request) string {
	return chi.URLParam(r, "key")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
