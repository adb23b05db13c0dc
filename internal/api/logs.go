/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/grimnir_jukebox/internal/logbuffer"
)

const defaultLogLimit = 200

// SetLogBuffer enables the log endpoints.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) {
	a.logs = buf
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	a.writeLogs(w, r, r.URL.Query().Get("session_key"))
}

func (a *API) handleSessionLogs(w http.ResponseWriter, r *http.Request) {
	a.writeLogs(w, r, sessionKey(r))
}

func (a *API) writeLogs(w http.ResponseWriter, r *http.Request, key string) {
	if a.logs == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_disabled")
		return
	}
	q := r.URL.Query()

	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		SessionKey: key,
		Search:     q.Get("search"),
		Limit:      defaultLogLimit,
		Descending: true,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		params.Limit = n
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = since
	}

	entries := a.logs.Query(params)
	if entries == nil {
		entries = []logbuffer.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"stats":   a.logs.StatsFor(key),
	})
}
