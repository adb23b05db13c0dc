/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log entries in memory so they can
// be served per session.
package logbuffer

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 5000

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Component  string         `json:"component,omitempty"`
	SessionKey string         `json:"session_key,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int
}

// New creates a buffer holding at most capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Add stores entry, overwriting the oldest one when full.
func (b *Buffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// All returns every entry, oldest first.
func (b *Buffer) All() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]LogEntry, b.count)
	start := 0
	if b.count == b.capacity {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(start+i)%b.capacity]
	}
	return out
}

// QueryParams filters Query results. Zero values match everything.
type QueryParams struct {
	Level      string
	Component  string
	SessionKey string
	Search     string // case-insensitive, message and string fields
	Since      time.Time
	Limit      int
	Descending bool // newest first
}

// Query returns entries matching params.
func (b *Buffer) Query(params QueryParams) []LogEntry {
	var out []LogEntry
	for _, e := range b.All() {
		if params.Level != "" && e.Level != params.Level {
			continue
		}
		if params.Component != "" && e.Component != params.Component {
			continue
		}
		if params.SessionKey != "" && e.SessionKey != params.SessionKey {
			continue
		}
		if !params.Since.IsZero() && e.Timestamp.Before(params.Since) {
			continue
		}
		if params.Search != "" && !e.matches(strings.ToLower(params.Search)) {
			continue
		}
		out = append(out, e)
	}

	if params.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out
}

func (e LogEntry) matches(needle string) bool {
	if strings.Contains(strings.ToLower(e.Message), needle) ||
		strings.Contains(strings.ToLower(e.Component), needle) {
		return true
	}
	for _, v := range e.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// Stats summarizes the buffer.
type Stats struct {
	Capacity   int            `json:"capacity"`
	Count      int            `json:"count"`
	LevelCount map[string]int `json:"level_count"`
	Components []string       `json:"components"`
}

// StatsFor summarizes entries of one session, or all entries when
// sessionKey is empty.
func (b *Buffer) StatsFor(sessionKey string) Stats {
	stats := Stats{
		Capacity:   b.capacity,
		LevelCount: make(map[string]int),
	}
	seen := make(map[string]bool)
	for _, e := range b.All() {
		if sessionKey != "" && e.SessionKey != sessionKey {
			continue
		}
		stats.Count++
		stats.LevelCount[e.Level]++
		if e.Component != "" && !seen[e.Component] {
			seen[e.Component] = true
			stats.Components = append(stats.Components, e.Component)
		}
	}
	sort.Strings(stats.Components)
	return stats
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// Writer captures zerolog JSON lines into a Buffer and passes them on.
type Writer struct {
	buffer   *Buffer
	fallback io.Writer
}

// NewWriter creates a writer that captures logs to buffer. fallback may be
// nil.
func NewWriter(buffer *Buffer, fallback io.Writer) *Writer {
	return &Writer{buffer: buffer, fallback: fallback}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if entry, ok := parseEntry(p); ok {
		w.buffer.Add(entry)
	}
	if w.fallback != nil {
		return w.fallback.Write(p)
	}
	return len(p), nil
}

func parseEntry(p []byte) (LogEntry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return LogEntry{}, false
	}

	entry := LogEntry{Timestamp: time.Now(), Fields: make(map[string]any)}
	if s, ok := raw["level"].(string); ok {
		entry.Level = s
		delete(raw, "level")
	}
	if s, ok := raw["message"].(string); ok {
		entry.Message = s
		delete(raw, "message")
	}
	if s, ok := raw["component"].(string); ok {
		entry.Component = s
		delete(raw, "component")
	}
	if s, ok := raw["session_key"].(string); ok {
		entry.SessionKey = s
		delete(raw, "session_key")
	}
	switch ts := raw["time"].(type) {
	case float64:
		entry.Timestamp = time.Unix(int64(ts), 0)
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.Timestamp = t
		}
	}
	delete(raw, "time")

	for k, v := range raw {
		entry.Fields[k] = v
	}
	return entry, true
}
