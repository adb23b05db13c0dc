/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import "github.com/friendsincode/grimnir_jukebox/internal/models"

// DefaultHistorySize is the number of finished tracks kept for "previous".
const DefaultHistorySize = 10

// History is a bounded FIFO of finished tracks, oldest first.
type History struct {
	items    []*models.Track
	capacity int
}

// NewHistory returns a history holding at most capacity tracks.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{capacity: capacity}
}

// Push records a finished track, evicting the oldest entry when full.
func (h *History) Push(t *models.Track) {
	h.items = append(h.items, t)
	for len(h.items) > h.capacity {
		h.items[0] = nil
		h.items = h.items[1:]
	}
}

// PopLast removes and returns the most recently finished track.
func (h *History) PopLast() (*models.Track, bool) {
	n := len(h.items)
	if n == 0 {
		return nil, false
	}
	t := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	return t, true
}

// All returns a copy of the history, oldest first.
func (h *History) All() []*models.Track {
	out := make([]*models.Track, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Len() int { return len(h.items) }

func (h *History) Cap() int { return h.capacity }

func (h *History) Clear() { h.items = nil }
