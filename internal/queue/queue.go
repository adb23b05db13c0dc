/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue holds the ordered track collections owned by a session.
//
// Neither Queue nor History is safe for concurrent use. The session loop
// serializes every call, and the size cap on Queue is enforced there too.
package queue

import (
	"math/rand/v2"

	"github.com/friendsincode/grimnir_jukebox/internal/models"
)

// Queue is an ordered sequence of tracks waiting to play.
type Queue struct {
	items []*models.Track
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends a track to the back.
func (q *Queue) Push(t *models.Track) {
	q.items = append(q.items, t)
}

// PushFront inserts a track at the front so it plays next.
func (q *Queue) PushFront(t *models.Track) {
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = t
}

// Pop removes and returns the front track.
func (q *Queue) Pop() (*models.Track, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return t, true
}

// PeekAll returns a copy of the current order.
func (q *Queue) PeekAll() []*models.Track {
	out := make([]*models.Track, len(q.items))
	copy(out, q.items)
	return out
}

// RemoveAt removes the track at index i. Out of range indexes are ignored.
func (q *Queue) RemoveAt(i int) (*models.Track, bool) {
	if i < 0 || i >= len(q.items) {
		return nil, false
	}
	t := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return t, true
}

// Shuffle permutes the queue in place (Fisher-Yates).
func (q *Queue) Shuffle() {
	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.items = nil
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.items)
}
