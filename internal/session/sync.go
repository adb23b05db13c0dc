/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
)

const (
	sampleTimeout = 5 * time.Second
	notifyTimeout = 5 * time.Second
)

// Synchronizer keeps observers in step with a session. It samples a
// snapshot every interval, or sooner when triggered, and broadcasts it only
// when it differs from the last one sent. Newly registered observers get the
// current snapshot on the next pass even when it is unchanged.
type Synchronizer struct {
	interval time.Duration
	sample   func(context.Context) (models.Snapshot, error)
	logger   zerolog.Logger
	trigger  chan struct{}
	stop     chan struct{}

	mu        sync.Mutex
	observers []Observer
	pending   []Observer // registered, not yet sent a snapshot
	running   bool
	closed    bool
	last      models.Snapshot
	hasLast   bool
}

func newSynchronizer(interval time.Duration, sample func(context.Context) (models.Snapshot, error), logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		interval: interval,
		sample:   sample,
		logger:   logger.With().Str("component", "sync").Logger(),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Register adds an observer and starts the loop if it is not running.
// The next pass sends the newcomer the current state without re-notifying
// the others. It returns false once the synchronizer is closed.
func (s *Synchronizer) Register(o Observer) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.observers = append(s.observers, o)
	s.pending = append(s.pending, o)
	if !s.running {
		s.running = true
		go s.loop()
	}
	s.mu.Unlock()

	s.Trigger()
	return true
}

// Len returns the number of registered observers.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// Trigger requests a pass without waiting for the next tick. Requests made
// while one is pending collapse into it.
func (s *Synchronizer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Close drops all observers and stops the loop for good.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.observers = nil
	s.pending = nil
	close(s.stop)
}

func (s *Synchronizer) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		if !s.pass() {
			return
		}
	}
}

// pass runs one reconciliation. It returns false when the loop should exit.
func (s *Synchronizer) pass() bool {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	snap, err := s.sample(ctx)
	cancel()
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return false
		}
		s.logger.Warn().Err(err).Msg("snapshot failed")
		return s.keepRunning()
	}

	s.mu.Lock()
	if s.closed {
		s.running = false
		s.mu.Unlock()
		return false
	}
	targets := s.pending
	changed := !s.hasLast || snap != s.last
	if changed {
		targets = append([]Observer(nil), s.observers...)
	}
	s.pending = nil
	s.mu.Unlock()

	if len(targets) == 0 {
		return s.keepRunning()
	}

	var failed []Observer
	for _, o := range targets {
		nctx, ncancel := context.WithTimeout(context.Background(), notifyTimeout)
		err := o.OnStateChanged(nctx, snap)
		ncancel()
		if err != nil {
			s.logger.Info().Err(err).Msg("observer update failed, removing")
			failed = append(failed, o)
		}
	}
	if changed {
		telemetry.ObserverBroadcastsTotal.Inc()
	}

	s.mu.Lock()
	s.last = snap
	s.hasLast = true
	s.removeLocked(failed)
	s.mu.Unlock()

	s.logger.Debug().
		Bool("playing", snap.Playing).
		Bool("changed", changed).
		Str("current", snap.CurrentTitle).
		Int("queue_length", snap.QueueLength).
		Int("observers", len(targets)-len(failed)).
		Msg("observers synced")

	return s.keepRunning()
}

// keepRunning stops the loop once no observers remain. The check and the
// running flag change together under the lock so Register cannot miss it.
func (s *Synchronizer) keepRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.observers) == 0 {
		s.running = false
		return false
	}
	return true
}

func (s *Synchronizer) removeLocked(failed []Observer) {
	if len(failed) == 0 {
		return
	}
	before := len(s.observers)
	s.observers = without(s.observers, failed)
	s.pending = without(s.pending, failed)
	telemetry.ObserversRemovedTotal.Add(float64(before - len(s.observers)))
}

// without filters drop out of list in place.
func without(list, drop []Observer) []Observer {
	kept := list[:0]
	for _, o := range list {
		keep := true
		for _, d := range drop {
			if o == d {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	return kept
}
