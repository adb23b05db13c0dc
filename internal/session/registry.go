/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
)

// ErrSessionNotFound is returned by DoExisting when no live session exists.
var ErrSessionNotFound = errors.New("session not found")

// Registry maps session keys to controllers. It is the only place sessions
// are created or destroyed. The lock is never held while calling into a
// controller.
type Registry struct {
	gateway  Gateway
	resolver Resolver
	opts     Options
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewRegistry creates an empty registry. Every session it creates shares
// gateway, resolver and opts.
func NewRegistry(gateway Gateway, resolver Resolver, opts Options) *Registry {
	return &Registry{
		gateway:  gateway,
		resolver: resolver,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "registry").Logger(),
		sessions: make(map[string]*Controller),
	}
}

// Get returns the session for key, creating it on a miss.
func (r *Registry) Get(key string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.sessions[key]; ok && !c.Closed() {
		return c
	}
	c := NewController(key, r.gateway, r.resolver, r.opts, func(c *Controller) {
		r.remove(key, c)
	})
	r.sessions[key] = c
	telemetry.SessionsActive.Set(float64(len(r.sessions)))
	r.logger.Debug().Str("session_key", key).Int("sessions", len(r.sessions)).Msg("session registered")
	return c
}

// Lookup returns the live session for key without creating one.
func (r *Registry) Lookup(key string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[key]
	if !ok || c.Closed() {
		return nil, false
	}
	return c, true
}

// Do runs fn against the session for key. If the session closed between
// lookup and use, fn is retried once against a fresh session.
func (r *Registry) Do(key string, fn func(*Controller) error) error {
	err := fn(r.Get(key))
	if errors.Is(err, ErrSessionClosed) {
		err = fn(r.Get(key))
	}
	return err
}

// DoExisting runs fn against the live session for key without creating one.
// A miss, or a session that closes under fn, yields ErrSessionNotFound.
func (r *Registry) DoExisting(key string, fn func(*Controller) error) error {
	c, ok := r.Lookup(key)
	if !ok {
		return ErrSessionNotFound
	}
	err := fn(c)
	if errors.Is(err, ErrSessionClosed) {
		return ErrSessionNotFound
	}
	return err
}

// Disconnect tears down the session for key. It reports false when no such
// session exists.
func (r *Registry) Disconnect(ctx context.Context, key string) (bool, error) {
	c, ok := r.Lookup(key)
	if !ok {
		return false, nil
	}
	if err := c.Cleanup(ctx); err != nil {
		return true, err
	}
	r.remove(key, c)
	return true, nil
}

// Keys returns the keys of all live sessions, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k, c := range r.sessions {
		if !c.Closed() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown tears down every session.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		all = append(all, c)
	}
	r.mu.Unlock()

	for _, c := range all {
		if err := c.close(ctx, "shutdown"); err != nil {
			r.logger.Warn().Err(err).Str("session_key", c.Key()).Msg("session shutdown failed")
		}
		r.remove(c.Key(), c)
	}
	r.logger.Info().Int("sessions", len(all)).Msg("registry shut down")
}

// remove deletes key only if it still maps to c, so a late teardown of an
// old session never evicts its replacement.
func (r *Registry) remove(key string, c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[key]; ok && cur == c {
		delete(r.sessions, key)
		telemetry.SessionsActive.Set(float64(len(r.sessions)))
		r.logger.Debug().Str("session_key", key).Int("sessions", len(r.sessions)).Msg("session removed")
	}
}
