/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session implements the per-session playback controller, the
// observer synchronizer and the registry that owns them.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"github.com/friendsincode/grimnir_jukebox/internal/queue"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
)

var (
	// ErrSessionClosed is returned by operations on a torn down session.
	ErrSessionClosed = errors.New("session closed")

	// ErrQueueFull is returned by Enqueue when MaxQueueSize is reached.
	ErrQueueFull = errors.New("queue is full")

	// ErrNotConnected is returned by operations that need a voice connection.
	ErrNotConnected = errors.New("not connected to a voice channel")
)

const (
	statusTimeout     = 5 * time.Second
	disconnectTimeout = 10 * time.Second
)

// State is the externally visible playback state.
type State string

const (
	StateIdle      State = "idle"
	StateConnected State = "connected"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
)

// Options configures a Controller.
type Options struct {
	IdleTimeout  time.Duration
	SyncInterval time.Duration
	// StreamOpenTimeout bounds opening one track's stream. The session
	// serves no other command while a stream opens.
	StreamOpenTimeout time.Duration
	HistorySize       int
	MaxQueueSize      int
	DefaultVolume     float64
	IdleStatusText    string
	Events            events.Publisher
	Logger            zerolog.Logger
}

// DefaultOptions returns the stock session settings.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:       10 * time.Second,
		SyncInterval:      2 * time.Second,
		StreamOpenTimeout: 15 * time.Second,
		HistorySize:       queue.DefaultHistorySize,
		MaxQueueSize:      100,
		DefaultVolume:     0.5,
		IdleStatusText:    "Grimnir Jukebox was here",
		Logger:            zerolog.Nop(),
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = def.IdleTimeout
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = def.SyncInterval
	}
	if o.StreamOpenTimeout <= 0 {
		o.StreamOpenTimeout = def.StreamOpenTimeout
	}
	if o.HistorySize <= 0 {
		o.HistorySize = def.HistorySize
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = def.MaxQueueSize
	}
	o.DefaultVolume = clampVolume(o.DefaultVolume)
	if o.IdleStatusText == "" {
		o.IdleStatusText = def.IdleStatusText
	}
}

// Controller owns one session's queue, playback state and voice connection.
//
// Every field below the loop marker is owned by the run goroutine. Public
// methods hand closures to that goroutine and wait for them.
type Controller struct {
	key      string
	gateway  Gateway
	resolver Resolver
	opts     Options
	events   events.Publisher
	logger   zerolog.Logger
	onRemove func(*Controller)
	syncer   *Synchronizer

	cmds   chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// owned by the run loop
	voice     Voice
	queue     *queue.Queue
	history   *queue.History
	current   *models.Track
	playing   bool
	paused    bool
	loopMode  models.LoopMode
	volume    float64
	playGen   uint64
	idleTimer *time.Timer
	idleGen   uint64
}

// NewController creates a session and starts its loop. onRemove is called
// once, from the session loop, after the session tore itself down. A session
// that never starts playing is torn down after IdleTimeout.
func NewController(key string, gateway Gateway, resolver Resolver, opts Options, onRemove func(*Controller)) *Controller {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		key:      key,
		gateway:  gateway,
		resolver: resolver,
		opts:     opts,
		events:   opts.Events,
		logger:   opts.Logger.With().Str("session_key", key).Logger(),
		onRemove: onRemove,
		cmds:     make(chan func(), 16),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		queue:    queue.New(),
		history:  queue.NewHistory(opts.HistorySize),
		volume:   opts.DefaultVolume,
	}
	c.syncer = newSynchronizer(opts.SyncInterval, c.Snapshot, c.logger)
	c.armIdle()

	go c.run()
	c.logger.Debug().Msg("session created")
	return c
}

// Key returns the session key.
func (c *Controller) Key() string { return c.key }

// Done is closed once the session loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Closed reports whether the session was torn down.
func (c *Controller) Closed() bool { return c.ctx.Err() != nil }

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.cmds:
			fn()
		}
	}
}

// do runs fn on the session loop and waits for it to finish. If ctx ends
// before the loop picks fn up, fn is skipped and ctx's error returned. Once
// fn has started, do waits for it, so a nil error always means fn ran.
func (c *Controller) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	var skipped error
	wrapped := func() {
		defer close(finished)
		if err := ctx.Err(); err != nil {
			skipped = err
			return
		}
		fn()
	}

	select {
	case c.cmds <- wrapped:
	case <-c.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return skipped
	case <-c.done:
		// The loop may exit right after running fn (teardown).
		select {
		case <-finished:
			return skipped
		default:
			return ErrSessionClosed
		}
	}
}

// post queues fn on the session loop without waiting for it to run.
// It must not be called from the loop itself.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.ctx.Done():
	}
}

// Connect attaches the session to channelID. It is a no-op when already
// there and moves the connection when attached elsewhere. A transport
// failure yields false and leaves the session as it was.
func (c *Controller) Connect(ctx context.Context, channelID string) (bool, error) {
	var ok bool
	err := c.do(ctx, func() {
		c.cancelIdle()
		ok = c.connect(ctx, channelID)
		c.ensureIdle()
	})
	return ok, err
}

func (c *Controller) connect(ctx context.Context, channelID string) bool {
	log := c.logger.With().Str("op", "connect").Str("channel_id", channelID).Logger()

	if c.voice != nil && !c.voice.Connected() {
		log.Debug().Msg("dropping stale voice connection")
		c.playGen++
		c.voice = nil
		c.current = nil
		c.playing = false
		c.paused = false
	}

	if c.voice != nil {
		if c.voice.ChannelID() == channelID {
			return true
		}
		if err := c.voice.MoveTo(ctx, channelID); err != nil {
			log.Error().Err(err).Msg("failed to move voice connection")
			return false
		}
		log.Info().Msg("moved voice connection")
		c.syncer.Trigger()
		return true
	}

	voice, err := c.gateway.Connect(ctx, c.key, channelID)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to voice channel")
		return false
	}
	c.voice = voice
	log.Info().Msg("voice connected")

	// Tracks queued before the connection existed start now.
	if !c.playing && c.queue.Len() > 0 {
		c.startNext()
	}
	c.syncer.Trigger()
	return true
}

// Enqueue resolves query, attributes it to requester and appends it to the
// queue, starting playback when nothing is playing. Resolution happens on
// the caller's goroutine so the session keeps serving other commands.
func (c *Controller) Enqueue(ctx context.Context, query string, requester models.Requester) (*models.Track, error) {
	if c.Closed() {
		return nil, ErrSessionClosed
	}

	resolved, err := c.resolver.Search(ctx, query)
	if err != nil {
		c.logger.Info().Str("op", "enqueue").Str("query", query).Err(err).Msg("nothing found")
		// A session created by this request must still expire.
		c.post(c.ensureIdle)
		return nil, err
	}
	track := resolved.WithRequester(requester)

	var opErr error
	err = c.do(ctx, func() {
		c.cancelIdle()
		if c.queue.Len() >= c.opts.MaxQueueSize {
			opErr = ErrQueueFull
			c.ensureIdle()
			return
		}
		c.queue.Push(track)
		c.publish(events.EventTrackAdded, track, events.Payload{
			"position": c.queue.Len(),
		})
		c.logger.Info().
			Str("op", "enqueue").
			Str("title", track.Title).
			Str("requester", track.Requester.ID).
			Int("queue_length", c.queue.Len()).
			Msg("track queued")

		if !c.playing {
			c.startNext()
			c.ensureIdle()
			return
		}
		c.syncer.Trigger()
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return track, nil
}

// Pause pauses playback. It reports false when nothing was playing and
// ErrNotConnected when the session has no voice connection.
func (c *Controller) Pause(ctx context.Context) (bool, error) {
	var ok bool
	var opErr error
	err := c.do(ctx, func() {
		if c.voice == nil {
			opErr = ErrNotConnected
			return
		}
		if !c.playing || c.paused || !c.voice.IsPlaying() {
			return
		}
		if err := c.voice.Pause(); err != nil {
			c.logger.Error().Err(err).Str("op", "pause").Msg("transport pause failed")
			return
		}
		c.paused = true
		ok = true
		if c.current != nil {
			c.setStatus("Paused: " + c.current.Title)
		}
		c.syncer.Trigger()
	})
	if err != nil {
		return false, err
	}
	return ok, opErr
}

// Resume resumes paused playback. It reports false when nothing was paused.
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	var ok bool
	var opErr error
	err := c.do(ctx, func() {
		if c.voice == nil {
			opErr = ErrNotConnected
			return
		}
		if !c.playing || !c.paused || !c.voice.IsPaused() {
			return
		}
		if err := c.voice.Resume(); err != nil {
			c.logger.Error().Err(err).Str("op", "resume").Msg("transport resume failed")
			return
		}
		c.paused = false
		ok = true
		if c.current != nil {
			c.setStatus("Now Playing: " + c.current.Title)
		}
		c.syncer.Trigger()
	})
	if err != nil {
		return false, err
	}
	return ok, opErr
}

// Skip stops the current track. The transport's completion callback then
// advances the queue, exactly as for a track that ended on its own.
func (c *Controller) Skip(ctx context.Context) (bool, error) {
	var ok bool
	var opErr error
	err := c.do(ctx, func() {
		if c.voice == nil {
			opErr = ErrNotConnected
			return
		}
		if !c.playing || c.paused || !c.voice.IsPlaying() {
			return
		}
		if err := c.voice.Stop(); err != nil {
			c.logger.Error().Err(err).Str("op", "skip").Msg("transport stop failed")
			return
		}
		ok = true
	})
	if err != nil {
		return false, err
	}
	return ok, opErr
}

// Stop ends playback and clears the current track. The queue is kept.
func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, func() {
		// The completion for the stopped track must not advance.
		c.playGen++
		if c.voice != nil && c.playing {
			if err := c.voice.Stop(); err != nil {
				c.logger.Error().Err(err).Str("op", "stop").Msg("transport stop failed")
			}
		}
		c.current = nil
		c.playing = false
		c.paused = false
		c.setStatus(c.opts.IdleStatusText)
		c.ensureIdle()
		c.syncer.Trigger()
	})
}

// ToggleLoop cycles Off, RepeatCurrent, RepeatQueue and returns the new mode.
func (c *Controller) ToggleLoop(ctx context.Context) (models.LoopMode, error) {
	var mode models.LoopMode
	err := c.do(ctx, func() {
		c.loopMode = c.loopMode.Next()
		mode = c.loopMode
		c.syncer.Trigger()
	})
	return mode, err
}

// SetLoopMode sets the loop mode directly.
func (c *Controller) SetLoopMode(ctx context.Context, mode models.LoopMode) error {
	return c.do(ctx, func() {
		c.loopMode = mode
		c.syncer.Trigger()
	})
}

// GoToPrevious replays the most recently finished track. The current track,
// if any, is queued right after it. It reports false when History is empty.
func (c *Controller) GoToPrevious(ctx context.Context) (bool, error) {
	var ok bool
	err := c.do(ctx, func() {
		prev, found := c.history.PopLast()
		if !found {
			return
		}
		ok = true

		if c.current != nil {
			c.queue.PushFront(c.current)
		}
		c.queue.PushFront(prev)

		c.playGen++
		if c.voice != nil && c.playing {
			if err := c.voice.Stop(); err != nil {
				c.logger.Error().Err(err).Str("op", "previous").Msg("transport stop failed")
			}
		}
		c.current = nil
		c.playing = false
		c.paused = false
		c.cancelIdle()

		c.logger.Info().Str("op", "previous").Str("title", prev.Title).Msg("going back")
		c.startNext()
		c.ensureIdle()
	})
	return ok, err
}

// SetVolume sets the playback volume, clamped to [0, 1], and applies it to
// the live stream. It returns the applied value.
func (c *Controller) SetVolume(ctx context.Context, volume float64) (float64, error) {
	volume = clampVolume(volume)
	err := c.do(ctx, func() {
		c.volume = volume
		if c.voice != nil && c.playing {
			if err := c.voice.SetVolume(volume); err != nil {
				c.logger.Warn().Err(err).Str("op", "volume").Msg("failed to apply volume to stream")
			}
		}
		c.syncer.Trigger()
	})
	return volume, err
}

// Shuffle randomizes the queue order.
func (c *Controller) Shuffle(ctx context.Context) error {
	return c.do(ctx, func() {
		c.queue.Shuffle()
		c.publish(events.EventQueueChanged, nil, events.Payload{"change": "shuffle"})
		c.syncer.Trigger()
	})
}

// RemoveAt removes the queued track at index. It reports false when the
// index is out of range.
func (c *Controller) RemoveAt(ctx context.Context, index int) (*models.Track, bool, error) {
	var (
		removed *models.Track
		ok      bool
	)
	err := c.do(ctx, func() {
		removed, ok = c.queue.RemoveAt(index)
		if ok {
			c.publish(events.EventQueueChanged, removed, events.Payload{"change": "remove", "index": index})
			c.syncer.Trigger()
		}
	})
	return removed, ok, err
}

// ClearQueue drops every queued track. The current track keeps playing.
func (c *Controller) ClearQueue(ctx context.Context) error {
	return c.do(ctx, func() {
		c.queue.Clear()
		c.publish(events.EventQueueChanged, nil, events.Payload{"change": "clear"})
		c.ensureIdle()
		c.syncer.Trigger()
	})
}

// QueueInfo returns the full session view.
func (c *Controller) QueueInfo(ctx context.Context) (models.QueueInfo, error) {
	var info models.QueueInfo
	err := c.do(ctx, func() {
		info = models.QueueInfo{
			State:    string(c.state()),
			Current:  c.current,
			Queue:    c.queue.PeekAll(),
			History:  c.history.All(),
			Playing:  c.playing,
			Paused:   c.paused,
			LoopMode: c.loopMode,
			Volume:   c.volume,
		}
		if c.voice != nil {
			info.ChannelID = c.voice.ChannelID()
		}
	})
	return info, err
}

// Snapshot returns the comparable projection used for change detection.
func (c *Controller) Snapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	err := c.do(ctx, func() {
		snap = c.snapshot()
	})
	return snap, err
}

func (c *Controller) snapshot() models.Snapshot {
	s := models.Snapshot{
		Playing:     c.playing,
		Paused:      c.paused,
		LoopMode:    c.loopMode,
		Volume:      c.volume,
		QueueLength: c.queue.Len(),
		Connected:   c.voice != nil && c.voice.Connected(),
	}
	if c.current != nil {
		s.CurrentTitle = c.current.Title
	}
	return s
}

func (c *Controller) state() State {
	switch {
	case c.playing && c.paused:
		return StatePaused
	case c.playing:
		return StatePlaying
	case c.voice != nil:
		return StateConnected
	default:
		return StateIdle
	}
}

// RegisterObserver adds an observer panel. The session keeps no ownership;
// the observer is dropped the first time its update fails.
func (c *Controller) RegisterObserver(o Observer) error {
	if c.Closed() || !c.syncer.Register(o) {
		return ErrSessionClosed
	}
	return nil
}

// ObserverCount returns the number of registered observers.
func (c *Controller) ObserverCount() int {
	return c.syncer.Len()
}

// Cleanup tears the session down: voice, queue, history and observers.
// It is idempotent.
func (c *Controller) Cleanup(ctx context.Context) error {
	return c.close(ctx, "disconnect")
}

func (c *Controller) close(ctx context.Context, reason string) error {
	err := c.do(ctx, func() { c.teardown(reason) })
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// teardown runs on the loop. The loop exits once it returns.
func (c *Controller) teardown(reason string) {
	if c.Closed() {
		return
	}
	c.cancelIdle()
	c.playGen++

	if c.voice != nil {
		if c.playing {
			if err := c.voice.Stop(); err != nil {
				c.logger.Debug().Err(err).Msg("stop during teardown")
			}
		}
		c.setStatus(c.opts.IdleStatusText)
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		if err := c.voice.Disconnect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("voice disconnect failed")
		}
		cancel()
		c.voice = nil
	}

	c.queue.Clear()
	c.history.Clear()
	c.current = nil
	c.playing = false
	c.paused = false
	c.syncer.Close()

	c.publish(events.EventSessionClosed, nil, events.Payload{"reason": reason})
	telemetry.SessionTeardownsTotal.WithLabelValues(reason).Inc()
	c.logger.Info().Str("reason", reason).Msg("session torn down")

	c.cancel()
	if c.onRemove != nil {
		c.onRemove(c)
	}
}

// armIdle schedules the idle teardown check, replacing any pending one.
func (c *Controller) armIdle() {
	c.cancelIdle()
	gen := c.idleGen
	c.idleTimer = time.AfterFunc(c.opts.IdleTimeout, func() {
		c.post(func() { c.idleFired(gen) })
	})
}

// ensureIdle arms the idle check when there is nothing to play and no check
// is pending. Queued tracks count as nothing while there is no voice.
func (c *Controller) ensureIdle() {
	if c.idleTimer == nil && c.idleCandidate() {
		c.armIdle()
	}
}

func (c *Controller) idleCandidate() bool {
	return !c.playing && (c.queue.Len() == 0 || c.voice == nil)
}

func (c *Controller) cancelIdle() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	// A timer that already fired may have posted its check; invalidate it.
	c.idleGen++
}

func (c *Controller) idleFired(gen uint64) {
	if gen != c.idleGen {
		return
	}
	c.idleTimer = nil
	if c.idleCandidate() {
		c.logger.Info().Dur("idle_timeout", c.opts.IdleTimeout).Msg("auto-disconnect after empty queue")
		c.teardown("idle")
	}
}

func (c *Controller) setStatus(text string) {
	if c.voice == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, statusTimeout)
	defer cancel()
	if err := c.voice.SetStatus(ctx, text); err != nil {
		c.logger.Warn().Err(err).Str("status", text).Msg("failed to update channel status")
	}
}

func (c *Controller) publish(eventType events.EventType, track *models.Track, extra events.Payload) {
	if c.events == nil {
		return
	}
	payload := events.Payload{"session_key": c.key}
	if track != nil {
		payload["track_id"] = track.ID
		payload["title"] = track.Title
		payload["platform"] = track.Platform.String()
		payload["requester"] = track.Requester.ID
	}
	for k, v := range extra {
		payload[k] = v
	}
	c.events.Publish(eventType, payload)
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// completion wraps onComplete so a transport can call it any number of
// times; only the first call is delivered, tagged with gen.
func (c *Controller) completion(gen uint64) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			c.post(func() { c.handleCompletion(gen, err) })
		})
	}
}
