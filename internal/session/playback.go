/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
)

// handleCompletion runs on the loop when the transport reports the end of
// the track started with generation gen.
func (c *Controller) handleCompletion(gen uint64, err error) {
	if gen != c.playGen || !c.playing {
		c.logger.Debug().Uint64("gen", gen).Msg("ignoring stale completion")
		return
	}
	title := ""
	if c.current != nil {
		title = c.current.Title
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("title", title).Msg("playback ended with error")
	} else {
		c.logger.Debug().Str("title", title).Msg("finished playing")
	}
	c.advance()
}

// advance applies the loop policy to the finished track and starts the next.
func (c *Controller) advance() {
	if finished := c.current; finished != nil {
		switch c.loopMode {
		case models.LoopRepeatCurrent:
			c.queue.PushFront(finished)
		case models.LoopRepeatQueue:
			c.queue.Push(finished)
		default:
			c.history.Push(finished)
		}
	}
	c.current = nil
	c.playing = false
	c.paused = false
	c.startNext()
}

// startNext pops tracks until one starts. Tracks that fail to start are
// dropped: no retry, no history, no loop policy.
func (c *Controller) startNext() {
	if c.voice == nil {
		// Queued tracks wait for Connect.
		c.syncer.Trigger()
		return
	}
	for {
		next, ok := c.queue.Pop()
		if !ok {
			c.becomeIdle()
			return
		}
		if c.startTrack(next) {
			return
		}
	}
}

func (c *Controller) startTrack(t *models.Track) bool {
	log := c.logger.With().Str("title", t.Title).Str("locator", t.Locator).Logger()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.StreamOpenTimeout)
	stream, err := c.voice.OpenStream(ctx, t.Locator)
	cancel()
	if err != nil {
		c.startFailed(t, err)
		return false
	}

	c.playGen++
	if err := c.voice.Play(stream, c.volume, c.completion(c.playGen)); err != nil {
		_ = stream.Close()
		c.startFailed(t, err)
		return false
	}

	c.current = t
	c.playing = true
	c.paused = false

	c.setStatus("Now Playing: " + t.Title)
	c.publish(events.EventNowPlaying, t, events.Payload{
		"duration":     t.DurationSeconds(),
		"queue_length": c.queue.Len(),
	})
	telemetry.TracksStartedTotal.WithLabelValues(t.Platform.String()).Inc()
	log.Info().Msg("now playing")

	c.syncer.Trigger()
	return true
}

func (c *Controller) startFailed(t *models.Track, err error) {
	telemetry.TrackStartFailuresTotal.Inc()
	c.logger.Error().Err(err).Str("title", t.Title).Str("op", "start").Msg("failed to start track, skipping")
	c.publish(events.EventPlaybackError, t, events.Payload{"error": err.Error()})
}

// becomeIdle is entered when the queue ran dry.
func (c *Controller) becomeIdle() {
	c.current = nil
	c.playing = false
	c.paused = false
	c.setStatus(c.opts.IdleStatusText)
	c.publish(events.EventSessionIdle, nil, nil)
	c.armIdle()
	c.syncer.Trigger()
}
