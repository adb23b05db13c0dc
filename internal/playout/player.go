/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var errPlayerRunning = errors.New("player already running")

// player runs one audio subprocess for one track.
type player struct {
	bin       string
	stopGrace time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan struct{} // closed when the process has exited
	paused bool
}

func newPlayer(bin string, stopGrace time.Duration, logger zerolog.Logger) *player {
	return &player{bin: bin, stopGrace: stopGrace, logger: logger}
}

// start launches the process. onExit runs on the waiter goroutine after
// done has been closed, with the error reported by Wait.
func (p *player) start(args []string, onExit func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.done != nil {
		select {
		case <-p.done:
		default:
			return errPlayerRunning
		}
	}

	// The process outlives the request that started it, so no context here.
	cmd := exec.Command(p.bin, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.bin, err)
	}

	p.cmd = cmd
	p.done = make(chan struct{})
	p.paused = false

	go func(done chan struct{}, c *exec.Cmd) {
		err := c.Wait()
		close(done)
		if err != nil {
			p.logger.Debug().Err(err).Msg("player exited")
		} else {
			p.logger.Debug().Msg("player finished")
		}
		if onExit != nil {
			onExit(err)
		}
	}(p.done, cmd)

	return nil
}

// running reports whether the process is alive.
func (p *player) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aliveLocked()
}

func (p *player) aliveLocked() bool {
	if p.cmd == nil || p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *player) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused && p.aliveLocked()
}

func (p *player) pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.aliveLocked() {
		return nil
	}
	if err := suspend(p.cmd.Process); err != nil {
		return err
	}
	p.paused = true
	return nil
}

func (p *player) resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.aliveLocked() || !p.paused {
		return nil
	}
	if err := resume(p.cmd.Process); err != nil {
		return err
	}
	p.paused = false
	return nil
}

// stop interrupts the process and kills it if it has not exited within the
// grace period. It returns once the process is gone.
func (p *player) stop() error {
	p.mu.Lock()
	cmd := p.cmd
	done := p.done
	paused := p.paused
	p.paused = false
	p.mu.Unlock()

	if cmd == nil || done == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	// A suspended process never handles the interrupt.
	if paused {
		_ = resume(cmd.Process)
	}
	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-time.After(p.stopGrace):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}
