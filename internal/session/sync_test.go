/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastSync(o *Options) { o.SyncInterval = 20 * time.Millisecond }

func TestObserverReceivesInitialState(t *testing.T) {
	h := newHarness(t, fastSync)
	h.connect()
	h.enqueue("A")

	obs := &recordingObserver{}
	if err := h.c.RegisterObserver(obs); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "first broadcast", func() bool { return obs.count() > 0 })
	snap := obs.lastSnap()
	if !snap.Playing || snap.CurrentTitle != "A" || !snap.Connected {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestUnchangedStateNotRebroadcast(t *testing.T) {
	h := newHarness(t, fastSync)
	h.connect()
	h.enqueue("A")

	obs := &recordingObserver{}
	if err := h.c.RegisterObserver(obs); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first broadcast", func() bool { return obs.count() > 0 })

	time.Sleep(150 * time.Millisecond)
	if got := obs.count(); got != 1 {
		t.Errorf("broadcasts = %d over several idle ticks, want 1", got)
	}
}

func TestNewObserverDoesNotRenotifyOthers(t *testing.T) {
	h := newHarness(t, fastSync)
	h.connect()
	h.enqueue("A")

	first := &recordingObserver{}
	if err := h.c.RegisterObserver(first); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first observer sync", func() bool { return first.count() > 0 })

	second := &recordingObserver{}
	if err := h.c.RegisterObserver(second); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second observer sync", func() bool { return second.count() > 0 })
	time.Sleep(100 * time.Millisecond)

	if got := first.count(); got != 1 {
		t.Errorf("first observer notified %d times, want 1", got)
	}
	if got := second.count(); got != 1 {
		t.Errorf("second observer notified %d times, want 1", got)
	}
	if snap := second.lastSnap(); snap.CurrentTitle != "A" {
		t.Errorf("second observer snapshot = %+v", snap)
	}
}

func TestChangeIsBroadcast(t *testing.T) {
	h := newHarness(t, fastSync)
	h.connect()
	h.enqueue("A")

	obs := &recordingObserver{}
	if err := h.c.RegisterObserver(obs); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first broadcast", func() bool { return obs.count() > 0 })

	h.enqueue("B")
	waitFor(t, "queue change broadcast", func() bool {
		return obs.count() >= 2 && obs.lastSnap().QueueLength == 1
	})

	if _, err := h.c.Pause(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "pause broadcast", func() bool { return obs.lastSnap().Paused })
}

func TestFailingObserverRemoved(t *testing.T) {
	h := newHarness(t, fastSync)
	h.connect()

	good := &recordingObserver{}
	bad := &recordingObserver{fail: true}
	for _, o := range []*recordingObserver{good, bad} {
		if err := h.c.RegisterObserver(o); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "bad observer removal", func() bool { return h.c.ObserverCount() == 1 })

	h.enqueue("A")
	waitFor(t, "broadcast to survivor", func() bool {
		return good.count() >= 2 && good.lastSnap().CurrentTitle == "A"
	})
	if got := bad.count(); got != 1 {
		t.Errorf("removed observer notified %d times, want 1", got)
	}
}

func TestSynchronizerRestartsAfterEmpty(t *testing.T) {
	h := newHarness(t, fastSync)
	h.connect()

	first := &recordingObserver{fail: true}
	if err := h.c.RegisterObserver(first); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "observer set to drain", func() bool { return h.c.ObserverCount() == 0 })

	second := &recordingObserver{}
	if err := h.c.RegisterObserver(second); err != nil {
		t.Fatal(err)
	}
	h.enqueue("A")
	waitFor(t, "broadcast after restart", func() bool {
		return second.count() > 0 && second.lastSnap().CurrentTitle == "A"
	})
}

func TestSynchronizerStopsOnTeardown(t *testing.T) {
	h := newHarness(t, fastSync)
	h.connect()

	obs := &recordingObserver{}
	if err := h.c.RegisterObserver(obs); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first broadcast", func() bool { return obs.count() > 0 })

	if err := h.c.Cleanup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.c.ObserverCount(); got != 0 {
		t.Errorf("observers after teardown = %d", got)
	}
	if err := h.c.RegisterObserver(&recordingObserver{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("RegisterObserver after teardown = %v", err)
	}
}
