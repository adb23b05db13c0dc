/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/models"
)

var errNotFound = errors.New("no song found")

type fakeStream struct{ locator string }

func (s *fakeStream) Locator() string { return s.locator }
func (s *fakeStream) Close() error    { return nil }

// fakeVoice records transport calls. Completions are fired by the test
// through complete, never by the voice itself.
type fakeVoice struct {
	mu         sync.Mutex
	channelID  string
	connected  bool
	playing    bool
	paused     bool
	volume     float64
	failOpen   map[string]bool
	hangOpen   map[string]bool // OpenStream blocks until ctx ends
	played     []string
	statuses   []string
	moves      int
	stops      int
	onComplete func(error)
}

func (v *fakeVoice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelID
}

func (v *fakeVoice) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

func (v *fakeVoice) MoveTo(_ context.Context, channelID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channelID = channelID
	v.moves++
	return nil
}

func (v *fakeVoice) Disconnect(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = false
	return nil
}

func (v *fakeVoice) OpenStream(ctx context.Context, locator string) (Stream, error) {
	v.mu.Lock()
	fail, hang := v.failOpen[locator], v.hangOpen[locator]
	v.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("stream unavailable")
	}
	return &fakeStream{locator: locator}, nil
}

func (v *fakeVoice) Play(stream Stream, volume float64, onComplete func(error)) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.played = append(v.played, stream.Locator())
	v.playing = true
	v.paused = false
	v.volume = volume
	v.onComplete = onComplete
	return nil
}

func (v *fakeVoice) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = true
	return nil
}

func (v *fakeVoice) Resume() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = false
	return nil
}

func (v *fakeVoice) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = false
	v.stops++
	return nil
}

func (v *fakeVoice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing && !v.paused
}

func (v *fakeVoice) IsPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *fakeVoice) SetVolume(volume float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.volume = volume
	return nil
}

func (v *fakeVoice) SetStatus(_ context.Context, text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, text)
	return nil
}

// complete fires the completion callback of the most recent Play.
func (v *fakeVoice) complete(err error) {
	v.mu.Lock()
	cb := v.onComplete
	v.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (v *fakeVoice) callback() func(error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.onComplete
}

func (v *fakeVoice) playedLocators() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.played...)
}

func (v *fakeVoice) lastStatus() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return ""
	}
	return v.statuses[len(v.statuses)-1]
}

type fakeGateway struct {
	mu       sync.Mutex
	voice    *fakeVoice
	connects int
	fail     bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{voice: &fakeVoice{failOpen: map[string]bool{}, hangOpen: map[string]bool{}}}
}

func (g *fakeGateway) Connect(_ context.Context, _ string, channelID string) (Voice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return nil, errors.New("missing permissions")
	}
	g.connects++
	g.voice.mu.Lock()
	g.voice.channelID = channelID
	g.voice.connected = true
	g.voice.mu.Unlock()
	return g.voice, nil
}

func (g *fakeGateway) connectCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connects
}

// fakeResolver resolves "<title>" to a track with locator "loc:<title>".
// Queries listed in missing fail.
type fakeResolver struct {
	mu      sync.Mutex
	missing map[string]bool
	calls   int
}

func (r *fakeResolver) Search(_ context.Context, query string) (*models.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.missing[query] {
		return nil, errNotFound
	}
	return models.NewTrack(query, "loc:"+query, nil, "", "", models.PlatformYouTube), nil
}

// recordingObserver stores every snapshot it receives.
type recordingObserver struct {
	mu    sync.Mutex
	snaps []models.Snapshot
	fail  bool
}

func (o *recordingObserver) OnStateChanged(_ context.Context, s models.Snapshot) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snaps = append(o.snaps, s)
	if o.fail {
		return errors.New("message deleted")
	}
	return nil
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.snaps)
}

func (o *recordingObserver) lastSnap() models.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snaps[len(o.snaps)-1]
}

type harness struct {
	t        *testing.T
	registry *Registry
	gateway  *fakeGateway
	resolver *fakeResolver
	bus      *events.Bus
	c        *Controller
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	bus := events.NewBus()
	opts := DefaultOptions()
	opts.IdleTimeout = time.Hour
	opts.SyncInterval = time.Hour
	opts.Events = bus
	opts.Logger = zerolog.Nop()
	if mutate != nil {
		mutate(&opts)
	}

	h := &harness{
		t:        t,
		gateway:  newFakeGateway(),
		resolver: &fakeResolver{missing: map[string]bool{}},
		bus:      bus,
	}
	h.registry = NewRegistry(h.gateway, h.resolver, opts)
	h.c = h.registry.Get("guild-1")
	t.Cleanup(func() {
		h.registry.Shutdown(context.Background())
	})
	return h
}

func (h *harness) connect() {
	h.t.Helper()
	ok, err := h.c.Connect(context.Background(), "voice-1")
	if err != nil || !ok {
		h.t.Fatalf("Connect() = %v, %v", ok, err)
	}
}

func (h *harness) enqueue(titles ...string) {
	h.t.Helper()
	for _, title := range titles {
		if _, err := h.c.Enqueue(context.Background(), title, models.Requester{ID: "user-1"}); err != nil {
			h.t.Fatalf("Enqueue(%q) error = %v", title, err)
		}
	}
}

func (h *harness) info() models.QueueInfo {
	h.t.Helper()
	info, err := h.c.QueueInfo(context.Background())
	if err != nil {
		h.t.Fatalf("QueueInfo() error = %v", err)
	}
	return info
}

func trackTitles(tracks []*models.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.Title
	}
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func currentTitle(info models.QueueInfo) string {
	if info.Current == nil {
		return ""
	}
	return info.Current.Title
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
