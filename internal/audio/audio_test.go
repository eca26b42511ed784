package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	clips   map[string][]byte
	release chan struct{}
}

func newFakeFetcher(clips map[string][]byte) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), clips: clips}
}

func (f *fakeFetcher) FetchAudio(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	if data, ok := f.clips[url]; ok {
		return data, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type event struct {
	start bool
	cat   Category
	clip  Clip
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) Start(clip Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{start: true, cat: clip.Category, clip: clip})
}

func (s *recordingSink) Stop(cat Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{cat: cat})
}

func (s *recordingSink) snapshot() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event(nil), s.events...)
}

func TestCacheStates(t *testing.T) {
	f := newFakeFetcher(map[string][]byte{"/ok": []byte("RIFF")})
	f.release = make(chan struct{})
	c := NewCache(f, quiet)
	ctx := context.Background()

	assert.Equal(t, Loading, c.EnsureLoaded(ctx, "/ok"))
	assert.Equal(t, Loading, c.EnsureLoaded(ctx, "/ok"))
	assert.Equal(t, Loading, c.EnsureLoaded(ctx, "/missing"))
	close(f.release)

	assert.Equal(t, Ready, c.Wait(ctx, "/ok"))
	assert.Equal(t, Failed, c.Wait(ctx, "/missing"))
	assert.Equal(t, Ready, c.EnsureLoaded(ctx, "/ok"))
	assert.Equal(t, Failed, c.EnsureLoaded(ctx, "/missing"))
	assert.Equal(t, 1, f.count("/ok"), "loaded once")
	assert.Equal(t, 1, f.count("/missing"), "failure is not retried")
	assert.Equal(t, Failed, c.EnsureLoaded(ctx, ""))
	assert.Equal(t, Unknown, c.State("/never"))
}

func TestResolveFallsBackToDefault(t *testing.T) {
	f := newFakeFetcher(map[string][]byte{"/ok": []byte("RIFF")})
	c := NewCache(f, quiet)
	ctx := context.Background()
	c.EnsureLoaded(ctx, "/ok")
	c.EnsureLoaded(ctx, "/bad")
	c.Wait(ctx, "/ok")
	c.Wait(ctx, "/bad")

	ok := c.Resolve(Countdown, "/ok")
	assert.False(t, ok.Default)
	assert.Equal(t, []byte("RIFF"), ok.Data)

	assert.True(t, c.Resolve(Countdown, "/bad").Default)
	assert.True(t, c.Resolve(Celebration, "").Default)
	assert.True(t, c.Resolve(Celebration, "/unloaded").Default)
}

func newTestPlayer(t *testing.T) (*Player, *recordingSink, *clockwork.FakeClock) {
	t.Helper()
	sink := &recordingSink{}
	clock := clockwork.NewFakeClock()
	p := NewPlayer(sink, NewCache(newFakeFetcher(nil), quiet), clock, quiet)
	t.Cleanup(p.Close)
	return p, sink, clock
}

func TestPlayStopsPreviousPlayback(t *testing.T) {
	p, sink, _ := newTestPlayer(t)

	p.Play(Countdown, "", 0)
	p.Play(Countdown, "", 0)
	p.Play(Celebration, "", 0)

	events := sink.snapshot()
	require.Len(t, events, 4)
	assert.True(t, events[0].start)
	assert.Equal(t, event{cat: Countdown}, events[1], "previous countdown stopped first")
	assert.True(t, events[2].start)
	assert.True(t, events[3].start)
	assert.Equal(t, Celebration, events[3].cat)
}

func TestPlayAutoStops(t *testing.T) {
	p, sink, clock := newTestPlayer(t)
	p.Play(Countdown, "", 5*time.Second)
	require.True(t, p.Playing(Countdown))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(5 * time.Second)

	require.Eventually(t, func() bool { return !p.Playing(Countdown) }, time.Second, 5*time.Millisecond)
	events := sink.snapshot()
	assert.Equal(t, event{cat: Countdown}, events[len(events)-1])
}

func TestStaleAutoStopLeavesNewPlayback(t *testing.T) {
	p, _, clock := newTestPlayer(t)
	p.Play(Countdown, "", 2*time.Second)
	p.Play(Countdown, "", 10*time.Second)

	clock.Advance(3 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, p.Playing(Countdown), "first timer was cancelled by the second play")
}

func TestCloseCancelsAutoStop(t *testing.T) {
	p, sink, clock := newTestPlayer(t)
	p.Play(Countdown, "", time.Second)
	p.Close()
	before := len(sink.snapshot())

	clock.Advance(2 * time.Second)
	p.Play(Celebration, "", 0)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, len(sink.snapshot()), "no sink calls after close")
	assert.False(t, p.Playing(Countdown))
}
