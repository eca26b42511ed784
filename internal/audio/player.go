package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type Category string

const (
	Countdown   Category = "countdown"
	Celebration Category = "celebration"
)

// Sink produces sound. The player calls Stop for a category before each
// new Start of it.
type Sink interface {
	Start(clip Clip)
	Stop(cat Category)
}

type playback struct {
	seq   uint64
	timer clockwork.Timer
}

// Player owns one playback per category for a single reveal session.
type Player struct {
	mu      sync.Mutex
	sink    Sink
	cache   *Cache
	clock   clockwork.Clock
	playing map[Category]*playback
	seq     uint64
	closed  bool
	logger  *slog.Logger
}

func NewPlayer(sink Sink, cache *Cache, clock clockwork.Clock, logger *slog.Logger) *Player {
	return &Player{
		sink:    sink,
		cache:   cache,
		clock:   clock,
		playing: make(map[Category]*playback),
		logger:  logger,
	}
}

// Preload starts fetching custom clips so they are ready by the reveal.
func (p *Player) Preload(ctx context.Context, urls ...string) {
	for _, u := range urls {
		if u != "" {
			p.cache.EnsureLoaded(ctx, u)
		}
	}
}

// Play stops whatever cat is playing, then plays url. maxDuration > 0 stops
// the sound after that long even if the clip is longer.
func (p *Player) Play(cat Category, url string, maxDuration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.stopLocked(cat)

	clip := p.cache.Resolve(cat, url)
	if clip.Default && url != "" {
		p.logger.Debug("using default sound", "category", cat, "url", url, "state", p.cache.State(url))
	}
	p.sink.Start(clip)

	p.seq++
	pb := &playback{seq: p.seq}
	if maxDuration > 0 {
		seq := pb.seq
		pb.timer = p.clock.AfterFunc(maxDuration, func() { p.autoStop(cat, seq) })
	}
	p.playing[cat] = pb
}

func (p *Player) autoStop(cat Category, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if pb, ok := p.playing[cat]; ok && pb.seq == seq {
		p.stopLocked(cat)
	}
}

func (p *Player) Stop(cat Category) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.stopLocked(cat)
	}
}

func (p *Player) stopLocked(cat Category) {
	pb, ok := p.playing[cat]
	if !ok {
		return
	}
	if pb.timer != nil {
		pb.timer.Stop()
	}
	delete(p.playing, cat)
	p.sink.Stop(cat)
}

func (p *Player) Playing(cat Category) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.playing[cat]
	return ok
}

// Close stops every category and cancels pending auto-stops. Later calls
// do nothing.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for cat := range p.playing {
		p.stopLocked(cat)
	}
	p.closed = true
}
