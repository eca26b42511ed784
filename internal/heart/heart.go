// Package heart implements heart reactions: a local cooldown on sending,
// optimistic local visuals and best-effort broadcast to the room.
package heart

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultCooldown = 250 * time.Millisecond
	DefaultLifetime = 2000 * time.Millisecond
	emitTimeout     = time.Second
)

// Colors are the reds a heart may be drawn in.
var Colors = []string{"#ff6b6b", "#ee5a5a", "#ff4757", "#ff6348", "#e84118", "#c0392b"}

// Visual is one floating heart on screen.
type Visual struct {
	ID       int
	X        float64 // percent of width, 75 to 90
	Color    string
	Scale    float64 // 0.7 to 1.2
	Rotation float64 // degrees, -15 to 15
	Drift    float64 // pixels, -20 to 20
	Born     time.Time
}

// Emitter sends a heart to the room.
type Emitter func(ctx context.Context) error

type Broadcaster struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	cooldown time.Duration
	lifetime time.Duration
	lastSent time.Time
	sent     bool
	nextID   int
	active   map[int]Visual
	timers   map[int]clockwork.Timer
	emit     Emitter
	rng      *rand.Rand
	closed   bool
	onChange func([]Visual)
	logger   *slog.Logger
}

type Option func(*Broadcaster)

func WithCooldown(d time.Duration) Option { return func(b *Broadcaster) { b.cooldown = d } }

func WithLifetime(d time.Duration) Option { return func(b *Broadcaster) { b.lifetime = d } }

// WithRand fixes the source of visual randomness.
func WithRand(r *rand.Rand) Option { return func(b *Broadcaster) { b.rng = r } }

// WithOnChange registers a callback run with the active set after every
// spawn or expiry. It must not call back into the Broadcaster.
func WithOnChange(fn func([]Visual)) Option { return func(b *Broadcaster) { b.onChange = fn } }

func NewBroadcaster(clock clockwork.Clock, logger *slog.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		clock:    clock,
		cooldown: DefaultCooldown,
		lifetime: DefaultLifetime,
		active:   make(map[int]Visual),
		timers:   make(map[int]clockwork.Timer),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetEmitter attaches the room connection. nil means disconnected; sends
// still show locally.
func (b *Broadcaster) SetEmitter(e Emitter) {
	b.mu.Lock()
	b.emit = e
	b.mu.Unlock()
}

// Send spawns a local heart and broadcasts it. It returns false without
// doing anything when called within the cooldown of the last accepted send.
func (b *Broadcaster) Send() bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	now := b.clock.Now()
	if b.sent && now.Sub(b.lastSent) < b.cooldown {
		b.mu.Unlock()
		return false
	}
	b.sent = true
	b.lastSent = now
	emit := b.emit
	snapshot := b.spawnLocked(now)
	b.mu.Unlock()

	b.notify(snapshot)
	if emit != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
			defer cancel()
			if err := emit(ctx); err != nil {
				b.logger.Debug("send heart", "error", err)
			}
		}()
	}
	return true
}

// Receive shows a heart sent by someone else. No cooldown applies.
func (b *Broadcaster) Receive() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	snapshot := b.spawnLocked(b.clock.Now())
	b.mu.Unlock()
	b.notify(snapshot)
}

func (b *Broadcaster) spawnLocked(now time.Time) []Visual {
	b.nextID++
	id := b.nextID
	b.active[id] = Visual{
		ID:       id,
		X:        75 + b.rng.Float64()*15,
		Color:    Colors[b.rng.IntN(len(Colors))],
		Scale:    0.7 + b.rng.Float64()*0.5,
		Rotation: -15 + b.rng.Float64()*30,
		Drift:    -20 + b.rng.Float64()*40,
		Born:     now,
	}
	b.timers[id] = b.clock.AfterFunc(b.lifetime, func() { b.expire(id) })
	return b.activeLocked()
}

func (b *Broadcaster) expire(id int) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if _, ok := b.active[id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.active, id)
	delete(b.timers, id)
	snapshot := b.activeLocked()
	b.mu.Unlock()
	b.notify(snapshot)
}

func (b *Broadcaster) activeLocked() []Visual {
	out := make([]Visual, 0, len(b.active))
	for _, v := range b.active {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, c Visual) int { return a.ID - c.ID })
	return out
}

func (b *Broadcaster) notify(snapshot []Visual) {
	if b.onChange != nil {
		b.onChange(snapshot)
	}
}

// Active returns the hearts on screen, oldest first.
func (b *Broadcaster) Active() []Visual {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeLocked()
}

// Close cancels pending expiries and clears the active set.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	clear(b.active)
	b.emit = nil
}
