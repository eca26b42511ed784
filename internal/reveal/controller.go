package reveal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/revealparty/internal/audio"
	"github.com/dukerupert/revealparty/internal/heart"
	"github.com/dukerupert/revealparty/internal/model"
	"github.com/dukerupert/revealparty/internal/protocol"
	"github.com/dukerupert/revealparty/internal/realtime"
)

const (
	inboxSize          = 32
	celebrationMaxPlay = 8 * time.Second
)

// API is the part of revealapi.Client the controller calls.
type API interface {
	StatusFetcher
	Reveal(ctx context.Context, code string) (*model.RevealResponse, error)
	VerifyPassword(ctx context.Context, code, password string) (bool, error)
}

// Channel is one realtime connection.
type Channel interface {
	Events() <-chan realtime.Event
	SendHeart(ctx context.Context) error
	Close() error
}

// Dialer opens the realtime channel for a reveal code.
type Dialer func(ctx context.Context, code string) (Channel, error)

// Player plays the countdown and celebration cues.
type Player interface {
	Play(cat audio.Category, url string, maxDuration time.Duration)
	Close()
}

type Options struct {
	API API
	// Dial may be nil, in which case the poller is used from the start.
	Dial Dialer
	// Player and Hearts may be nil.
	Player Player
	Hearts *heart.Broadcaster
	Clock  clockwork.Clock
	Config Config
	Logger *slog.Logger
	// OnCelebrate runs on the controller goroutine when the reveal shows.
	OnCelebrate func(Celebrate)
}

// Controller owns one viewer's reveal session. All state changes go through
// Reduce on a single goroutine; timers, requests and channel events come back
// as messages, and each is dropped once the session is closed.
type Controller struct {
	code   string
	opts   Options
	clock  clockwork.Clock
	poller *Poller
	logger *slog.Logger

	inbox   chan Msg
	updates chan State

	mu    sync.RWMutex
	state State

	// active is the session guard checked before every deferred mutation.
	active atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc

	resMu   sync.Mutex
	timers  []clockwork.Timer
	channel Channel
	dialed  bool

	closeOnce sync.Once
}

func New(code string, opts Options) (*Controller, error) {
	if opts.API == nil {
		return nil, errors.New("reveal: API is required")
	}
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		code:    code,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger.With("component", "reveal", "code", code),
		inbox:   make(chan Msg, inboxSize),
		updates: make(chan State, 1),
		state:   NewState(code),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.poller = NewPoller(opts.API, opts.Clock, opts.Config.PollInterval, c.logger.With("component", "poller"))
	c.active.Store(true)
	return c, nil
}

// Run processes messages until ctx ends or Close is called.
func (c *Controller) Run(ctx context.Context) error {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return nil
		case m := <-c.inbox:
			if !c.active.Load() {
				return nil
			}
			c.apply(m)
		}
	}
}

func (c *Controller) apply(m Msg) {
	c.mu.Lock()
	prev := c.state
	next, effects := Reduce(prev, m, c.opts.Config)
	c.state = next
	c.mu.Unlock()

	if next.Step != prev.Step {
		c.logger.Debug("step", "from", prev.Step, "to", next.Step)
	}
	c.publish(next)
	for _, e := range effects {
		c.perform(e)
	}
}

// publish keeps only the latest state in the updates channel.
func (c *Controller) publish(s State) {
	select {
	case c.updates <- s:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- s:
	default:
	}
}

// post delivers m to the loop unless the session has ended.
func (c *Controller) post(m Msg) {
	if !c.active.Load() {
		return
	}
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
	}
}

func (c *Controller) perform(e Effect) {
	switch e := e.(type) {
	case FetchStatus:
		go func() {
			st, err := c.opts.API.Status(c.ctx, c.code)
			c.post(StatusLoaded{Status: st, Err: err})
		}()
	case VerifyPassword:
		go func() {
			ok, err := c.opts.API.VerifyPassword(c.ctx, c.code, e.Password)
			c.post(PasswordVerified{Valid: ok, Err: err})
		}()
	case TriggerReveal:
		go func() {
			resp, err := c.opts.API.Reveal(c.ctx, c.code)
			c.post(RevealTriggered{Resp: resp, Err: err})
		}()
	case Connect:
		c.connect()
	case StartPolling:
		if c.poller.Start(c.ctx, c.code, c.post) {
			c.logger.Info("realtime unavailable, polling status")
		}
	case StopPolling:
		c.poller.Stop()
	case ScheduleTick:
		c.after(e.After, countdownTick{timers: e.timers})
	case ScheduleOpeningDone:
		c.after(e.After, openingDone{timers: e.timers})
	case PlayCountdown:
		if c.opts.Player != nil {
			c.opts.Player.Play(audio.Countdown, e.URL, e.Duration)
		}
	case PlayCelebration:
		if c.opts.Player != nil {
			c.opts.Player.Play(audio.Celebration, e.URL, celebrationMaxPlay)
		}
	case Celebrate:
		if c.opts.OnCelebrate != nil {
			c.opts.OnCelebrate(e)
		}
	}
}

func (c *Controller) after(d time.Duration, m Msg) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	if !c.active.Load() {
		return
	}
	c.timers = append(c.timers, c.clock.AfterFunc(d, func() {
		if c.active.Load() {
			c.post(m)
		}
	}))
}

// connect opens the realtime channel at most once per session.
func (c *Controller) connect() {
	c.resMu.Lock()
	if c.dialed {
		c.resMu.Unlock()
		return
	}
	c.dialed = true
	c.resMu.Unlock()

	if c.opts.Dial == nil {
		c.post(RealtimeFailed{Err: errors.New("realtime disabled")})
		return
	}
	go func() {
		ch, err := c.opts.Dial(c.ctx, c.code)
		if err != nil {
			c.logger.Debug("realtime connect failed", "error", err)
			c.post(RealtimeFailed{Err: err})
			return
		}
		c.resMu.Lock()
		if !c.active.Load() {
			c.resMu.Unlock()
			ch.Close()
			return
		}
		c.channel = ch
		c.resMu.Unlock()

		if c.opts.Hearts != nil {
			c.opts.Hearts.SetEmitter(ch.SendHeart)
		}
		c.post(RealtimeConnected{})
		c.pump(ch)
	}()
}

func (c *Controller) pump(ch Channel) {
	for ev := range ch.Events() {
		if !c.active.Load() {
			return
		}
		switch ev.Type {
		case protocol.ViewerCount:
			c.post(ViewerCountChanged{Count: ev.ViewerCount})
		case protocol.RevealStarted:
			c.post(RevealStarted{
				Gender:          model.Gender(ev.RevealStarted.Gender),
				RevealStartedAt: ev.RevealStarted.RevealStartedAt,
				ServerTime:      ev.RevealStarted.ServerTime,
			})
		case protocol.HeartReceived:
			if c.opts.Hearts != nil {
				c.opts.Hearts.Receive()
			}
		case realtime.Disconnected:
			if c.opts.Hearts != nil {
				c.opts.Hearts.SetEmitter(nil)
			}
			c.post(RealtimeFailed{Err: ev.Err})
		}
	}
}

// CheckStatus runs or retries the status query.
func (c *Controller) CheckStatus() { c.post(CheckStatus{}) }

func (c *Controller) SubmitPassword(password string) { c.post(SubmitPassword{Password: password}) }

// StartReveal triggers the reveal if this client may; otherwise it does
// nothing.
func (c *Controller) StartReveal() { c.post(StartReveal{}) }

// SendHeart reports whether the heart was accepted by the cooldown.
func (c *Controller) SendHeart() bool {
	if c.opts.Hearts == nil || !c.active.Load() {
		return false
	}
	return c.opts.Hearts.Send()
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Updates delivers the latest state after each change. Intermediate states
// may be skipped by a slow reader.
func (c *Controller) Updates() <-chan State {
	return c.updates
}

// Close ends the session: pending timers, requests, polling, audio and the
// realtime channel are all stopped, and no later callback changes state.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.active.Store(false)
		c.cancel()

		c.resMu.Lock()
		for _, t := range c.timers {
			t.Stop()
		}
		c.timers = nil
		ch := c.channel
		c.channel = nil
		c.resMu.Unlock()

		c.poller.Stop()
		if c.opts.Player != nil {
			c.opts.Player.Close()
		}
		if c.opts.Hearts != nil {
			c.opts.Hearts.Close()
		}
		if ch != nil {
			if err := ch.Close(); err != nil {
				c.logger.Debug("close realtime", "error", err)
			}
		}
	})
	return nil
}
