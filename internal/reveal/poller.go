package reveal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/revealparty/internal/model"
)

// StatusFetcher is the status call the poller repeats.
type StatusFetcher interface {
	Status(ctx context.Context, code string) (*model.StatusResponse, error)
}

// Poller asks for status on a fixed interval while the realtime channel is
// unavailable. It stops by itself on the first response carrying a reveal
// timestamp.
type Poller struct {
	api      StatusFetcher
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewPoller(api StatusFetcher, clock clockwork.Clock, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{api: api, clock: clock, interval: interval, logger: logger}
}

// Start begins polling code, delivering results through post. It returns
// false if the poller is already running.
func (p *Poller) Start(ctx context.Context, code string, post func(Msg)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.loop(ctx, cancel, code, post)
	return true
}

// Stop cancels polling. It does not wait for an in-flight request; a result
// that lands afterwards is harmless because reveal handling is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, cancel context.CancelFunc, code string, post func(Msg)) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	defer func() {
		p.mu.Lock()
		// Only clear our own registration; Stop and Start may have replaced it.
		if ctx.Err() == nil {
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		st, err := p.api.Status(ctx, code)
		if err != nil {
			p.logger.Debug("poll status", "code", code, "error", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		post(ViewerCountChanged{Count: st.ViewerCount})
		if st.RevealStartedAt != nil {
			post(RevealStarted{
				Gender:          st.Gender,
				RevealStartedAt: *st.RevealStartedAt,
				ServerTime:      st.ServerTime,
			})
			post(PollerStopped{})
			return
		}
	}
}
