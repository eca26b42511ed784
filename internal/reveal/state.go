// Package reveal runs the client side of a synchronized reveal: it decides
// which step a viewer is in and drives countdown, opening and reveal timers
// from the server's reveal timestamp.
package reveal

import (
	"time"

	"github.com/dukerupert/revealparty/internal/model"
)

// Step is a controller state. Reveal and Error are terminal; NotReady and
// Password recover through CheckStatus.
type Step string

const (
	StepLoading   Step = "loading"
	StepPassword  Step = "password"
	StepNotReady  Step = "not-ready"
	StepReady     Step = "ready"
	StepCountdown Step = "countdown"
	StepOpening   Step = "opening"
	StepReveal    Step = "reveal"
	StepError     Step = "error"
)

// Started reports whether the step is past the trigger.
func (s Step) Started() bool {
	return s == StepCountdown || s == StepOpening || s == StepReveal
}

type State struct {
	Code            string
	Step            Step
	Err             string
	IsHost          bool
	Gender          model.Gender
	RevealStartedAt *time.Time
	Preferences     model.Preferences
	// Remaining is the countdown digit on screen.
	Remaining   int
	ViewerCount int
	// Pending is set while a status, password or reveal request is in flight.
	Pending bool
	// Replay marks a reveal entered after the fact; the celebration replays
	// without countdown audio.
	Replay    bool
	Connected bool
	// RealtimeDown is set when the channel fails or drops. The channel is
	// never redialed, so only polling can follow.
	RealtimeDown bool
	Polling      bool
	// timers tags scheduled ticks so a stale one is ignored.
	timers uint64
}

func NewState(code string) State {
	return State{Code: code, Step: StepLoading, Preferences: model.DefaultPreferences()}
}

// Synced reports whether viewers follow the host's trigger.
func (s State) Synced() bool {
	return s.Preferences.SyncedReveal
}

// CanStart reports whether this client may trigger the reveal now.
func (s State) CanStart() bool {
	if s.Step != StepReady || s.Pending {
		return false
	}
	return !s.Synced() || s.IsHost
}

func (s State) countdown(cfg Config) int {
	if s.Preferences.CountdownDuration > 0 {
		return s.Preferences.CountdownDuration
	}
	return cfg.DefaultCountdown
}
