package reveal

import (
	"time"

	"github.com/dukerupert/revealparty/internal/model"
)

// Msg is an input to Reduce.
type Msg interface{ msg() }

// CheckStatus starts or retries the status query.
type CheckStatus struct{}

type StatusLoaded struct {
	Status *model.StatusResponse
	Err    error
}

type SubmitPassword struct{ Password string }

type PasswordVerified struct {
	Valid bool
	Err   error
}

// StartReveal is the host pressing the trigger.
type StartReveal struct{}

type RevealTriggered struct {
	Resp *model.RevealResponse
	Err  error
}

// RevealStarted arrives from the realtime channel or the poller.
type RevealStarted struct {
	Gender          model.Gender
	RevealStartedAt time.Time
	ServerTime      time.Time
}

type ViewerCountChanged struct{ Count int }

type RealtimeConnected struct{}

// RealtimeFailed covers both a failed connect and a dropped connection.
type RealtimeFailed struct{ Err error }

type PollerStopped struct{}

type countdownTick struct{ timers uint64 }

type openingDone struct{ timers uint64 }

func (CheckStatus) msg()        {}
func (StatusLoaded) msg()       {}
func (SubmitPassword) msg()     {}
func (PasswordVerified) msg()   {}
func (StartReveal) msg()        {}
func (RevealTriggered) msg()    {}
func (RevealStarted) msg()      {}
func (ViewerCountChanged) msg() {}
func (RealtimeConnected) msg()  {}
func (RealtimeFailed) msg()     {}
func (PollerStopped) msg()      {}
func (countdownTick) msg()      {}
func (openingDone) msg()        {}

// Effect is work Reduce asks the runtime to perform.
type Effect interface{ effect() }

type FetchStatus struct{}

type VerifyPassword struct{ Password string }

type TriggerReveal struct{}

type Connect struct{}

type StartPolling struct{}

type StopPolling struct{}

// ScheduleTick fires a countdown tick after After.
type ScheduleTick struct {
	After  time.Duration
	timers uint64
}

// ScheduleOpeningDone ends the opening animation after After.
type ScheduleOpeningDone struct {
	After  time.Duration
	timers uint64
}

// PlayCountdown plays the countdown cue, stopping it after Duration.
type PlayCountdown struct {
	URL      string
	Duration time.Duration
}

type PlayCelebration struct{ URL string }

// Celebrate shows the reveal effect. Replay is set for late joiners.
type Celebrate struct {
	Gender model.Gender
	Replay bool
}

func (FetchStatus) effect()         {}
func (VerifyPassword) effect()      {}
func (TriggerReveal) effect()       {}
func (Connect) effect()             {}
func (StartPolling) effect()        {}
func (StopPolling) effect()         {}
func (ScheduleTick) effect()        {}
func (ScheduleOpeningDone) effect() {}
func (PlayCountdown) effect()       {}
func (PlayCelebration) effect()     {}
func (Celebrate) effect()           {}
