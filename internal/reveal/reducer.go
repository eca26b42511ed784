package reveal

import (
	"errors"
	"time"

	"github.com/dukerupert/revealparty/internal/model"
	"github.com/dukerupert/revealparty/internal/revealapi"
)

const (
	MsgWrongLink     = "This is a doctor link. Use the reveal link to see the reveal."
	MsgGeneric       = "Something went wrong"
	MsgWrongPassword = "Incorrect password"
)

// Reduce applies m to s. It never blocks or touches the outside world; the
// returned effects are for the runtime to carry out.
func Reduce(s State, m Msg, cfg Config) (State, []Effect) {
	switch m := m.(type) {
	case CheckStatus:
		if s.Pending || s.Step.Started() {
			return s, nil
		}
		s.Step = StepLoading
		s.Err = ""
		s.Pending = true
		return s, []Effect{FetchStatus{}}

	case StatusLoaded:
		if s.Step != StepLoading {
			return s, nil
		}
		s.Pending = false
		if m.Err != nil {
			return fail(s, m.Err), nil
		}
		return applyStatus(s, m.Status, cfg)

	case SubmitPassword:
		if s.Step != StepPassword || s.Pending {
			return s, nil
		}
		s.Pending = true
		s.Err = ""
		return s, []Effect{VerifyPassword{Password: m.Password}}

	case PasswordVerified:
		if s.Step != StepPassword {
			return s, nil
		}
		s.Pending = false
		switch {
		case m.Err != nil:
			return fail(s, m.Err), nil
		case !m.Valid:
			s.Err = MsgWrongPassword
			return s, nil
		}
		s.Step = StepLoading
		s.Pending = true
		return s, []Effect{FetchStatus{}}

	case StartReveal:
		if !s.CanStart() {
			return s, nil
		}
		s.Pending = true
		return s, []Effect{TriggerReveal{}}

	case RevealTriggered:
		if s.Step != StepReady {
			// A reveal-started event got here first.
			return s, nil
		}
		s.Pending = false
		if m.Err != nil {
			return fail(s, m.Err), nil
		}
		if !s.Synced() {
			s.Gender = m.Resp.Gender
			return enter(s, Phase(0, s.countdown(cfg), cfg), cfg)
		}
		ev := RevealStarted{Gender: m.Resp.Gender, ServerTime: m.Resp.ServerTime}
		ev.RevealStartedAt = m.Resp.ServerTime
		if m.Resp.RevealStartedAt != nil {
			ev.RevealStartedAt = *m.Resp.RevealStartedAt
		}
		return revealStarted(s, ev, cfg)

	case RevealStarted:
		if !s.Synced() || s.Step != StepReady {
			return s, nil
		}
		return revealStarted(s, m, cfg)

	case ViewerCountChanged:
		s.ViewerCount = m.Count
		return s, nil

	case RealtimeConnected:
		s.Connected = true
		s.RealtimeDown = false
		return s, nil

	case RealtimeFailed:
		s.Connected = false
		s.RealtimeDown = true
		return startPolling(s)

	case PollerStopped:
		s.Polling = false
		return s, nil

	case countdownTick:
		if s.Step != StepCountdown || m.timers != s.timers {
			return s, nil
		}
		s.Remaining--
		if s.Remaining > 0 {
			return s, []Effect{ScheduleTick{After: time.Second, timers: s.timers}}
		}
		return enter(s, PhaseResult{Step: StepOpening, RevealIn: cfg.OpeningDelay}, cfg)

	case openingDone:
		if s.Step != StepOpening || m.timers != s.timers {
			return s, nil
		}
		s.Step = StepReveal
		return s, []Effect{Celebrate{Gender: s.Gender}}
	}
	return s, nil
}

func applyStatus(s State, st *model.StatusResponse, cfg Config) (State, []Effect) {
	s.IsHost = st.IsHost
	s.ViewerCount = st.ViewerCount
	s.Preferences = st.Preferences

	switch {
	case st.IsDoctor:
		s.Step = StepError
		s.Err = MsgWrongLink
		return s, nil
	case !st.IsSet:
		s.Step = StepNotReady
		return s, nil
	case st.RevealStartedAt != nil && s.Synced():
		if st.Gender == "" {
			s.Step = StepPassword
			return s, nil
		}
		s.Step = StepReady
		s, effects := revealStarted(s, RevealStarted{
			Gender:          st.Gender,
			RevealStartedAt: *st.RevealStartedAt,
			ServerTime:      st.ServerTime,
		}, cfg)
		return s, append([]Effect{Connect{}}, effects...)
	case st.PasswordRequired:
		s.Step = StepPassword
		return s, nil
	}

	s.Step = StepReady
	if !s.Synced() {
		return s, nil
	}
	if s.RealtimeDown {
		// The failure may have arrived while this status was loading.
		return startPolling(s)
	}
	return s, []Effect{Connect{}}
}

// startPolling falls back to the poller for a synced reveal waiting in ready.
// It is a no-op when the poller already runs.
func startPolling(s State) (State, []Effect) {
	if !s.Synced() || s.Polling || s.Step != StepReady {
		return s, nil
	}
	s.Polling = true
	return s, []Effect{StartPolling{}}
}

// revealStarted places the client in the phase matching the server's elapsed
// time. Both timestamps come from the server so client clock skew cancels.
func revealStarted(s State, ev RevealStarted, cfg Config) (State, []Effect) {
	if s.Step.Started() {
		return s, nil
	}
	if ev.Gender == "" {
		// Gender withheld: the status check decides whether a password is due.
		s.Step = StepLoading
		s.Pending = true
		return s, []Effect{FetchStatus{}}
	}
	s.Pending = false
	s.Gender = ev.Gender
	at := ev.RevealStartedAt
	s.RevealStartedAt = &at

	var effects []Effect
	if s.Polling {
		s.Polling = false
		effects = append(effects, StopPolling{})
	}
	s, more := enter(s, Phase(ev.ServerTime.Sub(ev.RevealStartedAt), s.countdown(cfg), cfg), cfg)
	return s, append(effects, more...)
}

// enter moves to a started phase and schedules what follows it.
func enter(s State, p PhaseResult, cfg Config) (State, []Effect) {
	s.timers++
	s.Remaining = 0
	sound := s.Preferences.SoundEnabled

	switch p.Step {
	case StepCountdown:
		s.Step = StepCountdown
		s.Remaining = p.Remaining
		effects := []Effect{ScheduleTick{After: p.FirstTick, timers: s.timers}}
		if sound {
			effects = append(effects, PlayCountdown{URL: customAudio(s, model.AudioCountdown), Duration: p.CountdownLeft})
		}
		return s, effects
	case StepOpening:
		s.Step = StepOpening
		effects := []Effect{ScheduleOpeningDone{After: p.RevealIn, timers: s.timers}}
		if sound {
			effects = append(effects, PlayCelebration{URL: customAudio(s, model.AudioCelebration)})
		}
		return s, effects
	default:
		s.Step = StepReveal
		s.Replay = true
		return s, []Effect{Celebrate{Gender: s.Gender, Replay: true}}
	}
}

func customAudio(s State, kind model.AudioKind) string {
	if ref := s.Preferences.CustomAudio[kind]; ref != nil {
		return ref.URL
	}
	return ""
}

func fail(s State, err error) State {
	s.Step = StepError
	s.Pending = false
	s.Err = errorMessage(err)
	return s
}

func errorMessage(err error) string {
	var apiErr *revealapi.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return MsgGeneric
}
