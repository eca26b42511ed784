package reveal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/revealparty/internal/model"
	"github.com/dukerupert/revealparty/internal/revealapi"
)

var t0 = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

func syncedPrefs() model.Preferences {
	p := model.DefaultPreferences()
	p.SyncedReveal = true
	return p
}

func readyStatus(prefs model.Preferences, host bool) *model.StatusResponse {
	return &model.StatusResponse{
		IsSet:       true,
		IsHost:      host,
		ServerTime:  t0,
		ViewerCount: 2,
		Preferences: prefs,
	}
}

// load runs CheckStatus and feeds st back.
func load(t *testing.T, st *model.StatusResponse) (State, []Effect) {
	t.Helper()
	cfg := DefaultConfig()
	s, effects := Reduce(NewState("code"), CheckStatus{}, cfg)
	require.Equal(t, []Effect{FetchStatus{}}, effects)
	require.True(t, s.Pending)
	return Reduce(s, StatusLoaded{Status: st}, cfg)
}

func has[T Effect](effects []Effect) (T, bool) {
	for _, e := range effects {
		if v, ok := e.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func TestStatusBranches(t *testing.T) {
	t.Run("doctor link", func(t *testing.T) {
		st := readyStatus(syncedPrefs(), false)
		st.IsDoctor = true
		s, effects := load(t, st)
		assert.Equal(t, StepError, s.Step)
		assert.Equal(t, MsgWrongLink, s.Err)
		assert.Empty(t, effects)
	})

	t.Run("doctor link even when revealed", func(t *testing.T) {
		st := readyStatus(syncedPrefs(), false)
		st.IsDoctor = true
		started := t0.Add(-time.Second)
		st.RevealStartedAt = &started
		st.Gender = model.GenderBoy
		s, _ := load(t, st)
		assert.Equal(t, StepError, s.Step)
		assert.Equal(t, MsgWrongLink, s.Err)
	})

	t.Run("not set", func(t *testing.T) {
		st := readyStatus(syncedPrefs(), false)
		st.IsSet = false
		s, _ := load(t, st)
		assert.Equal(t, StepNotReady, s.Step)
	})

	t.Run("password", func(t *testing.T) {
		st := readyStatus(syncedPrefs(), false)
		st.PasswordRequired = true
		s, effects := load(t, st)
		assert.Equal(t, StepPassword, s.Step)
		assert.Empty(t, effects)
	})

	t.Run("ready synced connects", func(t *testing.T) {
		s, effects := load(t, readyStatus(syncedPrefs(), false))
		assert.Equal(t, StepReady, s.Step)
		assert.Equal(t, 2, s.ViewerCount)
		assert.Equal(t, []Effect{Connect{}}, effects)
	})

	t.Run("ready unsynced stays offline", func(t *testing.T) {
		s, effects := load(t, readyStatus(model.DefaultPreferences(), false))
		assert.Equal(t, StepReady, s.Step)
		assert.Empty(t, effects)
	})

	t.Run("fetch error", func(t *testing.T) {
		s, _ := Reduce(NewState("code"), CheckStatus{}, DefaultConfig())
		s, _ = Reduce(s, StatusLoaded{Err: &revealapi.APIError{Status: 404, Message: "Reveal not found"}}, DefaultConfig())
		assert.Equal(t, StepError, s.Step)
		assert.Equal(t, "Reveal not found", s.Err)
		assert.False(t, s.Pending)

		s, effects := Reduce(s, CheckStatus{}, DefaultConfig())
		assert.Equal(t, StepLoading, s.Step, "error is retriable")
		assert.Equal(t, []Effect{FetchStatus{}}, effects)
	})

	t.Run("network error", func(t *testing.T) {
		s, _ := Reduce(NewState("code"), CheckStatus{}, DefaultConfig())
		s, _ = Reduce(s, StatusLoaded{Err: errors.New("dial tcp: refused")}, DefaultConfig())
		assert.Equal(t, MsgGeneric, s.Err)
	})
}

func TestLateJoinLandsInCorrectPhase(t *testing.T) {
	tests := []struct {
		name      string
		elapsed   time.Duration
		step      Step
		remaining int
	}{
		{"early countdown", 200 * time.Millisecond, StepCountdown, 5},
		{"mid countdown", 3200 * time.Millisecond, StepCountdown, 2},
		{"opening", 5500 * time.Millisecond, StepOpening, 0},
		{"past", 8 * time.Second, StepReveal, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := readyStatus(syncedPrefs(), false)
			started := t0.Add(-tt.elapsed)
			st.RevealStartedAt = &started
			st.Gender = model.GenderGirl

			s, effects := load(t, st)
			assert.Equal(t, tt.step, s.Step)
			assert.Equal(t, tt.remaining, s.Remaining)
			assert.Equal(t, model.GenderGirl, s.Gender)
			_, connects := has[Connect](effects)
			assert.True(t, connects)

			_, countdownAudio := has[PlayCountdown](effects)
			assert.Equal(t, tt.step == StepCountdown, countdownAudio)
			if tt.step == StepReveal {
				c, ok := has[Celebrate](effects)
				require.True(t, ok)
				assert.True(t, c.Replay)
				assert.True(t, s.Replay)
			}
		})
	}
}

func TestLateJoinUsesServerClockOnly(t *testing.T) {
	// A client clock far off does not matter: only the two server times count.
	st := readyStatus(syncedPrefs(), false)
	started := t0.Add(-3200 * time.Millisecond)
	st.RevealStartedAt = &started
	st.ServerTime = t0
	st.Gender = model.GenderBoy

	s, effects := load(t, st)
	require.Equal(t, StepCountdown, s.Step)
	tick, ok := has[ScheduleTick](effects)
	require.True(t, ok)
	assert.Equal(t, 800*time.Millisecond, tick.After)
	audio, ok := has[PlayCountdown](effects)
	require.True(t, ok)
	assert.Equal(t, 1800*time.Millisecond, audio.Duration)
}

func TestRevealStartedWithheldGenderGoesToPassword(t *testing.T) {
	st := readyStatus(syncedPrefs(), false)
	started := t0
	st.RevealStartedAt = &started
	st.PasswordRequired = true
	s, _ := load(t, st)
	assert.Equal(t, StepPassword, s.Step)
}

func TestCountdownRunsToReveal(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := load(t, readyStatus(syncedPrefs(), false))

	s, effects := Reduce(s, RevealStarted{Gender: model.GenderBoy, RevealStartedAt: t0, ServerTime: t0}, cfg)
	require.Equal(t, StepCountdown, s.Step)
	require.Equal(t, 5, s.Remaining)
	tick, _ := has[ScheduleTick](effects)
	assert.Equal(t, time.Second, tick.After)

	for want := 4; want >= 1; want-- {
		s, effects = Reduce(s, countdownTick{timers: s.timers}, cfg)
		assert.Equal(t, want, s.Remaining)
		_, ok := has[ScheduleTick](effects)
		assert.True(t, ok)
	}

	s, effects = Reduce(s, countdownTick{timers: s.timers}, cfg)
	require.Equal(t, StepOpening, s.Step)
	done, ok := has[ScheduleOpeningDone](effects)
	require.True(t, ok)
	assert.Equal(t, cfg.OpeningDelay, done.After)
	_, ok = has[PlayCelebration](effects)
	assert.True(t, ok)

	s, effects = Reduce(s, openingDone{timers: s.timers}, cfg)
	assert.Equal(t, StepReveal, s.Step)
	c, ok := has[Celebrate](effects)
	require.True(t, ok)
	assert.False(t, c.Replay)
	assert.Equal(t, model.GenderBoy, c.Gender)
}

func TestRevealStartedIsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := load(t, readyStatus(syncedPrefs(), false))
	ev := RevealStarted{Gender: model.GenderGirl, RevealStartedAt: t0, ServerTime: t0.Add(time.Second)}

	s, first := Reduce(s, ev, cfg)
	require.Equal(t, StepCountdown, s.Step)
	require.NotEmpty(t, first)

	again, effects := Reduce(s, ev, cfg)
	assert.Equal(t, s, again)
	assert.Empty(t, effects, "no timers or audio restarted")

	// A later poll of the same reveal while opening is also a no-op.
	opening, _ := Reduce(s, RevealStarted{Gender: model.GenderGirl, RevealStartedAt: t0, ServerTime: t0.Add(6 * time.Second)}, cfg)
	assert.Equal(t, StepCountdown, opening.Step, "never regresses or jumps")
}

func TestStaleTimersIgnored(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := load(t, readyStatus(syncedPrefs(), false))
	s, _ = Reduce(s, RevealStarted{Gender: model.GenderGirl, RevealStartedAt: t0, ServerTime: t0}, cfg)

	stale, effects := Reduce(s, countdownTick{timers: s.timers - 1}, cfg)
	assert.Equal(t, s, stale)
	assert.Empty(t, effects)

	stale, _ = Reduce(s, openingDone{timers: s.timers}, cfg)
	assert.Equal(t, StepCountdown, stale.Step, "opening timer ignored during countdown")
}

func TestGuestCannotStartSyncedReveal(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := load(t, readyStatus(syncedPrefs(), false))
	assert.False(t, s.CanStart())

	next, effects := Reduce(s, StartReveal{}, cfg)
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestHostStartReveal(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := load(t, readyStatus(syncedPrefs(), true))
	require.True(t, s.CanStart())

	s, effects := Reduce(s, StartReveal{}, cfg)
	assert.Equal(t, []Effect{TriggerReveal{}}, effects)
	assert.True(t, s.Pending)

	again, effects := Reduce(s, StartReveal{}, cfg)
	assert.Empty(t, effects, "double submission guarded")
	assert.Equal(t, s, again)

	started := t0
	s, effects = Reduce(s, RevealTriggered{Resp: &model.RevealResponse{
		Gender: model.GenderBoy, RevealStartedAt: &started, ServerTime: t0,
	}}, cfg)
	assert.Equal(t, StepCountdown, s.Step)
	assert.Equal(t, 5, s.Remaining)
	assert.False(t, s.Pending)
	_, ok := has[PlayCountdown](effects)
	assert.True(t, ok)

	// The broadcast of the same reveal arrives afterwards.
	after, effects := Reduce(s, RevealStarted{Gender: model.GenderBoy, RevealStartedAt: t0, ServerTime: t0}, cfg)
	assert.Equal(t, s, after)
	assert.Empty(t, effects)
}

func TestHostTriggerResponseAfterBroadcast(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := load(t, readyStatus(syncedPrefs(), true))
	s, _ = Reduce(s, StartReveal{}, cfg)
	s, _ = Reduce(s, RevealStarted{Gender: model.GenderBoy, RevealStartedAt: t0, ServerTime: t0}, cfg)
	require.Equal(t, StepCountdown, s.Step)
	require.False(t, s.Pending)

	started := t0
	after, effects := Reduce(s, RevealTriggered{Resp: &model.RevealResponse{Gender: model.GenderBoy, RevealStartedAt: &started, ServerTime: t0}}, cfg)
	assert.Equal(t, s, after)
	assert.Empty(t, effects)
}

func TestStartRevealFailure(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := load(t, readyStatus(syncedPrefs(), true))
	s, _ = Reduce(s, StartReveal{}, cfg)
	s, _ = Reduce(s, RevealTriggered{Err: &revealapi.APIError{Status: 409, Message: "Gender not set yet"}}, cfg)
	assert.Equal(t, StepError, s.Step)
	assert.Equal(t, "Gender not set yet", s.Err)
}

func TestUnsyncedRevealIsLocal(t *testing.T) {
	cfg := DefaultConfig()
	prefs := model.DefaultPreferences()
	prefs.CountdownDuration = 3
	s, _ := load(t, readyStatus(prefs, false))
	require.True(t, s.CanStart(), "any viewer triggers an unsynced reveal")

	s, _ = Reduce(s, StartReveal{}, cfg)
	// Someone else revealed long ago; this viewer still gets a full countdown.
	long := t0.Add(-time.Hour)
	s, _ = Reduce(s, RevealTriggered{Resp: &model.RevealResponse{Gender: model.GenderGirl, RevealStartedAt: &long, ServerTime: t0}}, cfg)
	assert.Equal(t, StepCountdown, s.Step)
	assert.Equal(t, 3, s.Remaining)

	// Broadcasts never drive an unsynced reveal.
	s2, _ := load(t, readyStatus(prefs, false))
	after, effects := Reduce(s2, RevealStarted{Gender: model.GenderGirl, RevealStartedAt: t0, ServerTime: t0}, cfg)
	assert.Equal(t, StepReady, after.Step)
	assert.Empty(t, effects)
}

func TestPasswordFlow(t *testing.T) {
	cfg := DefaultConfig()
	st := readyStatus(syncedPrefs(), false)
	st.PasswordRequired = true
	s, _ := load(t, st)

	s, effects := Reduce(s, SubmitPassword{Password: "pie"}, cfg)
	assert.Equal(t, []Effect{VerifyPassword{Password: "pie"}}, effects)
	s, _ = Reduce(s, PasswordVerified{Valid: false}, cfg)
	assert.Equal(t, StepPassword, s.Step)
	assert.Equal(t, MsgWrongPassword, s.Err)

	s, _ = Reduce(s, SubmitPassword{Password: "cake"}, cfg)
	s, effects = Reduce(s, PasswordVerified{Valid: true}, cfg)
	assert.Equal(t, StepLoading, s.Step)
	assert.Equal(t, []Effect{FetchStatus{}}, effects)

	s, effects = Reduce(s, StatusLoaded{Status: readyStatus(syncedPrefs(), false)}, cfg)
	assert.Equal(t, StepReady, s.Step)
	assert.Equal(t, []Effect{Connect{}}, effects)
}

func TestRealtimeFailureStartsPollingOnce(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := load(t, readyStatus(syncedPrefs(), false))

	s, effects := Reduce(s, RealtimeFailed{Err: errors.New("refused")}, cfg)
	assert.Equal(t, []Effect{StartPolling{}}, effects)
	assert.True(t, s.Polling)

	s, effects = Reduce(s, RealtimeFailed{Err: errors.New("again")}, cfg)
	assert.Empty(t, effects)

	s, effects = Reduce(s, RevealStarted{Gender: model.GenderBoy, RevealStartedAt: t0, ServerTime: t0}, cfg)
	_, stopped := has[StopPolling](effects)
	assert.True(t, stopped)
	assert.False(t, s.Polling)
}

func TestRealtimeFailureWhileReloadingStillPolls(t *testing.T) {
	cfg := DefaultConfig()
	status := readyStatus(syncedPrefs(), false)
	s, _ := load(t, status)

	s, effects := Reduce(s, CheckStatus{}, cfg)
	require.Equal(t, StepLoading, s.Step)
	require.Equal(t, []Effect{FetchStatus{}}, effects)

	s, effects = Reduce(s, RealtimeFailed{Err: errors.New("refused")}, cfg)
	assert.Empty(t, effects, "no poller outside ready")
	assert.True(t, s.RealtimeDown)
	assert.False(t, s.Polling)

	s, effects = Reduce(s, StatusLoaded{Status: status}, cfg)
	assert.Equal(t, StepReady, s.Step)
	assert.Equal(t, []Effect{StartPolling{}}, effects)
	assert.True(t, s.Polling)

	s, _ = Reduce(s, CheckStatus{}, cfg)
	_, effects = Reduce(s, StatusLoaded{Status: status}, cfg)
	assert.Empty(t, effects, "poller already running")
}

func TestRealtimeConnectedClearsDown(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := load(t, readyStatus(syncedPrefs(), false))
	s, _ = Reduce(s, RealtimeFailed{Err: errors.New("dropped")}, cfg)
	require.True(t, s.RealtimeDown)

	s, _ = Reduce(s, RealtimeConnected{}, cfg)
	assert.False(t, s.RealtimeDown)
	assert.True(t, s.Connected)
}

func TestSoundDisabledSkipsAudio(t *testing.T) {
	cfg := DefaultConfig()
	prefs := syncedPrefs()
	prefs.SoundEnabled = false
	prefs.CustomAudio = map[model.AudioKind]*model.AudioRef{
		model.AudioCountdown: {URL: "/api/audio/code/countdown"},
	}
	s, _ := load(t, readyStatus(prefs, false))
	_, effects := Reduce(s, RevealStarted{Gender: model.GenderBoy, RevealStartedAt: t0, ServerTime: t0}, cfg)
	_, ok := has[PlayCountdown](effects)
	assert.False(t, ok)
}

func TestCustomAudioURLPassedThrough(t *testing.T) {
	cfg := DefaultConfig()
	prefs := syncedPrefs()
	prefs.CustomAudio = map[model.AudioKind]*model.AudioRef{
		model.AudioCountdown: {URL: "/api/audio/code/countdown"},
	}
	s, _ := load(t, readyStatus(prefs, false))
	_, effects := Reduce(s, RevealStarted{Gender: model.GenderBoy, RevealStartedAt: t0, ServerTime: t0}, cfg)
	play, ok := has[PlayCountdown](effects)
	require.True(t, ok)
	assert.Equal(t, "/api/audio/code/countdown", play.URL)
	assert.Equal(t, 5*time.Second, play.Duration)
}
