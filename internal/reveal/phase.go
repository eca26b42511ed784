package reveal

import "time"

// PhaseResult says where a client belongs given the server-measured time
// since the reveal started.
type PhaseResult struct {
	Step Step
	// Remaining is the first countdown digit to show.
	Remaining int
	// FirstTick is the delay until the displayed digit first decrements.
	FirstTick time.Duration
	// CountdownLeft is the time until the countdown ends.
	CountdownLeft time.Duration
	// RevealIn is the delay from entering opening until the reveal.
	RevealIn time.Duration
}

// Phase places a client that observes the reveal elapsed after it started,
// for a countdown of countdown seconds.
//
//	elapsed < D               countdown at ceil(D - elapsed)
//	D <= elapsed < D+window   opening, reveal after D+delay-elapsed (>= 0)
//	elapsed >= D+window       reveal
func Phase(elapsed time.Duration, countdown int, cfg Config) PhaseResult {
	if elapsed < 0 {
		elapsed = 0
	}
	d := time.Duration(countdown) * time.Second

	switch {
	case elapsed < d:
		left := d - elapsed
		remaining := int((left + time.Second - 1) / time.Second)
		return PhaseResult{
			Step:          StepCountdown,
			Remaining:     remaining,
			FirstTick:     left - time.Duration(remaining-1)*time.Second,
			CountdownLeft: left,
		}
	case elapsed < d+cfg.LateJoinWindow:
		return PhaseResult{
			Step:     StepOpening,
			RevealIn: max(0, d+cfg.OpeningDelay-elapsed),
		}
	default:
		return PhaseResult{Step: StepReveal}
	}
}
