package reveal

import (
	"errors"
	"time"
)

const (
	DefaultOpeningDelay   = 1200 * time.Millisecond
	DefaultLateJoinWindow = 2 * time.Second
	DefaultPollInterval   = time.Second
	DefaultCountdown      = 5
)

// Config tunes the controller. It is passed to Reduce on every message, so
// a change takes effect on the next input.
type Config struct {
	// OpeningDelay is how long the opening animation runs before the reveal.
	OpeningDelay time.Duration
	// LateJoinWindow is how long after the countdown a late joiner still
	// lands in the opening phase rather than the reveal.
	LateJoinWindow time.Duration
	// DefaultCountdown applies when preferences carry no countdown duration.
	DefaultCountdown int
	PollInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		OpeningDelay:     DefaultOpeningDelay,
		LateJoinWindow:   DefaultLateJoinWindow,
		DefaultCountdown: DefaultCountdown,
		PollInterval:     DefaultPollInterval,
	}
}

func (c Config) Validate() error {
	if c.OpeningDelay <= 0 {
		return errors.New("opening delay must be positive")
	}
	if c.LateJoinWindow <= c.OpeningDelay {
		return errors.New("late join window must exceed the opening delay")
	}
	if c.DefaultCountdown <= 0 {
		return errors.New("default countdown must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}
