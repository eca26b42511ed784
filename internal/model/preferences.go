package model

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	MaxCustomMessageLength = 100
	MaxBabyCount           = 3
	DefaultCountdown       = 5
)

var (
	Themes             = []string{"classic", "purple", "gold", "rainbow"}
	CountdownOptions   = []int{3, 5, 10}
	AnimationIntensity = []string{"low", "medium", "high"}
)

// Preferences configure a reveal. Only SyncedReveal and CountdownDuration
// change synchronization behavior; the rest is presentation.
type Preferences struct {
	Theme              string                  `json:"theme"`
	CountdownDuration  int                     `json:"countdownDuration"`
	AnimationIntensity string                  `json:"animationIntensity"`
	SoundEnabled       bool                    `json:"soundEnabled"`
	CustomMessage      string                  `json:"customMessage"`
	BoyEmoji           string                  `json:"boyEmoji"`
	GirlEmoji          string                  `json:"girlEmoji"`
	SkinTone           string                  `json:"skinTone"`
	BabyCount          int                     `json:"babyCount"`
	SyncedReveal       bool                    `json:"syncedReveal"`
	CustomAudio        map[AudioKind]*AudioRef `json:"customAudio,omitempty"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		Theme:              "classic",
		CountdownDuration:  DefaultCountdown,
		AnimationIntensity: "medium",
		SoundEnabled:       true,
		BoyEmoji:           "👦",
		GirlEmoji:          "👧",
		BabyCount:          1,
	}
}

// WithDefaults fills zero values from DefaultPreferences. Booleans are
// taken as stored.
func (p Preferences) WithDefaults() Preferences {
	d := DefaultPreferences()
	if p.Theme == "" {
		p.Theme = d.Theme
	}
	if p.CountdownDuration == 0 {
		p.CountdownDuration = d.CountdownDuration
	}
	if p.AnimationIntensity == "" {
		p.AnimationIntensity = d.AnimationIntensity
	}
	if p.BoyEmoji == "" {
		p.BoyEmoji = d.BoyEmoji
	}
	if p.GirlEmoji == "" {
		p.GirlEmoji = d.GirlEmoji
	}
	if p.BabyCount == 0 {
		p.BabyCount = d.BabyCount
	}
	return p
}

func (p Preferences) Validate() error {
	if !contains(Themes, p.Theme) {
		return fmt.Errorf("invalid theme %q", p.Theme)
	}
	if !contains(CountdownOptions, p.CountdownDuration) {
		return fmt.Errorf("countdown duration must be one of %v", CountdownOptions)
	}
	if !contains(AnimationIntensity, p.AnimationIntensity) {
		return fmt.Errorf("invalid animation intensity %q", p.AnimationIntensity)
	}
	if utf8.RuneCountInString(p.CustomMessage) > MaxCustomMessageLength {
		return fmt.Errorf("custom message must be at most %d characters", MaxCustomMessageLength)
	}
	if p.BabyCount < 1 || p.BabyCount > MaxBabyCount {
		return fmt.Errorf("baby count must be between 1 and %d", MaxBabyCount)
	}
	if p.BoyEmoji == "" || p.GirlEmoji == "" {
		return errors.New("emoji choices are required")
	}
	return nil
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
