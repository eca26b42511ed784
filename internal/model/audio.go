package model

import (
	"fmt"
	"time"
)

type AudioKind string

const (
	AudioCountdown   AudioKind = "countdown"
	AudioCelebration AudioKind = "celebration"
)

func ParseAudioKind(s string) (AudioKind, error) {
	switch AudioKind(s) {
	case AudioCountdown, AudioCelebration:
		return AudioKind(s), nil
	}
	return "", fmt.Errorf("invalid audio type %q", s)
}

// AudioClip is the metadata of an uploaded custom sound. The bytes live in
// the clip's backend.
type AudioClip struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"-"`
	Kind        AudioKind `json:"kind"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"size"`
	Backend     string    `json:"-"`
	ObjectKey   string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AudioRef is the read-only reference exposed in preferences.
type AudioRef struct {
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}
