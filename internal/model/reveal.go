package model

import (
	"fmt"
	"time"
)

// Gender is the two-value outcome of a reveal.
type Gender string

const (
	GenderBoy  Gender = "boy"
	GenderGirl Gender = "girl"
)

func ParseGender(s string) (Gender, error) {
	switch Gender(s) {
	case GenderBoy, GenderGirl:
		return Gender(s), nil
	}
	return "", fmt.Errorf("invalid gender %q", s)
}

// LinkKind distinguishes the secret-setting link handed to the doctor from
// the reveal link shared with guests. The two are never interchangeable.
type LinkKind string

const (
	LinkDoctor LinkKind = "doctor"
	LinkReveal LinkKind = "reveal"
)

// RevealRecord is the persisted reveal session owned by a user.
type RevealRecord struct {
	UserID          int64
	DoctorCode      string
	RevealCode      string
	GenderSealed    []byte
	GenderSetAt     *time.Time
	RevealStartedAt *time.Time
	Preferences     Preferences
	PasswordHash    string
	PasswordEnabled bool
	UpdatedAt       time.Time
}

func (r *RevealRecord) IsSet() bool {
	return len(r.GenderSealed) > 0
}

// StatusResponse is the body of GET /api/status/{code}.
type StatusResponse struct {
	IsDoctor         bool        `json:"isDoctor"`
	IsSet            bool        `json:"isSet"`
	IsHost           bool        `json:"isHost"`
	Gender           Gender      `json:"gender,omitempty"`
	RevealStartedAt  *time.Time  `json:"revealStartedAt"`
	ServerTime       time.Time   `json:"serverTime"`
	ViewerCount      int         `json:"viewerCount"`
	PasswordRequired bool        `json:"passwordRequired"`
	Preferences      Preferences `json:"preferences"`
}

// RevealResponse is the body of POST /api/reveal.
type RevealResponse struct {
	Gender          Gender     `json:"gender"`
	RevealStartedAt *time.Time `json:"revealStartedAt,omitempty"`
	ServerTime      time.Time  `json:"serverTime"`
}

// MyStatus is the owner's dashboard view.
type MyStatus struct {
	DoctorCode      string      `json:"doctorCode"`
	RevealCode      string      `json:"revealCode"`
	IsSet           bool        `json:"isSet"`
	IsRevealed      bool        `json:"isRevealed"`
	RevealStartedAt *time.Time  `json:"revealStartedAt"`
	PasswordEnabled bool        `json:"passwordEnabled"`
	Preferences     Preferences `json:"preferences"`
}

type PasswordCheck struct {
	PasswordRequired bool `json:"passwordRequired"`
}

type PasswordVerification struct {
	Valid     bool   `json:"valid"`
	PassToken string `json:"passToken,omitempty"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}
