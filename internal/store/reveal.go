package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/revealparty/internal/model"
)

var (
	ErrGenderAlreadySet = errors.New("gender already set")
	ErrGenderNotSet     = errors.New("gender not set")
)

type RevealStore struct {
	db *sql.DB
}

func NewRevealStore(db *sql.DB) *RevealStore {
	return &RevealStore{db: db}
}

const revealCols = `r.user_id, u.doctor_code, u.reveal_code, r.gender_sealed, r.gender_set_at,
	r.reveal_started_at, r.preferences, r.password_hash, r.password_enabled, r.updated_at`

func scanReveal(scanner interface{ Scan(...any) error }) (*model.RevealRecord, error) {
	var (
		rec          model.RevealRecord
		genderSetAt  sql.NullTime
		startedAt    sql.NullTime
		prefsJSON    string
		passwordHash sql.NullString
	)
	err := scanner.Scan(&rec.UserID, &rec.DoctorCode, &rec.RevealCode, &rec.GenderSealed, &genderSetAt,
		&startedAt, &prefsJSON, &passwordHash, &rec.PasswordEnabled, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if genderSetAt.Valid {
		t := genderSetAt.Time.UTC()
		rec.GenderSetAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		rec.RevealStartedAt = &t
	}
	rec.PasswordHash = passwordHash.String
	if prefsJSON != "" {
		if err := json.Unmarshal([]byte(prefsJSON), &rec.Preferences); err != nil {
			return nil, fmt.Errorf("decode preferences: %w", err)
		}
	}
	rec.Preferences = rec.Preferences.WithDefaults()
	return &rec, nil
}

// Lookup resolves a link code to its reveal record and reports which kind
// of link the code is. It returns nil when the code is unknown.
func (s *RevealStore) Lookup(code string) (*model.RevealRecord, model.LinkKind, error) {
	if code == "" {
		return nil, "", nil
	}
	row := s.db.QueryRow(
		`SELECT `+revealCols+` FROM reveals r JOIN users u ON u.id = r.user_id
		 WHERE u.doctor_code = ? OR u.reveal_code = ?`,
		code, code,
	)
	rec, err := scanReveal(row)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup code: %w", err)
	}
	if rec.DoctorCode == code {
		return rec, model.LinkDoctor, nil
	}
	return rec, model.LinkReveal, nil
}

func (s *RevealStore) GetByUserID(userID int64) (*model.RevealRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+revealCols+` FROM reveals r JOIN users u ON u.id = r.user_id WHERE r.user_id = ?`,
		userID,
	)
	rec, err := scanReveal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reveal: %w", err)
	}
	return rec, nil
}

// SetGender stores the sealed gender once. Later calls return ErrGenderAlreadySet.
func (s *RevealStore) SetGender(userID int64, sealed []byte) error {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE reveals SET gender_sealed = ?, gender_set_at = ?, updated_at = ?
		 WHERE user_id = ? AND gender_sealed IS NULL`,
		sealed, now, now, userID,
	)
	if err != nil {
		return fmt.Errorf("set gender: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrGenderAlreadySet
	}
	return nil
}

// StartReveal stamps reveal_started_at if it is still unset and returns the
// stored timestamp. first reports whether this call did the stamping; the
// timestamp is never moved once written.
func (s *RevealStore) StartReveal(userID int64, at time.Time) (startedAt time.Time, first bool, err error) {
	result, err := s.db.Exec(
		`UPDATE reveals SET reveal_started_at = ?, updated_at = ?
		 WHERE user_id = ? AND reveal_started_at IS NULL AND gender_sealed IS NOT NULL`,
		at.UTC(), at.UTC(), userID,
	)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("start reveal: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("rows affected: %w", err)
	}

	var stored sql.NullTime
	err = s.db.QueryRow(`SELECT reveal_started_at FROM reveals WHERE user_id = ?`, userID).Scan(&stored)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read reveal start: %w", err)
	}
	if !stored.Valid {
		return time.Time{}, false, ErrGenderNotSet
	}
	return stored.Time.UTC(), n == 1, nil
}

func (s *RevealStore) UpdatePreferences(userID int64, prefs model.Preferences) error {
	prefs.CustomAudio = nil
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE reveals SET preferences = ?, updated_at = ? WHERE user_id = ?`,
		string(data), time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}

// SetPassword updates the reveal password. An empty hash keeps the stored one.
func (s *RevealStore) SetPassword(userID int64, hash string, enabled bool) error {
	_, err := s.db.Exec(
		`UPDATE reveals SET password_hash = COALESCE(NULLIF(?, ''), password_hash),
		 password_enabled = ?, updated_at = ? WHERE user_id = ?`,
		hash, enabled, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("set reveal password: %w", err)
	}
	return nil
}
