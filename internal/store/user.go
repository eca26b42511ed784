package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/revealparty/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := scanner.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DoctorCode, &u.RevealCode, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const userCols = `id, email, password_hash, doctor_code, reveal_code, created_at, updated_at`

// Create inserts the user together with an empty reveal record.
func (s *UserStore) Create(email, passwordHash string) (*model.User, error) {
	doctor, reveal, err := generateCodePair()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.Exec(
		`INSERT INTO users (email, password_hash, doctor_code, reveal_code, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		normalizeEmail(email), passwordHash, doctor, reveal, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO reveals (user_id, updated_at) VALUES (?, ?)`, id, now); err != nil {
		return nil, fmt.Errorf("insert reveal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, normalizeEmail(email))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// RegenerateCodes issues a fresh doctor/reveal code pair. Old links stop working.
func (s *UserStore) RegenerateCodes(id int64) (*model.User, error) {
	doctor, reveal, err := generateCodePair()
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`UPDATE users SET doctor_code = ?, reveal_code = ?, updated_at = ? WHERE id = ?`,
		doctor, reveal, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("regenerate codes: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
