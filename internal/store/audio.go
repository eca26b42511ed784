package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/revealparty/internal/model"
)

type AudioStore struct {
	db *sql.DB
}

func NewAudioStore(db *sql.DB) *AudioStore {
	return &AudioStore{db: db}
}

func scanClip(scanner interface{ Scan(...any) error }) (*model.AudioClip, error) {
	var (
		c         model.AudioClip
		objectKey sql.NullString
	)
	err := scanner.Scan(&c.ID, &c.UserID, &c.Kind, &c.FileName, &c.ContentType, &c.SizeBytes, &c.Backend, &objectKey, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.ObjectKey = objectKey.String
	return &c, nil
}

const clipCols = `id, user_id, kind, file_name, content_type, size_bytes, backend, object_key, created_at`

// Put replaces the clip of the given kind. data is stored inline for the
// "db" backend and must be nil otherwise.
func (s *AudioStore) Put(clip model.AudioClip, data []byte) (*model.AudioClip, error) {
	var objectKey any
	if clip.ObjectKey != "" {
		objectKey = clip.ObjectKey
	}
	_, err := s.db.Exec(
		`INSERT INTO audio_clips (user_id, kind, file_name, content_type, size_bytes, backend, data, object_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, kind) DO UPDATE SET
		   file_name = excluded.file_name, content_type = excluded.content_type,
		   size_bytes = excluded.size_bytes, backend = excluded.backend,
		   data = excluded.data, object_key = excluded.object_key, created_at = excluded.created_at`,
		clip.UserID, clip.Kind, clip.FileName, clip.ContentType, clip.SizeBytes, clip.Backend, data, objectKey, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("put audio clip: %w", err)
	}
	return s.Get(clip.UserID, clip.Kind)
}

func (s *AudioStore) Get(userID int64, kind model.AudioKind) (*model.AudioClip, error) {
	row := s.db.QueryRow(`SELECT `+clipCols+` FROM audio_clips WHERE user_id = ? AND kind = ?`, userID, kind)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audio clip: %w", err)
	}
	return c, nil
}

func (s *AudioStore) ListByUser(userID int64) ([]model.AudioClip, error) {
	rows, err := s.db.Query(`SELECT `+clipCols+` FROM audio_clips WHERE user_id = ? ORDER BY kind`, userID)
	if err != nil {
		return nil, fmt.Errorf("list audio clips: %w", err)
	}
	defer rows.Close()

	var clips []model.AudioClip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audio clip: %w", err)
		}
		clips = append(clips, *c)
	}
	return clips, rows.Err()
}

// Data returns the inline bytes of a "db" backend clip.
func (s *AudioStore) Data(id int64) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM audio_clips WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audio data: %w", err)
	}
	return data, nil
}

func (s *AudioStore) Delete(userID int64, kind model.AudioKind) error {
	_, err := s.db.Exec(`DELETE FROM audio_clips WHERE user_id = ? AND kind = ?`, userID, kind)
	if err != nil {
		return fmt.Errorf("delete audio clip: %w", err)
	}
	return nil
}
