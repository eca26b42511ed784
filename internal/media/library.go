// Package media stores the custom countdown and celebration sounds a host
// uploads. Clips live inline in SQLite unless an S3 bucket is configured.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/revealparty/internal/model"
	"github.com/dukerupert/revealparty/internal/store"
)

const MaxAudioBytes = 5 * 1024 * 1024

const (
	backendDB = "db"
	backendS3 = "s3"
)

var (
	ErrTooLarge   = errors.New("audio file too large (max 5MB)")
	ErrNotAudio   = errors.New("file is not an audio file")
	ErrEmptyAudio = errors.New("audio data is required")
)

type Library struct {
	clips  *store.AudioStore
	s3     *S3Store
	logger *slog.Logger
}

// NewLibrary returns a library backed by clips. s3 may be nil.
func NewLibrary(clips *store.AudioStore, s3 *S3Store, logger *slog.Logger) *Library {
	return &Library{clips: clips, s3: s3, logger: logger}
}

// DecodeUpload accepts raw base64 or a data: URL and returns the bytes.
func DecodeUpload(audioData string) ([]byte, error) {
	audioData = strings.TrimSpace(audioData)
	if audioData == "" {
		return nil, ErrEmptyAudio
	}
	if strings.HasPrefix(audioData, "data:") {
		i := strings.Index(audioData, ",")
		if i < 0 {
			return nil, errors.New("malformed data URL")
		}
		audioData = audioData[i+1:]
	}
	if base64.StdEncoding.DecodedLen(len(audioData)) > MaxAudioBytes+3 {
		return nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(audioData)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(data) > MaxAudioBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

var audioExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".webm": "audio/webm",
}

// contentType sniffs data and falls back to the file extension.
func contentType(fileName string, data []byte) (string, error) {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "audio/") || ct == "application/ogg" {
		return ct, nil
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if byExt := mime.TypeByExtension(ext); strings.HasPrefix(byExt, "audio/") {
		return byExt, nil
	}
	if byExt, ok := audioExtensions[ext]; ok {
		return byExt, nil
	}
	return "", ErrNotAudio
}

func (l *Library) Save(ctx context.Context, userID int64, kind model.AudioKind, fileName string, data []byte) (*model.AudioClip, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(data) > MaxAudioBytes {
		return nil, ErrTooLarge
	}
	ct, err := contentType(fileName, data)
	if err != nil {
		return nil, err
	}

	previous, err := l.clips.Get(userID, kind)
	if err != nil {
		return nil, err
	}

	clip := model.AudioClip{
		UserID:      userID,
		Kind:        kind,
		FileName:    filepath.Base(fileName),
		ContentType: ct,
		SizeBytes:   int64(len(data)),
		Backend:     backendDB,
	}
	inline := data
	if l.s3 != nil {
		clip.Backend = backendS3
		clip.ObjectKey = fmt.Sprintf("audio/%d/%s-%s", userID, kind, uuid.NewString())
		if err := l.s3.Put(ctx, clip.ObjectKey, ct, data); err != nil {
			return nil, err
		}
		inline = nil
	}

	saved, err := l.clips.Put(clip, inline)
	if err != nil {
		l.deleteObject(ctx, &clip)
		return nil, err
	}
	if previous != nil {
		l.deleteObject(ctx, previous)
	}
	return saved, nil
}

// Open returns the clip bytes. The caller closes the reader.
func (l *Library) Open(ctx context.Context, clip *model.AudioClip) (io.ReadCloser, error) {
	if clip.Backend == backendS3 {
		if l.s3 == nil {
			return nil, errors.New("clip stored in s3 but s3 is not configured")
		}
		return l.s3.Get(ctx, clip.ObjectKey)
	}
	data, err := l.clips.Data(clip.ID)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (l *Library) Get(userID int64, kind model.AudioKind) (*model.AudioClip, error) {
	return l.clips.Get(userID, kind)
}

func (l *Library) Remove(ctx context.Context, userID int64, kind model.AudioKind) error {
	clip, err := l.clips.Get(userID, kind)
	if err != nil || clip == nil {
		return err
	}
	if err := l.clips.Delete(userID, kind); err != nil {
		return err
	}
	l.deleteObject(ctx, clip)
	return nil
}

// References builds the customAudio map exposed in preferences.
func (l *Library) References(userID int64, revealCode string) (map[model.AudioKind]*model.AudioRef, error) {
	clips, err := l.clips.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, nil
	}
	refs := make(map[model.AudioKind]*model.AudioRef, len(clips))
	for _, c := range clips {
		refs[c.Kind] = &model.AudioRef{
			FileName: c.FileName,
			Size:     c.SizeBytes,
			URL:      fmt.Sprintf("/api/audio/%s/%s", revealCode, c.Kind),
		}
	}
	return refs, nil
}

func (l *Library) deleteObject(ctx context.Context, clip *model.AudioClip) {
	if clip.Backend != backendS3 || l.s3 == nil || clip.ObjectKey == "" {
		return
	}
	if err := l.s3.Delete(ctx, clip.ObjectKey); err != nil {
		l.logger.Warn("delete old audio object", "key", clip.ObjectKey, "error", err)
	}
}
