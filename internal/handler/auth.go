package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/revealparty/internal/auth"
	"github.com/dukerupert/revealparty/internal/media"
	"github.com/dukerupert/revealparty/internal/model"
	"github.com/dukerupert/revealparty/internal/store"
)

const (
	minPasswordLength       = 6
	minRevealPasswordLength = 4
	smallBody               = 64 << 10
	audioBody               = 8 << 20
)

// AuthHandler serves the host's account endpoints.
type AuthHandler struct {
	userStore   *store.UserStore
	revealStore *store.RevealStore
	library     *media.Library
	tokens      *auth.Tokens
	logger      *slog.Logger
}

func NewAuthHandler(us *store.UserStore, rs *store.RevealStore, lib *media.Library, tokens *auth.Tokens, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		userStore:   us,
		revealStore: rs,
		library:     lib,
		tokens:      tokens,
		logger:      logger,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, smallBody, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	existing, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("register lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	user, err := h.userStore.Create(req.Email, string(hash))
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}
	h.respondWithToken(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, smallBody, &req) {
		return
	}

	user, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	h.respondWithToken(w, http.StatusOK, user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, user *model.User) {
	token, err := h.tokens.IssueSession(user.ID)
	if err != nil {
		h.logger.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, status, model.AuthResponse{Token: token, User: user})
}

// currentUser loads the authenticated user, writing an error response when
// it cannot.
func (h *AuthHandler) currentUser(w http.ResponseWriter, r *http.Request) *model.User {
	user, err := h.userStore.GetByID(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("load user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return nil
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Account not found")
		return nil
	}
	return user
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AuthHandler) RegenerateCodes(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.RegenerateCodes(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("regenerate codes", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to regenerate codes")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AuthHandler) preferences(user *model.User) (*model.Preferences, error) {
	rec, err := h.revealStore.GetByUserID(user.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("reveal record missing")
	}
	prefs := rec.Preferences
	refs, err := h.library.References(user.ID, user.RevealCode)
	if err != nil {
		return nil, err
	}
	prefs.CustomAudio = refs
	return &prefs, nil
}

func (h *AuthHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	prefs, err := h.preferences(user)
	if err != nil {
		h.logger.Error("get preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

// UpdatePreferences merges the request body over the stored preferences, so
// clients may send only the fields they change.
func (h *AuthHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	prefs, err := h.preferences(user)
	if err != nil {
		h.logger.Error("get preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}
	if !decodeJSON(w, r, smallBody, prefs) {
		return
	}
	if err := prefs.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.revealStore.UpdatePreferences(user.ID, *prefs); err != nil {
		h.logger.Error("update preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}
	h.GetPreferences(w, r)
}

func (h *AuthHandler) GetRevealPassword(w http.ResponseWriter, r *http.Request) {
	rec, err := h.revealStore.GetByUserID(auth.UserID(r.Context()))
	if err != nil || rec == nil {
		writeError(w, http.StatusInternalServerError, "failed to load reveal password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"enabled":     rec.PasswordEnabled,
		"hasPassword": rec.PasswordHash != "",
	})
}

type revealPasswordRequest struct {
	Enabled  bool   `json:"enabled"`
	Password string `json:"password"`
}

func (h *AuthHandler) UpdateRevealPassword(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	var req revealPasswordRequest
	if !decodeJSON(w, r, smallBody, &req) {
		return
	}

	rec, err := h.revealStore.GetByUserID(userID)
	if err != nil || rec == nil {
		writeError(w, http.StatusInternalServerError, "failed to load reveal password")
		return
	}

	var hash string
	if req.Password != "" {
		if len(req.Password) < minRevealPasswordLength {
			writeError(w, http.StatusBadRequest, "Password must be at least 4 characters")
			return
		}
		b, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to set password")
			return
		}
		hash = string(b)
	} else if req.Enabled && rec.PasswordHash == "" {
		writeError(w, http.StatusBadRequest, "Password is required")
		return
	}

	if err := h.revealStore.SetPassword(userID, hash, req.Enabled); err != nil {
		h.logger.Error("set reveal password", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled, "hasPassword": true})
}

type audioUploadRequest struct {
	AudioData string `json:"audioData"`
	FileName  string `json:"fileName"`
}

func (h *AuthHandler) UploadAudio(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseAudioKind(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Audio type must be countdown or celebration")
		return
	}
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	var req audioUploadRequest
	if !decodeJSON(w, r, audioBody, &req) {
		return
	}
	data, err := media.DecodeUpload(req.AudioData)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, media.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}

	clip, err := h.library.Save(r.Context(), user.ID, kind, req.FileName, data)
	switch {
	case errors.Is(err, media.ErrNotAudio), errors.Is(err, media.ErrEmptyAudio):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, media.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		h.logger.Error("save audio", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save audio")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audio": clip})
}

func (h *AuthHandler) DeleteAudio(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseAudioKind(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Audio type must be countdown or celebration")
		return
	}
	if err := h.library.Remove(r.Context(), auth.UserID(r.Context()), kind); err != nil {
		h.logger.Error("delete audio", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete audio")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
