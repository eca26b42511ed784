package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/revealparty/internal/auth"
	"github.com/dukerupert/revealparty/internal/media"
	"github.com/dukerupert/revealparty/internal/model"
	"github.com/dukerupert/revealparty/internal/protocol"
	"github.com/dukerupert/revealparty/internal/secret"
	"github.com/dukerupert/revealparty/internal/store"
)

const (
	msgNotFound       = "Reveal not found"
	msgDoctorLink     = "This is a doctor link. Use the reveal link to see the reveal."
	msgRevealLink     = "This is a reveal link. Use the doctor link to set the gender."
	msgNotSet         = "Gender not set yet"
	msgAlreadySet     = "Gender has already been set"
	msgPasswordNeeded = "Password required"
	msgHostOnly       = "Only the host can start a synced reveal"
)

// Rooms is the realtime side the reveal endpoints report to.
type Rooms interface {
	ViewerCount(code string) int
	PublishRevealStarted(ctx context.Context, code string, data protocol.RevealStartedData) error
}

// RevealHandler serves the public endpoints reached through doctor and
// reveal links.
type RevealHandler struct {
	revealStore *store.RevealStore
	library     *media.Library
	sealer      *secret.Sealer
	tokens      *auth.Tokens
	rooms       Rooms
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewRevealHandler(rs *store.RevealStore, lib *media.Library, sealer *secret.Sealer, tokens *auth.Tokens, rooms Rooms, clock clockwork.Clock, logger *slog.Logger) *RevealHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RevealHandler{
		revealStore: rs,
		library:     lib,
		sealer:      sealer,
		tokens:      tokens,
		rooms:       rooms,
		clock:       clock,
		logger:      logger,
	}
}

func (h *RevealHandler) now() time.Time {
	return h.clock.Now().UTC()
}

// lookup resolves a code, writing a 404 or 500 when it cannot.
func (h *RevealHandler) lookup(w http.ResponseWriter, code string) (*model.RevealRecord, model.LinkKind, bool) {
	rec, kind, err := h.revealStore.Lookup(code)
	if err != nil {
		h.logger.Error("lookup code", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load reveal")
		return nil, "", false
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, msgNotFound)
		return nil, "", false
	}
	return rec, kind, true
}

// unlocked reports whether the caller may see a password-protected reveal.
func (h *RevealHandler) unlocked(r *http.Request, rec *model.RevealRecord) bool {
	if !rec.PasswordEnabled || auth.IsOwner(r.Context(), rec.UserID) {
		return true
	}
	return auth.HasPass(r.Context(), rec.RevealCode)
}

func (h *RevealHandler) gender(rec *model.RevealRecord) (model.Gender, error) {
	plain, err := h.sealer.Open(rec.GenderSealed)
	if err != nil {
		return "", err
	}
	return model.ParseGender(string(plain))
}

func (h *RevealHandler) preferences(rec *model.RevealRecord) model.Preferences {
	prefs := rec.Preferences
	refs, err := h.library.References(rec.UserID, rec.RevealCode)
	if err != nil {
		h.logger.Warn("list custom audio", "user_id", rec.UserID, "error", err)
		return prefs
	}
	prefs.CustomAudio = refs
	return prefs
}

func (h *RevealHandler) Status(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	rec, kind, ok := h.lookup(w, code)
	if !ok {
		return
	}

	resp := model.StatusResponse{
		IsDoctor:   kind == model.LinkDoctor,
		IsSet:      rec.IsSet(),
		IsHost:     auth.IsOwner(r.Context(), rec.UserID),
		ServerTime: h.now(),
	}
	if resp.IsDoctor {
		resp.Preferences = model.DefaultPreferences()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	unlocked := h.unlocked(r, rec)
	resp.Preferences = h.preferences(rec)
	resp.PasswordRequired = rec.PasswordEnabled && !unlocked
	resp.ViewerCount = h.rooms.ViewerCount(rec.RevealCode)

	if rec.Preferences.SyncedReveal && rec.RevealStartedAt != nil {
		resp.RevealStartedAt = rec.RevealStartedAt
		if unlocked && resp.IsSet {
			g, err := h.gender(rec)
			if err != nil {
				h.logger.Error("open sealed gender", "user_id", rec.UserID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to load reveal")
				return
			}
			resp.Gender = g
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RevealHandler) MyStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.revealStore.GetByUserID(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("my status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	writeJSON(w, http.StatusOK, model.MyStatus{
		DoctorCode:      rec.DoctorCode,
		RevealCode:      rec.RevealCode,
		IsSet:           rec.IsSet(),
		IsRevealed:      rec.RevealStartedAt != nil,
		RevealStartedAt: rec.RevealStartedAt,
		PasswordEnabled: rec.PasswordEnabled,
		Preferences:     h.preferences(rec),
	})
}

type setGenderRequest struct {
	Code   string `json:"code"`
	Gender string `json:"gender"`
}

func (h *RevealHandler) SetGender(w http.ResponseWriter, r *http.Request) {
	var req setGenderRequest
	if !decodeJSON(w, r, smallBody, &req) {
		return
	}
	g, err := model.ParseGender(req.Gender)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Gender must be boy or girl")
		return
	}
	rec, kind, ok := h.lookup(w, req.Code)
	if !ok {
		return
	}
	if kind != model.LinkDoctor {
		writeError(w, http.StatusBadRequest, msgRevealLink)
		return
	}

	sealed, err := h.sealer.Seal([]byte(g))
	if err != nil {
		h.logger.Error("seal gender", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set gender")
		return
	}
	err = h.revealStore.SetGender(rec.UserID, sealed)
	if errors.Is(err, store.ErrGenderAlreadySet) {
		writeError(w, http.StatusConflict, msgAlreadySet)
		return
	}
	if err != nil {
		h.logger.Error("set gender", "user_id", rec.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set gender")
		return
	}
	h.logger.Info("gender set", "user_id", rec.UserID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type revealRequest struct {
	Code string `json:"code"`
}

// Reveal stamps revealStartedAt on first use and returns the gender. Repeat
// calls return the same timestamp and do not broadcast again.
func (h *RevealHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	if !decodeJSON(w, r, smallBody, &req) {
		return
	}
	rec, kind, ok := h.lookup(w, req.Code)
	if !ok {
		return
	}
	if kind != model.LinkReveal {
		writeError(w, http.StatusBadRequest, msgDoctorLink)
		return
	}
	if !rec.IsSet() {
		writeError(w, http.StatusConflict, msgNotSet)
		return
	}
	if !h.unlocked(r, rec) {
		writeError(w, http.StatusUnauthorized, msgPasswordNeeded)
		return
	}
	synced := rec.Preferences.SyncedReveal
	if synced && !auth.IsOwner(r.Context(), rec.UserID) {
		writeError(w, http.StatusForbidden, msgHostOnly)
		return
	}

	g, err := h.gender(rec)
	if err != nil {
		h.logger.Error("open sealed gender", "user_id", rec.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reveal")
		return
	}

	now := h.now()
	startedAt, first, err := h.revealStore.StartReveal(rec.UserID, now)
	if errors.Is(err, store.ErrGenderNotSet) {
		writeError(w, http.StatusConflict, msgNotSet)
		return
	}
	if err != nil {
		h.logger.Error("start reveal", "user_id", rec.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reveal")
		return
	}

	if first && synced {
		data := protocol.RevealStartedData{
			RevealStartedAt: startedAt,
			ServerTime:      now,
		}
		// Room members are not authenticated. Behind a password they fetch
		// the gender through status, which checks the pass token.
		if !rec.PasswordEnabled {
			data.Gender = string(g)
		}
		if err := h.rooms.PublishRevealStarted(r.Context(), rec.RevealCode, data); err != nil {
			// Clients still detect the reveal through status polling.
			h.logger.Warn("publish reveal-started", "code", rec.RevealCode, "error", err)
		}
		h.logger.Info("synced reveal started", "user_id", rec.UserID)
	}

	writeJSON(w, http.StatusOK, model.RevealResponse{
		Gender:          g,
		RevealStartedAt: &startedAt,
		ServerTime:      now,
	})
}

func (h *RevealHandler) CheckPassword(w http.ResponseWriter, r *http.Request) {
	rec, kind, ok := h.lookup(w, r.PathValue("code"))
	if !ok {
		return
	}
	required := kind == model.LinkReveal && rec.PasswordEnabled && !h.unlocked(r, rec)
	writeJSON(w, http.StatusOK, model.PasswordCheck{PasswordRequired: required})
}

type verifyPasswordRequest struct {
	RevealCode string `json:"revealCode"`
	Password   string `json:"password"`
}

func (h *RevealHandler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req verifyPasswordRequest
	if !decodeJSON(w, r, smallBody, &req) {
		return
	}
	rec, kind, ok := h.lookup(w, req.RevealCode)
	if !ok {
		return
	}
	if kind != model.LinkReveal {
		writeError(w, http.StatusBadRequest, msgDoctorLink)
		return
	}
	if !rec.PasswordEnabled {
		h.issuePass(w, rec.RevealCode)
		return
	}
	if rec.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.Password)) != nil {
		writeJSON(w, http.StatusOK, model.PasswordVerification{Valid: false})
		return
	}
	h.issuePass(w, rec.RevealCode)
}

func (h *RevealHandler) issuePass(w http.ResponseWriter, code string) {
	tok, err := h.tokens.IssuePass(code)
	if err != nil {
		h.logger.Error("issue pass token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify password")
		return
	}
	writeJSON(w, http.StatusOK, model.PasswordVerification{Valid: true, PassToken: tok})
}

// Audio streams a custom clip for a reveal code.
func (h *RevealHandler) Audio(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseAudioKind(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Audio type must be countdown or celebration")
		return
	}
	rec, linkKind, ok := h.lookup(w, r.PathValue("code"))
	if !ok {
		return
	}
	if linkKind != model.LinkReveal {
		writeError(w, http.StatusBadRequest, msgDoctorLink)
		return
	}

	clip, err := h.library.Get(rec.UserID, kind)
	if err != nil {
		h.logger.Error("get audio", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load audio")
		return
	}
	if clip == nil {
		writeError(w, http.StatusNotFound, "Audio not found")
		return
	}

	body, err := h.library.Open(r.Context(), clip)
	if err != nil {
		h.logger.Error("open audio", "clip_id", clip.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load audio")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(clip.SizeBytes, 10))
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Debug("stream audio", "clip_id", clip.ID, "error", err)
	}
}
