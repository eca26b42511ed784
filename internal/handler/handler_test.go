package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/revealparty/internal/auth"
	"github.com/dukerupert/revealparty/internal/database"
	"github.com/dukerupert/revealparty/internal/media"
	"github.com/dukerupert/revealparty/internal/model"
	"github.com/dukerupert/revealparty/internal/protocol"
	"github.com/dukerupert/revealparty/internal/secret"
	"github.com/dukerupert/revealparty/internal/store"
)

type fakeRooms struct {
	mu        sync.Mutex
	viewers   int
	published []protocol.RevealStartedData
}

func (f *fakeRooms) ViewerCount(string) int { return f.viewers }

func (f *fakeRooms) PublishRevealStarted(_ context.Context, _ string, data protocol.RevealStartedData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, data)
	return nil
}

func (f *fakeRooms) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fixture struct {
	users   *store.UserStore
	reveals *store.RevealStore
	sealer  *secret.Sealer
	tokens  *auth.Tokens
	rooms   *fakeRooms
	clock   *clockwork.FakeClock
	auth    *AuthHandler
	reveal  *RevealHandler
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	salt, err := secret.GenerateSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	sealer, err := secret.NewSealer("test-passphrase", salt)
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}

	f := &fixture{
		users:   store.NewUserStore(db),
		reveals: store.NewRevealStore(db),
		sealer:  sealer,
		tokens:  auth.NewTokens("test-secret"),
		rooms:   &fakeRooms{viewers: 3},
		clock:   clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)),
	}
	lib := media.NewLibrary(store.NewAudioStore(db), nil, logger)
	f.auth = NewAuthHandler(f.users, f.reveals, lib, f.tokens, logger)
	f.reveal = NewRevealHandler(f.reveals, lib, sealer, f.tokens, f.rooms, f.clock, logger)
	return f
}

func (f *fixture) host(t *testing.T) *model.User {
	t.Helper()
	u, err := f.users.Create("host@example.com", "x")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) seal(t *testing.T, u *model.User, g model.Gender) {
	t.Helper()
	sealed, err := f.sealer.Seal([]byte(g))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := f.reveals.SetGender(u.ID, sealed); err != nil {
		t.Fatalf("set gender: %v", err)
	}
}

func (f *fixture) synced(t *testing.T, u *model.User) {
	t.Helper()
	prefs := model.DefaultPreferences()
	prefs.SyncedReveal = true
	if err := f.reveals.UpdatePreferences(u.ID, prefs); err != nil {
		t.Fatalf("update preferences: %v", err)
	}
}

func request(method, target string, body any, userID int64) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	if userID != 0 {
		r = r.WithContext(auth.WithCaller(r.Context(), auth.Caller{UserID: userID}))
	}
	return r
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return v
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

func (f *fixture) status(t *testing.T, code string, userID int64, pass string) (*httptest.ResponseRecorder, model.StatusResponse) {
	t.Helper()
	r := request(http.MethodGet, "/api/status/"+code, nil, userID)
	r.SetPathValue("code", code)
	if pass != "" {
		// What OptionalAuth does for the X-Reveal-Pass header.
		code, err := f.tokens.ParsePass(pass)
		if err != nil {
			t.Fatalf("parse pass: %v", err)
		}
		r = r.WithContext(auth.WithCaller(r.Context(), auth.Caller{UserID: userID, PassCode: code}))
	}
	w := httptest.NewRecorder()
	f.reveal.Status(w, r)
	if w.Code != http.StatusOK {
		return w, model.StatusResponse{}
	}
	return w, decode[model.StatusResponse](t, w)
}

func (f *fixture) revealCall(code string, userID int64) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.reveal.Reveal(w, request(http.MethodPost, "/api/reveal", map[string]string{"code": code}, userID))
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	f := setup(t)

	w := httptest.NewRecorder()
	f.auth.Register(w, request(http.MethodPost, "/api/auth/register",
		map[string]string{"email": "New@Example.com", "password": "secret1"}, 0))
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201: %s", w.Code, w.Body.String())
	}
	resp := decode[model.AuthResponse](t, w)
	if resp.Token == "" || resp.User == nil {
		t.Fatal("expected token and user")
	}
	if resp.User.DoctorCode == "" || resp.User.RevealCode == "" {
		t.Error("expected both link codes")
	}
	if id, err := f.tokens.ParseSession(resp.Token); err != nil || id != resp.User.ID {
		t.Errorf("ParseSession = %d, %v; want %d", id, err, resp.User.ID)
	}

	w = httptest.NewRecorder()
	f.auth.Register(w, request(http.MethodPost, "/api/auth/register",
		map[string]string{"email": "new@example.com", "password": "secret1"}, 0))
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", w.Code)
	}

	w = httptest.NewRecorder()
	f.auth.Login(w, request(http.MethodPost, "/api/auth/login",
		map[string]string{"email": "new@example.com", "password": "wrong!"}, 0))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	f.auth.Login(w, request(http.MethodPost, "/api/auth/login",
		map[string]string{"email": "new@example.com", "password": "secret1"}, 0))
	if w.Code != http.StatusOK {
		t.Errorf("login status = %d, want 200", w.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing at", map[string]string{"email": "nobody", "password": "secret1"}},
		{"short password", map[string]string{"email": "a@b.c", "password": "123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.auth.Register(w, request(http.MethodPost, "/api/auth/register", tt.body, 0))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestStatusUnknownCode(t *testing.T) {
	f := setup(t)
	w, _ := f.status(t, "nope", 0, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if msg := errorMessage(t, w); msg != msgNotFound {
		t.Errorf("error = %q, want %q", msg, msgNotFound)
	}
}

func TestStatusDoctorLink(t *testing.T) {
	f := setup(t)
	u := f.host(t)
	f.seal(t, u, model.GenderGirl)

	_, st := f.status(t, u.DoctorCode, 0, "")
	if !st.IsDoctor {
		t.Error("expected isDoctor")
	}
	if !st.IsSet {
		t.Error("expected isSet")
	}
	if st.Gender != "" {
		t.Errorf("gender = %q, want hidden", st.Gender)
	}
}

func TestStatusBeforeAndAfterSyncedReveal(t *testing.T) {
	f := setup(t)
	u := f.host(t)
	f.synced(t, u)

	_, st := f.status(t, u.RevealCode, 0, "")
	if st.IsSet || st.IsDoctor || st.IsHost {
		t.Errorf("unexpected flags %+v", st)
	}
	if st.ViewerCount != 3 {
		t.Errorf("viewerCount = %d, want 3", st.ViewerCount)
	}
	if !st.Preferences.SyncedReveal {
		t.Error("expected syncedReveal preference")
	}

	f.seal(t, u, model.GenderBoy)
	_, st = f.status(t, u.RevealCode, u.ID, "")
	if !st.IsHost {
		t.Error("expected isHost for the owner")
	}
	if st.RevealStartedAt != nil || st.Gender != "" {
		t.Error("gender leaked before reveal")
	}

	if w := f.revealCall(u.RevealCode, u.ID); w.Code != http.StatusOK {
		t.Fatalf("reveal status = %d: %s", w.Code, w.Body.String())
	}
	f.clock.Advance(3 * time.Second)

	_, st = f.status(t, u.RevealCode, 0, "")
	if st.RevealStartedAt == nil {
		t.Fatal("expected revealStartedAt")
	}
	if st.Gender != model.GenderBoy {
		t.Errorf("gender = %q, want boy", st.Gender)
	}
	if got := st.ServerTime.Sub(*st.RevealStartedAt); got != 3*time.Second {
		t.Errorf("elapsed = %v, want 3s", got)
	}
}

func TestStatusNonSyncedHidesStart(t *testing.T) {
	f := setup(t)
	u := f.host(t)
	f.seal(t, u, model.GenderGirl)

	if w := f.revealCall(u.RevealCode, 0); w.Code != http.StatusOK {
		t.Fatalf("guest reveal status = %d, want 200", w.Code)
	}
	_, st := f.status(t, u.RevealCode, 0, "")
	if st.RevealStartedAt != nil || st.Gender != "" {
		t.Error("non-synced status must not expose the reveal")
	}
	if f.rooms.publishCount() != 0 {
		t.Error("non-synced reveal must not broadcast")
	}
}

func TestSetGender(t *testing.T) {
	f := setup(t)
	u := f.host(t)

	call := func(code, gender string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		f.reveal.SetGender(w, request(http.MethodPost, "/api/set-gender",
			map[string]string{"code": code, "gender": gender}, 0))
		return w
	}

	if w := call(u.RevealCode, "boy"); w.Code != http.StatusBadRequest {
		t.Errorf("reveal link status = %d, want 400", w.Code)
	}
	if w := call(u.DoctorCode, "twins"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid gender status = %d, want 400", w.Code)
	}
	if w := call(u.DoctorCode, "girl"); w.Code != http.StatusOK {
		t.Fatalf("set status = %d: %s", w.Code, w.Body.String())
	}
	w := call(u.DoctorCode, "boy")
	if w.Code != http.StatusConflict {
		t.Fatalf("second set status = %d, want 409", w.Code)
	}
	if msg := errorMessage(t, w); msg != msgAlreadySet {
		t.Errorf("error = %q", msg)
	}

	rec, err := f.reveals.GetByUserID(u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if bytes.Contains(rec.GenderSealed, []byte("girl")) {
		t.Error("gender stored in plaintext")
	}
}

func TestRevealGuards(t *testing.T) {
	f := setup(t)
	u := f.host(t)
	f.synced(t, u)

	w := f.revealCall(u.DoctorCode, u.ID)
	if w.Code != http.StatusBadRequest {
		t.Errorf("doctor link status = %d, want 400", w.Code)
	}
	if msg := errorMessage(t, w); msg != msgDoctorLink {
		t.Errorf("error = %q, want %q", msg, msgDoctorLink)
	}

	if w := f.revealCall(u.RevealCode, u.ID); w.Code != http.StatusConflict {
		t.Errorf("unset status = %d, want 409", w.Code)
	}

	f.seal(t, u, model.GenderGirl)
	if w := f.revealCall(u.RevealCode, 0); w.Code != http.StatusForbidden {
		t.Errorf("guest synced status = %d, want 403", w.Code)
	}
	if w := f.revealCall("missing", u.ID); w.Code != http.StatusNotFound {
		t.Errorf("unknown code status = %d, want 404", w.Code)
	}
}

func TestRevealIsIdempotent(t *testing.T) {
	f := setup(t)
	u := f.host(t)
	f.synced(t, u)
	f.seal(t, u, model.GenderGirl)

	w := f.revealCall(u.RevealCode, u.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("reveal status = %d: %s", w.Code, w.Body.String())
	}
	first := decode[model.RevealResponse](t, w)
	if first.Gender != model.GenderGirl {
		t.Errorf("gender = %q, want girl", first.Gender)
	}

	f.clock.Advance(10 * time.Second)
	w = f.revealCall(u.RevealCode, u.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("second reveal status = %d", w.Code)
	}
	second := decode[model.RevealResponse](t, w)
	if !second.RevealStartedAt.Equal(*first.RevealStartedAt) {
		t.Errorf("revealStartedAt moved: %v -> %v", first.RevealStartedAt, second.RevealStartedAt)
	}
	if second.Gender != first.Gender {
		t.Errorf("gender changed")
	}
	if n := f.rooms.publishCount(); n != 1 {
		t.Errorf("published %d reveal-started events, want 1", n)
	}
	got := f.rooms.published[0]
	if got.Gender != "girl" || !got.RevealStartedAt.Equal(*first.RevealStartedAt) {
		t.Errorf("published %+v", got)
	}
}

func TestRevealPasswordFlow(t *testing.T) {
	f := setup(t)
	u := f.host(t)
	f.synced(t, u)
	f.seal(t, u, model.GenderBoy)

	w := httptest.NewRecorder()
	f.auth.UpdateRevealPassword(w, request(http.MethodPut, "/api/auth/reveal-password",
		map[string]any{"enabled": true, "password": "cake"}, u.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("set password status = %d: %s", w.Code, w.Body.String())
	}

	r := request(http.MethodGet, "/api/auth/check-reveal-password/"+u.RevealCode, nil, 0)
	r.SetPathValue("code", u.RevealCode)
	w = httptest.NewRecorder()
	f.reveal.CheckPassword(w, r)
	if !decode[model.PasswordCheck](t, w).PasswordRequired {
		t.Error("expected passwordRequired")
	}

	verify := func(pw string) model.PasswordVerification {
		w := httptest.NewRecorder()
		f.reveal.VerifyPassword(w, request(http.MethodPost, "/api/auth/verify-reveal-password",
			map[string]string{"revealCode": u.RevealCode, "password": pw}, 0))
		return decode[model.PasswordVerification](t, w)
	}
	if v := verify("pie"); v.Valid || v.PassToken != "" {
		t.Errorf("wrong password verified: %+v", v)
	}
	ok := verify("cake")
	if !ok.Valid || ok.PassToken == "" {
		t.Fatalf("correct password rejected: %+v", ok)
	}

	w = f.revealCall(u.RevealCode, u.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("host reveal status = %d", w.Code)
	}
	if g := decode[model.RevealResponse](t, w).Gender; g != model.GenderBoy {
		t.Errorf("host gender = %q, want boy", g)
	}
	if n := f.rooms.publishCount(); n != 1 {
		t.Fatalf("published %d reveal-started events, want 1", n)
	}
	if got := f.rooms.published[0]; got.Gender != "" || got.RevealStartedAt.IsZero() {
		t.Errorf("room event behind a password = %+v, want no gender", got)
	}

	_, st := f.status(t, u.RevealCode, 0, "")
	if !st.PasswordRequired || st.Gender != "" {
		t.Errorf("locked status = %+v", st)
	}
	if st.RevealStartedAt == nil {
		t.Error("revealStartedAt should still be reported")
	}
	_, st = f.status(t, u.RevealCode, 0, ok.PassToken)
	if st.PasswordRequired || st.Gender != model.GenderBoy {
		t.Errorf("unlocked status = %+v", st)
	}
}

func TestUpdatePreferencesMergesAndValidates(t *testing.T) {
	f := setup(t)
	u := f.host(t)

	w := httptest.NewRecorder()
	f.auth.UpdatePreferences(w, request(http.MethodPut, "/api/auth/preferences",
		map[string]any{"theme": "gold", "syncedReveal": true}, u.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	got := decode[map[string]model.Preferences](t, w)["preferences"]
	if got.Theme != "gold" || !got.SyncedReveal {
		t.Errorf("preferences = %+v", got)
	}
	if got.CountdownDuration != model.DefaultCountdown {
		t.Errorf("countdownDuration = %d, want default kept", got.CountdownDuration)
	}

	w = httptest.NewRecorder()
	f.auth.UpdatePreferences(w, request(http.MethodPut, "/api/auth/preferences",
		map[string]any{"countdownDuration": 7}, u.ID))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid countdown status = %d, want 400", w.Code)
	}
}

func TestAudioUploadAndStream(t *testing.T) {
	f := setup(t)
	u := f.host(t)
	wav := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)

	r := request(http.MethodPost, "/api/auth/audio/countdown", map[string]string{
		"audioData": "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav),
		"fileName":  "drums.wav",
	}, u.ID)
	r.SetPathValue("type", "countdown")
	w := httptest.NewRecorder()
	f.auth.UploadAudio(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", w.Code, w.Body.String())
	}

	r = request(http.MethodGet, "/api/audio/"+u.RevealCode+"/countdown", nil, 0)
	r.SetPathValue("code", u.RevealCode)
	r.SetPathValue("type", "countdown")
	w = httptest.NewRecorder()
	f.reveal.Audio(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("stream status = %d: %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(w.Body.Bytes(), wav) {
		t.Error("streamed bytes differ from upload")
	}

	_, st := f.status(t, u.RevealCode, 0, "")
	ref := st.Preferences.CustomAudio[model.AudioCountdown]
	if ref == nil || ref.URL != "/api/audio/"+u.RevealCode+"/countdown" {
		t.Errorf("customAudio ref = %+v", ref)
	}

	r = request(http.MethodDelete, "/api/auth/audio/countdown", nil, u.ID)
	r.SetPathValue("type", "countdown")
	w = httptest.NewRecorder()
	f.auth.DeleteAudio(w, r)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
}

func TestRegenerateCodes(t *testing.T) {
	f := setup(t)
	u := f.host(t)

	w := httptest.NewRecorder()
	f.auth.RegenerateCodes(w, request(http.MethodPost, "/api/auth/regenerate-codes", nil, u.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[map[string]*model.User](t, w)["user"]
	if got.RevealCode == u.RevealCode || got.DoctorCode == u.DoctorCode {
		t.Error("codes were not regenerated")
	}
	if w, _ := f.status(t, u.RevealCode, 0, ""); w.Code != http.StatusNotFound {
		t.Errorf("old code status = %d, want 404", w.Code)
	}
}

func TestBcryptHashStoredForRevealPassword(t *testing.T) {
	f := setup(t)
	u := f.host(t)
	w := httptest.NewRecorder()
	f.auth.UpdateRevealPassword(w, request(http.MethodPut, "/api/auth/reveal-password",
		map[string]any{"enabled": true, "password": "abc"}, u.ID))
	if w.Code != http.StatusBadRequest {
		t.Errorf("short password status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	f.auth.UpdateRevealPassword(w, request(http.MethodPut, "/api/auth/reveal-password",
		map[string]any{"enabled": true, "password": "abcd"}, u.ID))
	rec, _ := f.reveals.GetByUserID(u.ID)
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte("abcd")); err != nil {
		t.Errorf("stored hash does not match: %v", err)
	}
}
