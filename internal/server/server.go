package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"

	"github.com/dukerupert/revealparty/internal/auth"
	"github.com/dukerupert/revealparty/internal/database"
	"github.com/dukerupert/revealparty/internal/handler"
	"github.com/dukerupert/revealparty/internal/media"
	"github.com/dukerupert/revealparty/internal/middleware"
	"github.com/dukerupert/revealparty/internal/model"
	"github.com/dukerupert/revealparty/internal/relay"
	"github.com/dukerupert/revealparty/internal/secret"
	"github.com/dukerupert/revealparty/internal/store"
	ws "github.com/dukerupert/revealparty/internal/websocket"
)

const healthTimeout = 2 * time.Second

// Config holds the dependencies the router needs beyond the database.
type Config struct {
	Tokens      *auth.Tokens
	Sealer      *secret.Sealer
	Relay       relay.Relay
	S3          *media.S3Store // nil stores audio in SQLite
	CORSOrigins []string       // empty or "*" allows any origin
	Clock       clockwork.Clock
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	authH       *handler.AuthHandler
	revealH     *handler.RevealHandler
	tokens      *auth.Tokens
	rateLimiter *middleware.RateLimiter
	corsOrigins []string
	logger      *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	revealStore := store.NewRevealStore(db)
	library := media.NewLibrary(store.NewAudioStore(db), cfg.S3, logger.With("component", "media"))

	// Only reveal codes open a room; doctor links never join.
	validCode := func(code string) bool {
		rec, kind, err := revealStore.Lookup(code)
		return err == nil && rec != nil && kind == model.LinkReveal
	}
	hub := ws.NewHub(logger.With("component", "websocket"), cfg.Relay, validCode)

	return &Server{
		db:          db,
		hub:         hub,
		authH:       handler.NewAuthHandler(userStore, revealStore, library, cfg.Tokens, logger.With("component", "auth")),
		revealH:     handler.NewRevealHandler(revealStore, library, cfg.Sealer, cfg.Tokens, hub, cfg.Clock, logger.With("component", "reveal")),
		tokens:      cfg.Tokens,
		rateLimiter: middleware.NewRateLimiter(),
		corsOrigins: cfg.CORSOrigins,
		logger:      logger,
	}
}

// Hub returns the realtime hub so main can start and stop it.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	optional := middleware.OptionalAuth(s.tokens)
	required := middleware.RequireAuth(s.tokens)

	mux.HandleFunc("GET /health", s.healthHandler)

	// Accounts
	mux.HandleFunc("POST /api/auth/register", s.rateLimitedHandler("register", s.authH.Register))
	mux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler("login", s.authH.Login))
	mux.Handle("GET /api/auth/me", required(http.HandlerFunc(s.authH.Me)))
	mux.Handle("POST /api/auth/regenerate-codes", required(http.HandlerFunc(s.authH.RegenerateCodes)))
	mux.Handle("GET /api/auth/preferences", required(http.HandlerFunc(s.authH.GetPreferences)))
	mux.Handle("PUT /api/auth/preferences", required(http.HandlerFunc(s.authH.UpdatePreferences)))
	mux.Handle("GET /api/auth/reveal-password", required(http.HandlerFunc(s.authH.GetRevealPassword)))
	mux.Handle("PUT /api/auth/reveal-password", required(http.HandlerFunc(s.authH.UpdateRevealPassword)))
	mux.Handle("POST /api/auth/audio/{type}", required(http.HandlerFunc(s.authH.UploadAudio)))
	mux.Handle("DELETE /api/auth/audio/{type}", required(http.HandlerFunc(s.authH.DeleteAudio)))
	mux.Handle("GET /api/my-status", required(http.HandlerFunc(s.revealH.MyStatus)))

	// Reveal links
	mux.Handle("GET /api/status/{code}", optional(http.HandlerFunc(s.revealH.Status)))
	mux.HandleFunc("POST /api/set-gender", s.rateLimitedHandler("set-gender", s.revealH.SetGender))
	mux.Handle("POST /api/reveal", optional(http.HandlerFunc(s.revealH.Reveal)))
	mux.Handle("GET /api/auth/check-reveal-password/{code}", optional(http.HandlerFunc(s.revealH.CheckPassword)))
	mux.HandleFunc("POST /api/auth/verify-reveal-password", s.rateLimitedHandler("verify-password", s.revealH.VerifyPassword))
	mux.HandleFunc("GET /api/audio/{code}/{type}", s.revealH.Audio)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, originPatterns(s.corsOrigins)))

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", auth.PassHeader, middleware.RequestIDHeader},
	})
	return middleware.RequestLogger(s.logger.With("component", "http"))(c.Handler(mux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := database.Check(ctx, s.db); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, code, map[string]any{
		"status":  status,
		"clients": s.hub.ClientCount(),
	})
}

// rateLimitedHandler limits h per client IP. Each route has its own budget.
func (s *Server) rateLimitedHandler(route string, h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return route + ":" + middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

// originPatterns converts CORS origins into websocket host patterns. A
// wildcard yields nil, which accepts any origin.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		} else {
			patterns = append(patterns, o)
		}
	}
	return patterns
}
