package middleware

import (
	"net/http"
	"strings"

	"github.com/dukerupert/revealparty/internal/auth"
)

// BearerToken returns the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// OptionalAuth records a valid bearer session and a valid reveal pass in the
// request's Caller. Invalid or missing credentials leave the request
// anonymous rather than rejecting it: status and reveal calls use the Caller
// to decide isHost and whether a password-protected reveal is unlocked.
func OptionalAuth(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var c auth.Caller
			if tok := BearerToken(r); tok != "" {
				if userID, err := tokens.ParseSession(tok); err == nil {
					c.UserID = userID
				}
			}
			if pass := r.Header.Get(auth.PassHeader); pass != "" {
				if code, err := tokens.ParsePass(pass); err == nil {
					c.PassCode = code
				}
			}
			if c != (auth.Caller{}) {
				r = r.WithContext(auth.WithCaller(r.Context(), c))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := BearerToken(r)
			if tok == "" {
				unauthorized(w, "Authentication required")
				return
			}
			userID, err := tokens.ParseSession(tok)
			if err != nil {
				unauthorized(w, "Invalid or expired token")
				return
			}
			ctx := auth.WithCaller(r.Context(), auth.Caller{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusUnauthorized, msg)
}
