package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceSession = "session"
	audiencePass    = "reveal-pass"

	SessionTTL = 7 * 24 * time.Hour
	PassTTL    = 12 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// Tokens issues and validates HS256 tokens. Session tokens identify a host
// account; pass tokens prove a viewer entered the reveal password for one code.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret), now: time.Now}
}

func (t *Tokens) sign(subject, audience string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) parse(tokenString, audience string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithAudience(audience), jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (t *Tokens) IssueSession(userID int64) (string, error) {
	return t.sign(strconv.FormatInt(userID, 10), audienceSession, SessionTTL)
}

// ParseSession returns the user id carried by a session token.
func (t *Tokens) ParseSession(tokenString string) (int64, error) {
	sub, err := t.parse(tokenString, audienceSession)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

func (t *Tokens) IssuePass(revealCode string) (string, error) {
	return t.sign(revealCode, audiencePass, PassTTL)
}

// ParsePass returns the reveal code an unexpired pass token unlocks.
func (t *Tokens) ParsePass(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}
	return t.parse(tokenString, audiencePass)
}

// ValidPass reports whether tokenString is an unexpired pass for revealCode.
func (t *Tokens) ValidPass(tokenString, revealCode string) bool {
	code, err := t.ParsePass(tokenString)
	return err == nil && code == revealCode
}
