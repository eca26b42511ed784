package auth

import "context"

// PassHeader carries the reveal pass token issued by verify-reveal-password.
const PassHeader = "X-Reveal-Pass"

type callerKey struct{}

// Caller is whoever stands behind a request. A host session sets UserID and
// a reveal pass sets PassCode; a request may carry both or neither.
type Caller struct {
	UserID   int64
	PassCode string
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the request's caller, or the zero Caller for an
// anonymous request.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

func UserID(ctx context.Context) int64 {
	return CallerFrom(ctx).UserID
}

// IsOwner reports whether the request is authenticated as userID.
func IsOwner(ctx context.Context, userID int64) bool {
	id := UserID(ctx)
	return id != 0 && id == userID
}

// HasPass reports whether the request carries a valid pass for revealCode.
func HasPass(ctx context.Context, revealCode string) bool {
	return revealCode != "" && CallerFrom(ctx).PassCode == revealCode
}
