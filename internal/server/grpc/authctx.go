package grpcserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/and161185/bloodlink/internal/model"
)

type ctxKey string

const (
	callerKey  ctxKey = "bl.caller"
	sessionKey ctxKey = "bl.session"
)

// WithCaller stores the resolved caller in context.
func WithCaller(ctx context.Context, u model.CurrentUser) context.Context {
	return context.WithValue(ctx, callerKey, u)
}

// CallerFromCtx returns the caller, or an anonymous one when none was resolved.
func CallerFromCtx(ctx context.Context) model.CurrentUser {
	u, _ := ctx.Value(callerKey).(model.CurrentUser)
	return u
}

// WithSession keys the caller's session by a digest of its bearer token.
func WithSession(ctx context.Context, token string) context.Context {
	sum := sha256.Sum256([]byte(token))
	return context.WithValue(ctx, sessionKey, hex.EncodeToString(sum[:]))
}

// SessionFromCtx returns the session key, or "" for anonymous calls.
func SessionFromCtx(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey).(string)
	return s
}
