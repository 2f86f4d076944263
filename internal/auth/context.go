package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
)

// WithIdentity stamps the verified staff identity onto the request context.
// The accessors error out on a missing value instead of returning "", so a
// route wired without RequireAccessToken fails loudly rather than acting
// as nobody.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	return identityValue(ctx, ctxUserID, "user_id")
}

func Role(ctx context.Context) (string, error) {
	return identityValue(ctx, ctxRole, "role")
}

func identityValue(ctx context.Context, key ctxKey, name string) (string, error) {
	if s, ok := ctx.Value(key).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New(name + " not in context")
}
