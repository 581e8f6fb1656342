package auth

import (
	"context"
	"strings"
)

type ctxKey string

const (
	accountIDKey ctxKey = "auth_account_id"
	roleKey      ctxKey = "auth_role"
)

// ContextWithAccount stores the authenticated account identity in the context.
func ContextWithAccount(ctx context.Context, accountID, role string) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, strings.TrimSpace(accountID))
	if role = strings.TrimSpace(role); role != "" {
		ctx = context.WithValue(ctx, roleKey, role)
	}
	return ctx
}

// AccountIDFromContext extracts the authenticated account id from context.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(accountIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// RoleFromContext returns the role stored in context, if any.
func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
