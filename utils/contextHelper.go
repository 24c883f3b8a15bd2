package utils

import "context"

type contextKey string

const (
	ContextKeyToken         = contextKey("Token")
	ContextKeyUsername      = contextKey("Username")
	ContextKeyCorrelationId = contextKey("CorrelationId")

	// ContextKeyIsAdmin is true for operators allowed to publish listings and replay dispatches.
	ContextKeyIsAdmin = contextKey("IsAdmin")
)

func getString(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyUsername)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyCorrelationId)
}

func IsAdminFromContext(ctx context.Context) bool {
	v, ok := ctx.Value(ContextKeyIsAdmin).(bool)
	return ok && v
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ContextKeyToken, token)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationId, correlationId)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return context.WithValue(ctx, ContextKeyIsAdmin, isAdmin)
}
