package apikey

import "context"

type keyContextKey struct{}

// ContextWithKey attaches the resolved key to the request context so that
// downstream handlers and audit logging can name the calling service.
func ContextWithKey(ctx context.Context, key *Key) context.Context {
	if key == nil {
		return ctx
	}
	return context.WithValue(ctx, keyContextKey{}, key)
}

// KeyFromContext extracts the authorized key, if any.
func KeyFromContext(ctx context.Context) (*Key, bool) {
	if ctx == nil {
		return nil, false
	}
	k, ok := ctx.Value(keyContextKey{}).(*Key)
	if !ok || k == nil {
		return nil, false
	}
	return k, true
}

// KeyNameFromContext returns the calling service's key name, or empty.
func KeyNameFromContext(ctx context.Context) string {
	if k, ok := KeyFromContext(ctx); ok {
		return k.Name
	}
	return ""
}
