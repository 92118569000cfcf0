package httpapi

import (
	"errors"
	"net/http"

	"keygate.io/internal/apikey"
	"keygate.io/internal/obs"
)

// KeyHeader is the transport field carrying the presented service key.
const KeyHeader = "X-Api-Key"

// requireScope authorizes the presented key against the scope declared for
// the endpoint. All denial kinds collapse into one uniform 401 so external
// callers cannot probe which keys exist; the precise reason goes to the
// structured log and the denial counter only.
func (a *API) requireScope(required apikey.Scope, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if a.registry == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authorization unavailable")
			return
		}

		material := r.Header.Get(KeyHeader)
		key, err := a.registry.Authorize(r.Context(), material, required)
		if err != nil {
			if storeUnavailable(err) {
				writeError(w, r, http.StatusServiceUnavailable, "authorization unavailable")
				return
			}
			reason := denialReason(err)
			obs.CountAuthzDenial(reason)
			obs.LogRequest(map[string]any{
				"ts":         nowRFC3339(),
				"level":      "warn",
				"msg":        "authz_denied",
				"reason":     reason,
				"scope":      string(required),
				"path":       r.URL.Path,
				"request_id": RequestIDFromContext(r.Context()),
			})
			unauthorized(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(apikey.ContextWithKey(r.Context(), key)))
	})
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, apikey.ErrUnknownKey):
		return "unknown_key"
	case errors.Is(err, apikey.ErrInactiveKey):
		return "inactive_key"
	case errors.Is(err, apikey.ErrInsufficientScope):
		return "insufficient_scope"
	default:
		return "error"
	}
}

// unauthorized is deliberately identical for every denial kind.
func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `ApiKey realm="keygate"`)
	writeError(w, r, http.StatusUnauthorized, "unauthorized")
}
