package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"keygate.io/internal/apikey"
	"keygate.io/internal/audit"
)

type issueKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// issueKeyResponse carries the one-time material. This response is the only
// place plaintext material ever leaves the service.
type issueKeyResponse struct {
	Key      *apikey.Key `json:"key"`
	Material string      `json:"material"`
}

func (a *API) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		keys, err := a.registry.List(r.Context())
		if err != nil {
			a.handleKeyError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
	case http.MethodPost:
		var req issueKeyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		scopes := make([]apikey.Scope, 0, len(req.Scopes))
		for _, s := range req.Scopes {
			scopes = append(scopes, apikey.Scope(s))
		}
		material, key, err := a.registry.Issue(r.Context(), req.Name, scopes)
		if err != nil {
			a.handleKeyError(w, r, err)
			return
		}
		// Audit the issuance, never the material.
		_ = audit.LogEvent(r.Context(), "apikey.issued", map[string]any{
			"name":   key.Name,
			"scopes": key.Scopes,
			"prefix": key.DisplayPrefix,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/keys/%s", key.Name))
		writeJSON(w, http.StatusCreated, issueKeyResponse{Key: key, Material: material})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleKeyAction dispatches /v1/keys/{name}/rotate and
// /v1/keys/{name}/deactivate.
func (a *API) handleKeyAction(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/keys/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	name := parts[0]

	switch parts[1] {
	case "rotate":
		material, key, err := a.registry.Rotate(r.Context(), name)
		if err != nil {
			a.handleKeyError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "apikey.rotated", map[string]any{
			"name":   key.Name,
			"prefix": key.DisplayPrefix,
		})
		writeJSON(w, http.StatusOK, issueKeyResponse{Key: key, Material: material})
	case "deactivate":
		key, err := a.registry.Deactivate(r.Context(), name)
		if err != nil {
			a.handleKeyError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "apikey.deactivated", map[string]any{
			"name": key.Name,
		})
		writeJSON(w, http.StatusOK, map[string]any{"key": key})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleKeyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apikey.ErrInvalidScope), errors.Is(err, apikey.ErrDuplicateName):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, apikey.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "key not found")
	case errors.Is(err, apikey.ErrInactiveKey):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, apikey.ErrConflict):
		writeError(w, r, http.StatusConflict, "concurrent update, retry")
	case storeUnavailable(err):
		writeError(w, r, http.StatusServiceUnavailable, "key store unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
