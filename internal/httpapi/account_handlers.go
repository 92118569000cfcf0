package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"keygate.io/internal/account"
	"keygate.io/internal/audit"
	"keygate.io/internal/credential"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// reasonBadCredentials covers unknown email and wrong password alike, so the
// response does not reveal whether the account exists.
const reasonBadCredentials = "CREDENTIALS"

// handleLogin verifies credentials and evaluates the login gate, fresh on
// every call. The decision is never cached: status can change between
// requests.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	acct, err := a.accounts.FindByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeJSON(w, http.StatusOK, loginResponse{Allowed: false, Reason: reasonBadCredentials})
			return
		}
		writeError(w, r, http.StatusServiceUnavailable, "account store unavailable")
		return
	}

	ok, err := a.hasher.Verify(req.Password, acct.PasswordHash)
	if err != nil && !errors.Is(err, credential.ErrMalformedDigest) {
		writeError(w, r, http.StatusInternalServerError, "verification failed")
		return
	}
	if !ok {
		// A malformed digest (legacy plaintext row) lands here too.
		writeJSON(w, http.StatusOK, loginResponse{Allowed: false, Reason: reasonBadCredentials})
		return
	}

	decision := account.Gate(acct)
	if !decision.Allowed {
		_ = audit.LogEvent(r.Context(), "login.denied", map[string]any{
			"email":  email,
			"reason": string(decision.Reason),
			"detail": decision.Detail,
		})
		writeJSON(w, http.StatusOK, loginResponse{
			Allowed: false,
			Reason:  string(decision.Reason),
			Detail:  decision.Detail,
		})
		return
	}

	_ = audit.LogEvent(r.Context(), "login.allowed", map[string]any{"email": email})
	writeJSON(w, http.StatusOK, loginResponse{Allowed: true})
}

type provisionRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ForceRole   bool   `json:"force_role"`
	Status      string `json:"status"`
	ForceStatus bool   `json:"force_status"`
}

type provisionResponse struct {
	Account *account.Account `json:"account"`
	Created bool             `json:"created"`
}

// handleAccounts runs the idempotent provisioner. The plaintext password
// crosses this boundary once and is neither logged nor echoed back.
func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req provisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acct, created, err := a.provisioner.Ensure(r.Context(), account.ProvisionRequest{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        account.Role(req.Role),
		TenantID:    req.TenantID,
		ForceRole:   req.ForceRole,
		Status:      req.Status,
		ForceStatus: req.ForceStatus,
	})
	if err != nil {
		if storeUnavailable(err) {
			writeError(w, r, http.StatusServiceUnavailable, "account store unavailable")
			return
		}
		if errors.Is(err, account.ErrConflict) {
			writeError(w, r, http.StatusConflict, "concurrent update, retry")
			return
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	_ = audit.LogEvent(r.Context(), "account.provisioned", map[string]any{
		"email":   acct.Email,
		"role":    string(acct.Role),
		"created": created,
	})
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, provisionResponse{Account: acct, Created: created})
}
