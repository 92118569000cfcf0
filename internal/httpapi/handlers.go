// Package httpapi is the HTTP surface of the verification service. Handlers
// carry no business logic beyond decoding, scope declaration and response
// shaping; decisions live in the account and apikey packages.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"keygate.io/internal/account"
	"keygate.io/internal/apikey"
	"keygate.io/internal/credential"
	"keygate.io/internal/obs"
)

// ReadyProbe checks downstream readiness (database ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	readyProbe  ReadyProbe
	version     string
	registry    *apikey.Registry
	accounts    account.Store
	provisioner *account.Provisioner
	hasher      credential.Hasher
}

// Config wires the API dependencies.
type Config struct {
	ReadyProbe  ReadyProbe
	Version     string
	Registry    *apikey.Registry
	Accounts    account.Store
	Provisioner *account.Provisioner
	Hasher      credential.Hasher
}

// New constructs the API and mounts all routes. Required scopes are declared
// here, per endpoint, never inferred from the request.
func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  cfg.ReadyProbe,
		version:     cfg.Version,
		registry:    cfg.Registry,
		accounts:    cfg.Accounts,
		provisioner: cfg.Provisioner,
		hasher:      cfg.Hasher,
	}

	// health/ready/info/metrics are public
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// everything under /v1 requires a service key with the declared scope
	a.mux.Handle("/v1/login", a.requireScope(apikey.ScopeRead, http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/v1/accounts", a.requireScope(apikey.ScopeAdmin, http.HandlerFunc(a.handleAccounts)))
	a.mux.Handle("/v1/keys", a.requireScope(apikey.ScopeAdmin, http.HandlerFunc(a.handleKeys)))
	a.mux.Handle("/v1/keys/", a.requireScope(apikey.ScopeAdmin, http.HandlerFunc(a.handleKeyAction)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the server handler with the full middleware chain applied.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "keygate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "keygate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func storeUnavailable(err error) bool {
	return errors.Is(err, account.ErrStoreUnavailable) || errors.Is(err, apikey.ErrStoreUnavailable)
}
