package httpapi

import (
	"net/http"
	"strings"
	"testing"
)

func TestRequireScopeMissingKey(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/keys", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
}

func TestRequireScopeUniformDenialBody(t *testing.T) {
	env := newTestEnv(t)

	// Unknown key and a known key missing the admin scope must be
	// indistinguishable to the caller.
	unknown := env.do(t, http.MethodGet, "/v1/keys", "sk_entirely-unknown-material", "")
	insufficient := env.do(t, http.MethodGet, "/v1/keys", env.readMaterial, "")

	if unknown.Code != http.StatusUnauthorized || insufficient.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", unknown.Code, insufficient.Code)
	}

	var a, b map[string]any
	decodeBody(t, unknown, &a)
	decodeBody(t, insufficient, &b)
	if a["error"] != "unauthorized" || b["error"] != "unauthorized" {
		t.Fatalf("denial bodies leak reason: %v vs %v", a, b)
	}
}

func TestRequireScopeDeniesRotatedMaterial(t *testing.T) {
	env := newTestEnv(t)

	old := env.adminMaterial
	rr := env.do(t, http.MethodPost, "/v1/keys/test-admin/rotate", old, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("rotate: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	var resp struct {
		Material string `json:"material"`
	}
	decodeBody(t, rr, &resp)
	if resp.Material == "" || resp.Material == old {
		t.Fatalf("expected fresh material, got %q", resp.Material)
	}

	if rr := env.do(t, http.MethodGet, "/v1/keys", old, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("old material still authorized: %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/v1/keys", resp.Material, ""); rr.Code != http.StatusOK {
		t.Fatalf("new material rejected: %d", rr.Code)
	}
}

func TestRequireScopeAllowsAndAttachesCaller(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/keys", env.adminMaterial, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	var body struct {
		Keys []struct {
			Name   string   `json:"name"`
			Active bool     `json:"active"`
			Scopes []string `json:"scopes"`
		} `json:"keys"`
	}
	decodeBody(t, rr, &body)
	if len(body.Keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(body.Keys))
	}
	// Material digests must not appear anywhere in the listing.
	if s := rr.Body.String(); strings.Contains(s, "digest") || strings.Contains(s, "material") {
		t.Fatalf("listing leaks material fields: %s", s)
	}
}
