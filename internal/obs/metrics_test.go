package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/keys":                       "/v1/keys",
		"/v1/keys/svc-a/rotate":          "/v1/keys/:name/rotate",
		"/v1/keys/svc-a/deactivate":      "/v1/keys/:name/deactivate",
		"/v1/keys/svc-a/rotate?force=1":  "/v1/keys/:name/rotate",
		"/v1/login":                      "/v1/login",
		"/v1/accounts":                   "/v1/accounts",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
