package apikey_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"keygate.io/internal/apikey"
	"keygate.io/internal/credential"
	"keygate.io/internal/store/memory"
)

func newRegistry(t *testing.T) (*apikey.Registry, *memory.KeyStore) {
	t.Helper()
	store := memory.NewKeyStore()
	return apikey.NewRegistry(store), store
}

func TestIssueAndAuthorize(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	material, key, err := reg.Issue(ctx, "svc-a", []apikey.Scope{apikey.ScopeRead, apikey.ScopeWrite})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(material, credential.TokenPrefix) {
		t.Fatalf("unexpected material %q", material)
	}
	if key.MaterialDigest == material || strings.Contains(key.MaterialDigest, material) {
		t.Fatal("record stores plaintext material")
	}

	resolved, err := reg.Authorize(ctx, material, apikey.ScopeWrite)
	if err != nil {
		t.Fatalf("Authorize write: %v", err)
	}
	if resolved.Name != "svc-a" {
		t.Fatalf("unexpected key name %q", resolved.Name)
	}

	if _, err := reg.Authorize(ctx, material, apikey.ScopeAdmin); !errors.Is(err, apikey.ErrInsufficientScope) {
		t.Fatalf("expected ErrInsufficientScope, got %v", err)
	}
}

func TestIssueRejectsEmptyAndUnknownScopes(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	if _, _, err := reg.Issue(ctx, "svc-empty", nil); !errors.Is(err, apikey.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope for empty set, got %v", err)
	}
	if _, _, err := reg.Issue(ctx, "svc-bad", []apikey.Scope{"superuser"}); !errors.Is(err, apikey.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope for unknown scope, got %v", err)
	}
}

func TestIssueDuplicateActiveName(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	if _, _, err := reg.Issue(ctx, "svc-dup", []apikey.Scope{apikey.ScopeRead}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, _, err := reg.Issue(ctx, "svc-dup", []apikey.Scope{apikey.ScopeRead}); !errors.Is(err, apikey.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestNameReuseAfterDeactivation(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	oldMaterial, _, err := reg.Issue(ctx, "svc-reuse", []apikey.Scope{apikey.ScopeRead})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := reg.Deactivate(ctx, "svc-reuse"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := reg.Authorize(ctx, oldMaterial, apikey.ScopeRead); !errors.Is(err, apikey.ErrInactiveKey) {
		t.Fatalf("expected ErrInactiveKey, got %v", err)
	}
	// Deactivation is terminal; rotation of a dead key is refused.
	if _, _, err := reg.Rotate(ctx, "svc-reuse"); !errors.Is(err, apikey.ErrInactiveKey) {
		t.Fatalf("expected ErrInactiveKey on rotate, got %v", err)
	}

	newMaterial, _, err := reg.Issue(ctx, "svc-reuse", []apikey.Scope{apikey.ScopeWrite})
	if err != nil {
		t.Fatalf("re-Issue: %v", err)
	}
	if newMaterial == oldMaterial {
		t.Fatal("reissued key reused material")
	}
	if _, err := reg.Authorize(ctx, newMaterial, apikey.ScopeWrite); err != nil {
		t.Fatalf("Authorize fresh key: %v", err)
	}
}

func TestRotateSwapsMaterialAtomically(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	oldMaterial, _, err := reg.Issue(ctx, "svc-rot", []apikey.Scope{apikey.ScopeRead})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	newMaterial, _, err := reg.Rotate(ctx, "svc-rot")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if newMaterial == oldMaterial {
		t.Fatal("rotation kept old material")
	}

	if _, err := reg.Authorize(ctx, oldMaterial, apikey.ScopeRead); !errors.Is(err, apikey.ErrUnknownKey) {
		t.Fatalf("expected old material unknown, got %v", err)
	}
	if _, err := reg.Authorize(ctx, newMaterial, apikey.ScopeRead); err != nil {
		t.Fatalf("Authorize new material: %v", err)
	}
}

func TestConcurrentRotationsSerialize(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	if _, _, err := reg.Issue(ctx, "svc-race", []apikey.Scope{apikey.ScopeRead}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const rotations = 8
	materials := make([]string, rotations)
	errs := make([]error, rotations)
	var wg sync.WaitGroup
	for i := 0; i < rotations; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			materials[i], _, errs[i] = reg.Rotate(ctx, "svc-race")
		}(i)
	}
	wg.Wait()

	// Losers of the version race fail cleanly; they never corrupt state.
	var valid int
	for i := 0; i < rotations; i++ {
		if errs[i] != nil {
			if !errors.Is(errs[i], apikey.ErrConflict) {
				t.Fatalf("rotation %d: unexpected error %v", i, errs[i])
			}
			continue
		}
		if _, err := reg.Authorize(ctx, materials[i], apikey.ScopeRead); err == nil {
			valid++
		}
	}
	if valid != 1 {
		t.Fatalf("expected exactly one valid material after concurrent rotations, got %d", valid)
	}
}

func TestAuthorizeDenials(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	if _, err := reg.Authorize(ctx, "sk_does-not-exist", apikey.ScopeRead); !errors.Is(err, apikey.ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if _, err := reg.Authorize(ctx, "", apikey.ScopeRead); !errors.Is(err, apikey.ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey for empty material, got %v", err)
	}

	material, _, err := reg.Issue(ctx, "svc-read", []apikey.Scope{apikey.ScopeRead})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := reg.Authorize(ctx, material, apikey.ScopeWrite); !errors.Is(err, apikey.ErrInsufficientScope) {
		t.Fatalf("expected ErrInsufficientScope, got %v", err)
	}
	if _, err := reg.Authorize(ctx, material, apikey.ScopeRead); err != nil {
		t.Fatalf("Authorize read: %v", err)
	}
}

func TestScopesNormalized(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	_, key, err := reg.Issue(ctx, "svc-norm", []apikey.Scope{"Read", "READ", " write "})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(key.Scopes) != 2 {
		t.Fatalf("expected deduplicated scopes, got %v", key.Scopes)
	}
	if !key.HasScope(apikey.ScopeRead) || !key.HasScope(apikey.ScopeWrite) {
		t.Fatalf("normalized scopes missing: %v", key.Scopes)
	}
}
