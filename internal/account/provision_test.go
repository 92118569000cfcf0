package account_test

import (
	"context"
	"errors"
	"testing"

	"keygate.io/internal/account"
	"keygate.io/internal/credential"
	"keygate.io/internal/store/memory"
)

func newProvisioner(t *testing.T) (*account.Provisioner, *memory.AccountStore) {
	t.Helper()
	store := memory.NewAccountStore()
	return account.NewProvisioner(store, credential.NewHasher(credential.MinCost)), store
}

func TestEnsureCreatesAccount(t *testing.T) {
	p, store := newProvisioner(t)
	ctx := context.Background()

	acct, created, err := p.Ensure(ctx, account.ProvisionRequest{
		Email:    "Ops@Example.COM",
		Password: "initial-secret-1",
		Role:     account.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	if acct.Email != "ops@example.com" {
		t.Fatalf("email not normalized: %q", acct.Email)
	}
	if !acct.Active || acct.Status != account.StatusActive {
		t.Fatalf("unexpected defaults: active=%v status=%q", acct.Active, acct.Status)
	}
	if acct.PasswordHash == "initial-secret-1" {
		t.Fatal("plaintext persisted")
	}

	stored, err := store.FindByEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	ok, err := credential.NewHasher(0).Verify("initial-secret-1", stored.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("stored digest does not verify: ok=%v err=%v", ok, err)
	}
}

func TestEnsureRerunRotatesOnlyPassword(t *testing.T) {
	p, store := newProvisioner(t)
	ctx := context.Background()

	first, _, err := p.Ensure(ctx, account.ProvisionRequest{
		Email:    "manager@example.com",
		Password: "first-secret",
		Role:     account.RoleManager,
	})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	// Simulate an operator having suspended the account in the meantime.
	suspended, _ := store.FindByEmail(ctx, "manager@example.com")
	suspended.Status = account.StatusSuspended
	if err := store.Upsert(ctx, suspended); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	second, created, err := p.Ensure(ctx, account.ProvisionRequest{
		Email:    "manager@example.com",
		Password: "second-secret",
		Role:     account.RoleSuperAdmin, // not forced, must not apply
	})
	if err != nil {
		t.Fatalf("Ensure rerun: %v", err)
	}
	if created {
		t.Fatal("expected created=false on rerun")
	}
	if second.Role != account.RoleManager {
		t.Fatalf("role changed without ForceRole: %s", second.Role)
	}
	if second.Status != account.StatusSuspended {
		t.Fatalf("status changed without ForceStatus: %s", second.Status)
	}
	if second.PasswordHash == first.PasswordHash {
		t.Fatal("password hash was not rotated")
	}

	h := credential.NewHasher(0)
	if ok, _ := h.Verify("second-secret", second.PasswordHash); !ok {
		t.Fatal("new password does not verify")
	}
	if ok, _ := h.Verify("first-secret", second.PasswordHash); ok {
		t.Fatal("old password still verifies")
	}
}

func TestEnsureForcedRoleAndStatus(t *testing.T) {
	p, _ := newProvisioner(t)
	ctx := context.Background()

	if _, _, err := p.Ensure(ctx, account.ProvisionRequest{
		Email:    "promote@example.com",
		Password: "secret-one",
		Role:     account.RoleStandard,
	}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	acct, _, err := p.Ensure(ctx, account.ProvisionRequest{
		Email:       "promote@example.com",
		Password:    "secret-two",
		Role:        account.RoleAdmin,
		ForceRole:   true,
		Status:      account.StatusPending,
		ForceStatus: true,
	})
	if err != nil {
		t.Fatalf("Ensure forced: %v", err)
	}
	if acct.Role != account.RoleAdmin {
		t.Fatalf("ForceRole not applied: %s", acct.Role)
	}
	if acct.Status != account.StatusPending {
		t.Fatalf("ForceStatus not applied: %s", acct.Status)
	}
}

func TestEnsureInputValidation(t *testing.T) {
	p, _ := newProvisioner(t)
	ctx := context.Background()

	if _, _, err := p.Ensure(ctx, account.ProvisionRequest{Password: "x-secret", Role: account.RoleAdmin}); err == nil {
		t.Fatal("expected error for missing email")
	}
	if _, _, err := p.Ensure(ctx, account.ProvisionRequest{Email: "a@b.c", Role: account.RoleAdmin}); err == nil {
		t.Fatal("expected error for missing password")
	}
	if _, _, err := p.Ensure(ctx, account.ProvisionRequest{Email: "a@b.c", Password: "x-secret", Role: "owner"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestEnsurePropagatesStoreFailure(t *testing.T) {
	p, store := newProvisioner(t)
	ctx := context.Background()

	store.FailNext(account.ErrStoreUnavailable)
	if _, _, err := p.Ensure(ctx, account.ProvisionRequest{
		Email:    "down@example.com",
		Password: "whatever-secret",
		Role:     account.RoleAdmin,
	}); !errors.Is(err, account.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
