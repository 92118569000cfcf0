package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"keygate.io/internal/credential"
	"keygate.io/internal/ids"
)

// ProvisionRequest describes one create-or-update pass for an account.
// Role and Status are only written to an existing record when the matching
// Force flag is set; a plain re-run rotates the password hash and nothing
// else.
type ProvisionRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        Role
	TenantID    string

	ForceRole   bool
	Status      string
	ForceStatus bool
}

// Provisioner performs idempotent account upserts.
type Provisioner struct {
	store  Store
	hasher credential.Hasher
	now    func() time.Time
}

// NewProvisioner constructs a Provisioner.
func NewProvisioner(store Store, hasher credential.Hasher) *Provisioner {
	return &Provisioner{store: store, hasher: hasher, now: time.Now}
}

// Ensure creates the account if absent or rotates its password hash if
// present. After the write it re-fetches the record and verifies the intended
// plaintext against the stored digest; silent persistence corruption fails
// the call instead of going unnoticed.
func (p *Provisioner) Ensure(ctx context.Context, req ProvisionRequest) (*Account, bool, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" {
		return nil, false, errors.New("account: email is required")
	}
	if req.Password == "" {
		return nil, false, errors.New("account: password is required")
	}
	if !req.Role.Valid() {
		return nil, false, fmt.Errorf("account: unknown role %q", req.Role)
	}

	digest, err := p.hasher.Hash(req.Password)
	if err != nil {
		return nil, false, err
	}

	existing, err := p.store.FindByEmail(ctx, email)
	created := false
	switch {
	case err == nil:
		existing.PasswordHash = digest
		existing.UpdatedAt = p.now().UTC()
		if req.ForceRole {
			existing.Role = req.Role
		}
		if req.ForceStatus {
			existing.Status = req.Status
		}
		if err := p.store.Upsert(ctx, existing); err != nil {
			return nil, false, err
		}
	case errors.Is(err, ErrNotFound):
		created = true
		now := p.now().UTC()
		status := StatusActive
		if req.ForceStatus {
			status = req.Status
		}
		fresh := &Account{
			ID:           ids.New(),
			Email:        email,
			DisplayName:  req.DisplayName,
			PasswordHash: digest,
			Role:         req.Role,
			Active:       true,
			Status:       status,
			TenantID:     req.TenantID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := p.store.Upsert(ctx, fresh); err != nil {
			return nil, false, err
		}
	default:
		return nil, false, err
	}

	stored, err := p.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("account: re-fetch after write: %w", err)
	}
	ok, err := p.hasher.Verify(req.Password, stored.PasswordHash)
	if err != nil {
		return nil, false, fmt.Errorf("account: post-write verification: %w", err)
	}
	if !ok {
		return nil, false, errors.New("account: stored digest does not match provisioned password")
	}
	return stored, created, nil
}
