// Package account holds the administrative account model, the
// login-eligibility gate and the idempotent provisioning workflow.
package account

import (
	"context"
	"errors"
	"time"
)

// Role enumerates account roles.
type Role string

const (
	RoleStandard   Role = "standard-user"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super-admin"
)

// Valid reports whether the role belongs to the recognized vocabulary.
func (r Role) Valid() bool {
	switch r {
	case RoleStandard, RoleManager, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Lifecycle statuses. The set is extensible on the persistence side; the
// gate only ever treats StatusActive (or an empty value) as usable.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusPending   = "pending"
	StatusDeleted   = "deleted"
)

// Account is an in-memory copy of a persisted account record, valid for the
// duration of a single decision. Later external mutations are not observed.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	Status       string    `json:"status,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Version backs compare-and-swap updates in the persistence layer.
	Version int64 `json:"-"`
}

var (
	// ErrNotFound is the not-found sentinel returned by stores.
	ErrNotFound = errors.New("account: not found")

	// ErrConflict reports a lost compare-and-swap race.
	ErrConflict = errors.New("account: version conflict")

	// ErrStoreUnavailable wraps transient persistence failures. Never
	// conflated with an authorization or verification denial.
	ErrStoreUnavailable = errors.New("account: store unavailable")
)

// Store is the persistence collaborator contract for accounts. Lookups
// return ErrNotFound rather than nil records; Upsert enforces version CAS
// and returns ErrConflict when the stored version moved.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	Upsert(ctx context.Context, acct *Account) error
}
