// Package apikey owns issuance, rotation and authorization of
// service-to-service API keys.
package apikey

import (
	"context"
	"errors"
	"time"
)

// Scope is a coarse permission token. Inter-service trust is deliberately
// not a per-resource ACL: the vocabulary is closed and the check is set
// membership.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// Valid reports whether the scope belongs to the recognized vocabulary.
func (s Scope) Valid() bool {
	switch s {
	case ScopeRead, ScopeWrite, ScopeAdmin:
		return true
	}
	return false
}

// Key is a persisted service API key. Material is stored only as a SHA-256
// digest; the plaintext exists exactly once, in the Issue/Rotate response.
type Key struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	MaterialDigest string    `json:"-"`
	DisplayPrefix  string    `json:"display_prefix,omitempty"`
	Active         bool      `json:"active"`
	Scopes         []Scope   `json:"scopes"`
	CreatedAt      time.Time `json:"created_at"`
	RotatedAt      time.Time `json:"rotated_at,omitempty"`

	// Version backs compare-and-swap updates in the persistence layer.
	Version int64 `json:"-"`
}

// HasScope reports whether the key grants the required scope.
func (k *Key) HasScope(required Scope) bool {
	for _, s := range k.Scopes {
		if s == required {
			return true
		}
	}
	return false
}

var (
	// Caller-input errors, rejected before any mutation.
	ErrDuplicateName = errors.New("apikey: active key with that name already exists")
	ErrInvalidScope  = errors.New("apikey: scopes must be a non-empty subset of read/write/admin")

	// Authorization denials. Externally collapsed into a uniform
	// unauthorized response; logged internally with full detail.
	ErrUnknownKey        = errors.New("apikey: unknown key")
	ErrInactiveKey       = errors.New("apikey: key deactivated")
	ErrInsufficientScope = errors.New("apikey: insufficient scope")

	// Store sentinels.
	ErrNotFound         = errors.New("apikey: not found")
	ErrConflict         = errors.New("apikey: version conflict")
	ErrStoreUnavailable = errors.New("apikey: store unavailable")
)

// Store is the persistence collaborator contract for keys. Lookups return
// ErrNotFound rather than nil records. Update enforces version CAS and
// returns ErrConflict when the stored version moved, which is what makes
// rotation a single atomic swap of material.
type Store interface {
	FindByName(ctx context.Context, name string) (*Key, error)
	FindByMaterialDigest(ctx context.Context, digest string) (*Key, error)
	List(ctx context.Context) ([]*Key, error)
	Create(ctx context.Context, key *Key) error
	Update(ctx context.Context, key *Key) error
}
