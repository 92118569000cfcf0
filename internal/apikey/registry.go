package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"keygate.io/internal/credential"
	"keygate.io/internal/ids"
)

// Registry drives the key lifecycle: issued(active) → rotated(active) →
// deactivated(terminal). A deactivated key is never reactivated; its name is
// reusable only through a fresh Issue.
type Registry struct {
	store      Store
	tokenBytes int
	now        func() time.Time
}

// RegistryOption configures Registry behavior.
type RegistryOption func(*Registry)

// WithTokenBytes overrides the material length. Values below the credential
// package floor are ignored.
func WithTokenBytes(n int) RegistryOption {
	return func(r *Registry) {
		if n >= credential.MinTokenBytes {
			r.tokenBytes = n
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry constructs a Registry over the given store.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:      store,
		tokenBytes: credential.DefaultTokenBytes,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DigestMaterial computes the stored digest of presented key material.
func DigestMaterial(material string) string {
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

func normalizeScopes(scopes []Scope) ([]Scope, error) {
	if len(scopes) == 0 {
		return nil, ErrInvalidScope
	}
	seen := make(map[Scope]struct{}, len(scopes))
	var out []Scope
	for _, s := range scopes {
		s = Scope(strings.TrimSpace(strings.ToLower(string(s))))
		if !s.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, s)
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// Issue creates a new active key and returns the one-time plaintext material
// alongside the stored record. An active key already owning the name fails
// with ErrDuplicateName; rotation is an explicit separate operation.
func (r *Registry) Issue(ctx context.Context, name string, scopes []Scope) (string, *Key, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, errors.New("apikey: name is required")
	}
	normalized, err := normalizeScopes(scopes)
	if err != nil {
		return "", nil, err
	}

	if existing, err := r.store.FindByName(ctx, name); err == nil {
		if existing.Active {
			return "", nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return "", nil, err
	}

	material, err := credential.GenerateToken(r.tokenBytes)
	if err != nil {
		return "", nil, err
	}
	now := r.now().UTC()
	key := &Key{
		ID:             ids.New(),
		Name:           name,
		MaterialDigest: DigestMaterial(material),
		DisplayPrefix:  credential.TokenDisplayPrefix(material),
		Active:         true,
		Scopes:         normalized,
		CreatedAt:      now,
	}
	if err := r.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return material, key, nil
}

// Rotate regenerates material for the named active key. The digest swap is a
// single CAS update: at no point do both the old and the new material
// validate, and at no point does neither.
func (r *Registry) Rotate(ctx context.Context, name string) (string, *Key, error) {
	key, err := r.store.FindByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return "", nil, err
	}
	if !key.Active {
		return "", nil, fmt.Errorf("%w: %s", ErrInactiveKey, name)
	}

	material, err := credential.GenerateToken(r.tokenBytes)
	if err != nil {
		return "", nil, err
	}
	key.MaterialDigest = DigestMaterial(material)
	key.DisplayPrefix = credential.TokenDisplayPrefix(material)
	key.RotatedAt = r.now().UTC()
	if err := r.store.Update(ctx, key); err != nil {
		return "", nil, err
	}
	return material, key, nil
}

// Deactivate is terminal. The record stays behind for the audit trail.
func (r *Registry) Deactivate(ctx context.Context, name string) (*Key, error) {
	key, err := r.store.FindByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if !key.Active {
		return key, nil
	}
	key.Active = false
	if err := r.store.Update(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// List returns all key records, active and deactivated. Digests never leave
// the store layer in responses; the Key JSON shape already hides them.
func (r *Registry) List(ctx context.Context) ([]*Key, error) {
	return r.store.List(ctx)
}

// Authorize resolves presented material and checks the required scope.
// Pure lookup: safe under unbounded read concurrency.
func (r *Registry) Authorize(ctx context.Context, material string, required Scope) (*Key, error) {
	if strings.TrimSpace(material) == "" {
		return nil, ErrUnknownKey
	}
	key, err := r.store.FindByMaterialDigest(ctx, DigestMaterial(material))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownKey
		}
		return nil, err
	}
	if !key.Active {
		return nil, ErrInactiveKey
	}
	if !key.HasScope(required) {
		return nil, fmt.Errorf("%w: need %s", ErrInsufficientScope, required)
	}
	return key, nil
}
