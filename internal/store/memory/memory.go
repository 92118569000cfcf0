// Package memory provides in-process implementations of the account and
// apikey store contracts with the same compare-and-swap semantics as the
// PostgreSQL implementation. Used by tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"keygate.io/internal/account"
	"keygate.io/internal/apikey"
)

// AccountStore implements account.Store.
type AccountStore struct {
	mu       sync.RWMutex
	byEmail  map[string]*account.Account
	failNext error
}

// NewAccountStore constructs an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{byEmail: make(map[string]*account.Account)}
}

// FailNext makes the next call return err once. Lets tests exercise the
// store-unavailable path without a network.
func (s *AccountStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *AccountStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

// FindByEmail looks an account up by case-insensitive email.
func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	acct, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

// Upsert inserts or CAS-updates the record keyed by email.
func (s *AccountStore) Upsert(ctx context.Context, acct *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	email := strings.ToLower(acct.Email)
	current, ok := s.byEmail[email]
	if ok {
		if current.Version != acct.Version {
			return account.ErrConflict
		}
	}
	cp := *acct
	cp.Version++
	s.byEmail[email] = &cp
	acct.Version = cp.Version
	return nil
}

// KeyStore implements apikey.Store. Records are keyed by ID so that a
// deactivated key survives name reuse, matching the partial unique index
// on (name) where active in the PostgreSQL schema.
type KeyStore struct {
	mu   sync.RWMutex
	byID map[string]*apikey.Key
}

// NewKeyStore constructs an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{byID: make(map[string]*apikey.Key)}
}

func copyKey(k *apikey.Key) *apikey.Key {
	cp := *k
	cp.Scopes = append([]apikey.Scope(nil), k.Scopes...)
	return &cp
}

// FindByName returns the most recent record owning name, preferring the
// active one.
func (s *KeyStore) FindByName(ctx context.Context, name string) (*apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *apikey.Key
	for _, k := range s.byID {
		if k.Name != name {
			continue
		}
		if k.Active {
			return copyKey(k), nil
		}
		if latest == nil || k.CreatedAt.After(latest.CreatedAt) {
			latest = k
		}
	}
	if latest == nil {
		return nil, apikey.ErrNotFound
	}
	return copyKey(latest), nil
}

// FindByMaterialDigest scans for the record matching digest.
func (s *KeyStore) FindByMaterialDigest(ctx context.Context, digest string) (*apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.byID {
		if k.MaterialDigest == digest {
			return copyKey(k), nil
		}
	}
	return nil, apikey.ErrNotFound
}

// List returns every record, deactivated ones included, ordered by creation.
func (s *KeyStore) List(ctx context.Context) ([]*apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*apikey.Key, 0, len(s.byID))
	for _, k := range s.byID {
		out = append(out, copyKey(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Create inserts a fresh record. An active record under the same name is a
// conflict; deactivated records under that name stay behind untouched.
func (s *KeyStore) Create(ctx context.Context, key *apikey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.byID {
		if k.Name == key.Name && k.Active {
			return apikey.ErrConflict
		}
	}
	cp := copyKey(key)
	cp.Version = 1
	s.byID[key.ID] = cp
	key.Version = 1
	return nil
}

// Update CAS-swaps the stored record in one step.
func (s *KeyStore) Update(ctx context.Context, key *apikey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[key.ID]
	if !ok {
		return apikey.ErrNotFound
	}
	if current.Version != key.Version {
		return apikey.ErrConflict
	}
	cp := copyKey(key)
	cp.Version++
	s.byID[key.ID] = cp
	key.Version = cp.Version
	return nil
}
