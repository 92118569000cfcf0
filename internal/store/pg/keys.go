package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"keygate.io/internal/apikey"
)

// KeyStore implements apikey.Store on PostgreSQL. A partial unique index on
// (name) where active enforces single active ownership of a name; rotation
// is one CAS update of the material digest, never delete-then-insert.
type KeyStore struct {
	db *sql.DB
}

var _ apikey.Store = (*KeyStore)(nil)

// NewKeyStore constructs a KeyStore over db.
func NewKeyStore(db *sql.DB) *KeyStore {
	return &KeyStore{db: db}
}

const keyColumns = `id, name, material_digest, display_prefix, active, scopes, created_at, rotated_at, version`

func scanKey(row interface{ Scan(...any) error }) (*apikey.Key, error) {
	var (
		k         apikey.Key
		scopesRaw []byte
		rotatedAt sql.NullTime
	)
	err := row.Scan(&k.ID, &k.Name, &k.MaterialDigest, &k.DisplayPrefix,
		&k.Active, &scopesRaw, &k.CreatedAt, &rotatedAt, &k.Version)
	if err != nil {
		return nil, err
	}
	if rotatedAt.Valid {
		k.RotatedAt = rotatedAt.Time
	}
	if err := json.Unmarshal(scopesRaw, &k.Scopes); err != nil {
		return nil, fmt.Errorf("decode scopes for key %s: %w", k.Name, err)
	}
	return &k, nil
}

func (s *KeyStore) findBy(ctx context.Context, where string, arg any) (*apikey.Key, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+keyColumns+` from service_api_keys where `+where+` order by created_at desc limit 1`, arg)
	key, err := scanKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apikey.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", apikey.ErrStoreUnavailable, err)
	}
	return key, nil
}

// FindByName returns the most recent record owning name.
func (s *KeyStore) FindByName(ctx context.Context, name string) (*apikey.Key, error) {
	return s.findBy(ctx, `name = $1`, strings.TrimSpace(name))
}

// FindByMaterialDigest resolves a presented key by its digest. Pure indexed
// lookup; safe under unbounded read concurrency.
func (s *KeyStore) FindByMaterialDigest(ctx context.Context, digest string) (*apikey.Key, error) {
	return s.findBy(ctx, `material_digest = $1`, digest)
}

// List returns every key record ordered by creation.
func (s *KeyStore) List(ctx context.Context) ([]*apikey.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+keyColumns+` from service_api_keys order by created_at asc`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apikey.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var keys []*apikey.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apikey.ErrStoreUnavailable, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apikey.ErrStoreUnavailable, err)
	}
	return keys, nil
}

// Create inserts a fresh key record.
func (s *KeyStore) Create(ctx context.Context, key *apikey.Key) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx, `
		insert into service_api_keys(id, name, material_digest, display_prefix, active, scopes, created_at, version)
		values ($1,$2,$3,$4,$5,$6,$7,1)
		returning version`,
		key.ID, key.Name, key.MaterialDigest, key.DisplayPrefix, key.Active, scopes, key.CreatedAt,
	).Scan(&key.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return apikey.ErrConflict
		}
		return fmt.Errorf("%w: %v", apikey.ErrStoreUnavailable, err)
	}
	return nil
}

// Update swaps the stored record under version CAS. Zero rows affected means
// a concurrent writer won; the caller sees ErrConflict and nothing half-written.
func (s *KeyStore) Update(ctx context.Context, key *apikey.Key) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update service_api_keys
		set material_digest=$1, display_prefix=$2, active=$3, scopes=$4,
		    rotated_at=$5, version=version+1
		where id=$6 and version=$7`,
		key.MaterialDigest, key.DisplayPrefix, key.Active, scopes,
		nullTime(key), key.ID, key.Version,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apikey.ErrStoreUnavailable, err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", apikey.ErrStoreUnavailable, err)
	}
	if aff == 0 {
		return apikey.ErrConflict
	}
	key.Version++
	return nil
}

func nullTime(key *apikey.Key) sql.NullTime {
	if key.RotatedAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: key.RotatedAt, Valid: true}
}

// isUniqueViolation matches the PostgreSQL unique_violation SQLSTATE without
// depending on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
