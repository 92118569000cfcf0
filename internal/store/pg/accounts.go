package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"keygate.io/internal/account"
)

// AccountStore implements account.Store on PostgreSQL.
type AccountStore struct {
	db *sql.DB
}

var _ account.Store = (*AccountStore)(nil)

// NewAccountStore constructs an AccountStore over db.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `id, email, display_name, password_hash, role, active, status, tenant_id, created_at, updated_at, version`

func scanAccount(row interface{ Scan(...any) error }) (*account.Account, error) {
	var (
		a      account.Account
		status sql.NullString
		tenant sql.NullString
	)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.Role,
		&a.Active, &status, &tenant, &a.CreatedAt, &a.UpdatedAt, &a.Version)
	if err != nil {
		return nil, err
	}
	a.Status = status.String
	a.TenantID = tenant.String
	return &a, nil
}

// FindByEmail fetches an account by case-insensitive email.
func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email = lower($1)`,
		strings.TrimSpace(email))
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return acct, nil
}

// Upsert inserts a fresh record or swaps an existing one under version CAS.
// A lost race surfaces as ErrConflict and leaves the stored record intact.
func (s *AccountStore) Upsert(ctx context.Context, acct *account.Account) error {
	if acct.Version == 0 {
		err := s.db.QueryRowContext(ctx, `
			insert into accounts(id, email, display_name, password_hash, role, active, status, tenant_id, created_at, updated_at, version)
			values ($1, lower($2), $3, $4, $5, $6, nullif($7,''), nullif($8,''), $9, $10, 1)
			returning version`,
			acct.ID, acct.Email, acct.DisplayName, acct.PasswordHash, acct.Role,
			acct.Active, acct.Status, acct.TenantID, acct.CreatedAt, acct.UpdatedAt,
		).Scan(&acct.Version)
		if err != nil {
			// Two concurrent inserts of the same email race on the unique
			// index; the loser is a caller conflict, not an outage.
			if isUniqueViolation(err) {
				return account.ErrConflict
			}
			return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		update accounts
		set display_name=$1, password_hash=$2, role=$3, active=$4,
		    status=nullif($5,''), tenant_id=nullif($6,''), updated_at=$7, version=version+1
		where email = lower($8) and version = $9`,
		acct.DisplayName, acct.PasswordHash, acct.Role, acct.Active,
		acct.Status, acct.TenantID, acct.UpdatedAt, acct.Email, acct.Version,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	if aff == 0 {
		return account.ErrConflict
	}
	acct.Version++
	return nil
}
