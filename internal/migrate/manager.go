package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	migrationsJournal = "keygate_schema_migrations"
	seedsJournal      = "keygate_schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Manager applies SQL migrations and seed files from flat directories.
// Each file runs inside its own transaction and is journaled by base name,
// so reruns are idempotent.
type Manager struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
}

// NewManager constructs a Manager over db reading migrations and seeds
// from the given directories.
func NewManager(db *sql.DB, migrationsDir, seedsDir string) *Manager {
	return &Manager{db: db, migrationsDir: migrationsDir, seedsDir: seedsDir}
}

// Up applies all migrations not yet recorded in the journal, in
// lexicographic order of file name.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureJournals(ctx); err != nil {
		return err
	}
	applied, err := m.appliedSet(ctx, migrationsJournal)
	if err != nil {
		return err
	}
	files, err := listSQL(m.migrationsDir, upSuffix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if applied[f.name] {
			continue
		}
		if err := m.runFile(ctx, f.path); err != nil {
			return fmt.Errorf("apply %s: %w", f.name, err)
		}
		if err := m.journal(ctx, migrationsJournal, f.name); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration using its .down.sql
// counterpart.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureJournals(ctx); err != nil {
		return err
	}
	applied, err := m.appliedList(ctx, migrationsJournal)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("nothing to roll back")
	}
	last := applied[len(applied)-1]
	down := filepath.Join(m.migrationsDir, strings.TrimSuffix(last, upSuffix)+downSuffix)
	if _, err := os.Stat(down); err != nil {
		return fmt.Errorf("no down migration for %s", last)
	}
	if err := m.runFile(ctx, down); err != nil {
		return fmt.Errorf("roll back %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, migrationsJournal), last)
	return err
}

// Seed applies seed files once each; already-journaled seeds are skipped.
func (m *Manager) Seed(ctx context.Context) error {
	if err := m.ensureJournals(ctx); err != nil {
		return err
	}
	applied, err := m.appliedSet(ctx, seedsJournal)
	if err != nil {
		return err
	}
	files, err := listSQL(m.seedsDir, ".sql")
	if err != nil {
		return err
	}
	for _, f := range files {
		if applied[f.name] {
			continue
		}
		if err := m.runFile(ctx, f.path); err != nil {
			return fmt.Errorf("apply seed %s: %w", f.name, err)
		}
		if err := m.journal(ctx, seedsJournal, f.name); err != nil {
			return err
		}
	}
	return nil
}

// Status reports applied migrations in order, then any pending ones
// prefixed with "pending:".
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureJournals(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedList(ctx, migrationsJournal)
	if err != nil {
		return nil, err
	}
	files, err := listSQL(m.migrationsDir, upSuffix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(applied))
	out := make([]string, 0, len(files))
	for _, name := range applied {
		seen[name] = true
		out = append(out, name)
	}
	for _, f := range files {
		if !seen[f.name] {
			out = append(out, "pending: "+f.name)
		}
	}
	return out, nil
}

func (m *Manager) ensureJournals(ctx context.Context) error {
	for _, table := range []string{migrationsJournal, seedsJournal} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			);`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) runFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) journal(ctx context.Context, table, name string) error {
	_, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

func (m *Manager) appliedSet(ctx context.Context, table string) (map[string]bool, error) {
	names, err := m.appliedList(ctx, table)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

func (m *Manager) appliedList(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type sqlFile struct {
	name string
	path string
}

// listSQL returns files in dir (non-recursive) with the given suffix,
// sorted by name. A missing directory is treated as empty.
func listSQL(dir, suffix string) ([]sqlFile, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []sqlFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, sqlFile{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// splitStatements splits a script on semicolons outside single-quoted
// strings, dropping line comments and blank statements. It does not
// handle dollar-quoted bodies; keep functions out of migration files.
func splitStatements(script string) []string {
	var stmts []string
	var cur strings.Builder
	inString := false
	lines := strings.Split(script, "\n")
	for _, line := range lines {
		if !inString && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch r {
			case '\'':
				inString = !inString
				cur.WriteRune(r)
			case ';':
				if inString {
					cur.WriteRune(r)
					continue
				}
				if s := strings.TrimSpace(cur.String()); s != "" {
					stmts = append(stmts, s)
				}
				cur.Reset()
			default:
				cur.WriteRune(r)
			}
		}
		cur.WriteRune('\n')
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}
