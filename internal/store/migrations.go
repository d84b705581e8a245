package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migration is one step of the Area ledger schema, loaded from
// migrations/NNN_description.sql.
type migration struct {
	Version     int
	Description string
	Checksum    string
	Statements  []string
}

// loadMigrations returns the embedded migrations in version order.
// Versions must run 1..n without gaps.
func loadMigrations() ([]migration, error) {
	paths, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, err
	}

	out := make([]migration, 0, len(paths))
	for _, p := range paths {
		num, desc, ok := strings.Cut(strings.TrimSuffix(path.Base(p), ".sql"), "_")
		version, err := strconv.Atoi(num)
		if !ok || err != nil {
			return nil, fmt.Errorf("migration file %s: want NNN_description.sql", p)
		}
		body, err := migrationFiles.ReadFile(p)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{
			Version:     version,
			Description: strings.ReplaceAll(desc, "_", " "),
			Checksum:    hex.EncodeToString(sum[:]),
			Statements:  splitStatements(string(body)),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i, m := range out {
		if m.Version != i+1 {
			return nil, fmt.Errorf("migration versions must be contiguous: expected %d, found %d (%s)", i+1, m.Version, m.Description)
		}
	}
	return out, nil
}

// runMigrations applies pending migrations, one transaction each. An applied
// migration whose file has since changed is refused rather than re-run.
func runMigrations(ctx context.Context, db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS area_schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		checksum    TEXT NOT NULL,
		applied_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create area_schema_migrations: %w", err)
	}

	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if sum, ok := applied[m.Version]; ok {
			if sum != m.Checksum {
				return fmt.Errorf("migration %d (%s) changed after it was applied", m.Version, m.Description)
			}
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func appliedChecksums(ctx context.Context, db *sql.DB) (map[int]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM area_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read area_schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var version int
		var sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, err
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO area_schema_migrations (version, description, checksum) VALUES (?, ?, ?)`,
		m.Version, m.Description, m.Checksum,
	); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}

// SchemaVersion reports the highest applied migration and its description.
// A database that was never migrated reports version 0.
func (s *LibSQLStore) SchemaVersion(ctx context.Context) (int, string, error) {
	var version int
	var desc string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, description FROM area_schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &desc)
	switch {
	case err == sql.ErrNoRows:
		return 0, "", nil
	case err != nil && strings.Contains(err.Error(), "no such table"):
		return 0, "", nil
	case err != nil:
		return 0, "", fmt.Errorf("read schema version: %w", err)
	}
	return version, desc, nil
}

// splitStatements drops "--" comment lines and splits the rest on semicolons.
func splitStatements(script string) []string {
	var code strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		code.WriteString(line)
		code.WriteByte('\n')
	}

	var stmts []string
	for _, raw := range strings.Split(code.String(), ";") {
		if stmt := strings.TrimSpace(raw); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
