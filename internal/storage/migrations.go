package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSchemaDrift is returned when an applied migration file was edited after
// it ran.
var ErrSchemaDrift = errors.New("applied migration changed on disk")

// schemaMigration is one embedded SQL file. Files are named NNN_label.sql and
// applied in version order.
type schemaMigration struct {
	version  int
	name     string
	sql      string
	checksum string
}

// RunMigrations brings the schema up to date. Each pending file runs in its own
// transaction together with its bookkeeping row, so a failed file leaves no
// partial schema behind.
func RunMigrations(ctx context.Context, db *DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return errors.Wrap(err, "creating schema_migrations")
	}

	pending, err := loadMigrations(migrationsFS)
	if err != nil {
		return err
	}
	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if sum, ok := applied[m.version]; ok {
			if sum != m.checksum {
				return errors.Wrapf(ErrSchemaDrift, "%s", m.name)
			}
			continue
		}

		err := db.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return errors.Wrap(err, "executing SQL")
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
				m.version, m.name, m.checksum)
			return errors.Wrap(err, "recording migration")
		})
		if err != nil {
			return errors.Wrapf(err, "applying %s", m.name)
		}
		logger.Info("migration applied", "version", m.version, "name", m.name)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version, 0 when none.
func SchemaVersion(ctx context.Context, db *DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, errors.Wrap(err, "reading schema version")
	}
	return int(version.Int64), nil
}

func appliedChecksums(ctx context.Context, db *DB) (map[int]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "listing applied migrations")
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var version int
		var sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, errors.Wrap(err, "scanning applied migration")
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

func loadMigrations(fsys fs.FS) ([]schemaMigration, error) {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, errors.Wrap(err, "listing migrations")
	}

	out := make([]schemaMigration, 0, len(files))
	seen := make(map[int]string)
	for _, file := range files {
		name := path.Base(file)
		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, errors.Newf("migration %s: name must start with a positive version", name)
		}
		if other, dup := seen[version]; dup {
			return nil, errors.Newf("migrations %s and %s share version %d", other, name, version)
		}
		seen[version] = name

		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", name)
		}
		sum := sha256.Sum256(body)
		out = append(out, schemaMigration{
			version:  version,
			name:     name,
			sql:      string(body),
			checksum: hex.EncodeToString(sum[:]),
		})
	}

	slices.SortFunc(out, func(a, b schemaMigration) int { return a.version - b.version })
	return out, nil
}
