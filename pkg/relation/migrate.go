package relation

import (
	"context"
	"database/sql"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const migrationTable = "schema_migrations"

// applyMigrations executes the embedded *.sql files in name order, each at
// most once.
func applyMigrations(ctx context.Context, db *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return errors.Wrap(err, "read migrations dir")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
    name       TEXT    PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return errors.Wrap(err, "ensure migration table")
	}

	for _, file := range files {
		applied, err := isApplied(ctx, db, file)
		if err != nil {
			return errors.Wrapf(err, "check migration %s", file)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(migrationFS, path.Join(".", file))
		if err != nil {
			return errors.Wrapf(err, "read migration %s", file)
		}
		up := upSection(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrapf(err, "begin migration %s", file)
		}
		if _, err := tx.ExecContext(ctx, up); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "exec migration %s", file)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
			file, toMillis(time.Now()),
		); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "record migration %s", file)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit migration %s", file)
		}
	}

	return nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
func upSection(content string) string {
	const upMarker, downMarker = "-- +migrate Up", "-- +migrate Down"

	upIdx := strings.Index(content, upMarker)
	if upIdx == -1 {
		return content
	}
	content = content[upIdx+len(upMarker):]
	if downIdx := strings.Index(content, downMarker); downIdx != -1 {
		content = content[:downIdx]
	}
	return content
}

func isApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var found int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
