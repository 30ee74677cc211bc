// SPDX-License-Identifier: MIT

package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
)

// Migrate brings the schema of one module up to the wanted version.
// Versions are tracked per module in schema_versions so independent stores
// can share a single database file. The apply callback receives the
// transaction and the currently recorded version (0 when the module has
// never been migrated).
func Migrate(db *sql.DB, module string, want int, apply func(tx *sql.Tx, current int) error) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		module TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		migrated_at_ms INTEGER NOT NULL DEFAULT (unixepoch() * 1000)
	)`); err != nil {
		return fmt.Errorf("sqlite: schema_versions: %w", err)
	}

	var current int
	err := db.QueryRow("SELECT version FROM schema_versions WHERE module = ?", module).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: read schema version for %s: %w", module, err)
	}
	if current >= want {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := apply(tx, current); err != nil {
		return fmt.Errorf("sqlite: migrate %s to v%d: %w", module, want, err)
	}

	if _, err := tx.Exec(`INSERT INTO schema_versions (module, version) VALUES (?, ?)
		ON CONFLICT(module) DO UPDATE SET version = excluded.version`, module, want); err != nil {
		return err
	}

	return tx.Commit()
}
