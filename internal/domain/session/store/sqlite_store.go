// SPDX-License-Identifier: MIT

// Package store persists canonical session rows and their append-only
// snapshot history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/missionops/voicesync/internal/domain/session/model"
	"github.com/missionops/voicesync/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements the durable session store.
type SqliteStore struct {
	DB *sql.DB
}

// New initializes the session store on an existing database pool.
func New(db *sql.DB) (*SqliteStore, error) {
	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("session store: migration failed: %w", err)
	}
	return s, nil
}

// Open opens a dedicated pool at dbPath and initializes the store on it.
func Open(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) migrate() error {
	return sqlite.Migrate(s.DB, "sessions", schemaVersion, func(tx *sql.Tx, current int) error {
		schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			is_active INTEGER NOT NULL,
			metadata_json TEXT,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(session_id),
			agent_state TEXT NOT NULL,
			transcript_count INTEGER NOT NULL,
			metadata_json TEXT,
			device_ids_json TEXT,
			created_at_ms INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_session_created
			ON session_snapshots(session_id, created_at_ms DESC);
		`
		_, err := tx.Exec(schema)
		return err
	})
}

// InsertSession creates the canonical row for a brand-new session.
func (s *SqliteStore) InsertSession(ctx context.Context, row model.Row) error {
	metaJSON, _ := json.Marshal(row.Metadata)
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, is_active, metadata_json, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.UserID, boolToInt(row.IsActive), metaJSON,
		row.CreatedAt.UnixMilli(), row.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", row.SessionID, err)
	}
	return nil
}

// GetSession loads the canonical row, or (nil, nil) when absent.
func (s *SqliteStore) GetSession(ctx context.Context, sessionID string) (*model.Row, error) {
	var row model.Row
	var metaJSON []byte
	var isActive int
	var createdAt, updatedAt int64

	err := s.DB.QueryRowContext(ctx, `
		SELECT session_id, user_id, is_active, metadata_json, created_at_ms, updated_at_ms
		FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&row.SessionID, &row.UserID, &isActive, &metaJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	row.IsActive = isActive != 0
	_ = json.Unmarshal(metaJSON, &row.Metadata)
	row.CreatedAt = time.UnixMilli(createdAt).UTC()
	row.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &row, nil
}

// DeactivateSession marks the canonical row inactive.
func (s *SqliteStore) DeactivateSession(ctx context.Context, sessionID string, now time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active = 0, updated_at_ms = ? WHERE session_id = ?",
		now.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("deactivate session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// TouchSession bumps the canonical row's updated_at and active flag.
func (s *SqliteStore) TouchSession(ctx context.Context, sessionID string, active bool, now time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active = ?, updated_at_ms = ? WHERE session_id = ?",
		boolToInt(active), now.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}

// AppendSnapshot appends one immutable snapshot. Snapshots are never
// updated or deleted.
func (s *SqliteStore) AppendSnapshot(ctx context.Context, snap model.Snapshot) error {
	metaJSON, _ := json.Marshal(snap.Metadata)
	devicesJSON, _ := json.Marshal(snap.DeviceIDs)
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO session_snapshots
			(session_id, agent_state, transcript_count, metadata_json, device_ids_json, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.SessionID, string(snap.AgentState), snap.TranscriptCount,
		metaJSON, devicesJSON, snap.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append snapshot for %s: %w", snap.SessionID, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot by creation time, or
// (nil, nil) when the session has no snapshot history.
func (s *SqliteStore) LatestSnapshot(ctx context.Context, sessionID string) (*model.Snapshot, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT session_id, agent_state, transcript_count, metadata_json, device_ids_json, created_at_ms
		FROM session_snapshots WHERE session_id = ?
		ORDER BY created_at_ms DESC, id DESC LIMIT 1`, sessionID)

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest snapshot for %s: %w", sessionID, err)
	}
	return snap, nil
}

// ListSnapshots returns up to limit snapshots, most recent first.
func (s *SqliteStore) ListSnapshots(ctx context.Context, sessionID string, limit int) ([]model.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, agent_state, transcript_count, metadata_json, device_ids_json, created_at_ms
		FROM session_snapshots WHERE session_id = ?
		ORDER BY created_at_ms DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func scanSnapshot(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Snapshot, error) {
	var snap model.Snapshot
	var agentState string
	var metaJSON, devicesJSON []byte
	var createdAt int64

	err := scanner.Scan(&snap.SessionID, &agentState, &snap.TranscriptCount,
		&metaJSON, &devicesJSON, &createdAt)
	if err != nil {
		return nil, err
	}

	snap.AgentState = model.AgentState(agentState)
	_ = json.Unmarshal(metaJSON, &snap.Metadata)
	_ = json.Unmarshal(devicesJSON, &snap.DeviceIDs)
	snap.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
