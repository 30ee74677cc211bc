// SPDX-License-Identifier: MIT

// Package store persists versioned mission notes and provides the atomic
// check-then-write primitive the optimistic concurrency workflow relies on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/missionops/voicesync/internal/domain/notes/model"
	"github.com/missionops/voicesync/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements the durable note store.
type SqliteStore struct {
	DB    *sql.DB
	clock func() time.Time
}

// New initializes the note store on an existing database pool.
func New(db *sql.DB) (*SqliteStore, error) {
	s := &SqliteStore{DB: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("note store: migration failed: %w", err)
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
	return sqlite.Migrate(s.DB, "mission_notes", schemaVersion, func(tx *sql.Tx, current int) error {
		schema := `
		CREATE TABLE IF NOT EXISTS mission_notes (
			mission_id TEXT NOT NULL,
			note_id TEXT NOT NULL,
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			last_writer TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (mission_id, note_id)
		);
		`
		_, err := tx.Exec(schema)
		return err
	})
}

// FetchVersion reads the current version of a note; 0 when it does not exist.
func (s *SqliteStore) FetchVersion(ctx context.Context, missionID, noteID string) (int64, error) {
	var version int64
	err := s.DB.QueryRowContext(ctx,
		"SELECT version FROM mission_notes WHERE mission_id = ? AND note_id = ?",
		missionID, noteID).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("fetch version (%s,%s): %w", missionID, noteID, err)
	}
	return version, nil
}

// GetNote loads the full note, or (nil, nil) when absent.
func (s *SqliteStore) GetNote(ctx context.Context, missionID, noteID string) (*model.Note, error) {
	var note model.Note
	var updatedAt int64
	err := s.DB.QueryRowContext(ctx, `
		SELECT mission_id, note_id, content, version, last_writer, updated_at_ms
		FROM mission_notes WHERE mission_id = ? AND note_id = ?`,
		missionID, noteID).
		Scan(&note.MissionID, &note.NoteID, &note.Content, &note.Version, &note.LastWriter, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get note (%s,%s): %w", missionID, noteID, err)
	}
	note.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &note, nil
}

// ConditionalWrite atomically re-validates the expected version against the
// authoritative value at write time and, if still matching, writes the new
// content and increments the version by exactly 1. A write-time mismatch
// yields a conflict result, never an error. The guard travels in the SQL
// itself (version-conditioned INSERT/UPDATE), so the fetch-to-write race
// window is closed by the database, not by the caller.
func (s *SqliteStore) ConditionalWrite(ctx context.Context, req model.UpdateRequest) (model.UpdateResult, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.UpdateResult{}, fmt.Errorf("conditional write: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.clock()
	var res sql.Result
	if req.ExpectedVersion == 0 {
		// Creation: succeeds only while no row exists.
		res, err = tx.ExecContext(ctx, `
			INSERT INTO mission_notes (mission_id, note_id, content, version, last_writer, updated_at_ms)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(mission_id, note_id) DO NOTHING`,
			req.MissionID, req.NoteID, req.Content, req.WriterID, now.UnixMilli())
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE mission_notes
			SET content = ?, version = version + 1, last_writer = ?, updated_at_ms = ?
			WHERE mission_id = ? AND note_id = ? AND version = ?`,
			req.Content, req.WriterID, now.UnixMilli(),
			req.MissionID, req.NoteID, req.ExpectedVersion)
	}
	if err != nil {
		return model.UpdateResult{}, fmt.Errorf("conditional write (%s,%s): %w", req.MissionID, req.NoteID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return model.UpdateResult{}, fmt.Errorf("conditional write (%s,%s): rows affected: %w", req.MissionID, req.NoteID, err)
	}

	if affected == 0 {
		// Lost the race: report the authoritative version from the same
		// transaction.
		var current int64
		err := tx.QueryRowContext(ctx,
			"SELECT version FROM mission_notes WHERE mission_id = ? AND note_id = ?",
			req.MissionID, req.NoteID).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return model.UpdateResult{}, fmt.Errorf("conditional write (%s,%s): read current: %w", req.MissionID, req.NoteID, err)
		}
		if err := tx.Commit(); err != nil {
			return model.UpdateResult{}, fmt.Errorf("conditional write: commit: %w", err)
		}
		return model.ConflictResult(req.ExpectedVersion, current), nil
	}

	if err := tx.Commit(); err != nil {
		return model.UpdateResult{}, fmt.Errorf("conditional write: commit: %w", err)
	}

	newVersion := req.ExpectedVersion + 1
	return model.UpdateResult{
		Success:         true,
		CurrentVersion:  newVersion,
		ExpectedVersion: req.ExpectedVersion,
		Note: &model.Note{
			MissionID:  req.MissionID,
			NoteID:     req.NoteID,
			Content:    req.Content,
			Version:    newVersion,
			LastWriter: req.WriterID,
			UpdatedAt:  now.UTC(),
		},
	}, nil
}
