// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/voxsync/internal/domain/recordings/model"
	"github.com/ManuGH/voxsync/internal/persistence/sqlite"
)

// createdAtLayout is fixed width so the created_at index orders lexicographically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	path string

	mu     sync.Mutex // serializes Open
	db     *sql.DB
	closed bool
}

// NewSqliteStore returns a store for dbPath. The database is created on Open.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{path: dbPath}
}

// Path returns the database file path.
func (s *SqliteStore) Path() string { return s.path }

func (s *SqliteStore) Open(ctx context.Context) error {
	_, err := s.handle(ctx)
	return err
}

func (s *SqliteStore) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.db != nil {
		return s.db, nil
	}

	db, err := sqlite.Open(ctx, s.path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recording store: migration failed: %w", err)
	}
	s.db = db
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var currentVersion int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= SchemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS recordings (
		id INTEGER PRIMARY KEY,
		filename TEXT NOT NULL,
		payload BLOB NOT NULL,
		mime_type TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		uploaded INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_created_at ON recordings(created_at);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Insert(ctx context.Context, rec model.Record) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM recordings WHERE id = ?", rec.ID).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("insert %d: %w", rec.ID, ErrDuplicateKey)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	payload := rec.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO recordings (id, filename, payload, mime_type, duration_seconds, created_at, size_bytes, uploaded)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, payload, rec.MimeType, rec.DurationSeconds,
		rec.CreatedAt.UTC().Format(createdAtLayout), rec.SizeBytes, boolToInt(rec.Uploaded),
	)
	if err != nil {
		// A concurrent writer may have won between the probe and the insert.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("insert %d: %w", rec.ID, ErrDuplicateKey)
		}
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Update(ctx context.Context, rec model.Record) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	payload := rec.Payload
	if payload == nil {
		payload = []byte{}
	}
	res, err := db.ExecContext(ctx, `
	UPDATE recordings SET filename = ?, payload = ?, mime_type = ?, duration_seconds = ?,
		created_at = ?, size_bytes = ?, uploaded = ?
	WHERE id = ?`,
		rec.Filename, payload, rec.MimeType, rec.DurationSeconds,
		rec.CreatedAt.UTC().Format(createdAtLayout), rec.SizeBytes, boolToInt(rec.Uploaded), rec.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update %d: %w", rec.ID, ErrNotFound)
	}
	return nil
}

const selectColumns = `SELECT id, filename, payload, mime_type, duration_seconds, created_at, size_bytes, uploaded FROM recordings`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.Record, error) {
	var (
		rec       model.Record
		createdAt string
		uploaded  int
	)
	if err := row.Scan(&rec.ID, &rec.Filename, &rec.Payload, &rec.MimeType, &rec.DurationSeconds,
		&createdAt, &rec.SizeBytes, &uploaded); err != nil {
		return model.Record{}, err
	}
	ts, err := time.Parse(createdAtLayout, createdAt)
	if err != nil {
		ts, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return model.Record{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
	}
	rec.CreatedAt = ts
	rec.Uploaded = uploaded != 0
	return rec, nil
}

func (s *SqliteStore) Get(ctx context.Context, id int64) (model.Record, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return model.Record{}, err
	}
	rec, err := scanRecord(db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, fmt.Errorf("get %d: %w", id, ErrNotFound)
	}
	return rec, err
}

func (s *SqliteStore) GetAll(ctx context.Context) ([]model.Record, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, selectColumns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SqliteStore) Delete(ctx context.Context, id int64) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM recordings WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SqliteStore)(nil)
