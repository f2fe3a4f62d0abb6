package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Recording is an indexed artifact plus its transcription
type Recording struct {
	Artifact
	Transcription string `json:"transcription,omitempty"`
}

// Index keeps a SQLite catalog of received recordings (WAL mode)
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the index at path and applies the schema
func OpenIndex(path string) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ddlRecordings); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: migrate: %w", err)
	}
	return &Index{db: db}, nil
}

const ddlRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
    id            TEXT    PRIMARY KEY,
    name          TEXT    NOT NULL UNIQUE,
    path          TEXT    NOT NULL,
    size_bytes    INTEGER NOT NULL DEFAULT 0,
    received_at   INTEGER NOT NULL,          -- Unix milliseconds
    transcription TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_recordings_received_at ON recordings (received_at DESC);
`

// Close closes the database
func (x *Index) Close() error {
	return x.db.Close()
}

// Add records a finished artifact. Re-adding the same name updates the row.
func (x *Index) Add(a Artifact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := x.db.Exec(`
INSERT INTO recordings (id, name, path, size_bytes, received_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET path = excluded.path, size_bytes = excluded.size_bytes, received_at = excluded.received_at`,
		a.ID.String(), a.Name, a.Path, a.Size, a.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("index: add %s: %w", a.Name, err)
	}
	return nil
}

// List returns every indexed recording, newest first
func (x *Index) List() ([]Recording, error) {
	rows, err := x.db.Query(`
SELECT id, name, path, size_bytes, received_at, transcription
FROM recordings ORDER BY received_at DESC, name DESC`)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns one recording by name
func (x *Index) Get(name string) (Recording, error) {
	row := x.db.QueryRow(`
SELECT id, name, path, size_bytes, received_at, transcription
FROM recordings WHERE name = ?`, name)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, err
}

// StoreTranscription attaches text to a recording
func (x *Index) StoreTranscription(name, text string) error {
	res, err := x.db.Exec(`UPDATE recordings SET transcription = ? WHERE name = ?`, text, name)
	if err != nil {
		return fmt.Errorf("index: transcription %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Delete removes one row
func (x *Index) Delete(name string) error {
	res, err := x.db.Exec(`DELETE FROM recordings WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("index: delete %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// EraseAll removes every row and returns how many were removed
func (x *Index) EraseAll() (int, error) {
	res, err := x.db.Exec(`DELETE FROM recordings`)
	if err != nil {
		return 0, fmt.Errorf("index: erase: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecording(s scanner) (Recording, error) {
	var (
		rec        Recording
		id         string
		receivedAt int64
	)
	if err := s.Scan(&id, &rec.Name, &rec.Path, &rec.Size, &receivedAt, &rec.Transcription); err != nil {
		return Recording{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Recording{}, fmt.Errorf("index: bad id %q: %w", id, err)
	}
	rec.ID = parsed
	rec.CreatedAt = time.UnixMilli(receivedAt)
	return rec, nil
}
