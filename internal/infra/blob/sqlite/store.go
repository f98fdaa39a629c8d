// Package sqlite provides a SQLite-backed blob store using the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"cliniccore/internal/blob/core"
	"cliniccore/internal/infra/blob/sqlblob"
)

const defaultPath = "clinic.db"

var dialect = sqlblob.Dialect{
	Schema: []string{`CREATE TABLE IF NOT EXISTS clinic_blobs (
		blob_key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		size INTEGER NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`},
	Upsert: `INSERT INTO clinic_blobs(blob_key,payload,size,content_type,metadata,etag,updated_at) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(blob_key) DO UPDATE SET payload=excluded.payload, size=excluded.size, content_type=excluded.content_type,
		metadata=excluded.metadata, etag=excluded.etag, updated_at=excluded.updated_at`,
	Head:   `SELECT blob_key, size, content_type, metadata, etag, updated_at FROM clinic_blobs WHERE blob_key = ?`,
	Get:    `SELECT blob_key, payload, size, content_type, metadata, etag, updated_at FROM clinic_blobs WHERE blob_key = ?`,
	List:   `SELECT blob_key, size, content_type, metadata, etag, updated_at FROM clinic_blobs ORDER BY blob_key`,
	Delete: `DELETE FROM clinic_blobs WHERE blob_key = ?`,
}

// New opens (creating if needed) the database at path and returns a blob store.
func New(ctx context.Context, path string) (*sqlblob.Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers for file-backed databases.
	db.SetMaxOpenConns(1)
	store, err := sqlblob.New(ctx, db, core.DriverSQLite, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
