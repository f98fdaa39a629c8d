// Package postgres provides a Postgres-backed blob store through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"cliniccore/internal/blob/core"
	"cliniccore/internal/infra/blob/sqlblob"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/clinic?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var dialect = sqlblob.Dialect{
	Schema: []string{`CREATE TABLE IF NOT EXISTS clinic_blobs (
		blob_key TEXT PRIMARY KEY,
		payload BYTEA NOT NULL,
		size BIGINT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`},
	Upsert: `INSERT INTO clinic_blobs(blob_key,payload,size,content_type,metadata,etag,updated_at) VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT(blob_key) DO UPDATE SET payload=EXCLUDED.payload, size=EXCLUDED.size, content_type=EXCLUDED.content_type,
		metadata=EXCLUDED.metadata, etag=EXCLUDED.etag, updated_at=EXCLUDED.updated_at`,
	Head:   `SELECT blob_key, size, content_type, metadata, etag, updated_at FROM clinic_blobs WHERE blob_key = $1`,
	Get:    `SELECT blob_key, payload, size, content_type, metadata, etag, updated_at FROM clinic_blobs WHERE blob_key = $1`,
	List:   `SELECT blob_key, size, content_type, metadata, etag, updated_at FROM clinic_blobs ORDER BY blob_key`,
	Delete: `DELETE FROM clinic_blobs WHERE blob_key = $1`,
}

// New opens a Postgres connection using dsn (falls back to defaultDSN), pings
// it and ensures the blob table exists.
func New(ctx context.Context, dsn string) (*sqlblob.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := sqlblob.New(ctx, db, core.DriverPostgres, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
