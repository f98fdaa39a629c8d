// Package sqlblob implements core.Store on top of database/sql. Dialect
// packages (sqlite, postgres) supply the statements and driver registration.
package sqlblob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"cliniccore/internal/blob/core"
)

// Dialect carries the statements for one SQL engine. Statements take
// positional arguments in the order documented per field.
type Dialect struct {
	// Schema statements run once on construction.
	Schema []string
	// Upsert(key, payload, size, content_type, metadata, etag, updated_at).
	Upsert string
	// Head(key) selects key, size, content_type, metadata, etag, updated_at.
	Head string
	// Get(key) selects key, payload, size, content_type, metadata, etag, updated_at.
	Get string
	// List selects the Head columns for every row.
	List string
	// Delete(key).
	Delete string
}

// Store persists blobs as rows of a single table.
type Store struct {
	db      *sql.DB
	driver  core.Driver
	dialect Dialect
	nowFn   func() time.Time
}

// New applies the dialect schema and returns a Store over db.
func New(ctx context.Context, db *sql.DB, driver core.Driver, d Dialect) (*Store, error) {
	for _, stmt := range d.Schema {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply %s blob schema: %w", driver, err)
		}
	}
	return &Store{db: db, driver: driver, dialect: d, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Driver() core.Driver { return s.driver }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	if payload == nil {
		payload = []byte{}
	}
	meta, err := encodeMetadata(opts.Metadata)
	if err != nil {
		return core.Info{}, err
	}
	sum := sha256.Sum256(payload)
	info := core.Info{
		Key:          key,
		Size:         int64(len(payload)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     core.CloneMetadata(opts.Metadata),
		LastModified: s.nowFn(),
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.Upsert,
		key, payload, info.Size, info.ContentType, meta, info.ETag, info.LastModified.UnixNano()); err != nil {
		return core.Info{}, fmt.Errorf("upsert blob %s: %w", key, err)
	}
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	var (
		r       row
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Get, key).
		Scan(&r.key, &payload, &r.size, &r.contentType, &r.metadata, &r.etag, &r.updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("select blob %s: %w", key, err)
	}
	info, err := r.info()
	if err != nil {
		return core.Info{}, nil, err
	}
	return info, io.NopCloser(bytes.NewReader(payload)), nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	var r row
	err := s.db.QueryRowContext(ctx, s.dialect.Head, key).
		Scan(&r.key, &r.size, &r.contentType, &r.metadata, &r.etag, &r.updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("select blob %s: %w", key, err)
	}
	return r.info()
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Delete, key)
	if err != nil {
		return false, fmt.Errorf("delete blob %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete blob %s: %w", key, err)
	}
	return n > 0, nil
}

// List returns rows whose key starts with prefix. Filtering happens in Go so
// keys containing LIKE wildcards need no escaping.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.List)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var infos []core.Info
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.size, &r.contentType, &r.metadata, &r.etag, &r.updated); err != nil {
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		if !strings.HasPrefix(r.key, prefix) {
			continue
		}
		info, err := r.info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blobs: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

type row struct {
	key         string
	size        int64
	contentType string
	metadata    string
	etag        string
	updated     int64
}

func (r row) info() (core.Info, error) {
	md, err := decodeMetadata(r.metadata)
	if err != nil {
		return core.Info{}, fmt.Errorf("blob %s: %w", r.key, err)
	}
	return core.Info{
		Key:          r.key,
		Size:         r.size,
		ContentType:  r.contentType,
		ETag:         r.etag,
		Metadata:     md,
		LastModified: time.Unix(0, r.updated).UTC(),
	}, nil
}

func encodeMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}
