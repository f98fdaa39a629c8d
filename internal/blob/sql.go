package blob

import (
	"context"

	"cliniccore/internal/infra/blob/postgres"
	"cliniccore/internal/infra/blob/sqlite"
)

// NewSQLite constructs a blob.Store persisting rows to the SQLite file at path.
func NewSQLite(ctx context.Context, path string) (Store, error) {
	store, err := sqlite.New(ctx, path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewPostgres constructs a blob.Store persisting rows to the database at dsn.
func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	store, err := postgres.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return store, nil
}
