package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cliniccore/internal/blob"
	"cliniccore/pkg/domain"
)

// flakyBlobs wraps a blob store with switchable failures.
type flakyBlobs struct {
	blob.Store
	failPut bool
	failGet map[string]error
}

func (f *flakyBlobs) Put(ctx context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	if f.failPut {
		return blob.Info{}, errors.New("disk full")
	}
	return f.Store.Put(ctx, key, r, opts)
}

func (f *flakyBlobs) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	if err, ok := f.failGet[key]; ok {
		return blob.Info{}, nil, err
	}
	return f.Store.Get(ctx, key)
}

func seedBlob(t *testing.T, store blob.Store, entity domain.EntityType, lines ...string) {
	t.Helper()
	payload := strings.Join(lines, "\n")
	if _, err := store.Put(context.Background(), entity.BlobKey(), bytes.NewReader([]byte(payload)), blob.PutOptions{}); err != nil {
		t.Fatalf("seed %s: %v", entity, err)
	}
}

func readBlob(t *testing.T, store blob.Store, entity domain.EntityType) string {
	t.Helper()
	_, rc, err := store.Get(context.Background(), entity.BlobKey())
	if err != nil {
		t.Fatalf("read %s: %v", entity, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", entity, err)
	}
	return string(b)
}

func newTestStore(t *testing.T, blobs blob.Store, opts ...Option) *Store {
	t.Helper()
	if blobs == nil {
		blobs = blob.NewMemory()
	}
	store, err := NewStore(context.Background(), blobs, opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}
