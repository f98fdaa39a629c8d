package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cases := []struct {
		cfg  Config
		want Driver
	}{
		{Config{FSRoot: filepath.Join(dir, "default")}, DriverFilesystem},
		{Config{Driver: DriverFilesystem, FSRoot: filepath.Join(dir, "fs")}, DriverFilesystem},
		{Config{Driver: DriverMemory}, DriverMemory},
		{Config{Driver: DriverSQLite, SQLitePath: filepath.Join(dir, "blobs.db")}, DriverSQLite},
	}
	for _, c := range cases {
		store, err := Open(ctx, c.cfg)
		if err != nil {
			t.Fatalf("open %q: %v", c.cfg.Driver, err)
		}
		if store.Driver() != c.want {
			t.Fatalf("driver %q: got %q", c.cfg.Driver, store.Driver())
		}
	}
}

func TestOpenRejectsUnknownDriverAndMissingBucket(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(context.Background(), Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

// TestDriversShareSemantics exercises the replace-on-put and not-found contract
// against every driver that runs without external services.
func TestDriversShareSemantics(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	sqliteStore, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	stores := []Store{NewMemory(), fsStore, NewMockS3ForTests(), sqliteStore}
	for _, store := range stores {
		t.Run(string(store.Driver()), func(t *testing.T) {
			if _, _, err := store.Get(ctx, "doctors.txt"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.Put(ctx, "doctors.txt", bytes.NewReader([]byte("v1")), PutOptions{ContentType: "text/plain"}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := store.Put(ctx, "doctors.txt", bytes.NewReader([]byte("version-2")), PutOptions{ContentType: "text/plain"}); err != nil {
				t.Fatalf("replace: %v", err)
			}
			_, rc, err := store.Get(ctx, "doctors.txt")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			data, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil || string(data) != "version-2" {
				t.Fatalf("expected replaced content, got %q (%v)", data, err)
			}
			info, err := store.Head(ctx, "doctors.txt")
			if err != nil || info.Size != int64(len("version-2")) {
				t.Fatalf("head: %+v %v", info, err)
			}
			list, err := store.List(ctx, "doc")
			if err != nil || len(list) != 1 || list[0].Key != "doctors.txt" {
				t.Fatalf("list: %+v %v", list, err)
			}
			if ok, err := store.Delete(ctx, "doctors.txt"); err != nil || !ok {
				t.Fatalf("delete: %v %v", ok, err)
			}
			if ok, err := store.Delete(ctx, "doctors.txt"); err != nil || ok {
				t.Fatalf("second delete should report absence: %v %v", ok, err)
			}
		})
	}
}
