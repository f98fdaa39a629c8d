package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var stubSeq atomic.Int64

var blobColumns = []string{"blob_key", "payload", "size", "content_type", "metadata", "etag", "updated_at"}

// stubConn emulates the clinic_blobs table for the statements issued by sqlblob.
type stubConn struct {
	mu       sync.Mutex
	execs    []string
	rows     map[string]map[string]driver.Value
	failPing bool
	failExec bool
}

func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{rows: make(map[string]map[string]driver.Value)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *stubConn }

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, fmt.Errorf("not implemented") }

func (c *stubConn) Ping(context.Context) error {
	if c.failPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
	if c.failExec {
		return nil, fmt.Errorf("exec fail")
	}
	verb := strings.ToUpper(strings.Fields(query)[0])
	switch verb {
	case "INSERT":
		if len(args) != len(blobColumns) {
			return nil, fmt.Errorf("expected %d args, got %d", len(blobColumns), len(args))
		}
		row := make(map[string]driver.Value, len(blobColumns))
		for i, col := range blobColumns {
			v := args[i].Value
			if b, ok := v.([]byte); ok {
				v = append([]byte(nil), b...)
			}
			row[col] = v
		}
		c.rows[row["blob_key"].(string)] = row
		return driver.RowsAffected(1), nil
	case "DELETE":
		key := args[0].Value.(string)
		if _, ok := c.rows[key]; !ok {
			return driver.RowsAffected(0), nil
		}
		delete(c.rows, key)
		return driver.RowsAffected(1), nil
	}
	return driver.RowsAffected(0), nil
}

func (c *stubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lower := strings.ToLower(query)
	fromIdx := strings.Index(lower, " from ")
	if !strings.HasPrefix(lower, "select ") || fromIdx < 0 {
		return nil, fmt.Errorf("cannot parse select: %s", query)
	}
	var cols []string
	for _, col := range strings.Split(query[len("select "):fromIdx], ",") {
		cols = append(cols, strings.TrimSpace(col))
	}
	keys := make([]string, 0, len(c.rows))
	if strings.Contains(lower, " where ") {
		key := args[0].Value.(string)
		if _, ok := c.rows[key]; ok {
			keys = append(keys, key)
		}
	} else {
		for k := range c.rows {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	out := &stubRows{cols: cols}
	for _, k := range keys {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = c.rows[k][col]
		}
		out.rows = append(out.rows, vals)
	}
	return out, nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
