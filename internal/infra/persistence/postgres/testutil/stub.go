// Package testutil provides a stub database/sql driver that understands the
// snapshot statements issued by the postgres store: the `state` bucket table
// and the single-row `state_revision` counter.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

var driverSeq atomic.Int64

// snapshot is the stubbed database contents.
type snapshot struct {
	buckets  map[string][]byte
	revision int64
	seeded   bool
}

func (s snapshot) clone() snapshot {
	out := snapshot{buckets: make(map[string][]byte, len(s.buckets)), revision: s.revision, seeded: s.seeded}
	for k, v := range s.buckets {
		out.buckets[k] = append([]byte(nil), v...)
	}
	return out
}

// StubConn records statements and keeps committed bucket payloads plus the
// revision counter. Writes issued inside a transaction become visible on Commit.
type StubConn struct {
	Execs []string

	FailPing    bool
	FailBegin   bool
	FailCommit  bool
	FailBuckets map[string]bool
	RowsErr     error

	committed snapshot
	pending   *snapshot
}

// NewStubDB registers a sql.DB backed by a fresh stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{committed: snapshot{buckets: make(map[string][]byte)}}
	name := fmt.Sprintf("stubpg%d", driverSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// SetBucket seeds a committed bucket payload.
func (c *StubConn) SetBucket(bucket string, payload []byte) {
	c.committed.buckets[bucket] = append([]byte(nil), payload...)
}

// Bucket returns the committed payload for bucket.
func (c *StubConn) Bucket(bucket string) ([]byte, bool) {
	p, ok := c.committed.buckets[bucket]
	return p, ok
}

// Revision returns the committed revision and whether the row was seeded.
func (c *StubConn) Revision() (int64, bool) {
	return c.committed.revision, c.committed.seeded
}

// BumpRevision advances the committed revision as another writer would.
func (c *StubConn) BumpRevision() {
	c.committed.revision++
	c.committed.seeded = true
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }
func (c *StubConn) Close() error                        { return nil }

func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	staged := c.committed.clone()
	c.pending = &staged
	return &stubTx{conn: c}, nil
}

// target returns the snapshot writes apply to: the open transaction, or the
// committed state for autocommit statements.
func (c *StubConn) target() *snapshot {
	if c.pending != nil {
		return c.pending
	}
	return &c.committed
}

func normalize(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	q := normalize(query)
	st := c.target()
	switch {
	case strings.HasPrefix(q, "create table"):
		return driver.RowsAffected(0), nil

	case strings.HasPrefix(q, "insert into state_revision "):
		// ON CONFLICT (id) DO NOTHING
		if st.seeded {
			return driver.RowsAffected(0), nil
		}
		rev, err := int64Arg(args, 1)
		if err != nil {
			return nil, err
		}
		st.revision, st.seeded = rev, true
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(q, "update state_revision set revision = $1 where id = $2 and revision = $3"):
		next, err := int64Arg(args, 0)
		if err != nil {
			return nil, err
		}
		expected, err := int64Arg(args, 2)
		if err != nil {
			return nil, err
		}
		if !st.seeded || st.revision != expected {
			return driver.RowsAffected(0), nil
		}
		st.revision = next
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(q, "insert into state "):
		if len(args) != 2 {
			return nil, fmt.Errorf("state upsert wants 2 args, got %d", len(args))
		}
		bucket, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("bucket arg is %T", args[0].Value)
		}
		if c.FailBuckets[bucket] {
			return nil, fmt.Errorf("upsert fail for %s", bucket)
		}
		payload, _ := args[1].Value.([]byte)
		st.buckets[bucket] = append([]byte(nil), payload...)
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("stub: unsupported statement %q", query)
}

func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	q := normalize(query)
	st := c.target()
	switch {
	case strings.HasPrefix(q, "select revision from state_revision"):
		rows := &stubRows{cols: []string{"revision"}, err: c.RowsErr}
		if st.seeded {
			rows.rows = [][]driver.Value{{st.revision}}
		}
		return rows, nil

	case strings.HasPrefix(q, "select bucket, payload from state"):
		rows := &stubRows{cols: []string{"bucket", "payload"}, err: c.RowsErr}
		for bucket, payload := range st.buckets {
			rows.rows = append(rows.rows, []driver.Value{bucket, payload})
		}
		return rows, nil
	}
	return nil, fmt.Errorf("stub: unsupported query %q", query)
}

func int64Arg(args []driver.NamedValue, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing arg %d", i+1)
	}
	switch v := args[i].Value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	}
	return 0, fmt.Errorf("arg %d is %T, want integer", i+1, args[i].Value)
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	defer func() { t.conn.pending = nil }()
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	t.conn.committed = *t.conn.pending
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.pending = nil
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
