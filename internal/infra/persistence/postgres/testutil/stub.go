// Package testutil provides a fake database/sql driver that holds the runs
// table for postgres run store tests. It understands exactly the statements
// the store issues and applies writes only when their transaction commits.
package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrUnsupported is returned for statements the runs store never issues.
var ErrUnsupported = errors.New("statement not supported by the runs fake")

var registered atomic.Int64

// RunsTable is the in-memory runs table behind a fake database handle.
// Fail* flags inject errors at the matching step.
type RunsTable struct {
	mu         sync.Mutex
	statements []string
	rows       map[string][]byte
	staged     map[string][]byte // nil value: delete on commit
	inTx       bool

	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailWrites bool
	FailReads  bool
}

// NewRunsDB registers a fresh driver instance and opens a handle on it.
func NewRunsDB() (*sql.DB, *RunsTable) {
	table := &RunsTable{rows: make(map[string][]byte)}
	name := fmt.Sprintf("runsfake%d", registered.Add(1))
	sql.Register(name, fakeDriver{table: table})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, table
}

// Seed stores a committed row, as if written by an earlier process.
func (t *RunsTable) Seed(id string, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[id] = payload
}

// IDs lists committed run ids in sorted order.
func (t *RunsTable) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Payload returns the committed payload of id.
func (t *RunsTable) Payload(id string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.rows[id]
	return p, ok
}

// Statements lists every statement received, in order.
func (t *RunsTable) Statements() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.statements...)
}

// visible returns the rows a statement in the current transaction sees.
func (t *RunsTable) visible() map[string][]byte {
	out := make(map[string][]byte, len(t.rows)+len(t.staged))
	for id, p := range t.rows {
		out[id] = p
	}
	for id, p := range t.staged {
		if p == nil {
			delete(out, id)
			continue
		}
		out[id] = p
	}
	return out
}

func (t *RunsTable) write(id string, payload []byte) {
	if t.inTx {
		t.staged[id] = payload
		return
	}
	if payload == nil {
		delete(t.rows, id)
		return
	}
	t.rows[id] = payload
}

type fakeDriver struct{ table *RunsTable }

func (d fakeDriver) Open(string) (driver.Conn, error) { return &conn{table: d.table}, nil }

type conn struct{ table *RunsTable }

var (
	_ driver.ExecerContext     = (*conn)(nil)
	_ driver.QueryerContext    = (*conn)(nil)
	_ driver.ConnBeginTx       = (*conn)(nil)
	_ driver.Pinger            = (*conn)(nil)
	_ driver.NamedValueChecker = (*conn)(nil)
)

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("%w: prepared %q", ErrUnsupported, query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

func (c *conn) Ping(context.Context) error {
	if c.table.FailPing {
		return errors.New("ping: connection refused")
	}
	return nil
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	t := c.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailBegin {
		return nil, errors.New("begin: too many connections")
	}
	if t.inTx {
		return nil, errors.New("begin: transaction already open")
	}
	t.inTx = true
	t.staged = make(map[string][]byte)
	return &tx{table: t}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	t := c.table
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statements = append(t.statements, query)

	switch stmt := normalize(query); {
	case strings.HasPrefix(stmt, "create table if not exists runs"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(stmt, "insert into runs(id,payload)") && strings.Contains(stmt, "on conflict(id) do update"):
		if t.FailWrites {
			return nil, errors.New("upsert: disk full")
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("upsert wants 2 args, got %d", len(args))
		}
		id, payload, err := idAndPayload(args)
		if err != nil {
			return nil, err
		}
		t.write(id, payload)
		return driver.RowsAffected(1), nil
	case stmt == "delete from runs where id=$1":
		if t.FailWrites {
			return nil, errors.New("delete: disk full")
		}
		if len(args) != 1 {
			return nil, fmt.Errorf("delete wants 1 arg, got %d", len(args))
		}
		id, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("delete id is %T", args[0].Value)
		}
		if _, exists := t.visible()[id]; !exists {
			return driver.RowsAffected(0), nil
		}
		t.write(id, nil)
		return driver.RowsAffected(1), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, query)
	}
}

func idAndPayload(args []driver.NamedValue) (string, []byte, error) {
	id, ok := args[0].Value.(string)
	if !ok {
		return "", nil, fmt.Errorf("run id is %T", args[0].Value)
	}
	switch p := args[1].Value.(type) {
	case []byte:
		return id, bytes.Clone(p), nil
	case string:
		return id, []byte(p), nil
	default:
		return "", nil, fmt.Errorf("payload is %T", args[1].Value)
	}
}

func (c *conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	t := c.table
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statements = append(t.statements, query)
	if t.FailReads {
		return nil, errors.New("select: relation is locked")
	}

	var cols []string
	switch normalize(query) {
	case "select id from runs":
		cols = []string{"id"}
	case "select id, payload from runs":
		cols = []string{"id", "payload"}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, query)
	}
	data := t.visible()
	ids := make([]string, 0, len(data))
	for id := range data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := &rows{cols: cols}
	for _, id := range ids {
		row := []driver.Value{id}
		if len(cols) == 2 {
			row = append(row, data[id])
		}
		out.values = append(out.values, row)
	}
	return out, nil
}

func normalize(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

type tx struct{ table *RunsTable }

func (x *tx) Commit() error {
	t := x.table
	t.mu.Lock()
	defer t.mu.Unlock()
	staged := t.staged
	t.inTx, t.staged = false, nil
	if t.FailCommit {
		return errors.New("commit: serialization failure")
	}
	for id, p := range staged {
		t.write(id, p)
	}
	return nil
}

func (x *tx) Rollback() error {
	t := x.table
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inTx, t.staged = false, nil
	return nil
}

type rows struct {
	cols   []string
	values [][]driver.Value
	next   int
}

func (r *rows) Columns() []string { return r.cols }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}
