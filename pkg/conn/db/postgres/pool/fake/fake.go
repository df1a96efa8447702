package fake

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgx/v4"

	kpool "github.com/teamtally/tally/pkg/conn/db/postgres/pool"
)

// Fake implementations of the pool interfaces, for tests.
//
// Each method pops the head of its queued script (Exec calls consume
// NextExec entries, and so on). An exhausted script yields zero values.

type ExecResult struct {
	Tag pgconn.CommandTag
	Err error
}

type QueryResult struct {
	Rows pgx.Rows
	Err  error
}

type Queryer struct {
	NextExec  []ExecResult
	NextQuery []QueryResult

	// SQL and arguments passed to Exec/Query, in call order.
	Log []Call
}

type Call struct {
	SQL  string
	Args []interface{}
}

func (q *Queryer) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	q.Log = append(q.Log, Call{SQL: sql, Args: arguments})
	if len(q.NextExec) == 0 {
		return pgconn.CommandTag("FAKE 1"), nil
	}
	head := q.NextExec[0]
	q.NextExec = q.NextExec[1:]
	return head.Tag, head.Err
}

func (q *Queryer) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	q.Log = append(q.Log, Call{SQL: sql, Args: args})
	if len(q.NextQuery) == 0 {
		return &Rows{}, nil
	}
	head := q.NextQuery[0]
	q.NextQuery = q.NextQuery[1:]
	if head.Rows == nil {
		head.Rows = &Rows{}
	}
	return head.Rows, head.Err
}

func (q *Queryer) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	rows, err := q.Query(ctx, sql, args...)
	return &row{rows: rows, err: err}
}

type row struct {
	rows pgx.Rows
	err  error
}

func (r *row) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()
	if !r.rows.Next() {
		return pgx.ErrNoRows
	}
	return r.rows.Scan(dest...)
}

// Rows replays Data as scan results. Each element is one row;
// Scan assigns columns positionwise into dest pointers.
type Rows struct {
	Data    [][]interface{}
	ScanErr error

	cursor int
	closed bool
	err    error
}

var _ pgx.Rows = &Rows{}

func (r *Rows) Close()                        { r.closed = true }
func (r *Rows) Err() error                    { return r.err }
func (r *Rows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag("FAKE") }
func (r *Rows) FieldDescriptions() []pgproto3.FieldDescription {
	return nil
}
func (r *Rows) Next() bool {
	if r.closed || r.cursor >= len(r.Data) {
		return false
	}
	r.cursor += 1
	return true
}
func (r *Rows) Scan(dest ...interface{}) error {
	if r.ScanErr != nil {
		return r.ScanErr
	}
	if r.cursor == 0 || r.cursor > len(r.Data) {
		return errors.New("fake: Scan without Next")
	}
	vals := r.Data[r.cursor-1]
	if len(vals) != len(dest) {
		return errors.New("fake: column count mismatch")
	}
	for nth, val := range vals {
		d := reflect.ValueOf(dest[nth]).Elem()
		if val == nil {
			d.Set(reflect.Zero(d.Type()))
			continue
		}
		d.Set(reflect.ValueOf(val))
	}
	return nil
}
func (r *Rows) Values() ([]interface{}, error) {
	if r.cursor == 0 || r.cursor > len(r.Data) {
		return nil, errors.New("fake: Values without Next")
	}
	return r.Data[r.cursor-1], nil
}
func (r *Rows) RawValues() [][]byte { return nil }

type Tx struct {
	Queryer

	NextBegin struct {
		Tx  kpool.Tx
		Err error
	}
	NextCommit   error
	NextRollback error

	Committed  bool
	RolledBack bool
}

var _ kpool.Tx = &Tx{}

func (tx *Tx) Begin(ctx context.Context) (kpool.Tx, error) {
	if tx.NextBegin.Tx == nil && tx.NextBegin.Err == nil {
		return &Tx{}, nil
	}
	return tx.NextBegin.Tx, tx.NextBegin.Err
}
func (tx *Tx) Commit(ctx context.Context) error {
	tx.Committed = true
	return tx.NextCommit
}
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.RolledBack = true
	return tx.NextRollback
}

type Conn struct {
	Queryer

	NextBegin struct {
		Tx  kpool.Tx
		Err error
	}
	NextPing error

	// Notifications are replayed by WaitForNotification; when drained,
	// it returns NotifyErr (or blocks on ctx when NotifyErr is nil).
	Notifications []*pgconn.Notification
	NotifyErr     error

	// guards released; Release may be called from another goroutine
	// than the test's assertions.
	relMu    sync.Mutex
	released bool
}

var _ kpool.Conn = &Conn{}

func (c *Conn) Begin(ctx context.Context) (kpool.Tx, error) {
	if c.NextBegin.Tx == nil && c.NextBegin.Err == nil {
		return &Tx{}, nil
	}
	return c.NextBegin.Tx, c.NextBegin.Err
}
func (c *Conn) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (kpool.Tx, error) {
	return c.Begin(ctx)
}
func (c *Conn) Release() {
	c.relMu.Lock()
	defer c.relMu.Unlock()
	c.released = true
}

// Released reports whether Release has been called.
func (c *Conn) Released() bool {
	c.relMu.Lock()
	defer c.relMu.Unlock()
	return c.released
}
func (c *Conn) Ping(ctx context.Context) error { return c.NextPing }
func (c *Conn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	if len(c.Notifications) == 0 {
		if c.NotifyErr != nil {
			return nil, c.NotifyErr
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	head := c.Notifications[0]
	c.Notifications = c.Notifications[1:]
	return head, nil
}

type Pool struct {
	Queryer

	NextBegin struct {
		Tx  kpool.Tx
		Err error
	}
	NextAcquire struct {
		Conn kpool.Conn
		Err  error
	}
	NextPing error
}

var _ kpool.Pool = &Pool{}

func (p *Pool) Begin(ctx context.Context) (kpool.Tx, error) {
	if p.NextBegin.Tx == nil && p.NextBegin.Err == nil {
		return &Tx{}, nil
	}
	return p.NextBegin.Tx, p.NextBegin.Err
}
func (p *Pool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (kpool.Tx, error) {
	return p.Begin(ctx)
}
func (p *Pool) Acquire(ctx context.Context) (kpool.Conn, error) {
	if p.NextAcquire.Conn == nil && p.NextAcquire.Err == nil {
		return &Conn{}, nil
	}
	return p.NextAcquire.Conn, p.NextAcquire.Err
}
func (p *Pool) Ping(ctx context.Context) error { return p.NextPing }
