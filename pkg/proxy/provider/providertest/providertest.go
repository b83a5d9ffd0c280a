// Package providertest provides in-memory providers for tests.
package providertest

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/tidb-incubator/repogate/pkg/proxy/command"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
	"go.uber.org/atomic"
)

var ErrOpenRefused = errors.New("connection refused")

// Provider hands out Conns. Open fails for connection strings in Down.
type Provider struct {
	Typ provider.ServerType

	// Behaviour applied to every new Conn.
	ExecFunc   func(ctx context.Context, cmd *command.Command) (provider.Result, error)
	QueryFunc  func(ctx context.Context, cmd *command.Command) (provider.Rows, error)
	ScalarFunc func(ctx context.Context, cmd *command.Command) (provider.Result, error)

	mu    sync.Mutex
	down  map[string]bool
	conns []*Conn
	opens map[string]int
}

func New(t provider.ServerType) *Provider {
	return &Provider{
		Typ:   t,
		down:  make(map[string]bool),
		opens: make(map[string]int),
	}
}

func (p *Provider) Type() provider.ServerType {
	return p.Typ
}

// SetDown makes Open fail for connString.
func (p *Provider) SetDown(connString string, down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down[connString] = down
}

func (p *Provider) Open(ctx context.Context, connString string) (provider.PhysicalConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens[connString]++
	if p.down[connString] {
		return nil, ErrOpenRefused
	}
	c := &Conn{
		ConnString: connString,
		typ:        p.Typ,
		execFunc:   p.ExecFunc,
		queryFunc:  p.QueryFunc,
		scalarFunc: p.ScalarFunc,
	}
	p.conns = append(p.conns, c)
	return c, nil
}

// Opens counts Open calls for connString, failed ones included.
func (p *Provider) Opens(connString string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens[connString]
}

func (p *Provider) TotalOpens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.opens {
		n += c
	}
	return n
}

func (p *Provider) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Conn(nil), p.conns...)
}

// Conn is an in-memory PhysicalConn.
type Conn struct {
	ConnString string
	typ        provider.ServerType

	execFunc   func(ctx context.Context, cmd *command.Command) (provider.Result, error)
	queryFunc  func(ctx context.Context, cmd *command.Command) (provider.Rows, error)
	scalarFunc func(ctx context.Context, cmd *command.Command) (provider.Result, error)

	PingErr   atomic.Error
	closed    atomic.Bool
	inTx      atomic.Bool
	commits   atomic.Int32
	rollbacks atomic.Int32
	execs     atomic.Int32
}

func (c *Conn) ServerType() provider.ServerType {
	return c.typ
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.PingErr.Load()
}

func (c *Conn) BeginTx(ctx context.Context) error {
	if !c.inTx.CompareAndSwap(false, true) {
		return provider.ErrTransactionInProgress
	}
	return nil
}

func (c *Conn) Commit() error {
	if !c.inTx.CompareAndSwap(true, false) {
		return provider.ErrNoTransactionInProgress
	}
	c.commits.Inc()
	return nil
}

func (c *Conn) Rollback() error {
	if !c.inTx.CompareAndSwap(true, false) {
		return provider.ErrNoTransactionInProgress
	}
	c.rollbacks.Inc()
	return nil
}

func (c *Conn) InTransaction() bool {
	return c.inTx.Load()
}

func (c *Conn) Query(ctx context.Context, cmd *command.Command) (provider.Rows, error) {
	c.execs.Inc()
	if c.queryFunc != nil {
		return c.queryFunc(ctx, cmd)
	}
	return NewRows(nil), nil
}

func (c *Conn) Exec(ctx context.Context, cmd *command.Command) (provider.Result, error) {
	c.execs.Inc()
	if c.execFunc != nil {
		return c.execFunc(ctx, cmd)
	}
	return provider.Result{RowsAffected: 1}, nil
}

func (c *Conn) QueryScalar(ctx context.Context, cmd *command.Command) (provider.Result, error) {
	c.execs.Inc()
	if c.scalarFunc != nil {
		return c.scalarFunc(ctx, cmd)
	}
	return provider.Result{}, nil
}

func (c *Conn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Conn) Closed() bool {
	return c.closed.Load()
}

func (c *Conn) Commits() int {
	return int(c.commits.Load())
}

func (c *Conn) Rollbacks() int {
	return int(c.rollbacks.Load())
}

func (c *Conn) Execs() int {
	return int(c.execs.Load())
}

// Block returns a function that waits until ctx is done, or forever when
// ignoreCtx is set.
func Block(ignoreCtx bool) func(ctx context.Context, cmd *command.Command) (provider.Result, error) {
	return func(ctx context.Context, cmd *command.Command) (provider.Result, error) {
		if ignoreCtx {
			select {}
		}
		<-ctx.Done()
		return provider.Result{}, ctx.Err()
	}
}

// Rows iterates over in-memory records.
type Rows struct {
	columns []string
	data    [][]any
	pos     int
	outputs map[string]any
	closed  atomic.Int32
}

// NewRows builds rows over data, one slice per record.
func NewRows(columns []string, data ...[]any) *Rows {
	return &Rows{columns: columns, data: data, pos: -1}
}

func (r *Rows) WithOutputs(outputs map[string]any) *Rows {
	r.outputs = outputs
	return r
}

func (r *Rows) Columns() ([]string, error) {
	return r.columns, nil
}

func (r *Rows) Next() bool {
	if r.closed.Load() > 0 {
		return false
	}
	r.pos++
	return r.pos < len(r.data)
}

func (r *Rows) NextResultSet() bool {
	return false
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.data) {
		return errors.New("no current row")
	}
	row := r.data[r.pos]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		if err := convertAssign(d, row[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rows) Err() error {
	return nil
}

func (r *Rows) Close() error {
	r.closed.Inc()
	return nil
}

// Closes counts Close calls.
func (r *Rows) Closes() int {
	return int(r.closed.Load())
}

func (r *Rows) Outputs() map[string]any {
	return r.outputs
}

func convertAssign(dest, src any) error {
	switch d := dest.(type) {
	case *any:
		*d = src
		return nil
	case sql.Scanner:
		return d.Scan(src)
	}
	switch d := dest.(type) {
	case *string:
		var v sql.NullString
		if err := v.Scan(src); err != nil {
			return err
		}
		*d = v.String
		return nil
	case *int64:
		var n sql.NullInt64
		if err := n.Scan(src); err != nil {
			return err
		}
		*d = n.Int64
		return nil
	case *int:
		var n sql.NullInt64
		if err := n.Scan(src); err != nil {
			return err
		}
		*d = int(n.Int64)
		return nil
	}
	return errors.New("unsupported scan destination")
}
