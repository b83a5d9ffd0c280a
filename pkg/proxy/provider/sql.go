package provider

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
)

// querier is satisfied by *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLProvider opens connections through a database/sql driver. It keeps one
// *sql.DB per connection string, configured to hold no idle connections: the
// pool above owns idle sessions.
type SQLProvider struct {
	typ        ServerType
	driverName string
	dialect    dialect

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewSQLProvider(t ServerType, driverName string) *SQLProvider {
	return &SQLProvider{
		typ:        t,
		driverName: driverName,
		dialect:    dialectFor(t),
		dbs:        make(map[string]*sql.DB),
	}
}

func (p *SQLProvider) Type() ServerType {
	return p.typ
}

func (p *SQLProvider) DriverName() string {
	return p.driverName
}

func (p *SQLProvider) Open(ctx context.Context, connString string) (PhysicalConn, error) {
	db, err := p.getDB(connString)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &sqlConn{typ: p.typ, dialect: p.dialect, conn: conn}, nil
}

func (p *SQLProvider) getDB(connString string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.dbs[connString]; ok {
		return db, nil
	}
	db, err := sql.Open(p.driverName, connString)
	if err != nil {
		return nil, errors.WithMessage(err, "open "+p.driverName)
	}
	db.SetMaxIdleConns(0)
	p.dbs[connString] = db
	return db, nil
}

func (p *SQLProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for key, db := range p.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.dbs, key)
	}
	return firstErr
}

type sqlConn struct {
	typ     ServerType
	dialect dialect
	conn    *sql.Conn
	tx      *sql.Tx
}

func (c *sqlConn) ServerType() ServerType {
	return c.typ
}

func (c *sqlConn) querier() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func (c *sqlConn) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

func (c *sqlConn) BeginTx(ctx context.Context) error {
	if c.tx != nil {
		return ErrTransactionInProgress
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *sqlConn) Commit() error {
	if c.tx == nil {
		return ErrNoTransactionInProgress
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

func (c *sqlConn) Rollback() error {
	if c.tx == nil {
		return ErrNoTransactionInProgress
	}
	err := c.tx.Rollback()
	c.tx = nil
	return err
}

func (c *sqlConn) InTransaction() bool {
	return c.tx != nil
}

func (c *sqlConn) Query(ctx context.Context, cmd *command.Command) (Rows, error) {
	st, err := c.dialect.render(cmd, true)
	if err != nil {
		return nil, err
	}
	q := c.querier()
	if err := st.runSetup(ctx, q); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, st.query, st.args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{Rows: rows, ctx: ctx, q: q, st: st}, nil
}

func (c *sqlConn) Exec(ctx context.Context, cmd *command.Command) (Result, error) {
	st, err := c.dialect.render(cmd, false)
	if err != nil {
		return Result{}, err
	}
	q := c.querier()
	if err := st.runSetup(ctx, q); err != nil {
		return Result{}, err
	}

	ret := Result{Outputs: make(map[string]any)}
	if len(st.rowOutputs) != 0 {
		if err := scanRowOutputs(q.QueryRowContext(ctx, st.query, st.args...), st.rowOutputs, ret.Outputs); err != nil {
			return Result{}, err
		}
		ret.RowsAffected = 1
	} else {
		res, err := q.ExecContext(ctx, st.query, st.args...)
		if err != nil {
			return Result{}, err
		}
		// not every driver reports these
		ret.RowsAffected, _ = res.RowsAffected()
		if st.lastInsertID != nil {
			id, err := res.LastInsertId()
			if err != nil {
				return Result{}, errors.WithMessage(err, "read return value")
			}
			ret.Outputs[st.lastInsertID.Name] = id
		}
	}

	if err := st.collectOutputs(ctx, q, ret.Outputs); err != nil {
		return Result{}, err
	}
	return ret, nil
}

func (c *sqlConn) QueryScalar(ctx context.Context, cmd *command.Command) (Result, error) {
	rows, err := c.Query(ctx, cmd)
	if err != nil {
		return Result{}, err
	}
	var value any
	if rows.Next() {
		if err := rows.Scan(&value); err != nil {
			rows.Close()
			return Result{}, err
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Result{}, err
	}
	if err := rows.Close(); err != nil {
		return Result{}, err
	}
	return Result{Value: value, Outputs: rows.Outputs()}, nil
}

func (c *sqlConn) Close() error {
	if c.tx != nil {
		c.tx.Rollback()
		c.tx = nil
	}
	return c.conn.Close()
}

type sqlRows struct {
	*sql.Rows
	ctx     context.Context
	q       querier
	st      *statement
	closed  bool
	outputs map[string]any
}

func (r *sqlRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.Rows.Close(); err != nil {
		return err
	}
	r.outputs = make(map[string]any)
	return r.st.collectOutputs(r.ctx, r.q, r.outputs)
}

func (r *sqlRows) Outputs() map[string]any {
	return r.outputs
}

func scanRowOutputs(row *sql.Row, params []*command.Parameter, outputs map[string]any) error {
	dest := make([]any, len(params))
	for i := range dest {
		dest[i] = new(any)
	}
	if err := row.Scan(dest...); err != nil {
		return err
	}
	for i, p := range params {
		outputs[p.Name] = *(dest[i].(*any))
	}
	return nil
}
