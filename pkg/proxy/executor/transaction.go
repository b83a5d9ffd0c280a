package executor

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
	"github.com/tidb-incubator/repogate/pkg/proxy/errcode"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
	"github.com/tidb-incubator/repogate/pkg/proxy/router"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/zap"
)

var ErrTransactionDone = errors.New("transaction has already been committed or rolled back")

const (
	beginCommand    = "BEGIN TRANSACTION"
	commitCommand   = "COMMIT"
	rollbackCommand = "ROLLBACK"
)

// Transaction pins one routed connection for a sequence of commands. Commands
// run one at a time. A failed command discards the connection and ends the
// transaction.
type Transaction struct {
	e          *Executor
	repository string

	// ends the context the engine transaction was begun with
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *router.Connection
	done bool
}

// BeginTransaction routes repository and opens a transaction on the resolved
// connection. Cancelling ctx after BeginTransaction returns does not end the
// transaction.
func (e *Executor) BeginTransaction(ctx context.Context, repository string) (*Transaction, error) {
	marker := command.NewText(beginCommand)
	resolveCtx, resolveCancel := context.WithTimeout(ctx, e.defaultTimeout)
	defer resolveCancel()
	conn, err := e.router.ResolveConnection(resolveCtx, repository, marker)
	if err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := conn.Physical().BeginTx(txCtx); err != nil {
		cancel()
		conn.Release(true)
		e.router.RecordFailure(conn, err)
		return nil, errcode.New(errcode.ErrCommandExecutionFailure, repository, beginCommand, err).At(conn.Cluster(), conn.Database())
	}
	return &Transaction{
		e:          e,
		repository: repository,
		cancel:     cancel,
		conn:       conn,
	}, nil
}

func (tx *Transaction) Connection() *router.Connection {
	return tx.conn
}

func (tx *Transaction) ExecuteNonQuery(ctx context.Context, cmd *command.Command, opts ...Option) (int64, error) {
	res, err := tx.execute(ctx, kindNonQuery, cmd, opts)
	return res.RowsAffected, err
}

func (tx *Transaction) ExecuteScalar(ctx context.Context, cmd *command.Command, opts ...Option) (any, error) {
	res, err := tx.execute(ctx, kindScalar, cmd, opts)
	return res.Value, err
}

func (tx *Transaction) execute(ctx context.Context, k kind, cmd *command.Command, opts []Option) (provider.Result, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return provider.Result{}, ErrTransactionDone
	}
	if err := cmd.Lock(); err != nil {
		return provider.Result{}, errors.WithMessage(err, cmd.Describe())
	}

	c := &call{repository: tx.repository, cmd: cmd, opts: buildOptions(opts), start: tx.e.clk.Now()}
	ctx = tx.e.attachTrace(ctx, c, tx.e.nextID.Inc())
	ctx, cancel := context.WithTimeout(ctx, tx.e.timeout(c))
	defer cancel()
	traceConnected(c, tx.conn)

	out, err := execute(ctx, k, tx.conn.Physical(), cmd)
	if err != nil {
		err = wrapExecError(ctx, c, tx.conn, err)
		tx.e.failed(c, tx.conn, err)
		tx.finish()
		return provider.Result{}, err
	}
	tx.e.completed(c, tx.conn, out.result.Outputs, false)
	return out.result, nil
}

func (tx *Transaction) Commit() error {
	return tx.end(true)
}

func (tx *Transaction) Rollback() error {
	return tx.end(false)
}

// Close rolls back a transaction that is still open. It is a no-op otherwise.
func (tx *Transaction) Close() error {
	if err := tx.Rollback(); err != ErrTransactionDone {
		return err
	}
	return nil
}

func (tx *Transaction) Done() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.done
}

func (tx *Transaction) end(commit bool) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return ErrTransactionDone
	}
	defer tx.finish()

	pc := tx.conn.Physical()
	stmt := rollbackCommand
	var err error
	if commit {
		stmt = commitCommand
		err = pc.Commit()
	} else {
		err = pc.Rollback()
	}
	if err != nil {
		logutil.BgLogger().Warn("end transaction error", zap.String("repository", tx.repository), zap.String("statement", stmt), zap.Error(err))
		tx.conn.Release(true)
		tx.e.router.RecordFailure(tx.conn, err)
		return errcode.New(errcode.ErrCommandExecutionFailure, tx.repository, stmt, err).At(tx.conn.Cluster(), tx.conn.Database())
	}
	tx.conn.Release(false)
	return nil
}

// finish must be called with mu held, after the engine transaction ended.
func (tx *Transaction) finish() {
	tx.done = true
	tx.cancel()
}
