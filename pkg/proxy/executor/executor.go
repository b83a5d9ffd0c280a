package executor

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/proxy/analytics"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
	"github.com/tidb-incubator/repogate/pkg/proxy/errcode"
	"github.com/tidb-incubator/repogate/pkg/proxy/mapping"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
	"github.com/tidb-incubator/repogate/pkg/proxy/resultset"
	"github.com/tidb-incubator/repogate/pkg/proxy/router"
	"github.com/tidb-incubator/repogate/pkg/proxy/trace"
	uerrors "github.com/tidb-incubator/repogate/pkg/util/errors"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"
)

const DefaultTimeout = 30 * time.Second

// Trace outputs selectable with config.Executor.Trace.
const (
	TraceNone        = ""
	TraceLog         = "log"
	TraceOpentracing = "opentracing"
	TraceAll         = "all"
)

// Router resolves connections and takes command outcomes. *router.Router
// implements it.
type Router interface {
	ResolveConnection(ctx context.Context, repository string, cmd *command.Command) (*router.Connection, error)
	RecordSuccess(conn *router.Connection, elapsed time.Duration)
	RecordFailure(conn *router.Connection, err error)
}

// Executor runs commands against the repository they name. A failed command is
// never retried on another cluster; callers that want that re-run it.
type Executor struct {
	router         Router
	hook           analytics.Hook
	clk            clock.PassiveClock
	defaultTimeout time.Duration
	traceMode      string
	sem            *semaphore.Weighted
	nextID         atomic.Uint64
}

func New(r Router, cfg config.Executor, hook analytics.Hook, clk clock.PassiveClock) *Executor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	e := &Executor{
		router:         r,
		hook:           analytics.Safe(hook),
		clk:            clk,
		defaultTimeout: DefaultTimeout,
		traceMode:      cfg.Trace,
	}
	switch cfg.Trace {
	case TraceNone, TraceLog, TraceOpentracing, TraceAll:
	default:
		logutil.BgLogger().Warn("unknown trace output, tracing disabled", zap.String("trace", cfg.Trace))
		e.traceMode = TraceNone
	}
	if cfg.DefaultTimeoutMs > 0 {
		e.defaultTimeout = time.Duration(cfg.DefaultTimeoutMs) * time.Millisecond
	}
	if cfg.MaxInFlight > 0 {
		e.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	return e
}

func (e *Executor) BeginExecuteReader(ctx context.Context, repository string, cmd *command.Command, opts ...Option) *Operation {
	return e.begin(ctx, kindReader, repository, cmd, opts)
}

func (e *Executor) BeginExecuteNonQuery(ctx context.Context, repository string, cmd *command.Command, opts ...Option) *Operation {
	return e.begin(ctx, kindNonQuery, repository, cmd, opts)
}

func (e *Executor) BeginExecuteScalar(ctx context.Context, repository string, cmd *command.Command, opts ...Option) *Operation {
	return e.begin(ctx, kindScalar, repository, cmd, opts)
}

func BeginExecuteEnumerable[T any](ctx context.Context, e *Executor, repository string, cmd *command.Command, mapper *mapping.Mapper[T], opts ...Option) *EnumerableOperation[T] {
	return &EnumerableOperation[T]{
		Operation: e.begin(ctx, kindEnumerable, repository, cmd, opts),
		mapper:    mapper,
	}
}

// EndExecuteReader waits for op. The reader owns the connection until it is
// closed; output parameters are delivered on close.
func (e *Executor) EndExecuteReader(op *Operation) (*resultset.Reader, error) {
	if err := e.claim(op, kindReader); err != nil {
		return nil, err
	}
	<-op.done
	return op.reader, op.err
}

// EndExecuteNonQuery waits for op and returns the number of affected rows.
func (e *Executor) EndExecuteNonQuery(op *Operation) (int64, error) {
	if err := e.claim(op, kindNonQuery); err != nil {
		return 0, err
	}
	<-op.done
	return op.rowsAffected, op.err
}

// EndExecuteScalar waits for op and returns the first column of the first row.
func (e *Executor) EndExecuteScalar(op *Operation) (any, error) {
	if err := e.claim(op, kindScalar); err != nil {
		return nil, err
	}
	<-op.done
	return op.value, op.err
}

// EndExecuteEnumerable waits for op. When no cluster of the repository could
// be reached the result is offline rather than an error.
func EndExecuteEnumerable[T any](e *Executor, op *EnumerableOperation[T]) (resultset.Result[T], error) {
	if op == nil {
		return resultset.Result[T]{}, ErrNoMatchingBegin
	}
	if err := e.claim(op.Operation, kindEnumerable); err != nil {
		return resultset.Result[T]{}, err
	}
	<-op.done
	if op.err != nil {
		if errcode.Is(op.err, errcode.ErrAllClustersUnavailable) {
			return resultset.Offline[T](op.repository, op.cmd.Describe(), op.err), nil
		}
		return resultset.Result[T]{}, op.err
	}
	return resultset.Ok(resultset.NewStream(op.reader, op.mapper)), nil
}

func (e *Executor) ExecuteReader(ctx context.Context, repository string, cmd *command.Command, opts ...Option) (*resultset.Reader, error) {
	return e.EndExecuteReader(e.BeginExecuteReader(ctx, repository, cmd, opts...))
}

func (e *Executor) ExecuteNonQuery(ctx context.Context, repository string, cmd *command.Command, opts ...Option) (int64, error) {
	return e.EndExecuteNonQuery(e.BeginExecuteNonQuery(ctx, repository, cmd, opts...))
}

func (e *Executor) ExecuteScalar(ctx context.Context, repository string, cmd *command.Command, opts ...Option) (any, error) {
	return e.EndExecuteScalar(e.BeginExecuteScalar(ctx, repository, cmd, opts...))
}

func ExecuteEnumerable[T any](ctx context.Context, e *Executor, repository string, cmd *command.Command, mapper *mapping.Mapper[T], opts ...Option) (resultset.Result[T], error) {
	return EndExecuteEnumerable(e, BeginExecuteEnumerable(ctx, e, repository, cmd, mapper, opts...))
}

// Scalar runs cmd as a scalar query and converts the value to T.
func Scalar[T any](ctx context.Context, e *Executor, repository string, cmd *command.Command, opts ...Option) (T, error) {
	v, err := e.ExecuteScalar(ctx, repository, cmd, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return mapping.Convert[T](v)
}

func (e *Executor) claim(op *Operation, k kind) error {
	if op == nil || op.executor != e || op.kind != k {
		return ErrNoMatchingBegin
	}
	if !op.ended.CompareAndSwap(false, true) {
		return ErrOperationEnded
	}
	return nil
}

func (e *Executor) begin(ctx context.Context, k kind, repository string, cmd *command.Command, opts []Option) *Operation {
	op := &Operation{
		call: call{
			repository: repository,
			cmd:        cmd,
			opts:       buildOptions(opts),
			start:      e.clk.Now(),
		},
		id:       e.nextID.Inc(),
		kind:     k,
		executor: e,
		done:     make(chan struct{}),
	}
	if err := cmd.Lock(); err != nil {
		op.err = errors.WithMessage(err, cmd.Describe())
		op.fsm.transit(StateFailed)
		close(op.done)
		return op
	}
	ctx = e.attachTrace(ctx, &op.call, op.id)
	go e.run(ctx, op)
	return op
}

// attachTrace gives c the configured trace writer unless the caller passed one.
// The returned context carries the operation span when opentracing is enabled.
func (e *Executor) attachTrace(ctx context.Context, c *call, id uint64) context.Context {
	if c.opts.trace != nil {
		return ctx
	}
	var writers []trace.Writer
	if e.traceMode == TraceLog || e.traceMode == TraceAll {
		logger := logutil.BgLogger().With(zap.Uint64("operation", id), zap.String("repository", c.repository),
			zap.String("command", c.cmd.Describe()))
		writers = append(writers, trace.NewZapWriter(logger))
	}
	if e.traceMode == TraceOpentracing || e.traceMode == TraceAll {
		var w *trace.SpanWriter
		w, ctx = trace.StartSpanWriter(ctx, "repogate."+c.repository)
		writers = append(writers, w)
	}
	switch len(writers) {
	case 0:
		c.opts.trace = trace.Nop{}
	case 1:
		c.opts.trace = writers[0]
	default:
		c.opts.trace = trace.Multi(writers...)
	}
	return ctx
}

func (e *Executor) timeout(c *call) time.Duration {
	if c.opts.timeout > 0 {
		return c.opts.timeout
	}
	if t := c.cmd.Timeout(); t > 0 {
		return t
	}
	return e.defaultTimeout
}

func (e *Executor) run(parent context.Context, op *Operation) {
	ctx, cancel := context.WithTimeout(parent, e.timeout(&op.call))
	op.fsm.transit(StateRouting)

	// the slot is held until the connection is given back, which for a
	// reader is when it is closed
	releaseSlot := func() {}
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			cancel()
			e.failOperation(op, nil, wrapExecError(ctx, &op.call, nil, err))
			return
		}
		releaseSlot = func() { e.sem.Release(1) }
	}
	slotHeld := true
	defer func() {
		if slotHeld {
			releaseSlot()
		}
	}()

	conn, err := e.router.ResolveConnection(ctx, op.repository, op.cmd)
	if err != nil {
		cancel()
		e.failOperation(op, nil, err)
		return
	}
	op.fsm.transit(StateConnected)
	traceConnected(&op.call, conn)

	pc := conn.Physical()
	if op.opts.transaction {
		if err := pc.BeginTx(ctx); err != nil {
			cancel()
			e.failOperation(op, conn, wrapExecError(ctx, &op.call, conn, err))
			return
		}
	}

	op.fsm.transit(StateExecuting)
	out, err := execute(ctx, op.kind, pc, op.cmd)
	if err != nil {
		cancel()
		e.failOperation(op, conn, wrapExecError(ctx, &op.call, conn, err))
		return
	}

	if out.rows != nil {
		// the reader keeps ctx and the in-flight slot until it is closed
		slotHeld = false
		op.reader = resultset.NewReader(out.rows, func(readErr error) {
			defer releaseSlot()
			defer cancel()
			if readErr == nil && op.opts.transaction {
				readErr = pc.Commit()
			}
			if readErr != nil {
				e.failed(&op.call, conn, wrapExecError(ctx, &op.call, conn, readErr))
				return
			}
			e.completed(&op.call, conn, out.rows.Outputs(), true)
		})
		op.fsm.transit(StateCompleted)
		close(op.done)
		return
	}

	defer cancel()
	if op.opts.transaction {
		if err := pc.Commit(); err != nil {
			e.failOperation(op, conn, wrapExecError(ctx, &op.call, conn, err))
			return
		}
	}
	op.rowsAffected, op.value = out.result.RowsAffected, out.result.Value
	e.completed(&op.call, conn, out.result.Outputs, true)
	op.fsm.transit(StateCompleted)
	close(op.done)
}

func (e *Executor) failOperation(op *Operation, conn *router.Connection, err error) {
	e.failed(&op.call, conn, err)
	op.err = err
	op.fsm.transit(StateFailed)
	close(op.done)
}

// completed reports a successful command and hands output parameters to
// their callbacks. The command is unlocked last.
func (e *Executor) completed(c *call, conn *router.Connection, outputs map[string]any, release bool) {
	deliverOutputs(c.cmd, outputs)
	if release {
		conn.Release(false)
	}
	elapsed := e.clk.Since(c.start)
	e.router.RecordSuccess(conn, elapsed)
	e.hook.CommandCompleted(commandEvent(c, conn, elapsed, nil))
	c.opts.trace.Finish(nil)
	c.cmd.Unlock()
}

// failed discards conn, whose state is unknown, and reports err. A command
// abandoned by its caller does not count against the database.
func (e *Executor) failed(c *call, conn *router.Connection, err error) {
	elapsed := e.clk.Since(c.start)
	if conn != nil {
		conn.Release(true)
		if !uerrors.Is(err, context.Canceled) {
			e.router.RecordFailure(conn, err)
		}
	}
	e.hook.CommandFailed(commandEvent(c, conn, elapsed, err))
	logutil.BgLogger().Warn("command failed", errorFields(err)...)
	c.opts.trace.Finish(err)
	c.cmd.Unlock()
}

type execOutput struct {
	result provider.Result
	rows   provider.Rows
}

// execute runs cmd on pc and gives up once ctx is done. An abandoned call
// keeps running in the background; rows it eventually returns are closed.
func execute(ctx context.Context, k kind, pc provider.PhysicalConn, cmd *command.Command) (execOutput, error) {
	type execResult struct {
		out execOutput
		err error
	}
	ch := make(chan execResult, 1)
	go func() {
		var r execResult
		switch k {
		case kindNonQuery:
			r.out.result, r.err = pc.Exec(ctx, cmd)
		case kindScalar:
			r.out.result, r.err = pc.QueryScalar(ctx, cmd)
		default:
			r.out.rows, r.err = pc.Query(ctx, cmd)
		}
		ch <- r
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.out.rows != nil {
				r.out.rows.Close()
			}
		}()
		return execOutput{}, ctx.Err()
	}
}

func wrapExecError(ctx context.Context, c *call, conn *router.Connection, err error) error {
	kind := errcode.ErrCommandExecutionFailure
	if ctx.Err() == context.DeadlineExceeded {
		kind = errcode.ErrCommandTimeout
	}
	ret := errcode.New(kind, c.repository, c.cmd.Describe(), err)
	if conn != nil {
		ret.At(conn.Cluster(), conn.Database())
	}
	return ret
}

func deliverOutputs(cmd *command.Command, outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	for _, p := range cmd.Parameters() {
		if !p.Direction.IsOutput() {
			continue
		}
		if v, ok := outputs[p.Name]; ok {
			cmd.Deliver(p.Name, v)
		}
	}
}

func traceConnected(c *call, conn *router.Connection) {
	w := c.opts.trace
	w.SetCluster(conn.Cluster())
	w.SetDatabase(conn.Database())
	if c.cmd.Type() == command.StoredProcedure {
		w.SetProcedure(c.cmd.Text())
	} else {
		w.WriteLine(c.cmd.Describe())
	}
	for _, p := range c.cmd.Parameters() {
		if p.Direction.IsInput() {
			w.SetParameter(p.Name, p.Value)
		}
	}
}

func commandEvent(c *call, conn *router.Connection, elapsed time.Duration, err error) analytics.CommandEvent {
	ev := analytics.CommandEvent{
		Repository:  c.repository,
		CommandType: c.cmd.Type().String(),
		Command:     c.cmd.Text(),
		Elapsed:     elapsed,
		Err:         err,
	}
	if conn != nil {
		ev.Cluster = conn.Cluster()
		ev.Database = conn.Database()
		ev.ServerType = string(conn.ServerType())
	}
	return ev
}

func errorFields(err error) []zap.Field {
	if ce, ok := uerrors.As[*errcode.Error](err); ok {
		return ce.Fields()
	}
	return []zap.Field{zap.Error(err)}
}
