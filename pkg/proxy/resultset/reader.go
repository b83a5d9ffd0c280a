package resultset

import (
	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
	"go.uber.org/atomic"
)

var ErrReaderClosed = errors.New("reader is closed")

// Reader is a forward only cursor that owns the connection it reads from.
// Close releases the connection; only the first call has an effect.
type Reader struct {
	rows   provider.Rows
	finish func(err error)
	closed atomic.Bool
}

// NewReader wraps rows. finish runs once, after rows are closed, with the
// first error seen by the cursor.
func NewReader(rows provider.Rows, finish func(err error)) *Reader {
	return &Reader{rows: rows, finish: finish}
}

func (r *Reader) Columns() ([]string, error) {
	if r.closed.Load() {
		return nil, ErrReaderClosed
	}
	return r.rows.Columns()
}

func (r *Reader) Next() bool {
	if r.closed.Load() {
		return false
	}
	return r.rows.Next()
}

func (r *Reader) NextResultSet() bool {
	if r.closed.Load() {
		return false
	}
	return r.rows.NextResultSet()
}

func (r *Reader) Scan(dest ...any) error {
	if r.closed.Load() {
		return ErrReaderClosed
	}
	return r.rows.Scan(dest...)
}

func (r *Reader) Err() error {
	return r.rows.Err()
}

func (r *Reader) Closed() bool {
	return r.closed.Load()
}

// Close closes the cursor and releases its connection. Output parameters are
// delivered by then.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.rows.Err()
	if closeErr := r.rows.Close(); err == nil {
		err = closeErr
	}
	if r.finish != nil {
		r.finish(err)
	}
	return err
}
