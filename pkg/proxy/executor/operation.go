package executor

import (
	"time"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
	"github.com/tidb-incubator/repogate/pkg/proxy/mapping"
	"github.com/tidb-incubator/repogate/pkg/proxy/resultset"
	"go.uber.org/atomic"
)

var (
	ErrNoMatchingBegin = errors.New("operation was not begun by this executor for this kind")
	ErrOperationEnded  = errors.New("operation already ended")
)

type kind int

const (
	kindReader kind = iota
	kindNonQuery
	kindScalar
	kindEnumerable
)

func (k kind) String() string {
	switch k {
	case kindReader:
		return "reader"
	case kindNonQuery:
		return "non_query"
	case kindScalar:
		return "scalar"
	default:
		return "enumerable"
	}
}

// Operation is a command running in the background. It is begun by one of
// the Begin methods and must be handed to the matching End method exactly
// once, which waits for it.
type Operation struct {
	call
	id       uint64
	kind     kind
	executor *Executor

	fsm   fsm
	done  chan struct{}
	ended atomic.Bool

	// valid once done is closed
	reader       *resultset.Reader
	rowsAffected int64
	value        any
	err          error
}

func (op *Operation) ID() uint64 {
	return op.id
}

func (op *Operation) Repository() string {
	return op.repository
}

func (op *Operation) Command() *command.Command {
	return op.cmd
}

func (op *Operation) State() State {
	return op.fsm.current()
}

// Done is closed once the operation completed or failed.
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

func (op *Operation) IsCompleted() bool {
	select {
	case <-op.done:
		return true
	default:
		return false
	}
}

// call is one command run on behalf of a repository.
type call struct {
	repository string
	cmd        *command.Command
	opts       options
	start      time.Time
}

// EnumerableOperation is an Operation whose rows are mapped onto T.
type EnumerableOperation[T any] struct {
	*Operation
	mapper *mapping.Mapper[T]
}
