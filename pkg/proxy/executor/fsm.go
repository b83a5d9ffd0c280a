package executor

import (
	"fmt"

	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type State int32

const (
	StateCreated State = iota
	StateRouting
	StateConnected
	StateExecuting
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateCreated:   "created",
	StateRouting:   "routing",
	StateConnected: "connected",
	StateExecuting: "executing",
	StateCompleted: "completed",
	StateFailed:    "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type transitionTable map[State]map[State]struct{}

var transitions = newTransitionTable()

func newTransitionTable() transitionTable {
	t := make(transitionTable)
	t.mustRegister(StateCreated, StateRouting)
	// command already locked by another operation
	t.mustRegister(StateCreated, StateFailed)

	t.mustRegister(StateRouting, StateConnected)
	t.mustRegister(StateRouting, StateFailed)

	t.mustRegister(StateConnected, StateExecuting)
	t.mustRegister(StateConnected, StateFailed)

	t.mustRegister(StateExecuting, StateCompleted)
	t.mustRegister(StateExecuting, StateFailed)
	return t
}

func (t transitionTable) mustRegister(from, to State) {
	if _, ok := t[from]; !ok {
		t[from] = make(map[State]struct{})
	}
	if _, ok := t[from][to]; ok {
		logutil.BgLogger().Panic("duplicated operation state transition", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	t[from][to] = struct{}{}
}

func (t transitionTable) allowed(from, to State) bool {
	_, ok := t[from][to]
	return ok
}

// fsm is the state of one operation. Only the goroutine driving the
// operation transits it; anyone may read it.
type fsm struct {
	state atomic.Int32
}

func (f *fsm) current() State {
	return State(f.state.Load())
}

// transit panics on a transition missing from the table: that is a bug in
// the executor, not a runtime condition.
func (f *fsm) transit(to State) {
	from := f.current()
	if !transitions.allowed(from, to) {
		logutil.BgLogger().Panic("illegal operation state transition", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	f.state.Store(int32(to))
}
