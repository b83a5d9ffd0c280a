package sync2

import (
	"errors"
	"sync"
)

var (
	ErrToggleNotPrepared = errors.New("not prepared")
)

// Toggle is a double buffer: readers see Current while a writer prepares the other
// slot, and Toggle publishes it atomically.
type Toggle[T any] struct {
	data     [2]T
	idx      int32
	prepared bool
	lock     sync.RWMutex
}

func NewToggle[T any](o T) *Toggle[T] {
	return &Toggle[T]{
		data: [2]T{o},
	}
}

func (t *Toggle[T]) Current() T {
	t.lock.RLock()
	ret := t.data[t.idx]
	t.lock.RUnlock()
	return ret
}

// SwapOther stores o in the standby slot and returns what was there.
func (t *Toggle[T]) SwapOther(o T) T {
	t.lock.Lock()
	defer t.lock.Unlock()

	tidx := toggleIdx(t.idx)
	origin := t.data[tidx]
	t.data[tidx] = o
	t.prepared = true
	return origin
}

// Toggle publishes the standby slot and returns the value it replaced.
func (t *Toggle[T]) Toggle() (T, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.prepared {
		var zero T
		return zero, ErrToggleNotPrepared
	}

	old := t.data[t.idx]
	t.idx = toggleIdx(t.idx)
	t.prepared = false
	return old, nil
}

func (t *Toggle[T]) Prepared() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.prepared
}

func toggleIdx(idx int32) int32 {
	return (idx + 1) % 2
}
