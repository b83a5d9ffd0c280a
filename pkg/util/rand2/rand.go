package rand2

import (
	"math/rand"
	"sync"
	"time"
)

// Rand serializes access to a math/rand source so one instance can be shared
// by concurrent selectors.
type Rand struct {
	mu  sync.Mutex
	src *rand.Rand
}

func New(src rand.Source) *Rand {
	return &Rand{src: rand.New(src)}
}

func NewTimeSeeded() *Rand {
	return New(rand.NewSource(time.Now().UnixNano()))
}

// Index returns a value in [0, n). n must be positive.
func (r *Rand) Index(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.src.Int63n(int64(n)))
}

// Pick returns a uniformly chosen element, or false when items is empty.
func Pick[T any](r *Rand, items []T) (T, bool) {
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[r.Index(len(items))], true
}
