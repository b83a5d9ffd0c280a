package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/tidb-incubator/repogate/pkg/util/window"
	"k8s.io/utils/clock"
)

const (
	totalHit   = "total"
	failureHit = "failure"

	windowCells = 10
)

// Key identifies a tracker. Database is empty for cluster level trackers.
type Key struct {
	Repository string
	Cluster    int
	Database   string
}

func (k Key) String() string {
	if k.Database == "" {
		return fmt.Sprintf("%s/%d", k.Repository, k.Cluster)
	}
	return fmt.Sprintf("%s/%d/%s", k.Repository, k.Cluster, k.Database)
}

// Observer is notified after a tracker changes state. It is called without the
// tracker lock held.
type Observer interface {
	OnStateChange(key Key, from, to State)
}

type Snapshot struct {
	Key            Key           `json:"-"`
	Name           string        `json:"name"`
	Policy         string        `json:"policy"`
	State          string        `json:"state"`
	Total          int64         `json:"total"`
	Failures       int64         `json:"failures"`
	FailurePercent float64       `json:"failure_percent"`
	FailedUntil    time.Time     `json:"failed_until,omitempty"`
	LastElapsed    time.Duration `json:"last_elapsed"`
}

// Tracker evaluates the outcomes of one cluster or database against a Policy.
//
// Healthy and Warning follow the failure percentage of the window. Failed is
// entered when the percentage reaches the allowed limit, and left only when the
// back off elapses, at which point the window is cleared.
type Tracker struct {
	key      Key
	clk      clock.PassiveClock
	observer Observer

	mu          sync.Mutex // guards every field below
	policy      Policy
	sw          *window.SlidingWindow
	state       State
	failedUntil time.Time
	lastElapsed time.Duration
}

func NewTracker(key Key, policy Policy, clk clock.PassiveClock, observer Observer) *Tracker {
	return &Tracker{
		key:      key,
		clk:      clk,
		observer: observer,
		policy:   policy,
		sw:       window.New(policy.FailureWindow, windowCells),
		state:    Healthy,
	}
}

func (t *Tracker) Key() Key {
	return t.key
}

// State returns the current state, performing the Failed to Healthy transition
// if the back off has elapsed.
func (t *Tracker) State() State {
	t.mu.Lock()
	changes := t.refreshLocked(t.clk.Now(), nil)
	state := t.state
	t.mu.Unlock()

	t.notify(changes)
	return state
}

// Available reports whether routing may use the tracked target.
func (t *Tracker) Available() bool {
	return t.State() != Failed
}

func (t *Tracker) RecordSuccess(elapsed time.Duration) {
	t.record(false, elapsed)
}

func (t *Tracker) RecordFailure() {
	t.record(true, 0)
}

func (t *Tracker) record(failed bool, elapsed time.Duration) {
	now := t.clk.Now()

	t.mu.Lock()
	changes := t.refreshLocked(now, nil)
	if t.state == Failed {
		// outcome of a command started before the trip
		t.mu.Unlock()
		t.notify(changes)
		return
	}

	if failed {
		t.sw.Hit(now, totalHit, failureHit)
	} else {
		t.sw.Hit(now, totalHit)
		t.lastElapsed = elapsed
	}

	hits := t.sw.Hits(now, totalHit, failureHit)
	next := t.policy.evaluate(hits[totalHit], hits[failureHit])
	if next != t.state {
		changes = append(changes, transition{from: t.state, to: next})
		t.state = next
		if next == Failed {
			t.failedUntil = now.Add(t.policy.BackOff)
		}
	}
	t.mu.Unlock()

	t.notify(changes)
}

type transition struct {
	from, to State
}

// refreshLocked must be called with mu held.
func (t *Tracker) refreshLocked(now time.Time, changes []transition) []transition {
	if t.state != Failed || now.Before(t.failedUntil) {
		return changes
	}
	t.state = Healthy
	t.failedUntil = time.Time{}
	t.sw.Reset()
	return append(changes, transition{from: Failed, to: Healthy})
}

func (t *Tracker) notify(changes []transition) {
	if t.observer == nil {
		return
	}
	for _, c := range changes {
		t.observer.OnStateChange(t.key, c.from, c.to)
	}
}

func (t *Tracker) FailurePercent() float64 {
	return t.Snapshot().FailurePercent
}

// FailedUntil returns the end of the current back off, or the zero time.
func (t *Tracker) FailedUntil() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failedUntil
}

func (t *Tracker) Policy() Policy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policy
}

// ChangePolicy applies a reloaded policy. The window is rebuilt if its span
// changes; a running back off keeps its original deadline.
func (t *Tracker) ChangePolicy(policy Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if policy.FailureWindow != t.policy.FailureWindow {
		t.sw = window.New(policy.FailureWindow, windowCells)
	}
	t.policy = policy
}

func (t *Tracker) Snapshot() Snapshot {
	now := t.clk.Now()

	t.mu.Lock()
	changes := t.refreshLocked(now, nil)
	hits := t.sw.Hits(now, totalHit, failureHit)
	s := Snapshot{
		Key:            t.key,
		Name:           t.key.String(),
		Policy:         t.policy.Name,
		State:          t.state.String(),
		Total:          hits[totalHit],
		Failures:       hits[failureHit],
		FailurePercent: failurePercent(hits[totalHit], hits[failureHit]),
		FailedUntil:    t.failedUntil,
		LastElapsed:    t.lastElapsed,
	}
	t.mu.Unlock()

	t.notify(changes)
	return s
}
