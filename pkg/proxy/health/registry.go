package health

import (
	"sort"
	"sync"

	"k8s.io/utils/clock"
)

// Registry owns every tracker of the process. Trackers are created on first
// use and keep their state across topology reloads as long as their key survives.
type Registry struct {
	clk      clock.PassiveClock
	observer Observer

	mu       sync.RWMutex
	trackers map[Key]*Tracker
}

func NewRegistry(clk clock.PassiveClock, observer Observer) *Registry {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Registry{
		clk:      clk,
		observer: observer,
		trackers: make(map[Key]*Tracker),
	}
}

// Get returns the tracker for key, creating it with policy if absent. An
// existing tracker whose policy differs is updated in place.
func (r *Registry) Get(key Key, policy Policy) *Tracker {
	r.mu.RLock()
	t, ok := r.trackers[key]
	r.mu.RUnlock()
	if ok {
		if t.Policy() != policy {
			t.ChangePolicy(policy)
		}
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok = r.trackers[key]; ok {
		return t
	}
	t = NewTracker(key, policy, r.clk, r.observer)
	r.trackers[key] = t
	return t
}

func (r *Registry) Lookup(key Key) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[key]
	return t, ok
}

// Retain drops every tracker whose key is not in keep.
func (r *Registry) Retain(keep map[Key]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.trackers {
		if _, ok := keep[key]; !ok {
			delete(r.trackers, key)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackers)
}

// Snapshots returns the state of every tracker ordered by key.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.RUnlock()

	ret := make([]Snapshot, 0, len(trackers))
	for _, t := range trackers {
		ret = append(ret, t.Snapshot())
	}
	sort.Slice(ret, func(i, j int) bool {
		a, b := ret[i].Key, ret[j].Key
		if a.Repository != b.Repository {
			return a.Repository < b.Repository
		}
		if a.Cluster != b.Cluster {
			return a.Cluster < b.Cluster
		}
		return a.Database < b.Database
	})
	return ret
}
