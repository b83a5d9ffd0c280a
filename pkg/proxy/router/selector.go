package router

import (
	"errors"

	"github.com/tidb-incubator/repogate/pkg/util/rand2"
	"go.uber.org/atomic"
)

var (
	ErrNoDatabaseToSelect  = errors.New("no database to select")
	ErrInvalidSelectorType = errors.New("invalid selector type")
)

const (
	SelectorTypePriority   = "priority"
	SelectorTypeRoundRobin = "round_robin"
	SelectorTypeRandom     = "random"
)

// Selector picks one of the candidate databases of a cluster. Candidates are
// ordered by sequence number.
type Selector interface {
	Select(candidates []*Database) (*Database, error)
}

func NewSelector(selectorType string) (Selector, error) {
	switch selectorType {
	case "", SelectorTypePriority:
		return PrioritySelector{}, nil
	case SelectorTypeRoundRobin:
		return &RoundRobinSelector{}, nil
	case SelectorTypeRandom:
		return NewRandomSelector(rand2.NewTimeSeeded()), nil
	default:
		return nil, ErrInvalidSelectorType
	}
}

// PrioritySelector always picks the lowest sequence number.
type PrioritySelector struct{}

func (PrioritySelector) Select(candidates []*Database) (*Database, error) {
	if len(candidates) == 0 {
		return nil, ErrNoDatabaseToSelect
	}
	return candidates[0], nil
}

type RoundRobinSelector struct {
	next atomic.Uint64
}

func (s *RoundRobinSelector) Select(candidates []*Database) (*Database, error) {
	length := len(candidates)
	if length == 0 {
		return nil, ErrNoDatabaseToSelect
	}
	idx := (s.next.Inc() - 1) % uint64(length)
	return candidates[idx], nil
}

type RandomSelector struct {
	rd *rand2.Rand
}

func NewRandomSelector(rd *rand2.Rand) *RandomSelector {
	return &RandomSelector{
		rd: rd,
	}
}

func (s *RandomSelector) Select(candidates []*Database) (*Database, error) {
	db, ok := rand2.Pick(s.rd, candidates)
	if !ok {
		return nil, ErrNoDatabaseToSelect
	}
	return db, nil
}
