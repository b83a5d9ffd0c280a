package health

import (
	"fmt"
	"time"

	"github.com/tidb-incubator/repogate/pkg/config"
)

type State int32

const (
	Healthy State = iota
	Warning
	Failed
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Warning:
		return "warning"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Policy is the runtime form of a fallback policy.
type Policy struct {
	Name                  string
	FailureWindow         time.Duration
	AllowedFailurePercent float64
	WarningFailurePercent float64
	BackOff               time.Duration
	MinimumRequests       int64
}

func PolicyFromConfig(cfg *config.FallbackPolicy) Policy {
	minimum := int64(cfg.MinimumRequests)
	if minimum <= 0 {
		minimum = 1
	}
	return Policy{
		Name:                  cfg.Name,
		FailureWindow:         time.Duration(cfg.FailureWindowSeconds) * time.Second,
		AllowedFailurePercent: float64(cfg.AllowedFailurePercent),
		WarningFailurePercent: float64(cfg.WarningFailurePercent),
		BackOff:               time.Duration(cfg.BackOffTime) * time.Second,
		MinimumRequests:       minimum,
	}
}

// evaluate maps window counters onto a state. A zero threshold never fires
// without at least one failure.
func (p *Policy) evaluate(total, failures int64) State {
	if total == 0 || failures == 0 {
		return Healthy
	}
	percent := failurePercent(total, failures)
	if total >= p.MinimumRequests && percent >= p.AllowedFailurePercent {
		return Failed
	}
	if percent >= p.WarningFailurePercent {
		return Warning
	}
	return Healthy
}

func failurePercent(total, failures int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(failures) * 100 / float64(total)
}
