package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/tidb-incubator/repogate/pkg/util/window"
	"go.uber.org/atomic"
	"k8s.io/utils/clock"
)

var ErrRateLimited = errors.New("rate limited")

const hitMetric = "hit"

// SlidingWindowRateLimiter is a concurrency safe QPS limiter over a one second window
// of ten 100ms cells.
type SlidingWindowRateLimiter struct {
	clk          clock.PassiveClock
	mu           sync.Mutex            // guard sw
	sw           *window.SlidingWindow // guarded by mu
	qpsThreshold *atomic.Int64
}

func NewSlidingWindowRateLimiter(qpsThreshold int64, clk clock.PassiveClock) *SlidingWindowRateLimiter {
	return &SlidingWindowRateLimiter{
		clk:          clk,
		sw:           window.New(time.Second, 10),
		qpsThreshold: atomic.NewInt64(qpsThreshold),
	}
}

// Limit returns ErrRateLimited when the request is rejected, nil otherwise.
// A non-positive threshold disables limiting.
func (l *SlidingWindowRateLimiter) Limit() error {
	qpsThreshold := l.qpsThreshold.Load()
	if qpsThreshold <= 0 {
		return nil
	}
	now := l.clk.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.sw.Count(now, hitMetric)
	actualMs := l.sw.ActualDuration(now).Milliseconds()
	// actualQPS = hits / (actualMs / 1000) >= qpsThreshold
	if hits*1000 >= qpsThreshold*actualMs {
		return ErrRateLimited
	}
	l.sw.Hit(now, hitMetric)
	return nil
}

func (l *SlidingWindowRateLimiter) ChangeQpsThreshold(newQpsThreshold int64) {
	l.qpsThreshold.Store(newQpsThreshold)
}

func (l *SlidingWindowRateLimiter) QpsThreshold() int64 {
	return l.qpsThreshold.Load()
}
