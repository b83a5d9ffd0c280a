package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidb-incubator/repogate/pkg/config"
	testingclock "k8s.io/utils/clock/testing"
)

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
}

func (o *recordingObserver) OnStateChange(key Key, from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, key.String()+":"+from.String()+"->"+to.String())
}

func (o *recordingObserver) get() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.transitions...)
}

var testPolicy = PolicyFromConfig(&config.FallbackPolicy{
	Name:                  "test",
	FailureWindowSeconds:  10,
	AllowedFailurePercent: 50,
	WarningFailurePercent: 25,
	BackOffTime:           60,
})

func newTestTracker() (*Tracker, *testingclock.FakeClock, *recordingObserver) {
	clk := testingclock.NewFakeClock(time.Unix(1600000000, 0))
	obs := &recordingObserver{}
	return NewTracker(Key{Repository: "R", Cluster: 1}, testPolicy, clk, obs), clk, obs
}

func TestPolicyFromConfig(t *testing.T) {
	assert.Equal(t, 10*time.Second, testPolicy.FailureWindow)
	assert.Equal(t, 60*time.Second, testPolicy.BackOff)
	assert.Equal(t, int64(1), testPolicy.MinimumRequests)
	assert.Equal(t, float64(50), testPolicy.AllowedFailurePercent)
}

func TestTracker_StartsHealthy(t *testing.T) {
	tr, _, _ := newTestTracker()
	assert.Equal(t, Healthy, tr.State())
	assert.True(t, tr.Available())
	assert.Equal(t, float64(0), tr.FailurePercent())
	assert.True(t, tr.FailedUntil().IsZero())
}

func TestTracker_FailedForExactlyBackOff(t *testing.T) {
	tr, clk, obs := newTestTracker()
	start := clk.Now()

	tr.RecordFailure()
	assert.Equal(t, Failed, tr.State())
	assert.Equal(t, start.Add(60*time.Second), tr.FailedUntil())

	clk.Step(time.Second)
	tr.RecordFailure()
	tr.RecordSuccess(time.Millisecond)
	assert.Equal(t, Failed, tr.State(), "outcomes while failed are ignored")

	clk.SetTime(start.Add(60*time.Second - time.Nanosecond))
	assert.False(t, tr.Available())

	clk.SetTime(start.Add(60 * time.Second))
	assert.True(t, tr.Available())
	assert.Equal(t, Healthy, tr.State())
	assert.Equal(t, float64(0), tr.FailurePercent(), "window is cleared on recovery")
	assert.Equal(t, []string{"R/1:healthy->failed", "R/1:failed->healthy"}, obs.get())
}

func TestTracker_Warning(t *testing.T) {
	tr, clk, obs := newTestTracker()
	for i := 0; i < 3; i++ {
		tr.RecordSuccess(time.Millisecond)
		clk.Step(100 * time.Millisecond)
	}
	tr.RecordFailure()
	assert.Equal(t, Warning, tr.State())
	assert.True(t, tr.Available())
	assert.Equal(t, float64(25), tr.FailurePercent())

	tr.RecordSuccess(time.Millisecond)
	assert.Equal(t, Healthy, tr.State())
	assert.Equal(t, []string{"R/1:healthy->warning", "R/1:warning->healthy"}, obs.get())
}

func TestTracker_WindowExpiry(t *testing.T) {
	tr, clk, _ := newTestTracker()
	tr.RecordSuccess(time.Millisecond)
	tr.RecordSuccess(time.Millisecond)
	tr.RecordSuccess(time.Millisecond)
	tr.RecordFailure()
	require.Equal(t, Warning, tr.State())

	clk.Step(11 * time.Second)
	assert.Equal(t, float64(0), tr.FailurePercent())

	// the old failure no longer counts, one success keeps it healthy
	tr.RecordSuccess(time.Millisecond)
	assert.Equal(t, Healthy, tr.State())
}

func TestTracker_MinimumRequests(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1600000000, 0))
	policy := testPolicy
	policy.MinimumRequests = 5
	tr := NewTracker(Key{Repository: "R", Cluster: 1}, policy, clk, nil)

	for i := 0; i < 4; i++ {
		tr.RecordFailure()
	}
	assert.Equal(t, Warning, tr.State())
	tr.RecordFailure()
	assert.Equal(t, Failed, tr.State())
}

func TestTracker_FlappingAfterRecovery(t *testing.T) {
	tr, clk, _ := newTestTracker()
	tr.RecordFailure()
	clk.Step(60 * time.Second)
	require.Equal(t, Healthy, tr.State())

	tr.RecordSuccess(time.Millisecond)
	tr.RecordSuccess(time.Millisecond)
	tr.RecordFailure()
	assert.Equal(t, Warning, tr.State(), "samples from before the back off are gone")
}

func TestTracker_ChangePolicy(t *testing.T) {
	tr, _, _ := newTestTracker()
	tr.RecordSuccess(time.Millisecond)
	tr.RecordFailure()
	require.Equal(t, Failed, tr.State())

	policy := testPolicy
	policy.Name = "relaxed"
	policy.AllowedFailurePercent = 90
	tr.ChangePolicy(policy)
	assert.Equal(t, Failed, tr.State(), "running back off is kept")
	assert.Equal(t, "relaxed", tr.Snapshot().Policy)
}

func TestTracker_Concurrent(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1600000000, 0))
	policy := testPolicy
	policy.AllowedFailurePercent = 100
	policy.WarningFailurePercent = 100
	tr := NewTracker(Key{Repository: "R", Cluster: 1}, policy, clk, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.RecordSuccess(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), tr.Snapshot().Total)
}
