package metrics

import (
	"strconv"

	"github.com/tidb-incubator/repogate/pkg/proxy/analytics"
	"github.com/tidb-incubator/repogate/pkg/proxy/errcode"
	"github.com/tidb-incubator/repogate/pkg/proxy/health"
)

// Hook records analytics events and health transitions as prometheus metrics.
type Hook struct{}

var (
	_ analytics.Hook  = Hook{}
	_ health.Observer = Hook{}
)

func (Hook) ConnectionOpened(e analytics.ConnectionEvent) {
	recordConnEvent(e, ConnEventOpened)
}

func (Hook) ConnectionClosed(e analytics.ConnectionEvent) {
	recordConnEvent(e, ConnEventClosed)
}

func (Hook) ConnectionFailed(e analytics.ConnectionEvent) {
	recordConnEvent(e, ConnEventFailed)
}

func recordConnEvent(e analytics.ConnectionEvent, event string) {
	ConnEventCounter.WithLabelValues(e.ServerType, e.Endpoint, event).Inc()
	PoolConnGauge.WithLabelValues(e.ServerType, e.Endpoint, PoolConnPooled).Set(float64(e.Pooled))
	PoolConnGauge.WithLabelValues(e.ServerType, e.Endpoint, PoolConnActive).Set(float64(e.Active))
}

func (Hook) CommandCompleted(e analytics.CommandEvent) {
	recordCommand(e, nil)
}

func (Hook) CommandFailed(e analytics.CommandEvent) {
	recordCommand(e, e.Err)
	kind := "unknown"
	if k := errcode.KindOf(e.Err); k != nil {
		kind = k.Error()
	}
	CommandErrorCounter.WithLabelValues(e.Repository, kind).Inc()
}

func recordCommand(e analytics.CommandEvent, err error) {
	sqlType := GetCommandTypeName(e.CommandType == "stored_procedure", e.Command)
	CommandCounter.WithLabelValues(e.Repository, strconv.Itoa(e.Cluster), sqlType, RetLabel(err)).Inc()
	CommandDurationHistogram.WithLabelValues(e.Repository, sqlType).Observe(e.Elapsed.Seconds())
}

func (Hook) OnStateChange(key health.Key, from, to health.State) {
	cluster := strconv.Itoa(key.Cluster)
	TrackerStateGauge.WithLabelValues(key.Repository, cluster, key.Database).Set(float64(to))
	StateTransitionCounter.WithLabelValues(key.Repository, cluster, key.Database, from.String(), to.String()).Inc()
}
