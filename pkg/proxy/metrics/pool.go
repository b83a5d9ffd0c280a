package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	ConnEventOpened = "opened"
	ConnEventClosed = "closed"
	ConnEventFailed = "failed"

	PoolConnPooled = "pooled"
	PoolConnActive = "active"
)

var (
	ConnEventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ModuleRepoGate,
			Subsystem: LabelPool,
			Name:      "conn_event_total",
			Help:      "Counter of physical connection events.",
		}, []string{LblServerType, LblEndpoint, LblEvent})

	PoolConnGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ModuleRepoGate,
			Subsystem: LabelPool,
			Name:      "connections",
			Help:      "Number of pooled and active physical connections.",
		}, []string{LblServerType, LblEndpoint, LblState})
)
