package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	RouteResultRouted      = "routed"
	RouteResultFallback    = "fallback"
	RouteResultUnavailable = "unavailable"
	RouteResultUnknown     = "unknown_repository"
	RouteResultRateLimited = "rate_limited"
)

var (
	TrackerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ModuleRepoGate,
			Subsystem: LabelRouter,
			Name:      "tracker_state",
			Help:      "Health state of clusters and databases (0 healthy, 1 warning, 2 failed).",
		}, []string{LblRepository, LblCluster, LblDatabase})

	StateTransitionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ModuleRepoGate,
			Subsystem: LabelRouter,
			Name:      "state_transition_total",
			Help:      "Counter of health state transitions.",
		}, []string{LblRepository, LblCluster, LblDatabase, LblFrom, LblTo})

	RouteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ModuleRepoGate,
			Subsystem: LabelRouter,
			Name:      "route_total",
			Help:      "Counter of connection resolutions by result.",
		}, []string{LblRepository, LblResult})
)
