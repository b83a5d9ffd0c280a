package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ModuleRepoGate = "repogate"
)

// metrics subsystems.
const (
	LabelRouter  = "router"
	LabelPool    = "pool"
	LabelCommand = "command"
)

// metrics labels.
const (
	LblRepository = "repository"
	LblCluster    = "cluster"
	LblDatabase   = "database"
	LblServerType = "server_type"
	LblEndpoint   = "endpoint"
	LblEvent      = "event"
	LblState      = "state"
	LblFrom       = "from"
	LblTo         = "to"
	LblSQLType    = "sql_type"
	LblResult     = "result"
	LblKind       = "kind"

	opSucc   = "ok"
	opFailed = "err"
)

// RetLabel returns "ok" when err == nil and "err" when err != nil.
func RetLabel(err error) string {
	if err == nil {
		return opSucc
	}
	return opFailed
}

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		// router
		TrackerStateGauge,
		StateTransitionCounter,
		RouteCounter,
		// pool
		ConnEventCounter,
		PoolConnGauge,
		// command
		CommandCounter,
		CommandDurationHistogram,
		CommandErrorCounter,
	}
}

// Register registers every collector with reg, prometheus.DefaultRegisterer if nil.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
