package health

import (
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/zap"
)

// LogObserver logs every transition; entering Failed is a warning.
type LogObserver struct{}

func (LogObserver) OnStateChange(key Key, from, to State) {
	fields := []zap.Field{
		zap.String("repository", key.Repository),
		zap.Int("cluster", key.Cluster),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	}
	if key.Database != "" {
		fields = append(fields, zap.String("database", key.Database))
	}
	if to == Failed {
		logutil.BgLogger().Warn("target entered back off", fields...)
		return
	}
	logutil.BgLogger().Info("target state changed", fields...)
}

type observers []Observer

// Observers notifies each of obs in order.
func Observers(obs ...Observer) Observer {
	return observers(obs)
}

func (o observers) OnStateChange(key Key, from, to State) {
	for _, ob := range o {
		ob.OnStateChange(key, from, to)
	}
}
