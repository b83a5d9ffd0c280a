package router

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
	"github.com/tidb-incubator/repogate/pkg/proxy/errcode"
	"github.com/tidb-incubator/repogate/pkg/proxy/health"
	"github.com/tidb-incubator/repogate/pkg/proxy/metrics"
	"github.com/tidb-incubator/repogate/pkg/proxy/pool"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"github.com/tidb-incubator/repogate/pkg/util/ratelimit"
	"github.com/tidb-incubator/repogate/pkg/util/sync2"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// ConnSource hands out pooled physical connections. *pool.Manager implements it.
type ConnSource interface {
	GetConn(ctx context.Context, key pool.Key) (*pool.PooledConn, error)
	Retain(keep map[pool.Key]struct{})
}

// Router resolves repository names to connections on the first eligible cluster.
type Router struct {
	topology *sync2.Toggle[*Topology]
	trackers *health.Registry
	pools    ConnSource
	clk      clock.PassiveClock

	reloadMu sync.Mutex

	limitersMu sync.Mutex
	limiters   map[string]*ratelimit.SlidingWindowRateLimiter
}

func New(topology *Topology, trackers *health.Registry, pools ConnSource, clk clock.PassiveClock) *Router {
	if clk == nil {
		clk = clock.RealClock{}
	}
	r := &Router{
		topology: sync2.NewToggle(topology),
		trackers: trackers,
		pools:    pools,
		clk:      clk,
		limiters: make(map[string]*ratelimit.SlidingWindowRateLimiter),
	}
	r.syncLimiters(topology)
	return r
}

func (r *Router) Topology() *Topology {
	return r.topology.Current()
}

// ResolveConnection returns a connection to a database of the lowest sequence
// cluster that is enabled, outside its back off, and accepts a connection.
// A failed open is recorded against the database and its cluster, and the next
// cluster is tried.
func (r *Router) ResolveConnection(ctx context.Context, repository string, cmd *command.Command) (*Connection, error) {
	topo := r.topology.Current()
	repo, ok := topo.Repository(repository)
	if !ok {
		metrics.RouteCounter.WithLabelValues(repository, metrics.RouteResultUnknown).Inc()
		return nil, errcode.New(errcode.ErrUnknownRepository, repository, cmd.Describe(), nil)
	}
	if err := r.limit(repo); err != nil {
		metrics.RouteCounter.WithLabelValues(repository, metrics.RouteResultRateLimited).Inc()
		return nil, errcode.New(errcode.ErrRateLimited, repository, cmd.Describe(), err)
	}

	var (
		lastErr      error
		lastCluster  int
		lastDatabase string
		first        = true
	)
	for _, cluster := range repo.Clusters {
		if !cluster.Enabled {
			continue
		}
		primary := first
		first = false

		if !r.trackers.Get(clusterKey(repo, cluster), cluster.Policy).Available() {
			continue
		}
		candidates := r.candidates(repo, cluster)
		db, err := cluster.selector.Select(candidates)
		if err != nil {
			continue
		}

		start := r.clk.Now()
		pc, err := r.pools.GetConn(ctx, db.poolKey())
		if err != nil {
			lastErr, lastCluster, lastDatabase = err, cluster.SequenceNumber, db.Name
			r.trackers.Get(databaseKey(repo, cluster, db), cluster.Policy).RecordFailure()
			r.trackers.Get(clusterKey(repo, cluster), cluster.Policy).RecordFailure()
			logutil.BgLogger().Warn("open connection failed, trying next cluster",
				zap.String("repository", repo.Name), zap.Int("cluster", cluster.SequenceNumber),
				zap.String("database", db.Name), zap.Error(err))
			if ctx.Err() != nil {
				return nil, r.contextError(repo, cmd, lastCluster, lastDatabase, err)
			}
			continue
		}
		r.trackers.Get(clusterKey(repo, cluster), cluster.Policy).RecordSuccess(r.clk.Since(start))

		result := metrics.RouteResultRouted
		if !primary {
			result = metrics.RouteResultFallback
		}
		metrics.RouteCounter.WithLabelValues(repo.Name, result).Inc()
		return newConnection(repo, cluster, db, pc), nil
	}

	metrics.RouteCounter.WithLabelValues(repo.Name, metrics.RouteResultUnavailable).Inc()
	return nil, errcode.New(errcode.ErrAllClustersUnavailable, repo.Name, cmd.Describe(), lastErr).At(lastCluster, lastDatabase)
}

// contextError reports a connection acquire cut short by ctx. Pool exhaustion
// up to the deadline is ErrConnectionUnavailable; the context error stays in
// the cause chain.
func (r *Router) contextError(repo *Repository, cmd *command.Command, cluster int, database string, cause error) error {
	return errcode.New(errcode.ErrConnectionUnavailable, repo.Name, cmd.Describe(), cause).At(cluster, database)
}

// candidates returns the enabled databases of cluster whose own tracker is
// not in back off.
func (r *Router) candidates(repo *Repository, cluster *Cluster) []*Database {
	ret := make([]*Database, 0, len(cluster.Databases))
	for _, db := range cluster.Databases {
		if r.trackers.Get(databaseKey(repo, cluster, db), cluster.Policy).Available() {
			ret = append(ret, db)
		}
	}
	return ret
}

// RecordSuccess reports a completed command against the database it ran on.
func (r *Router) RecordSuccess(conn *Connection, elapsed time.Duration) {
	r.trackers.Get(conn.databaseKey(), conn.policy).RecordSuccess(elapsed)
}

// RecordFailure reports a failed command against the database it ran on. The
// cluster only fails over once the database itself is in back off.
func (r *Router) RecordFailure(conn *Connection, err error) {
	r.trackers.Get(conn.databaseKey(), conn.policy).RecordFailure()
	logutil.BgLogger().Debug("command failure recorded", zap.Stringer("target", conn.databaseKey()), zap.Error(err))
}

func (r *Router) limit(repo *Repository) error {
	if repo.RateLimitQPS <= 0 {
		return nil
	}
	r.limitersMu.Lock()
	l, ok := r.limiters[repo.Name]
	r.limitersMu.Unlock()
	if !ok {
		return nil
	}
	return l.Limit()
}

// syncLimiters creates, updates and drops limiters to match topo. Existing
// limiters keep their window across reloads.
func (r *Router) syncLimiters(topo *Topology) {
	r.limitersMu.Lock()
	defer r.limitersMu.Unlock()
	keep := make(map[string]struct{})
	for _, repo := range topo.Repositories() {
		if repo.RateLimitQPS <= 0 {
			continue
		}
		keep[repo.Name] = struct{}{}
		if l, ok := r.limiters[repo.Name]; ok {
			l.ChangeQpsThreshold(repo.RateLimitQPS)
			continue
		}
		r.limiters[repo.Name] = ratelimit.NewSlidingWindowRateLimiter(repo.RateLimitQPS, r.clk)
	}
	for name := range r.limiters {
		if _, ok := keep[name]; !ok {
			delete(r.limiters, name)
		}
	}
}

// PrepareReload compiles cfg into the standby topology. Nothing changes for
// callers until CommitReload.
func (r *Router) PrepareReload(cfg *config.Routing) error {
	topo, err := BuildTopology(cfg)
	if err != nil {
		return errors.WithMessage(err, "prepare reload")
	}
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	r.topology.SwapOther(topo)
	return nil
}

// CommitReload publishes the prepared topology. Trackers and pools of removed
// targets are dropped; surviving targets keep their health state.
func (r *Router) CommitReload() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	if _, err := r.topology.Toggle(); err != nil {
		return errors.WithMessage(err, "commit reload")
	}
	topo := r.topology.Current()
	r.trackers.Retain(topo.trackerKeys())
	r.pools.Retain(topo.poolKeys())
	r.syncLimiters(topo)
	logutil.BgLogger().Info("routing topology reloaded", zap.String("version", topo.Version))
	return nil
}

// Reload prepares and commits cfg in one step.
func (r *Router) Reload(cfg *config.Routing) error {
	if err := r.PrepareReload(cfg); err != nil {
		return err
	}
	return r.CommitReload()
}

type Status struct {
	Version  string            `json:"version"`
	Trackers []health.Snapshot `json:"trackers"`
}

func (r *Router) Status() Status {
	return Status{
		Version:  r.topology.Current().Version,
		Trackers: r.trackers.Snapshots(),
	}
}
