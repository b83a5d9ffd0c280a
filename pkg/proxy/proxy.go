package proxy

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/configcenter"
	"github.com/tidb-incubator/repogate/pkg/proxy/executor"
	"github.com/tidb-incubator/repogate/pkg/proxy/health"
	"github.com/tidb-incubator/repogate/pkg/proxy/metrics"
	"github.com/tidb-incubator/repogate/pkg/proxy/pool"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
	"github.com/tidb-incubator/repogate/pkg/proxy/router"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const loadRoutingTimeout = 10 * time.Second

// Proxy wires the routing config source, the router and the executor, and
// serves the admin API.
type Proxy struct {
	cfg          *config.Proxy
	clk          clock.Clock
	configCenter configcenter.ConfigCenter
	providers    *provider.Registry
	pools        *pool.Manager
	trackers     *health.Registry
	router       *router.Router
	executor     *executor.Executor
	apiServer    *HttpApiServer
}

func NewProxy(cfg *config.Proxy) *Proxy {
	return &Proxy{
		cfg: cfg,
		clk: clock.RealClock{},
	}
}

func (p *Proxy) Init() error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	cc, err := configcenter.CreateConfigCenter(p.cfg.ConfigCenter)
	if err != nil {
		return err
	}
	p.configCenter = cc

	routing, err := p.loadRouting()
	if err != nil {
		return err
	}
	topo, err := router.BuildTopology(routing)
	if err != nil {
		return errors.WithMessage(err, "build routing topology")
	}

	providers, err := provider.NewDefaultRegistry(p.cfg.Providers.Drivers)
	if err != nil {
		return err
	}
	p.providers = providers

	hook := metrics.Hook{}
	p.pools = pool.NewManager(pool.Config{
		Capacity:    p.cfg.Pool.Capacity,
		IdleTimeout: time.Duration(p.cfg.Pool.IdleTimeout) * time.Second,
		MaxLifetime: time.Duration(p.cfg.Pool.MaxLifetime) * time.Second,
	}, providers, hook, p.clk)
	p.trackers = health.NewRegistry(p.clk, health.Observers(health.LogObserver{}, hook))
	p.router = router.New(topo, p.trackers, p.pools, p.clk)
	p.executor = executor.New(p.router, p.cfg.Executor, hook, p.clk)

	apiServer, err := CreateHttpApiServer(p, p.cfg)
	if err != nil {
		return err
	}
	p.apiServer = apiServer

	logutil.BgLogger().Info("proxy initialized", zap.String("routing_version", routing.Version),
		zap.Int("repositories", len(topo.Repositories())))
	return nil
}

func (p *Proxy) loadRouting() (*config.Routing, error) {
	ctx, cancel := context.WithTimeout(context.Background(), loadRoutingTimeout)
	defer cancel()
	routing, err := p.configCenter.LoadRouting(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "load routing config")
	}
	return routing, nil
}

func (p *Proxy) Executor() *executor.Executor {
	return p.executor
}

func (p *Proxy) Router() *router.Router {
	return p.router
}

func (p *Proxy) Pools() *pool.Manager {
	return p.pools
}

// PrepareReload loads the routing config from the config center into the
// router's standby topology.
func (p *Proxy) PrepareReload() error {
	routing, err := p.loadRouting()
	if err != nil {
		return err
	}
	return p.router.PrepareReload(routing)
}

func (p *Proxy) CommitReload() error {
	return p.router.CommitReload()
}

// Run serves the admin API until Close.
func (p *Proxy) Run() error {
	return p.apiServer.Run()
}

func (p *Proxy) Close() {
	if p.apiServer != nil {
		p.apiServer.Close()
	}
	if p.pools != nil {
		p.pools.Close()
	}
	if p.providers != nil {
		p.providers.Close()
	}
	if p.configCenter != nil {
		p.configCenter.Close()
	}
}
