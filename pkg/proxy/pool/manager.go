package pool

import (
	"context"
	"sort"
	"sync"

	"github.com/tidb-incubator/repogate/pkg/proxy/analytics"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Manager owns one ConnPool per Key, created on first use.
type Manager struct {
	cfg       Config
	providers *provider.Registry
	hook      analytics.Hook
	clk       clock.PassiveClock

	mu    sync.RWMutex
	pools map[Key]*ConnPool
}

func NewManager(cfg Config, providers *provider.Registry, hook analytics.Hook, clk clock.PassiveClock) *Manager {
	return &Manager{
		cfg:       cfg,
		providers: providers,
		hook:      hook,
		clk:       clk,
		pools:     make(map[Key]*ConnPool),
	}
}

func (m *Manager) GetConn(ctx context.Context, key Key) (*PooledConn, error) {
	p, err := m.Pool(key)
	if err != nil {
		return nil, err
	}
	return p.GetConn(ctx)
}

func (m *Manager) Pool(key Key) (*ConnPool, error) {
	m.mu.RLock()
	p, ok := m.pools[key]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok = m.pools[key]; ok {
		return p, nil
	}
	prov, err := m.providers.Get(key.ServerType)
	if err != nil {
		return nil, err
	}
	p, err = NewConnPool(key, m.cfg, prov, m.hook, m.clk)
	if err != nil {
		return nil, err
	}
	m.pools[key] = p
	logutil.BgLogger().Info("create connection pool", zap.Stringer("pool", key), zap.Int("capacity", m.cfg.Capacity))
	return p, nil
}

// Retain closes every pool whose key is not in keep. Closing waits for
// checked out connections, so it runs in the background.
func (m *Manager) Retain(keep map[Key]struct{}) {
	m.mu.Lock()
	var stale []*ConnPool
	for key, p := range m.pools {
		if _, ok := keep[key]; !ok {
			stale = append(stale, p)
			delete(m.pools, key)
		}
	}
	m.mu.Unlock()

	for _, p := range stale {
		logutil.BgLogger().Info("close unused connection pool", zap.Stringer("pool", p.Key()))
		go p.Close()
	}
}

func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	ret := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		ret = append(ret, p.Stats())
	}
	m.mu.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].Key < ret[j].Key })
	return ret
}

func (m *Manager) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[Key]*ConnPool)
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
