package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/tidb-incubator/repogate/pkg/proxy/analytics"
	"github.com/tidb-incubator/repogate/pkg/proxy/errcode"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	DefaultCapacity    = 16
	DefaultIdleTimeout = 10 * time.Minute
)

type Config struct {
	Capacity    int
	IdleTimeout time.Duration // zero disables idle eviction
	MaxLifetime time.Duration // zero disables lifetime eviction
}

// Key identifies a pool: one per server type and connection string.
type Key struct {
	ServerType provider.ServerType
	ConnString string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s", k.ServerType, analytics.RedactConnString(k.ConnString))
}

type entry struct {
	conn      provider.PhysicalConn
	createdAt time.Time
	// set on release, read on the next acquire
	releasedAt time.Time
	uses       int64
}

// ConnPool is a bounded pool of physical connections to one endpoint.
type ConnPool struct {
	key  Key
	cfg  Config
	p    *puddle.Pool[*entry]
	hook analytics.Hook
	clk  clock.PassiveClock
}

func NewConnPool(key Key, cfg Config, prov provider.Provider, hook analytics.Hook, clk clock.PassiveClock) (*ConnPool, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	cp := &ConnPool{
		key:  key,
		cfg:  cfg,
		hook: analytics.Safe(hook),
		clk:  clk,
	}

	p, err := puddle.NewPool(&puddle.Config[*entry]{
		Constructor: func(ctx context.Context) (*entry, error) {
			conn, err := prov.Open(ctx, key.ConnString)
			if err != nil {
				return nil, err
			}
			return &entry{conn: conn, createdAt: clk.Now()}, nil
		},
		Destructor: func(e *entry) {
			if err := e.conn.Close(); err != nil {
				logutil.BgLogger().Warn("close physical connection error", zap.Stringer("pool", key), zap.Error(err))
			}
			// Stat locks the pool, which may be held while destructing
			go cp.hook.ConnectionClosed(cp.event(false, nil))
		},
		MaxSize: int32(cfg.Capacity),
	})
	if err != nil {
		return nil, err
	}
	cp.p = p
	return cp, nil
}

func (cp *ConnPool) Key() Key {
	return cp.key
}

// GetConn acquires a connection, blocking until one is free or ctx is done.
// Reused connections past their idle timeout or lifetime are discarded, and
// the remaining ones must answer a ping.
func (cp *ConnPool) GetConn(ctx context.Context) (*PooledConn, error) {
	for attempts := 0; ; attempts++ {
		res, err := cp.p.Acquire(ctx)
		if err != nil {
			cp.hook.ConnectionFailed(cp.event(false, err))
			return nil, errcode.New(errcode.ErrConnectionUnavailable, "", "", err)
		}

		e := res.Value()
		fromPool := e.uses > 0
		if fromPool && attempts <= cp.cfg.Capacity {
			if reason := cp.expired(e); reason != "" {
				logutil.BgLogger().Debug("evict pooled connection", zap.Stringer("pool", cp.key), zap.String("reason", reason))
				res.Destroy()
				continue
			}
			if err := e.conn.Ping(ctx); err != nil {
				logutil.BgLogger().Info("pooled connection failed validation", zap.Stringer("pool", cp.key), zap.Error(err))
				res.Destroy()
				continue
			}
		}
		e.uses++
		if !fromPool {
			cp.hook.ConnectionOpened(cp.event(false, nil))
		}
		return &PooledConn{PhysicalConn: e.conn, res: res, pool: cp, fromPool: fromPool}, nil
	}
}

func (cp *ConnPool) expired(e *entry) string {
	now := cp.clk.Now()
	if cp.cfg.MaxLifetime > 0 && now.Sub(e.createdAt) >= cp.cfg.MaxLifetime {
		return "max_lifetime"
	}
	if cp.cfg.IdleTimeout > 0 && now.Sub(e.releasedAt) >= cp.cfg.IdleTimeout {
		return "idle_timeout"
	}
	return ""
}

type Stats struct {
	Key      string `json:"key"`
	Capacity int32  `json:"capacity"`
	Pooled   int32  `json:"pooled"`
	Active   int32  `json:"active"`
	Total    int32  `json:"total"`
	Acquires int64  `json:"acquires"`
}

func (cp *ConnPool) Stats() Stats {
	s := cp.p.Stat()
	return Stats{
		Key:      cp.key.String(),
		Capacity: s.MaxResources(),
		Pooled:   s.IdleResources(),
		Active:   s.AcquiredResources(),
		Total:    s.TotalResources(),
		Acquires: s.AcquireCount(),
	}
}

func (cp *ConnPool) event(fromPool bool, err error) analytics.ConnectionEvent {
	s := cp.p.Stat()
	return analytics.ConnectionEvent{
		ServerType: string(cp.key.ServerType),
		Endpoint:   analytics.RedactConnString(cp.key.ConnString),
		Pooled:     s.IdleResources(),
		Active:     s.AcquiredResources(),
		FromPool:   fromPool,
		Err:        err,
	}
}

// Close closes idle connections and waits for acquired ones to be released.
func (cp *ConnPool) Close() {
	cp.p.Close()
}

// PooledConn is a physical connection checked out of a ConnPool. Exactly one
// of PutBack and ErrorClose takes effect; later calls are no-ops.
type PooledConn struct {
	provider.PhysicalConn
	res      *puddle.Resource[*entry]
	pool     *ConnPool
	fromPool bool
	released atomic.Bool
}

func (c *PooledConn) FromPool() bool {
	return c.fromPool
}

func (c *PooledConn) Released() bool {
	return c.released.Load()
}

// PutBack returns the connection for reuse. A transaction left open is rolled
// back first; if that fails the connection is discarded.
func (c *PooledConn) PutBack() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	if c.PhysicalConn.InTransaction() {
		if err := c.PhysicalConn.Rollback(); err != nil {
			logutil.BgLogger().Warn("rollback on put back error", zap.Stringer("pool", c.pool.key), zap.Error(err))
			c.res.Destroy()
			return
		}
	}
	c.res.Value().releasedAt = c.pool.clk.Now()
	c.res.Release()
}

// ErrorClose discards the connection. The physical close runs in the background,
// so it is safe to call while a query is still pending on the connection.
func (c *PooledConn) ErrorClose() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.pool.hook.ConnectionFailed(c.pool.event(c.fromPool, nil))
	c.res.Destroy()
}
