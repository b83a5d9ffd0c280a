package router

import (
	"github.com/tidb-incubator/repogate/pkg/proxy/health"
	"github.com/tidb-incubator/repogate/pkg/proxy/pool"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
	"go.uber.org/atomic"
)

// Connection is a routed physical connection with the context needed to
// attribute its outcomes. Release returns it exactly once.
type Connection struct {
	repository string
	cluster    int
	database   *Database
	policy     health.Policy

	conn     *pool.PooledConn
	released atomic.Bool
}

func newConnection(repo *Repository, cluster *Cluster, db *Database, pc *pool.PooledConn) *Connection {
	return &Connection{
		repository: repo.Name,
		cluster:    cluster.SequenceNumber,
		database:   db,
		policy:     cluster.Policy,
		conn:       pc,
	}
}

func (c *Connection) Repository() string {
	return c.repository
}

func (c *Connection) Cluster() int {
	return c.cluster
}

func (c *Connection) Database() string {
	return c.database.Name
}

func (c *Connection) ServerType() provider.ServerType {
	return c.database.ServerType
}

func (c *Connection) Physical() provider.PhysicalConn {
	return c.conn
}

func (c *Connection) FromPool() bool {
	return c.conn.FromPool()
}

// Release returns the physical connection to its pool, or discards it when
// discard is set. Only the first call has an effect; it reports whether this
// call released the connection.
func (c *Connection) Release(discard bool) bool {
	if !c.released.CompareAndSwap(false, true) {
		return false
	}
	if discard {
		c.conn.ErrorClose()
	} else {
		c.conn.PutBack()
	}
	return true
}

func (c *Connection) Released() bool {
	return c.released.Load()
}

func (c *Connection) databaseKey() health.Key {
	return health.Key{Repository: c.repository, Cluster: c.cluster, Database: c.database.Name}
}
