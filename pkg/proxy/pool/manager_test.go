package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidb-incubator/repogate/pkg/proxy/analytics"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider/providertest"
	uerrors "github.com/tidb-incubator/repogate/pkg/util/errors"
	testingclock "k8s.io/utils/clock/testing"
)

func TestManager_PoolPerKey(t *testing.T) {
	mysql := providertest.New(provider.MySQL)
	pg := providertest.New(provider.PostgreSQL)
	m := NewManager(Config{Capacity: 1}, provider.NewRegistry(mysql, pg), analytics.Nop{}, testingclock.NewFakeClock(time.Now()))
	defer m.Close()
	ctx := context.Background()

	a := Key{ServerType: provider.MySQL, ConnString: "a"}
	b := Key{ServerType: provider.MySQL, ConnString: "b"}
	c := Key{ServerType: provider.PostgreSQL, ConnString: "a"}

	ca, err := m.GetConn(ctx, a)
	require.NoError(t, err)
	// a is exhausted but b and c are independent
	cb, err := m.GetConn(ctx, b)
	require.NoError(t, err)
	cc, err := m.GetConn(ctx, c)
	require.NoError(t, err)

	pa1, _ := m.Pool(a)
	pa2, _ := m.Pool(a)
	assert.Same(t, pa1, pa2)
	assert.Len(t, m.Stats(), 3)
	assert.Equal(t, 1, pg.TotalOpens())

	ca.PutBack()
	cb.PutBack()
	cc.PutBack()

	m.Retain(map[Key]struct{}{a: {}})
	assert.Len(t, m.Stats(), 1)
}

func TestManager_UnknownServerType(t *testing.T) {
	m := NewManager(Config{}, provider.NewRegistry(), nil, nil)
	_, err := m.GetConn(context.Background(), Key{ServerType: provider.SQLite, ConnString: "x"})
	assert.True(t, uerrors.Is(err, provider.ErrNoProvider))
}
