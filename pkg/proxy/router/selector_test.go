package router

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidb-incubator/repogate/pkg/util/rand2"
)

type testSource struct {
	val int64
}

func (t *testSource) Int63() int64 {
	return t.val
}

func (*testSource) Seed(seed int64) {
}

func prepareDatabases(n int) []*Database {
	var ret []*Database
	for i := 0; i < n; i++ {
		ret = append(ret, &Database{Name: "db" + strconv.Itoa(i), SequenceNumber: i})
	}
	return ret
}

func TestRandomSelector_Select_Success(t *testing.T) {
	source := &testSource{}
	selector := NewRandomSelector(rand2.New(source))
	databases := prepareDatabases(3)

	for i := 0; i < len(databases); i++ {
		source.val = int64(i)
		db, err := selector.Select(databases)
		assert.NoError(t, err)
		assert.Equal(t, databases[i], db)
	}
}

func TestSelectors_ErrNoDatabaseToSelect(t *testing.T) {
	for _, typ := range []string{"", SelectorTypePriority, SelectorTypeRoundRobin, SelectorTypeRandom} {
		selector, err := NewSelector(typ)
		assert.NoError(t, err)
		db, err := selector.Select(nil)
		assert.Nil(t, db)
		assert.EqualError(t, err, ErrNoDatabaseToSelect.Error())
	}
	_, err := NewSelector("weighted")
	assert.Equal(t, ErrInvalidSelectorType, err)
}

func TestPrioritySelector(t *testing.T) {
	databases := prepareDatabases(3)
	db, err := PrioritySelector{}.Select(databases)
	assert.NoError(t, err)
	assert.Equal(t, "db0", db.Name)
}

func TestRoundRobinSelector(t *testing.T) {
	databases := prepareDatabases(3)
	selector := &RoundRobinSelector{}
	var got []string
	for i := 0; i < 4; i++ {
		db, err := selector.Select(databases)
		assert.NoError(t, err)
		got = append(got, db.Name)
	}
	assert.Equal(t, []string{"db0", "db1", "db2", "db0"}, got)
}
