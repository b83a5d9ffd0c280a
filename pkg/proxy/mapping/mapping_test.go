package mapping

import (
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	ID      int64
	Name    string
	Active  bool
	Score   float64
	Created time.Time
}

var userMapper = MustNewMapper(
	Column("id", func(u *user, v int64) { u.ID = v }, 0),
	Column("name", func(u *user, v string) { u.Name = v }, "anonymous"),
	Column("active", func(u *user, v bool) { u.Active = v }, true),
	Column("score", func(u *user, v float64) { u.Score = v }, 0),
	Column("created", func(u *user, v time.Time) { u.Created = v }, time.Time{}),
)

func TestBindingMap(t *testing.T) {
	b := userMapper.Bind([]string{"ID", "Name", "unused", "Score", "Active"})
	require.Equal(t, 5, b.Width())

	u, err := b.Map([]any{int64(7), []byte("alice"), "x", "1.5", []byte("0")})
	require.NoError(t, err)
	assert.Equal(t, user{ID: 7, Name: "alice", Score: 1.5, Active: false}, u)

	// NULL and missing columns take the default
	u, err = b.Map([]any{[]byte("8"), nil, nil, nil, nil})
	require.NoError(t, err)
	assert.Equal(t, int64(8), u.ID)
	assert.Equal(t, "anonymous", u.Name)
	assert.True(t, u.Active)
	assert.True(t, u.Created.IsZero())
}

func TestBindingMap_Errors(t *testing.T) {
	b := userMapper.Bind([]string{"id"})
	_, err := b.Map([]any{1, 2})
	assert.Error(t, err)

	_, err = b.Map([]any{"not a number"})
	assert.Error(t, err)
}

func TestNewMapper_Errors(t *testing.T) {
	_, err := NewMapper(
		Column("id", func(u *user, v int64) { u.ID = v }, 0),
		Column("ID", func(u *user, v int64) { u.ID = v }, 0),
	)
	assert.Equal(t, ErrDuplicatedColumn, errors.Cause(err))

	_, err = NewMapper(Column("", func(u *user, v int64) { u.ID = v }, 0))
	assert.Equal(t, ErrEmptyColumn, err)

	assert.Panics(t, func() {
		MustNewMapper(Column("", func(u *user, v int64) {}, 0))
	})
}

func TestConvert(t *testing.T) {
	i, err := Convert[int64]([]byte("42"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), i)

	s, err := Convert[string](int64(42))
	require.NoError(t, err)
	assert.Equal(t, "42", s)

	n, err := Convert[int](nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	b, err := Convert[[]byte]("raw")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), b)

	_, err = Convert[struct{}](1)
	assert.Error(t, err)
}
