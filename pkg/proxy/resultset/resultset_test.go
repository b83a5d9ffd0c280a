package resultset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidb-incubator/repogate/pkg/proxy/errcode"
	"github.com/tidb-incubator/repogate/pkg/proxy/mapping"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider/providertest"
)

type order struct {
	ID     int64
	Status string
}

var orderMapper = mapping.MustNewMapper(
	mapping.Column("id", func(o *order, v int64) { o.ID = v }, 0),
	mapping.Column("status", func(o *order, v string) { o.Status = v }, "new"),
)

func newOrderRows() *providertest.Rows {
	return providertest.NewRows([]string{"id", "status"},
		[]any{int64(1), "paid"},
		[]any{int64(2), nil},
	)
}

type finishRecorder struct {
	calls int
	err   error
}

func (f *finishRecorder) finish(err error) {
	f.calls++
	f.err = err
}

func TestReader_CloseIsIdempotent(t *testing.T) {
	rows := newOrderRows()
	rec := &finishRecorder{}
	r := NewReader(rows, rec.finish)

	require.True(t, r.Next())
	var id int64
	var status string
	require.NoError(t, r.Scan(&id, &status))
	assert.Equal(t, int64(1), id)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, r.Closed())
	assert.Equal(t, 1, rows.Closes())
	assert.Equal(t, 1, rec.calls)
	assert.NoError(t, rec.err)

	assert.False(t, r.Next())
	assert.Equal(t, ErrReaderClosed, r.Scan(&id))
	_, err := r.Columns()
	assert.Equal(t, ErrReaderClosed, err)
}

func TestStream_Collect(t *testing.T) {
	rows := newOrderRows()
	rec := &finishRecorder{}
	s := NewStream(NewReader(rows, rec.finish), orderMapper)

	got, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, []order{{ID: 1, Status: "paid"}, {ID: 2, Status: "new"}}, got)
	assert.Equal(t, 1, rec.calls, "exhausting the stream releases the connection")

	// a second pass yields nothing and no error
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, 1, rows.Closes())
	assert.Equal(t, 1, rec.calls)
}

func TestStream_CloseEarly(t *testing.T) {
	rows := newOrderRows()
	rec := &finishRecorder{}
	s := NewStream(NewReader(rows, rec.finish), orderMapper)

	require.True(t, s.Next())
	assert.Equal(t, int64(1), s.Record().ID)
	require.NoError(t, s.Close())
	assert.False(t, s.Next())
	assert.Equal(t, 1, rec.calls)
}

func TestStream_MappingError(t *testing.T) {
	rows := providertest.NewRows([]string{"id"}, []any{"abc"})
	rec := &finishRecorder{}
	s := NewStream(NewReader(rows, rec.finish), orderMapper)

	assert.False(t, s.Next())
	assert.Error(t, s.Err())
	assert.Equal(t, 1, rec.calls)
}

func TestResult_Ok(t *testing.T) {
	res := Ok(NewStream(NewReader(newOrderRows(), nil), orderMapper))
	assert.False(t, res.IsServerOffline())
	assert.NoError(t, res.OfflineCause())

	got, err := res.Records().Collect()
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NoError(t, res.Close())
}

func TestResult_Offline(t *testing.T) {
	cause := errcode.New(errcode.ErrAllClustersUnavailable, "R", "select 1", errors.New("refused"))
	res := Offline[order]("R", "select 1", cause)

	assert.True(t, res.IsServerOffline())
	assert.True(t, errcode.Is(res.OfflineCause(), errcode.ErrServerOffline))
	assert.True(t, errcode.Is(res.OfflineCause(), errcode.ErrAllClustersUnavailable))

	got, err := res.Records().Collect()
	assert.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, res.Close())
}
