package command

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	uerrors "github.com/tidb-incubator/repogate/pkg/util/errors"
)

func TestCommand_Parameters(t *testing.T) {
	cmd := NewStoredProcedure("CreateUser")
	require.NoError(t, cmd.AddParameter(Parameter{Name: "Name", Type: DbTypeString, Value: "bob"}))
	require.NoError(t, cmd.AddParameter(Parameter{Name: "UserID", Type: DbTypeInt64, Direction: ReturnValue}))

	err := cmd.AddParameter(Parameter{Name: "Name"})
	assert.True(t, uerrors.Is(err, ErrDuplicatedParameter))

	require.NoError(t, cmd.SetParameterValue("Name", "alice"))
	p, ok := cmd.Parameter("Name")
	require.True(t, ok)
	assert.Equal(t, "alice", p.Value)

	err = cmd.SetParameterValue("Missing", 1)
	assert.True(t, uerrors.Is(err, ErrParameterNotFound))

	params := cmd.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, "UserID", params[1].Name)
	assert.True(t, params[1].Direction.IsOutput())
	assert.False(t, params[1].Direction.IsInput())
}

func TestCommand_LockRejectsMutation(t *testing.T) {
	cmd := NewText("select 1")
	require.NoError(t, cmd.AddParameter(Parameter{Name: "a", Value: 1}))

	require.NoError(t, cmd.Lock())
	assert.True(t, cmd.Locked())
	assert.Equal(t, ErrCommandLocked, cmd.Lock())
	assert.Equal(t, ErrCommandLocked, cmd.AddParameter(Parameter{Name: "b"}))
	assert.Equal(t, ErrCommandLocked, cmd.SetParameterValue("a", 2))
	assert.Equal(t, ErrCommandLocked, cmd.SetTimeout(time.Second))
	assert.Equal(t, ErrCommandLocked, cmd.ClearParameters())

	p, _ := cmd.Parameter("a")
	assert.Equal(t, 1, p.Value)

	cmd.Unlock()
	assert.NoError(t, cmd.SetParameterValue("a", 2))
	assert.NoError(t, cmd.SetTimeout(time.Second))
	assert.Equal(t, time.Second, cmd.Timeout())
}

func TestCommand_LockIsExclusive(t *testing.T) {
	cmd := NewText("select 1")
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cmd.Lock() == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, acquired)
}

func TestCommand_Deliver(t *testing.T) {
	cmd := NewStoredProcedure("CreateUser")
	var got any
	require.NoError(t, cmd.AddParameter(Parameter{Name: "UserID", Direction: Output, Store: func(v any) { got = v }}))
	require.NoError(t, cmd.AddParameter(Parameter{Name: "Name", Value: "bob"}))
	require.NoError(t, cmd.AddParameter(Parameter{Name: "Rows", Direction: InputOutput}))

	require.NoError(t, cmd.Lock())
	cmd.Deliver("UserID", int64(42))
	cmd.Deliver("Name", "mallory")
	cmd.Deliver("Rows", 3)
	cmd.Deliver("Missing", 1)
	cmd.Unlock()

	assert.Equal(t, int64(42), got)
	p, _ := cmd.Parameter("UserID")
	assert.Equal(t, int64(42), p.Value)
	p, _ = cmd.Parameter("Name")
	assert.Equal(t, "bob", p.Value)
	p, _ = cmd.Parameter("Rows")
	assert.Equal(t, 3, p.Value)
}

func TestCommand_ReturnedParametersAreCopies(t *testing.T) {
	cmd := NewText("update users set name = ? where id = ?")
	var stored any
	require.NoError(t, cmd.AddParameter(Parameter{Name: "name", Type: DbTypeString, Value: "bob"}))
	require.NoError(t, cmd.AddParameter(Parameter{Name: "id", Direction: ReturnValue, Store: func(v any) { stored = v }}))
	require.NoError(t, cmd.Lock())

	p, ok := cmd.Parameter("name")
	require.True(t, ok)
	p.Value = "mallory"
	params := cmd.Parameters()
	params[0].Direction = Output
	params[0].Value = "eve"
	params[1].Store = nil

	p, _ = cmd.Parameter("name")
	assert.Equal(t, "bob", p.Value)
	assert.Equal(t, Input, p.Direction)

	cmd.Deliver("id", int64(7))
	assert.Equal(t, int64(7), stored)
	cmd.Unlock()
}

func TestCommand_ParameterNotFound(t *testing.T) {
	_, ok := NewText("select 1").Parameter("a")
	assert.False(t, ok)
}

func TestCommand_Describe(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	cmd := NewText(string(long))
	assert.Len(t, cmd.Describe(), maxDescribeLen+3)
	assert.Equal(t, "GetUser", NewStoredProcedure("GetUser").Describe())
	assert.Equal(t, "stored_procedure", StoredProcedure.String())
	assert.Equal(t, "int64", DbTypeInt64.String())
	assert.Equal(t, "return_value", ReturnValue.String())
}
