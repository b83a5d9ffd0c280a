package provider

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
	uerrors "github.com/tidb-incubator/repogate/pkg/util/errors"
)

func openSQLite(t *testing.T) (*SQLProvider, PhysicalConn, string) {
	p := NewSQLProvider(SQLite, DefaultDrivers[SQLite])
	t.Cleanup(func() { p.Close() })
	dsn := filepath.Join(t.TempDir(), "test.db")
	conn, err := p.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(context.Background(), command.NewText("CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)"))
	require.NoError(t, err)
	return p, conn, dsn
}

func insertUser(t *testing.T, conn PhysicalConn, name string) int64 {
	cmd := command.NewText("INSERT INTO users (name) VALUES (?)")
	require.NoError(t, cmd.AddParameter(command.Parameter{Name: "name", Type: command.DbTypeString, Value: name}))
	require.NoError(t, cmd.AddParameter(command.Parameter{Name: "UserID", Type: command.DbTypeInt64, Direction: command.ReturnValue}))
	res, err := conn.Exec(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	return res.Outputs["UserID"].(int64)
}

func TestSQLProvider_ExecReturnValue(t *testing.T) {
	_, conn, _ := openSQLite(t)
	assert.Equal(t, int64(1), insertUser(t, conn, "alice"))
	assert.Equal(t, int64(2), insertUser(t, conn, "bob"))
}

func TestSQLProvider_QueryAndScalar(t *testing.T) {
	_, conn, _ := openSQLite(t)
	insertUser(t, conn, "alice")
	insertUser(t, conn, "bob")
	ctx := context.Background()

	res, err := conn.QueryScalar(ctx, command.NewText("SELECT COUNT(*) FROM users"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Value)

	res, err = conn.QueryScalar(ctx, command.NewText("SELECT name FROM users WHERE id = 100"))
	require.NoError(t, err)
	assert.Nil(t, res.Value)

	rows, err := conn.Query(ctx, command.NewText("SELECT id, name FROM users ORDER BY id"))
	require.NoError(t, err)
	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)
	var names []string
	for rows.Next() {
		var id int64
		var name string
		require.NoError(t, rows.Scan(&id, &name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.NoError(t, rows.Close())
	assert.Equal(t, []string{"alice", "bob"}, names)
	assert.Empty(t, rows.Outputs())
}

func TestSQLProvider_Transaction(t *testing.T) {
	p, conn, dsn := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, conn.BeginTx(ctx))
	assert.True(t, conn.InTransaction())
	assert.Equal(t, ErrTransactionInProgress, conn.BeginTx(ctx))
	insertUser(t, conn, "alice")
	require.NoError(t, conn.Rollback())
	assert.False(t, conn.InTransaction())
	assert.Equal(t, ErrNoTransactionInProgress, conn.Commit())

	require.NoError(t, conn.BeginTx(ctx))
	insertUser(t, conn, "bob")
	require.NoError(t, conn.Commit())

	// visible from a second session
	other, err := p.Open(ctx, dsn)
	require.NoError(t, err)
	defer other.Close()
	res, err := other.QueryScalar(ctx, command.NewText("SELECT name FROM users"))
	require.NoError(t, err)
	assert.Equal(t, "bob", res.Value)
}

func TestSQLProvider_ProcedureNotSupported(t *testing.T) {
	_, conn, _ := openSQLite(t)
	_, err := conn.Exec(context.Background(), command.NewStoredProcedure("CreateUser"))
	assert.True(t, uerrors.Is(err, ErrProcedureNotSupported))
}

func TestSQLProvider_OpenFailure(t *testing.T) {
	p := NewSQLProvider(SQLite, DefaultDrivers[SQLite])
	defer p.Close()
	_, err := p.Open(context.Background(), filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	assert.Error(t, err)
}

func TestSQLProvider_PingAndClose(t *testing.T) {
	_, conn, _ := openSQLite(t)
	require.NoError(t, conn.Ping(context.Background()))
	assert.Equal(t, SQLite, conn.ServerType())
	require.NoError(t, conn.BeginTx(context.Background()))
	assert.NoError(t, conn.Close())
}
