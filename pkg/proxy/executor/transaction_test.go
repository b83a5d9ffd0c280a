package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
	"github.com/tidb-incubator/repogate/pkg/proxy/errcode"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider/providertest"
)

type TransactionTestSuite struct {
	suite.Suite
	f *fixture
}

func TestTransactionSuite(t *testing.T) {
	suite.Run(t, new(TransactionTestSuite))
}

func (s *TransactionTestSuite) SetupTest() {
	s.f = newFixture(s.T(), config.Executor{})
}

func (s *TransactionTestSuite) begin() (*Transaction, *providertest.Conn) {
	tx, err := s.f.exec.BeginTransaction(context.Background(), testRepo)
	s.Require().NoError(err)
	conns := s.f.prov.Conns()
	s.Require().NotEmpty(conns)
	conn := conns[len(conns)-1]
	s.Require().True(conn.InTransaction())
	return tx, conn
}

func (s *TransactionTestSuite) TestCommit() {
	tx, conn := s.begin()

	n, err := tx.ExecuteNonQuery(context.Background(), command.NewText("insert into a values (1)"))
	s.Require().NoError(err)
	s.Equal(int64(1), n)
	_, err = tx.ExecuteScalar(context.Background(), command.NewText("select count(*) from a"))
	s.Require().NoError(err)
	s.Equal(2, conn.Execs())
	s.Equal(int32(0), s.f.pooled(), "pinned while the transaction is open")

	s.Require().NoError(tx.Commit())
	s.Equal(1, conn.Commits())
	s.True(tx.Done())
	s.True(tx.Connection().Released())
	s.Equal(int32(1), s.f.pooled())

	_, err = tx.ExecuteNonQuery(context.Background(), command.NewText("insert into a values (2)"))
	s.Equal(ErrTransactionDone, err)
	s.Equal(ErrTransactionDone, tx.Commit())
	s.NoError(tx.Close())

	completed, _ := s.f.hook.events()
	s.Len(completed, 2)
}

func (s *TransactionTestSuite) TestRollbackOnClose() {
	tx, conn := s.begin()
	_, err := tx.ExecuteNonQuery(context.Background(), command.NewText("delete from a"))
	s.Require().NoError(err)

	s.Require().NoError(tx.Close())
	s.Equal(1, conn.Rollbacks())
	s.Equal(0, conn.Commits())
	s.NoError(tx.Close())
	s.Equal(1, conn.Rollbacks())
}

func (s *TransactionTestSuite) TestFailedCommandEndsTransaction() {
	s.f.prov.ExecFunc = func(ctx context.Context, cmd *command.Command) (provider.Result, error) {
		return provider.Result{}, errors.New("constraint violation")
	}
	tx, conn := s.begin()

	cmd := command.NewText("insert into a values (1)")
	_, err := tx.ExecuteNonQuery(context.Background(), cmd)
	s.True(errcode.Is(err, errcode.ErrCommandExecutionFailure))
	s.False(cmd.Locked())
	s.True(tx.Done())
	s.Eventually(conn.Closed, time.Second, 5*time.Millisecond)
	s.Equal(ErrTransactionDone, tx.Commit())
}

func (s *TransactionTestSuite) TestCommandTimeout() {
	s.f.prov.ExecFunc = providertest.Block(false)
	tx, _ := s.begin()

	_, err := tx.ExecuteNonQuery(context.Background(), command.NewText("select sleep(1)"), WithTimeout(20*time.Millisecond))
	s.True(errcode.Is(err, errcode.ErrCommandTimeout))
	s.True(tx.Done())
}

func (s *TransactionTestSuite) TestLockedCommandRejected() {
	tx, _ := s.begin()
	defer tx.Close()

	cmd := command.NewText("select 1")
	require.NoError(s.T(), cmd.Lock())
	_, err := tx.ExecuteNonQuery(context.Background(), cmd)
	s.Error(err)
	s.False(tx.Done())
}

func (s *TransactionTestSuite) TestBeginUnavailable() {
	s.f.prov.SetDown("main", true)
	s.f.prov.SetDown("backup", true)
	_, err := s.f.exec.BeginTransaction(context.Background(), testRepo)
	assert.True(s.T(), errcode.Is(err, errcode.ErrAllClustersUnavailable))
}
