package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/configcenter"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
	"github.com/tidb-incubator/repogate/pkg/proxy/executor"
	"github.com/tidb-incubator/repogate/pkg/proxy/mapping"
	"github.com/tidb-incubator/repogate/pkg/proxy/router"
)

const routingTemplate = `version: %s
databases:
  - name: main
    sequence_number: 1
    type: sqlite
    connection_string: %s
    enabled: true
repositories:
  - name: Users
    clusters:
      - databases: [main]
        sequence: 1
        enabled: true
        fallback_policy: strict
fallback_policies:
  - name: strict
    failure_window_seconds: 10
    allowed_failure_percent: 50
    warning_failure_percent: 25
    back_off_time: 60
`

type user struct {
	ID   int64
	Name string
}

var userMapper = mapping.MustNewMapper(
	mapping.Column("id", func(u *user, v int64) { u.ID = v }, 0),
	mapping.Column("name", func(u *user, v string) { u.Name = v }, ""),
)

type ProxyTestSuite struct {
	suite.Suite
	routingPath string
	dbPath      string
	cfg         *config.Proxy
	proxy       *Proxy
}

func TestProxySuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(ProxyTestSuite))
}

func (s *ProxyTestSuite) SetupTest() {
	dir := s.T().TempDir()
	s.routingPath = filepath.Join(dir, "routing.yaml")
	s.dbPath = filepath.Join(dir, "users.db")
	s.writeRouting("v1")

	s.cfg = &config.Proxy{
		Version: "v1",
		AdminServer: config.AdminServer{
			Addr:           "127.0.0.1:0",
			MaxConnections: 8,
		},
		ConfigCenter: config.ConfigCenter{
			Type:       configcenter.ConfigCenterTypeFile,
			ConfigFile: config.ConfigFile{Path: s.routingPath},
		},
		Pool:     config.Pool{Capacity: 2},
		Executor: config.Executor{DefaultTimeoutMs: 5000, MaxInFlight: 8},
	}
	s.proxy = NewProxy(s.cfg)
	s.Require().NoError(s.proxy.Init())
}

func (s *ProxyTestSuite) TearDownTest() {
	s.proxy.Close()
}

func (s *ProxyTestSuite) writeRouting(version string) {
	data := fmt.Sprintf(routingTemplate, version, s.dbPath)
	s.Require().NoError(os.WriteFile(s.routingPath, []byte(data), 0o644))
}

func (s *ProxyTestSuite) serve(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.proxy.apiServer.engine.ServeHTTP(w, req)
	return w
}

func (s *ProxyTestSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().Equal(http.StatusOK, w.Code)
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v))
}

func (s *ProxyTestSuite) TestExecuteAgainstSQLite() {
	ctx := context.Background()
	exec := s.proxy.Executor()

	_, err := exec.ExecuteNonQuery(ctx, "Users", command.NewText("CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)"))
	s.Require().NoError(err)

	var ids []any
	for _, name := range []string{"alice", "bob"} {
		cmd := command.NewText("INSERT INTO users (name) VALUES (?)")
		s.Require().NoError(cmd.AddParameter(command.Parameter{Name: "name", Type: command.DbTypeString, Value: name}))
		s.Require().NoError(cmd.AddParameter(command.Parameter{
			Name:      "UserID",
			Type:      command.DbTypeInt64,
			Direction: command.ReturnValue,
			Store:     func(v any) { ids = append(ids, v) },
		}))
		n, err := exec.ExecuteNonQuery(ctx, "Users", cmd, executor.WithTransaction())
		s.Require().NoError(err)
		s.Equal(int64(1), n)
	}
	s.Equal([]any{int64(1), int64(2)}, ids)

	count, err := executor.Scalar[int64](ctx, exec, "Users", command.NewText("SELECT COUNT(*) FROM users"))
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	res, err := executor.ExecuteEnumerable(ctx, exec, "Users", command.NewText("SELECT id, name FROM users ORDER BY id"), userMapper)
	s.Require().NoError(err)
	users, err := res.Records().Collect()
	s.Require().NoError(err)
	s.Equal([]user{{1, "alice"}, {2, "bob"}}, users)

	var pools []map[string]any
	s.decode(s.serve(http.MethodGet, "/admin/pools"), &pools)
	s.Require().Len(pools, 1)
	s.EqualValues(0, pools[0]["active"])
}

func (s *ProxyTestSuite) TestRoutingStatus() {
	var status router.Status
	s.decode(s.serve(http.MethodGet, "/admin/routing/status"), &status)
	s.Equal("v1", status.Version)
}

func (s *ProxyTestSuite) TestPrepareCommitReload() {
	var resp CommonJsonResp
	s.decode(s.serve(http.MethodPost, "/admin/routing/reload/commit"), &resp)
	s.Equal(http.StatusInternalServerError, resp.Code)

	s.writeRouting("v2")
	s.decode(s.serve(http.MethodPost, "/admin/routing/reload/prepare"), &resp)
	s.Equal(http.StatusOK, resp.Code)
	s.Equal("v1", s.proxy.Router().Status().Version)

	s.decode(s.serve(http.MethodPost, "/admin/routing/reload/commit"), &resp)
	s.Equal(http.StatusOK, resp.Code)
	s.Equal("v2", s.proxy.Router().Status().Version)
}

func (s *ProxyTestSuite) TestPrepareReloadInvalidConfig() {
	s.Require().NoError(os.WriteFile(s.routingPath, []byte("databases: [oops"), 0o644))
	var resp CommonJsonResp
	s.decode(s.serve(http.MethodPost, "/admin/routing/reload/prepare"), &resp)
	s.Equal(http.StatusInternalServerError, resp.Code)
	s.Equal("v1", s.proxy.Router().Status().Version)
}

func (s *ProxyTestSuite) TestMetrics() {
	w := s.serve(http.MethodGet, "/metrics/")
	s.Equal(http.StatusOK, w.Code)
}

func (s *ProxyTestSuite) TestRunAndClose() {
	done := make(chan error, 1)
	go func() { done <- s.proxy.Run() }()

	url := fmt.Sprintf("http://%s/admin/routing/status", s.proxy.apiServer.Addr())
	s.Eventually(func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2e9, 1e7)

	s.proxy.Close()
	s.NoError(<-done)
}

func TestBasicAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Proxy{AdminServer: config.AdminServer{
		Addr:            "127.0.0.1:0",
		EnableBasicAuth: true,
		User:            "admin",
		Password:        "secret",
	}}
	apiServer, err := CreateHttpApiServer(&Proxy{}, cfg)
	require.NoError(t, err)
	defer apiServer.Close()

	w := httptest.NewRecorder()
	apiServer.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/routing/status", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInitFailsOnBadConfigCenter(t *testing.T) {
	p := NewProxy(&config.Proxy{ConfigCenter: config.ConfigCenter{Type: "zookeeper"}})
	defer p.Close()
	require.Error(t, p.Init())
}
