package proxy

import (
	"net"
	"net/http"
	"net/http/pprof"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

type HttpApiServer struct {
	cfg      *config.Proxy
	listener  net.Listener
	server    *http.Server
	closeOnce sync.Once

	engine *gin.Engine
}

type RoutingHttpHandler struct {
	proxy *Proxy
}

type CommonJsonResp struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func NewRoutingHttpHandler(proxy *Proxy) *RoutingHttpHandler {
	return &RoutingHttpHandler{
		proxy: proxy,
	}
}

func CreateHttpApiServer(proxy *Proxy, cfg *config.Proxy) (*HttpApiServer, error) {
	apiServer := &HttpApiServer{
		cfg: cfg,
	}

	listener, err := net.Listen("tcp", apiServer.cfg.AdminServer.Addr)
	if err != nil {
		return nil, err
	}
	if maxConns := apiServer.cfg.AdminServer.MaxConnections; maxConns > 0 {
		listener = netutil.LimitListener(listener, maxConns)
	}
	apiServer.listener = listener
	apiServer.engine = apiServer.newEngine(proxy)
	apiServer.server = &http.Server{Handler: apiServer.engine}
	return apiServer, nil
}

func (h *HttpApiServer) newEngine(proxy *Proxy) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	adminRouteGroup := engine.Group("/admin")
	h.wrapBasicAuthGinMiddleware(adminRouteGroup)
	NewRoutingHttpHandler(proxy).AddHandlersToRouteGroup(adminRouteGroup)

	metricsRouteGroup := engine.Group("/metrics")
	metricsRouteGroup.GET("/", gin.WrapF(promhttp.Handler().ServeHTTP))

	pprofRouteGroup := engine.Group("/debug/pprof")
	pprofRouteGroup.Any("/", gin.WrapF(pprof.Index))
	pprofRouteGroup.Any("/cmdline", gin.WrapF(pprof.Cmdline))
	pprofRouteGroup.Any("/profile", gin.WrapF(pprof.Profile))
	pprofRouteGroup.Any("/symbol", gin.WrapF(pprof.Symbol))
	pprofRouteGroup.Any("/trace", gin.WrapF(pprof.Trace))
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		pprofRouteGroup.Any("/"+name, gin.WrapF(pprof.Handler(name).ServeHTTP))
	}
	return engine
}

func (h *HttpApiServer) wrapBasicAuthGinMiddleware(group *gin.RouterGroup) {
	if !h.cfg.AdminServer.EnableBasicAuth {
		return
	}
	basicAuthUser := h.cfg.AdminServer.User
	basicAuthPassword := h.cfg.AdminServer.Password
	if basicAuthUser != "" && basicAuthPassword != "" {
		group.Use(gin.BasicAuth(gin.Accounts{basicAuthUser: basicAuthPassword}))
	}
}

func (h *HttpApiServer) Addr() net.Addr {
	return h.listener.Addr()
}

// Run serves until Close. It returns nil once closed.
func (h *HttpApiServer) Run() error {
	err := h.server.Serve(h.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	logutil.BgLogger().Error("http api server exit on error", zap.Error(err))
	return err
}

func (h *HttpApiServer) Close() {
	h.closeOnce.Do(func() {
		logutil.BgLogger().Info("closing http api server")
		if err := h.server.Close(); err != nil {
			logutil.BgLogger().Warn("close http api server error", zap.Error(err))
		}
		// Run may never have been called
		h.listener.Close()
	})
}

func (n *RoutingHttpHandler) AddHandlersToRouteGroup(group *gin.RouterGroup) {
	group.GET("/routing/status", n.HandleRoutingStatus)
	group.GET("/pools", n.HandlePoolStats)
	group.POST("/routing/reload/prepare", n.HandlePrepareReload)
	group.POST("/routing/reload/commit", n.HandleCommitReload)
}

func (n *RoutingHttpHandler) HandleRoutingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, n.proxy.Router().Status())
}

func (n *RoutingHttpHandler) HandlePoolStats(c *gin.Context) {
	c.JSON(http.StatusOK, n.proxy.Pools().Stats())
}

func (n *RoutingHttpHandler) HandlePrepareReload(c *gin.Context) {
	if err := n.proxy.PrepareReload(); err != nil {
		errMsg := "prepare reload routing error"
		logutil.BgLogger().Error(errMsg, zap.Error(err))
		c.JSON(http.StatusOK, CreateJsonResp(http.StatusInternalServerError, errMsg+": "+err.Error()))
		return
	}

	logutil.BgLogger().Info("prepare reload routing success")
	c.JSON(http.StatusOK, CreateSuccessJsonResp())
}

func (n *RoutingHttpHandler) HandleCommitReload(c *gin.Context) {
	if err := n.proxy.CommitReload(); err != nil {
		errMsg := "commit reload routing error"
		logutil.BgLogger().Error(errMsg, zap.Error(err))
		c.JSON(http.StatusOK, CreateJsonResp(http.StatusInternalServerError, errMsg+": "+err.Error()))
		return
	}

	logutil.BgLogger().Info("commit reload routing success", zap.String("version", n.proxy.Router().Status().Version))
	c.JSON(http.StatusOK, CreateSuccessJsonResp())
}

func CreateJsonResp(code int, msg string) CommonJsonResp {
	return CommonJsonResp{
		Code: code,
		Msg:  msg,
	}
}

func CreateSuccessJsonResp() CommonJsonResp {
	return CommonJsonResp{
		Code: http.StatusOK,
		Msg:  "success",
	}
}
