package qiws

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/tracing"
	"github.com/tokmz/qiws/pkg/ws"
)

// Engine 以 gin 承载 HTTP，WebSocket 升级请求交给 ws.Router
type Engine struct {
	config *Config
	engine *gin.Engine
	router *ws.Router
	server *http.Server
	log    logger.Logger
}

// New 创建一个新的 Engine 实例，WebSocket 配置非法时 panic
func New(opts ...Option) *Engine {
	return newEngine(false, opts...)
}

// Default 在 New 的基础上添加 HTTP 访问日志，WebSocket 升级请求同样记录
func Default(opts ...Option) *Engine {
	return newEngine(true, opts...)
}

func newEngine(accessLog bool, opts ...Option) *Engine {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	// gin.SetMode 是全局操作，建议进程内只创建一个 Engine
	if gin.Mode() == gin.DebugMode || config.Mode != gin.DebugMode {
		gin.SetMode(config.Mode)
	}
	silenceGin()

	log := config.Logger
	if log == nil {
		log = defaultLogger(config.Mode)
	}
	if config.WS == nil {
		config.WS = ws.DefaultConfig()
	}
	if config.WS.Logger == nil {
		config.WS.Logger = log
	}
	if config.TracerProvider != nil {
		config.WS.TracerProvider = config.TracerProvider
	}
	if config.DevLogging && config.WS.WsLogger == nil {
		config.WS.WsLogger = ws.DevLogger(log)
	}

	router, err := ws.NewRouterWithConfig(config.WS)
	if err != nil {
		panic("qiws: " + err.Error())
	}

	ginEngine := gin.New()
	if config.TrustedProxies != nil {
		if err := ginEngine.SetTrustedProxies(config.TrustedProxies); err != nil {
			log.Warn("set trusted proxies failed", zap.Error(err))
		}
	}

	e := &Engine{
		config: config,
		engine: ginEngine,
		router: router,
		log:    log,
	}
	// 升级拦截必须排在最后，它会终止后续中间件
	handlers := []gin.HandlerFunc{Recovery(log)}
	if config.TracerProvider != nil {
		handlers = append(handlers, tracing.Middleware(config.TracerProvider))
	}
	if accessLog {
		handlers = append(handlers, Logger(log))
	}
	ginEngine.Use(append(handlers, e.upgrade())...)
	return e
}

func defaultLogger(mode string) logger.Logger {
	if mode != gin.DebugMode {
		return logger.Nop()
	}
	log, err := logger.NewDevelopment()
	if err != nil {
		return logger.Nop()
	}
	return log
}

// upgrade 拦截 WebSocket 升级请求，普通 HTTP 请求继续走 gin 路由
func (e *Engine) upgrade() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !websocket.IsWebSocketUpgrade(c.Request) {
			c.Next()
			return
		}
		// 升级成功时连接被劫持，gin 记录的状态码只用于访问日志
		c.Status(http.StatusSwitchingProtocols)
		e.router.ServeHTTP(c.Writer, c.Request)
		c.Abort()
	}
}

// WS 注册 WebSocket 处理器，pattern 非法或重复时 panic
func (e *Engine) WS(pattern string, build func(*ws.Handler), roles ...ws.Role) *Engine {
	if err := e.router.Register(pattern, build, roles...); err != nil {
		panic("qiws: " + err.Error())
	}
	return e
}

// Use 注册全局 HTTP 中间件
func (e *Engine) Use(middlewares ...gin.HandlerFunc) *Engine {
	e.engine.Use(middlewares...)
	return e
}

// Gin 返回底层 gin.Engine，用于注册普通 HTTP 路由
func (e *Engine) Gin() *gin.Engine {
	return e.engine
}

func (e *Engine) Router() *ws.Router {
	return e.router
}

func (e *Engine) Logger() logger.Logger {
	return e.log
}

// ServeHTTP 实现 http.Handler
func (e *Engine) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	e.engine.ServeHTTP(w, req)
}

// Run 启动 HTTP 服务器，支持优雅关机
func (e *Engine) Run(addr ...string) error {
	address := e.config.Server.Addr
	if len(addr) > 0 && addr[0] != "" {
		address = addr[0]
	}
	e.server = e.newServer(address)

	if e.config.Banner {
		e.printBanner(address)
	}
	return e.serve(func() error {
		return e.server.ListenAndServe()
	})
}

// RunTLS 启动 HTTPS 服务器，支持优雅关机
func (e *Engine) RunTLS(addr, certFile, keyFile string) error {
	e.server = e.newServer(addr)

	if e.config.Banner {
		e.printBanner(addr)
	}
	return e.serve(func() error {
		return e.server.ListenAndServeTLS(certFile, keyFile)
	})
}

func (e *Engine) newServer(addr string) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        e.engine,
		ReadTimeout:    e.config.Server.ReadTimeout,
		WriteTimeout:   e.config.Server.WriteTimeout,
		IdleTimeout:    e.config.Server.IdleTimeout,
		MaxHeaderBytes: e.config.Server.MaxHeaderBytes,
	}
}

// serve 统一的服务器启动和优雅关机逻辑
func (e *Engine) serve(startFunc func() error) error {
	errChan := make(chan error, 1)
	go func() {
		if err := startFunc(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		e.log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.config.Shutdown.Timeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.log.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	e.log.Info("server exited")
	return nil
}

// Shutdown 关闭 HTTP 服务器并排空 WebSocket 连接
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.config.Shutdown.BeforeShutdown != nil {
		e.config.Shutdown.BeforeShutdown()
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.server != nil {
		g.Go(func() error {
			return e.server.Shutdown(gctx)
		})
	}
	g.Go(func() error {
		return e.router.Shutdown(gctx)
	})
	err := g.Wait()

	if e.config.Shutdown.AfterShutdown != nil {
		e.config.Shutdown.AfterShutdown()
	}
	_ = e.log.Sync()
	return err
}
