package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	qerrors "github.com/tokmz/qiws/pkg/errors"
	"github.com/tokmz/qiws/pkg/logger"
)

const tracerName = "github.com/tokmz/qiws/pkg/ws"

const shutdownReason = "server shutting down"

type route struct {
	pattern *RoutePattern
	handler *Handler
	roles   []Role
}

// Router WebSocket 路由器，实现 http.Handler
type Router struct {
	mu     sync.RWMutex
	routes []*route

	config   *Config
	upgrader websocket.Upgrader
	registry *Registry
	wsLogger *Handler
	log      logger.Logger
	metrics  Metrics
	tracer   trace.Tracer

	// 生命周期
	ctx      context.Context
	cancel   context.CancelFunc
	lifeMu   sync.Mutex // 保证 wg.Add 先于 Shutdown 中的 wg.Wait
	wg       sync.WaitGroup
	draining atomic.Bool
}

// NewRouter 创建路由器
func NewRouter(opts ...Option) (*Router, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return NewRouterWithConfig(config)
}

// NewRouterWithConfig 使用完整配置创建路由器
func NewRouterWithConfig(config *Config) (*Router, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Serializer == nil {
		config.Serializer = JSONSerializer{}
	}
	if config.Metrics == nil {
		config.Metrics = NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		config:   config,
		upgrader: newUpgrader(config),
		registry: NewRegistry(config.MaxConnections, config.RegistryObserver),
		log:      config.Logger,
		metrics:  config.Metrics,
		tracer:   tp.Tracer(tracerName),
		ctx:      ctx,
		cancel:   cancel,
	}
	if config.WsLogger != nil {
		r.wsLogger = buildHandler(config.WsLogger)
	}
	return r, nil
}

// Register 注册路由，build 用于设置生命周期回调
//
// 模式相同的路由不能重复注册；roles 原样传给 AccessManager。
func (r *Router) Register(pattern string, build func(*Handler), roles ...Role) error {
	p, err := CompilePattern(pattern)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.routes {
		if rt.pattern.String() == p.String() {
			return fmt.Errorf("%w: %s", ErrHandlerExists, p)
		}
	}
	r.routes = append(r.routes, &route{
		pattern: p,
		handler: buildHandler(build),
		roles:   append([]Role(nil), roles...),
	})
	return nil
}

// Match 为未解码的路径（不含 ContextPath）选择最具体的路由
func (r *Router) Match(path string) (*RoutePattern, Params, bool) {
	rt, params, ok := r.match(path)
	if !ok {
		return nil, nil, false
	}
	return rt.pattern, params, true
}

func (r *Router) match(path string) (*route, Params, bool) {
	parts := decodeSegments(splitPath(path))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best       *route
		bestParams Params
	)
	// 排名相同的按注册顺序取先注册的
	for _, rt := range r.routes {
		params, ok := rt.pattern.match(parts)
		if !ok {
			continue
		}
		if best == nil || rt.pattern.moreSpecific(best.pattern, len(parts)) {
			best, bestParams = rt, params
		}
	}
	return best, bestParams, best != nil
}

// Patterns 按注册顺序返回带 ContextPath 的路由模式
func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, r.fullPattern(rt.pattern))
	}
	return out
}

// Registry 在线连接注册表
func (r *Router) Registry() *Registry {
	return r.registry
}

// Broadcast 向所有在线连接发送文本帧，返回发送失败的连接数
func (r *Router) Broadcast(text string) int {
	failed := 0
	r.registry.ForEach(func(c *Context) bool {
		if err := c.Send(text); err != nil {
			failed++
		}
		return true
	})
	return failed
}

// stripContextPath 去掉公共前缀，前缀不匹配时返回 false
func (r *Router) stripContextPath(path string) (string, bool) {
	prefix := r.config.normalizedContextPath()
	if prefix == "" {
		return path, true
	}
	if path == prefix {
		return "/", true
	}
	if strings.HasPrefix(path, prefix+"/") {
		return path[len(prefix):], true
	}
	return "", false
}

// fullPattern 带 ContextPath 的模式文本
func (r *Router) fullPattern(p *RoutePattern) string {
	prefix := r.config.normalizedContextPath()
	if prefix == "" {
		return p.String()
	}
	if p.String() == "/" {
		return prefix
	}
	return prefix + p.String()
}

// ServeHTTP 处理升级请求
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	spanCtx, span := r.tracer.Start(req.Context(), "ws.upgrade",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("ws.path", req.URL.Path)),
	)
	defer span.End()

	if !r.enter() {
		r.reject(w, span, RejectUpgrade, http.StatusServiceUnavailable, shutdownReason)
		return
	}
	started := false
	defer func() {
		if !started {
			r.wg.Done()
		}
	}()

	path, ok := r.stripContextPath(req.URL.EscapedPath())
	var rt *route
	var params Params
	if ok {
		rt, params, ok = r.match(path)
	}
	if !ok {
		r.notFound(w, span)
		return
	}
	span.SetAttributes(attribute.String("ws.route", r.fullPattern(rt.pattern)))

	c := NewContext(req.WithContext(spanCtx), rt.pattern, params)
	c.matched = r.fullPattern(rt.pattern)
	c.serializer = r.config.Serializer

	decision := r.config.AccessManager.evaluate(c, rt.roles)
	span.SetAttributes(attribute.Stringer("ws.decision", decision.Kind()))
	if !decision.Allowed() {
		r.denied(w, span, c, decision)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// gorilla 已经写回了错误响应
		r.metrics.UpgradeRejected(RejectUpgrade)
		span.SetStatus(codes.Error, err.Error())
		r.log.DebugContext(spanCtx, "websocket upgrade failed", zap.String("path", req.URL.Path), zap.Error(err))
		return
	}

	base := logger.ContextWithRoute(trace.ContextWithSpanContext(r.ctx, span.SpanContext()), c.MatchedPath())
	s := newSession(base, conn, c, rt.handler, r)
	// 注册后其他连接即可向其发送，发送的帧在写 goroutine 启动后写出
	s.setState(StateOpen)
	if _, err := r.registry.Register(c); err != nil {
		r.metrics.UpgradeRejected(RejectLimit)
		span.SetStatus(codes.Error, err.Error())
		r.log.WarnContext(spanCtx, "websocket connection rejected", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(r.config.WriteWait))
		s.cancel()
		conn.Close()
		return
	}
	span.SetAttributes(attribute.String("ws.session_id", c.SessionID()))

	// Shutdown 可能在注册前已经遍历过注册表
	if r.draining.Load() {
		_ = s.close(websocket.CloseGoingAway, shutdownReason)
	}

	started = true
	go func() {
		defer r.wg.Done()
		s.run()
	}()
}

// enter 登记一个进行中的升级，关闭中返回 false
func (r *Router) enter() bool {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.draining.Load() {
		return false
	}
	r.wg.Add(1)
	return true
}

func (r *Router) notFound(w http.ResponseWriter, span trace.Span) {
	r.metrics.UpgradeRejected(RejectNotFound)
	span.SetStatus(codes.Error, ErrHandlerNotFound.Message)
	writeError(w, ErrHandlerNotFound)
}

func (r *Router) denied(w http.ResponseWriter, span trace.Span, c *Context, d AccessDecision) {
	status := d.StatusCode()
	if err := d.Err(); err != nil {
		r.metrics.UpgradeRejected(RejectError)
		span.RecordError(err)
		r.log.WarnContext(c.RequestContext(), "websocket access manager failed",
			zap.String("route", c.MatchedPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	} else {
		r.metrics.UpgradeRejected(RejectDenied)
	}
	span.SetStatus(codes.Error, http.StatusText(status))

	e := ErrAccessDenied
	var biz *qerrors.Error
	if qerrors.As(d.Err(), &biz) {
		e = biz
	}
	writeError(w, e.WithHttpCode(status))
}

func (r *Router) reject(w http.ResponseWriter, span trace.Span, reason string, status int, msg string) {
	r.metrics.UpgradeRejected(reason)
	span.SetStatus(codes.Error, msg)
	http.Error(w, msg, status)
}

// errorBody 与 HTTP 接口一致的错误响应体
type errorBody struct {
	Code    int    `json:"code"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, e *qerrors.Error) {
	body, err := json.Marshal(errorBody{Code: e.Code, Message: e.Message})
	if err != nil {
		http.Error(w, e.Message, e.HttpCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.HttpCode)
	_, _ = w.Write(body)
}

// Shutdown 优雅关闭：拒绝新连接，以 1001 关闭所有连接并等待其 OnClose 完成
func (r *Router) Shutdown(ctx context.Context) error {
	r.lifeMu.Lock()
	r.draining.Store(true)
	r.lifeMu.Unlock()

	r.registry.ForEach(func(c *Context) bool {
		_ = c.CloseWithReason(websocket.CloseGoingAway, shutdownReason)
		return true
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		// 超时后强制断开剩余连接
		r.registry.ForEach(func(c *Context) bool {
			if c.sess != nil {
				c.sess.conn.Close()
			}
			return true
		})
		r.cancel()
		return errors.Join(ctx.Err(), fmt.Errorf("ws: %d connections still open", r.registry.Count()))
	}
}
