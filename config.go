package qiws

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/ws"
)

// ServerConfig 服务器配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes 最大请求头字节数
	MaxHeaderBytes int
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机超时时间，默认 10 秒，同时约束 WebSocket 连接的排空
	Timeout time.Duration

	BeforeShutdown func()
	AfterShutdown  func()
}

// Config 应用配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string

	Server   ServerConfig
	Shutdown ShutdownConfig

	// TrustedProxies 信任的代理 IP
	TrustedProxies []string

	// Logger 为空时 debug 模式使用开发 Logger，其余模式丢弃日志
	Logger logger.Logger

	// DevLogging 记录每个 WebSocket 生命周期事件，与 WS.WsLogger 同时设置时后者优先
	DevLogging bool

	// Banner 是否在 Run 时打印启动信息
	Banner bool

	// TracerProvider 非空时追踪 HTTP 请求与 WebSocket 升级
	TracerProvider trace.TracerProvider

	// WS WebSocket 路由配置
	WS *ws.Config
}

// Option 配置选项函数
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		Mode: gin.DebugMode,
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		Banner: true,
		WS:     ws.DefaultConfig(),
	}
}

// WithMode 设置运行模式
func WithMode(mode string) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Server.Addr = addr
	}
}

func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.ReadTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.WriteTimeout = timeout
	}
}

func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.IdleTimeout = timeout
	}
}

// WithMaxHeaderBytes 设置最大请求头字节数
func WithMaxHeaderBytes(size int) Option {
	return func(c *Config) {
		c.Server.MaxHeaderBytes = size
	}
}

// WithShutdownTimeout 设置关机超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Shutdown.Timeout = timeout
	}
}

// WithBeforeShutdown 设置关机前回调
func WithBeforeShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.BeforeShutdown = fn
	}
}

// WithAfterShutdown 设置关机后回调
func WithAfterShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.AfterShutdown = fn
	}
}

// WithTrustedProxies 设置信任的代理
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithLogger 设置 Engine 与 WebSocket 路由共用的 Logger
func WithLogger(log logger.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithTracerProvider 开启链路追踪，升级 Span 挂在 HTTP Span 之下
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// WithBanner 是否打印启动 banner
func WithBanner(enable bool) Option {
	return func(c *Config) {
		c.Banner = enable
	}
}

// WithDevLogging 开启 WebSocket 开发日志
func WithDevLogging() Option {
	return func(c *Config) {
		c.DevLogging = true
	}
}

// WithWsContextPath 设置 WebSocket 路由前缀
func WithWsContextPath(path string) Option {
	return WithWsOptions(ws.WithContextPath(path))
}

// WithAccessManager 设置升级前的访问控制
func WithAccessManager(am ws.AccessManager) Option {
	return WithWsOptions(ws.WithAccessManager(am))
}

// WithWsLogger 设置横切处理器
func WithWsLogger(build func(*ws.Handler)) Option {
	return WithWsOptions(ws.WithWsLogger(build))
}

// WithMaxTextMessageSize 设置文本消息上限
func WithMaxTextMessageSize(size int64) Option {
	return WithWsOptions(ws.WithMaxTextMessageSize(size))
}

// WithMaxBinaryMessageSize 设置二进制消息上限
func WithMaxBinaryMessageSize(size int64) Option {
	return WithWsOptions(ws.WithMaxBinaryMessageSize(size))
}

// WithWsOptions 透传 ws.Option
func WithWsOptions(opts ...ws.Option) Option {
	return func(c *Config) {
		if c.WS == nil {
			c.WS = ws.DefaultConfig()
		}
		for _, opt := range opts {
			opt(c.WS)
		}
	}
}
