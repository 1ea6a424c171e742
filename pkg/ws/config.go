package ws

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/qiws/pkg/logger"
)

// Config WebSocket 配置
type Config struct {
	// 路由
	ContextPath   string         // 所有 WebSocket 路由的公共前缀，如 "/websocket"
	AccessManager AccessManager  // 升级前的访问控制，nil 表示全部允许
	WsLogger      func(*Handler) // 横切处理器，在路由处理器之后执行

	// 连接配置
	MaxConnections   int           // 最大连接数，0 表示不限制
	ReadBufferSize   int           // 读缓冲区大小
	WriteBufferSize  int           // 写缓冲区大小
	HandshakeTimeout time.Duration // 握手超时时间

	// 消息配置
	MaxMessageSize       int64 // 传输层读取上限，超过时连接直接以 1009 关闭
	MaxTextMessageSize   int64 // 文本消息上限，0 表示仅受 MaxMessageSize 约束
	MaxBinaryMessageSize int64 // 二进制消息上限，0 表示仅受 MaxMessageSize 约束
	SendQueueSize        int   // 每个连接的发送队列长度

	// 心跳配置
	WriteWait    time.Duration // 单次写超时
	PongWait     time.Duration // 等待 Pong 的超时
	PingInterval time.Duration // Ping 间隔，必须小于 PongWait

	// Upgrader 配置
	CheckOrigin       func(*http.Request) bool // Origin 检查函数，nil 时使用同源检查（允许空 Origin）
	AllowedOrigins    []string                 // 允许的 Origin 白名单
	EnableCompression bool                     // 是否启用压缩
	Subprotocols      []string                 // 支持的子协议

	// 扩展
	Serializer       Serializer
	Logger           logger.Logger
	Metrics          Metrics
	RegistryObserver RegistryObserver
	TracerProvider   trace.TracerProvider
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:       10000,
		ReadBufferSize:       1024,
		WriteBufferSize:      1024,
		HandshakeTimeout:     10 * time.Second,
		MaxMessageSize:       1024 * 1024, // 1MB
		MaxTextMessageSize:   64 * 1024,   // 64KB
		MaxBinaryMessageSize: 64 * 1024,   // 64KB
		SendQueueSize:        256,
		WriteWait:            10 * time.Second,
		PongWait:             90 * time.Second,
		PingInterval:         30 * time.Second,
		Serializer:           JSONSerializer{},
		Metrics:              NoopMetrics{},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ContextPath != "" && !strings.HasPrefix(c.ContextPath, "/") {
		return fmt.Errorf("%w: ContextPath must start with '/', got %q", ErrInvalidConfig, c.ContextPath)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: MaxConnections must not be negative, got %d", ErrInvalidConfig, c.MaxConnections)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: ReadBufferSize must be positive, got %d", ErrInvalidConfig, c.ReadBufferSize)
	}
	if c.WriteBufferSize <= 0 {
		return fmt.Errorf("%w: WriteBufferSize must be positive, got %d", ErrInvalidConfig, c.WriteBufferSize)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: HandshakeTimeout must be positive, got %v", ErrInvalidConfig, c.HandshakeTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: MaxMessageSize must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.MaxTextMessageSize < 0 || c.MaxTextMessageSize > c.MaxMessageSize {
		return fmt.Errorf("%w: MaxTextMessageSize must be within [0, %d], got %d",
			ErrInvalidConfig, c.MaxMessageSize, c.MaxTextMessageSize)
	}
	if c.MaxBinaryMessageSize < 0 || c.MaxBinaryMessageSize > c.MaxMessageSize {
		return fmt.Errorf("%w: MaxBinaryMessageSize must be within [0, %d], got %d",
			ErrInvalidConfig, c.MaxMessageSize, c.MaxBinaryMessageSize)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("%w: SendQueueSize must be positive, got %d", ErrInvalidConfig, c.SendQueueSize)
	}
	if c.WriteWait <= 0 {
		return fmt.Errorf("%w: WriteWait must be positive, got %v", ErrInvalidConfig, c.WriteWait)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("%w: PingInterval must be positive, got %v", ErrInvalidConfig, c.PingInterval)
	}
	if c.PongWait <= c.PingInterval {
		return fmt.Errorf("%w: PongWait (%v) must be greater than PingInterval (%v)",
			ErrInvalidConfig, c.PongWait, c.PingInterval)
	}
	return nil
}

// normalizedContextPath 去掉末尾斜杠，"/" 视为无前缀
func (c *Config) normalizedContextPath() string {
	return strings.TrimRight(c.ContextPath, "/")
}

func (c *Config) textLimit() int64 {
	if c.MaxTextMessageSize > 0 {
		return c.MaxTextMessageSize
	}
	return c.MaxMessageSize
}

func (c *Config) binaryLimit() int64 {
	if c.MaxBinaryMessageSize > 0 {
		return c.MaxBinaryMessageSize
	}
	return c.MaxMessageSize
}

// Option 配置选项
type Option func(*Config)

// WithContextPath 设置路由公共前缀
func WithContextPath(path string) Option {
	return func(c *Config) {
		c.ContextPath = path
	}
}

// WithAccessManager 设置访问控制
func WithAccessManager(am AccessManager) Option {
	return func(c *Config) {
		c.AccessManager = am
	}
}

// WithWsLogger 设置横切处理器
func WithWsLogger(build func(*Handler)) Option {
	return func(c *Config) {
		c.WsLogger = build
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithMessageSizeLimit 设置传输层读取上限
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithMaxTextMessageSize 设置文本消息上限
func WithMaxTextMessageSize(size int64) Option {
	return func(c *Config) {
		c.MaxTextMessageSize = size
	}
}

// WithMaxBinaryMessageSize 设置二进制消息上限
func WithMaxBinaryMessageSize(size int64) Option {
	return func(c *Config) {
		c.MaxBinaryMessageSize = size
	}
}

// WithSendQueueSize 设置发送队列长度
func WithSendQueueSize(size int) Option {
	return func(c *Config) {
		c.SendQueueSize = size
	}
}

// WithHeartbeat 设置心跳间隔与超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = interval
		c.PongWait = timeout
	}
}

// WithWriteWait 设置写超时
func WithWriteWait(d time.Duration) Option {
	return func(c *Config) {
		c.WriteWait = d
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.CheckOrigin = fn
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
// 示例：WithCheckOriginWhitelist([]string{"https://example.com", "https://app.example.com"})
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.AllowedOrigins = allowedOrigins
		c.CheckOrigin = createWhitelistChecker(allowedOrigins)
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境，生产环境禁用）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

// WithEnableCompression 启用压缩
func WithEnableCompression(enable bool) Option {
	return func(c *Config) {
		c.EnableCompression = enable
	}
}

// WithSubprotocols 设置支持的子协议
func WithSubprotocols(protocols ...string) Option {
	return func(c *Config) {
		c.Subprotocols = protocols
	}
}

// WithSerializer 设置序列化器
func WithSerializer(s Serializer) Option {
	return func(c *Config) {
		c.Serializer = s
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithRegistryObserver 设置注册表观察者
func WithRegistryObserver(o RegistryObserver) Option {
	return func(c *Config) {
		c.RegistryObserver = o
	}
}

// WithTracerProvider 设置链路追踪
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// createWhitelistChecker 创建白名单检查器
func createWhitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	whitelist := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 白名单模式下拒绝空 Origin
			return false
		}
		return whitelist[origin]
	}
}

// newUpgrader 创建升级器，CheckOrigin 为 nil 时沿用 gorilla 的同源检查
func newUpgrader(c *Config) websocket.Upgrader {
	checkOrigin := c.CheckOrigin
	if checkOrigin == nil && len(c.AllowedOrigins) > 0 {
		checkOrigin = createWhitelistChecker(c.AllowedOrigins)
	}
	return websocket.Upgrader{
		HandshakeTimeout:  c.HandshakeTimeout,
		ReadBufferSize:    c.ReadBufferSize,
		WriteBufferSize:   c.WriteBufferSize,
		CheckOrigin:       checkOrigin,
		EnableCompression: c.EnableCompression,
		Subprotocols:      c.Subprotocols,
	}
}
