package qiws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/config"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/tracing"
	"github.com/tokmz/qiws/pkg/ws"
)

// EnvPrefix 环境变量前缀，如 QIWS_SERVER_ADDR 覆盖 server.addr
const EnvPrefix = "QIWS"

// FileConfig 配置文件结构
type FileConfig struct {
	Mode     string           `mapstructure:"mode"`
	Server   FileServerConfig `mapstructure:"server"`
	Shutdown struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"shutdown"`
	Log     FileLogConfig  `mapstructure:"log"`
	WS      FileWSConfig   `mapstructure:"ws"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

type FileServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
}

type FileLogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Console    bool   `mapstructure:"console"`
	File       string `mapstructure:"file"` // 非空时按 lumberjack 轮转写入
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Sampling   struct {
		Initial    int `mapstructure:"initial"` // 0 关闭采样
		Thereafter int `mapstructure:"thereafter"`
	} `mapstructure:"sampling"`
}

type FileWSConfig struct {
	ContextPath          string        `mapstructure:"context_path"`
	DevLogging           bool          `mapstructure:"dev_logging"`
	MaxConnections       int           `mapstructure:"max_connections"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	MaxTextMessageSize   int64         `mapstructure:"max_text_message_size"`
	MaxBinaryMessageSize int64         `mapstructure:"max_binary_message_size"`
	SendQueueSize        int           `mapstructure:"send_queue_size"`
	WriteWait            time.Duration `mapstructure:"write_wait"`
	PongWait             time.Duration `mapstructure:"pong_wait"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	AllowedOrigins       []string      `mapstructure:"allowed_origins"`
	EnableCompression    bool          `mapstructure:"enable_compression"`
	Subprotocols         []string      `mapstructure:"subprotocols"`
}

// fileDefaults 默认值与 defaultConfig、ws.DefaultConfig 保持一致，
// 同时让环境变量可以覆盖文件中未出现的键
func fileDefaults() map[string]any {
	wc := ws.DefaultConfig()
	tc := tracing.DefaultConfig()
	return map[string]any{
		"mode":                       "release",
		"server.addr":                ":8080",
		"server.read_timeout":        "10s",
		"server.write_timeout":       "10s",
		"server.idle_timeout":        "60s",
		"server.max_header_bytes":    1 << 20,
		"server.trusted_proxies":     []string{},
		"shutdown.timeout":           "10s",
		"log.level":                  "info",
		"log.format":                 string(logger.JSONFormat),
		"log.console":                true,
		"log.file":                   "",
		"log.max_size":               100,
		"log.max_backups":            10,
		"log.max_age":                30,
		"log.compress":               false,
		"log.sampling.initial":       0,
		"log.sampling.thereafter":    100,
		"ws.context_path":            "",
		"ws.dev_logging":             false,
		"ws.max_connections":         wc.MaxConnections,
		"ws.max_message_size":        wc.MaxMessageSize,
		"ws.max_text_message_size":   wc.MaxTextMessageSize,
		"ws.max_binary_message_size": wc.MaxBinaryMessageSize,
		"ws.send_queue_size":         wc.SendQueueSize,
		"ws.write_wait":              wc.WriteWait.String(),
		"ws.pong_wait":               wc.PongWait.String(),
		"ws.ping_interval":           wc.PingInterval.String(),
		"ws.allowed_origins":         []string{},
		"ws.enable_compression":      false,
		"ws.subprotocols":            []string{},
		"tracing.enabled":            false,
		"tracing.service_name":       tc.ServiceName,
		"tracing.service_version":    Version,
		"tracing.environment":        tc.Environment,
		"tracing.exporter":           tc.Exporter,
		"tracing.endpoint":           "",
		"tracing.insecure":           false,
		"tracing.sampling_type":      tc.SamplingType,
		"tracing.sampling_rate":      tc.SamplingRate,
		"tracing.set_global":         false,
		"tracing.batch_timeout":      tc.BatchTimeout.String(),
		"tracing.max_export_batch":   tc.MaxExportBatch,
		"tracing.max_queue_size":     tc.MaxQueueSize,
	}
}

// LoadFile 读取配置文件，path 为空时只使用默认值和环境变量
func LoadFile(path string, opts ...config.Option) (*FileConfig, *config.Config, error) {
	base := []config.Option{
		config.WithDefaults(fileDefaults()),
		config.WithEnvPrefix(EnvPrefix),
	}
	if path != "" {
		base = append(base, config.WithConfigFile(path))
	} else {
		base = append(base, config.WithConfigName("qiws"), config.WithConfigPaths("."), config.WithOptional(true))
	}

	c := config.New(append(base, opts...)...)
	if err := c.Load(); err != nil {
		return nil, nil, err
	}
	var fc FileConfig
	if err := c.Unmarshal(&fc); err != nil {
		return nil, nil, err
	}
	return &fc, c, nil
}

// NewLogger 按 log 段构建 Logger
func (fc *FileConfig) NewLogger() (logger.Logger, error) {
	lc := fc.Log
	opts := []logger.Option{
		logger.WithLevelText(lc.Level),
		logger.WithFormat(logger.Format(lc.Format)),
		logger.WithConsole(lc.Console),
		logger.WithSampling(lc.Sampling.Initial, lc.Sampling.Thereafter),
	}
	if lc.File != "" {
		opts = append(opts, logger.WithRotate(lc.File, lc.MaxSize, lc.MaxBackups, lc.MaxAge, lc.Compress))
	}
	return logger.NewWithOptions(opts...)
}

// Options 转换为 Engine 选项，未设置的字段保持默认
func (fc *FileConfig) Options() []Option {
	opts := []Option{
		WithMode(fc.Mode),
		WithAddr(fc.Server.Addr),
		WithReadTimeout(fc.Server.ReadTimeout),
		WithWriteTimeout(fc.Server.WriteTimeout),
		WithIdleTimeout(fc.Server.IdleTimeout),
		WithMaxHeaderBytes(fc.Server.MaxHeaderBytes),
		WithShutdownTimeout(fc.Shutdown.Timeout),
	}
	if len(fc.Server.TrustedProxies) > 0 {
		opts = append(opts, WithTrustedProxies(fc.Server.TrustedProxies...))
	}
	if fc.WS.DevLogging {
		opts = append(opts, WithDevLogging())
	}

	w := fc.WS
	wsOpts := []ws.Option{
		ws.WithContextPath(w.ContextPath),
		ws.WithMaxConnections(w.MaxConnections),
		ws.WithMessageSizeLimit(w.MaxMessageSize),
		ws.WithMaxTextMessageSize(w.MaxTextMessageSize),
		ws.WithMaxBinaryMessageSize(w.MaxBinaryMessageSize),
		ws.WithSendQueueSize(w.SendQueueSize),
		ws.WithHeartbeat(w.PingInterval, w.PongWait),
		ws.WithWriteWait(w.WriteWait),
		ws.WithEnableCompression(w.EnableCompression),
	}
	if len(w.AllowedOrigins) > 0 {
		wsOpts = append(wsOpts, ws.WithCheckOriginWhitelist(w.AllowedOrigins))
	}
	if len(w.Subprotocols) > 0 {
		wsOpts = append(wsOpts, ws.WithSubprotocols(w.Subprotocols...))
	}
	return append(opts, WithWsOptions(wsOpts...))
}

// NewTracerProvider 按 tracing 段创建 Provider，未启用时返回 nil
func (fc *FileConfig) NewTracerProvider(ctx context.Context) (*tracing.Provider, error) {
	if !fc.Tracing.Enabled {
		return nil, nil
	}
	return tracing.New(ctx, &fc.Tracing)
}

// WatchLogLevel 配置文件中 log.level 变化时调整 Logger 级别
func WatchLogLevel(c *config.Config, log logger.Logger) {
	c.OnChange(func(c *config.Config) {
		level := logger.ParseLevel(c.GetString("log.level"))
		if level != log.Level() {
			log.SetLevel(level)
			log.Info("log level changed", zap.Stringer("level", level))
		}
	})
	c.StartWatch()
}
