package qiws

import (
	"errors"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/logger"
)

// LoggerConfig 日志中间件配置
type LoggerConfig struct {
	// SkipFunc 跳过日志的函数
	SkipFunc func(c *gin.Context) bool

	// ExcludePaths 排除的路径（不记录日志）
	ExcludePaths []string
}

// Logger 创建 HTTP 访问日志中间件
// WebSocket 升级请求以 101 记录，拒绝的升级按状态码记录
func Logger(log logger.Logger, cfgs ...*LoggerConfig) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	cfg := &LoggerConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}

	skipMap := make(map[string]bool, len(cfg.ExcludePaths))
	for _, path := range cfg.ExcludePaths {
		skipMap[path] = true
	}

	return func(c *gin.Context) {
		if (cfg.SkipFunc != nil && cfg.SkipFunc(c)) || skipMap[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		switch {
		case status >= 500:
			log.ErrorContext(c.Request.Context(), "request", fields...)
		case status >= 400:
			log.WarnContext(c.Request.Context(), "request", fields...)
		default:
			log.InfoContext(c.Request.Context(), "request", fields...)
		}
	}
}

// Recovery 创建 panic 恢复中间件，返回 500 并记录错误日志
func Recovery(log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if isBrokenPipe(err) {
				log.Error("broken pipe",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
				)
				c.Abort()
				return
			}

			log.Error("panic recovered",
				zap.Any("error", err),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.String("stack", string(debug.Stack())),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    http.StatusInternalServerError,
				"data":    nil,
				"message": "Internal Server Error",
			})
		}()
		c.Next()
	}
}

// isBrokenPipe 检查是否为断开的连接错误
func isBrokenPipe(err any) bool {
	e, ok := err.(error)
	if !ok {
		return false
	}
	var ne *net.OpError
	if !errors.As(e, &ne) {
		return false
	}
	var se *os.SyscallError
	if !errors.As(ne.Err, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
