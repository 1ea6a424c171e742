package ws

import (
	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/logger"
)

// DevLogger 返回记录全部生命周期事件的横切处理器，配合 WithWsLogger 使用
func DevLogger(log logger.Logger) func(*Handler) {
	if log == nil {
		log = logger.Nop()
	}
	fields := func(c *Context) []zap.Field {
		host, _ := c.Host()
		return []zap.Field{
			zap.String("session_id", c.SessionID()),
			zap.String("matched_path", c.MatchedPath()),
			zap.String("path", c.Request().URL.Path),
			zap.String("host", host),
			zap.Any("path_params", c.params),
		}
	}

	return func(h *Handler) {
		h.OnConnect(func(c *Context) {
			log.Info("ws connected", fields(c)...)
		})
		h.OnMessage(func(c *Context) {
			log.Info("ws message", append(fields(c), zap.String("message", c.Message()))...)
		})
		h.OnBinaryMessage(func(c *Context) {
			log.Info("ws binary message", append(fields(c), zap.Int("bytes", len(c.Data())))...)
		})
		h.OnClose(func(c *Context) {
			code, reason := c.CloseStatus()
			log.Info("ws closed", append(fields(c), zap.Int("code", code), zap.String("reason", reason))...)
		})
		h.OnError(func(c *Context) {
			log.Warn("ws error", append(fields(c), zap.Error(c.Err()))...)
		})
	}
}
