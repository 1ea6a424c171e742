package ws

import (
	"errors"
	"fmt"
	"net/http"

	qerrors "github.com/tokmz/qiws/pkg/errors"
)

// 错误定义
var (
	// 连接相关错误
	ErrTooManyConnections = errors.New("ws: too many connections")
	ErrSessionExists      = errors.New("ws: session id already exists")
	ErrConnectionClosed   = errors.New("ws: connection closed")
	ErrNotConnected       = errors.New("ws: connection not established")
	ErrChannelFull        = errors.New("ws: send channel full")

	// 路由相关错误
	ErrHandlerExists     = errors.New("ws: handler already exists")
	ErrInvalidPattern    = errors.New("ws: invalid route pattern")
	ErrPathParamNotFound = errors.New("ws: path parameter not found")

	// 消息相关错误
	ErrMessageTooLarge = errors.New("ws: message too large")
	ErrNoMessage       = errors.New("ws: no inbound message")
	ErrDecode          = errors.New("ws: decode message failed")

	// 配置相关错误
	ErrInvalidConfig = errors.New("ws: invalid config")
)

// 对客户端可见的升级失败
var (
	// ErrHandlerNotFound 没有匹配的 WebSocket 路由
	ErrHandlerNotFound = qerrors.New(4004, "WebSocket handler not found", http.StatusNotFound)
	// ErrAccessDenied AccessManager 拒绝升级
	ErrAccessDenied = qerrors.New(4003, "WebSocket upgrade denied", http.StatusForbidden)
)

// MessageTooLargeError 入站帧超过配置的大小上限
type MessageTooLargeError struct {
	Kind  string // "Text" 或 "Binary"
	Size  int64
	Limit int64
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("%s message size [%d] exceeds maximum size [%d]", e.Kind, e.Size, e.Limit)
}

// Is 使 errors.Is(err, ErrMessageTooLarge) 成立
func (e *MessageTooLargeError) Is(target error) bool {
	return target == ErrMessageTooLarge
}

// PanicError 处理器 panic 被恢复后的错误
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("ws: handler panic: %v", e.Value)
}

// Unwrap 当 panic 值本身是 error 时可继续解包
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
