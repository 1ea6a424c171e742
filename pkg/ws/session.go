package ws

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/logger"
)

// State 连接状态
type State int32

const (
	StatePending State = iota
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StatePending: "pending",
	StateOpen:    "open",
	StateClosing: "closing",
	StateClosed:  "closed",
	StateFailed:  "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// 关闭帧原因最多 123 字节
const maxCloseReason = 123

type outbound struct {
	messageType int
	data        []byte
}

// session 驱动一个连接的生命周期
//
// 读 goroutine 执行所有回调，同一连接的回调互斥；写 goroutine 独占数据帧写入。
type session struct {
	conn     *websocket.Conn
	c        *Context
	handlers [2]*Handler // 路由处理器, wsLogger
	router   *Router
	config   *Config
	route    string
	log      logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	send      chan outbound
	stop      chan struct{}
	stopOnce  sync.Once
	writeDone chan struct{}

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

func newSession(ctx context.Context, conn *websocket.Conn, c *Context, handler *Handler, r *Router) *session {
	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		conn:      conn,
		c:         c,
		handlers:  [2]*Handler{handler, r.wsLogger},
		router:    r,
		config:    r.config,
		route:     c.MatchedPath(),
		log:       r.log,
		ctx:       ctx,
		cancel:    cancel,
		send:      make(chan outbound, r.config.SendQueueSize),
		stop:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	c.sess = s
	return s
}

// State 当前状态
func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

// run 阻塞直到连接结束
func (s *session) run() {
	s.log = s.router.log.With(zap.String("session_id", s.c.SessionID()), zap.String("route", s.route))
	s.router.metrics.ConnectionOpened(s.route)
	defer s.router.metrics.ConnectionClosed(s.route)

	go s.writePump()

	if err := s.dispatch(eventConnect); err != nil {
		s.recovered(eventConnect, err)
	} else {
		s.readPump()
	}
	s.finish()
}

// readPump 读取消息并分发
func (s *session) readPump() {
	s.conn.SetReadLimit(s.config.MaxMessageSize)
	// 已发起关闭时保留 close 设置的较短超时
	if s.State() == StateOpen {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait)); err != nil {
			s.fail(err, websocket.CloseInternalServerErr)
			return
		}
	}
	s.conn.SetPongHandler(func(string) error {
		if s.State() != StateOpen {
			return nil
		}
		return s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}

		// 本端已发起关闭，丢弃对端在关闭握手完成前发来的帧
		if s.State() != StateOpen {
			continue
		}

		var (
			e     event
			kind  string
			limit int64
		)
		switch messageType {
		case websocket.TextMessage:
			e, kind, limit = eventMessage, "Text", s.config.textLimit()
		case websocket.BinaryMessage:
			e, kind, limit = eventBinaryMessage, "Binary", s.config.binaryLimit()
		default:
			continue
		}

		if size := int64(len(data)); size > limit {
			s.fail(&MessageTooLargeError{Kind: kind, Size: size, Limit: limit}, websocket.CloseMessageTooBig)
			return
		}
		s.router.metrics.MessageReceived(s.route, kind)

		if e == eventMessage {
			s.c.message = string(data)
		} else {
			s.c.data = data
		}
		err = s.dispatch(e)
		s.c.resetPayload()
		if err != nil {
			s.recovered(e, err)
			return
		}
	}
}

// readFailed 区分正常关闭与传输错误
func (s *session) readFailed(err error) {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		// 本端发起的关闭保留自己的关闭码，对端回显的帧不含原因
		s.setCloseStatus(closeErr.Code, closeErr.Text, s.State() == StateOpen)
		if closeErr.Code == websocket.CloseAbnormalClosure {
			s.log.Debug("websocket connection dropped", zap.Error(err))
		}

	case errors.Is(err, websocket.ErrReadLimit):
		// gorilla 已经回写了 1009 关闭帧
		s.fail(errors.Join(ErrMessageTooLarge, err), websocket.CloseMessageTooBig)

	case s.State() != StateOpen:
		// 本端发起关闭后等待回应超时或连接已关闭

	default:
		s.fail(err, websocket.CloseAbnormalClosure)
	}
}

// writePump 写入消息与心跳
func (s *session) writePump() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer func() {
		ticker.Stop()
		close(s.writeDone)
	}()

	for {
		select {
		case <-s.stop:
			return

		case msg := <-s.send:
			deadline := time.Now().Add(s.config.WriteWait)
			if msg.messageType == websocket.CloseMessage {
				// 关闭帧之后不再写入数据帧
				_ = s.conn.WriteControl(websocket.CloseMessage, msg.data, deadline)
				return
			}
			if err := s.conn.SetWriteDeadline(deadline); err != nil {
				s.conn.Close()
				return
			}
			if err := s.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				// 关闭底层连接，使读 goroutine 退出
				s.conn.Close()
				return
			}
			s.router.metrics.MessageSent(s.route, messageKind(msg.messageType))

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteWait)); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

// enqueue 非阻塞入队
func (s *session) enqueue(msg outbound) error {
	switch s.State() {
	case StatePending:
		return ErrNotConnected
	case StateOpen:
	default:
		return ErrConnectionClosed
	}

	select {
	case s.send <- msg:
		return nil
	default:
		s.router.metrics.MessageDropped(s.route)
		return ErrChannelFull
	}
}

// close 由服务端发起关闭握手，可在任意 goroutine 中调用
func (s *session) close(code int, reason string) error {
	if !s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		switch s.State() {
		case StatePending:
			return ErrNotConnected
		case StateClosing:
			return nil
		default:
			return ErrConnectionClosed
		}
	}

	reason = truncateReason(reason)
	s.setCloseStatus(code, reason, false)
	msg := websocket.FormatCloseMessage(code, reason)

	// 关闭帧排在已入队的数据帧之后；队列已满时直接写控制帧
	select {
	case s.send <- outbound{messageType: websocket.CloseMessage, data: msg}:
	default:
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.config.WriteWait))
	}
	// 对端不回应时读 goroutine 在超时后退出
	return s.conn.SetReadDeadline(time.Now().Add(s.config.WriteWait))
}

// fail 通知 OnError 并以 code 关闭连接
func (s *session) fail(err error, code int) {
	s.setState(StateFailed)
	s.router.metrics.HandlerError(s.route)
	if errors.Is(err, ErrMessageTooLarge) {
		s.log.Warn("websocket message rejected", zap.Error(err))
	} else {
		s.log.Error("websocket connection failed", zap.Error(err))
	}

	s.c.err = err
	if perr := s.dispatch(eventError); perr != nil {
		s.log.Error("websocket error handler panicked", zap.Error(perr), zap.ByteString("stack", stackOf(perr)))
	}
	s.c.resetPayload()

	reason := truncateReason(err.Error())
	s.setCloseStatus(code, reason, false)
	// 1006 只能本地表示，不能出现在关闭帧中
	if code != websocket.CloseAbnormalClosure {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(s.config.WriteWait))
	}
}

// recovered 处理回调中恢复的 panic
func (s *session) recovered(e event, err error) {
	s.log.Error("websocket handler panicked",
		zap.Stringer("event", e),
		zap.Error(err),
		zap.ByteString("stack", stackOf(err)),
	)
	s.fail(err, websocket.CloseInternalServerErr)
}

// finish 派发 OnClose 并释放资源，每个连接只执行一次
func (s *session) finish() {
	if s.State() == StateOpen {
		s.setState(StateClosing)
	}

	code, reason := s.closeStatus()
	s.c.closeCode, s.c.closeReason = code, reason
	if err := s.dispatch(eventClose); err != nil {
		s.router.metrics.HandlerError(s.route)
		s.log.Error("websocket close handler panicked", zap.Error(err), zap.ByteString("stack", stackOf(err)))
	}
	s.setState(StateClosed)

	s.stopOnce.Do(func() { close(s.stop) })
	<-s.writeDone
	s.cancel()
	s.conn.Close()
	s.router.registry.Unregister(s.c.SessionID())

	s.log.Debug("websocket connection closed", zap.Int("code", code), zap.String("reason", reason))
}

// dispatch 依次调用路由处理器和 wsLogger，返回第一个 panic
//
// 路由处理器 panic 时 wsLogger 仍然收到该事件。
func (s *session) dispatch(e event) error {
	var first error
	for _, h := range s.handlers {
		if err := s.invoke(e, h); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *session) invoke(e event, h *Handler) (err error) {
	fn := h.callback(e)
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn(s.c)
	return nil
}

// setCloseStatus 记录关闭码，overwrite 为 false 时保留已有值
func (s *session) setCloseStatus(code int, reason string, overwrite bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCode == 0 || overwrite {
		s.closeCode, s.closeReason = code, reason
	}
}

func (s *session) closeStatus() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCode == 0 {
		return websocket.CloseNoStatusReceived, ""
	}
	return s.closeCode, s.closeReason
}

// truncateReason 截断到 maxCloseReason 字节以内，不拆分多字节字符
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	n := maxCloseReason
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}

func stackOf(err error) []byte {
	var perr *PanicError
	if errors.As(err, &perr) {
		return perr.Stack
	}
	return nil
}

func messageKind(messageType int) string {
	if messageType == websocket.BinaryMessage {
		return "Binary"
	}
	return "Text"
}
