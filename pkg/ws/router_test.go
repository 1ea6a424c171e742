package ws

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	qerrors "github.com/tokmz/qiws/pkg/errors"
	"github.com/tokmz/qiws/pkg/logger"
)

const testTimeout = 5 * time.Second

type harness struct {
	router *Router
	server *httptest.Server
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	r, err := NewRouter(opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = r.Shutdown(ctx)
		srv.Close()
	})
	return &harness{router: r, server: srv}
}

func (h *harness) url(path string) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + path
}

func (h *harness) dial(t *testing.T, path string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url(path), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dialFail 期望握手失败，返回状态码与响应体
func (h *harness) dialFail(t *testing.T, path string) (int, string) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.url(path), nil)
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	return string(data)
}

func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce
	}
}

func expect(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %q", want)
	}
}

// eventLog 线程安全的日志收集器
type eventLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = nil
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func TestRouter_Lifecycle(t *testing.T) {
	h := newHarness(t)
	events := make(chan string, 16)
	require.NoError(t, h.router.Register("/echo", func(hd *Handler) {
		hd.OnConnect(func(c *Context) {
			events <- "connect"
			_ = c.Send("welcome")
		})
		hd.OnMessage(func(c *Context) {
			events <- "message:" + c.Message()
			_ = c.Send("echo:" + c.Message())
		})
		hd.OnBinaryMessage(func(c *Context) {
			events <- fmt.Sprintf("binary:%v", c.Data())
			_ = c.SendBytes(c.Data())
		})
		hd.OnClose(func(c *Context) {
			code, reason := c.CloseStatus()
			events <- fmt.Sprintf("close:%d:%s", code, reason)
		})
	}))

	conn := h.dial(t, "/echo", nil)
	assert.Equal(t, "welcome", readText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	assert.Equal(t, "echo:hello", readText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{1, 2, 3}, data)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	expect(t, events, "connect")
	expect(t, events, "message:hello")
	expect(t, events, "binary:[1 2 3]")
	expect(t, events, "close:1000:bye")

	assert.Eventually(t, func() bool { return h.router.Registry().Count() == 0 }, testTimeout, 10*time.Millisecond)
}

func TestRouter_UniqueSessionIDs(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Register("/ids", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send(c.SessionID()) })
	}))

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		id := readText(t, h.dial(t, "/ids", nil))
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 3, h.router.Registry().Count())
}

// TestRouter_Broadcast 测试通过注册表向所有连接广播
func TestRouter_Broadcast(t *testing.T) {
	h := newHarness(t)
	var logs eventLog
	require.NoError(t, h.router.Register("/chat", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
		hd.OnMessage(func(c *Context) {
			i := 0
			h.router.Registry().ForEach(func(other *Context) bool {
				msg := fmt.Sprintf("Server sent '%s' to %d", c.Message(), i)
				_ = other.Send(msg)
				logs.add("%s", msg)
				i++
				return true
			})
		})
	}))

	a := h.dial(t, "/chat", nil)
	b := h.dial(t, "/chat", nil)
	assert.Equal(t, "ready", readText(t, a))
	assert.Equal(t, "ready", readText(t, b))

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("A")))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("B")))

	// 每个连接先收到 A 再收到 B，同一轮广播中各连接拿到的序号不同
	gotA := []string{readText(t, a), readText(t, a)}
	gotB := []string{readText(t, b), readText(t, b)}
	for _, got := range [][]string{gotA, gotB} {
		assert.True(t, strings.HasPrefix(got[0], "Server sent 'A' to "), got[0])
		assert.True(t, strings.HasPrefix(got[1], "Server sent 'B' to "), got[1])
	}
	assert.ElementsMatch(t,
		[]string{"Server sent 'A' to 0", "Server sent 'A' to 1"},
		[]string{gotA[0], gotB[0]})
	assert.ElementsMatch(t,
		[]string{"Server sent 'B' to 0", "Server sent 'B' to 1"},
		[]string{gotA[1], gotB[1]})
	assert.ElementsMatch(t, []string{
		"Server sent 'A' to 0", "Server sent 'A' to 1",
		"Server sent 'B' to 0", "Server sent 'B' to 1",
	}, logs.snapshot())

	assert.Equal(t, 0, h.router.Broadcast("all"))
	assert.Equal(t, "all", readText(t, a))
	assert.Equal(t, "all", readText(t, b))
}

// funcObserver 以函数实现 RegistryObserver
type funcObserver struct {
	onRegister   func(c *Context)
	onUnregister func(c *Context)
}

func (o *funcObserver) OnRegister(c *Context) {
	if o.onRegister != nil {
		o.onRegister(c)
	}
}

func (o *funcObserver) OnUnregister(c *Context) {
	if o.onUnregister != nil {
		o.onUnregister(c)
	}
}

// TestRouter_SendWhileRegistering 测试已进入注册表但尚未派发 OnConnect 的连接可以接收消息
func TestRouter_SendWhileRegistering(t *testing.T) {
	sent := make(chan error, 1)
	h := newHarness(t, WithRegistryObserver(&funcObserver{
		onRegister: func(c *Context) { sent <- c.Send("hello") },
	}))
	require.NoError(t, h.router.Register("/greet", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
	}))

	conn := h.dial(t, "/greet", nil)
	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("observer not called")
	}
	assert.Equal(t, "hello", readText(t, conn))
	assert.Equal(t, "ready", readText(t, conn))
}

func TestRouter_PathMatching(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Register("/*", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("catch-all") })
	}))
	require.NoError(t, h.router.Register("/params/:1/test/:2/:3", func(hd *Handler) {
		hd.OnConnect(func(c *Context) {
			_ = c.Send(c.MustPathParam("1") + " " + c.MustPathParam("2") + " " + c.MustPathParam("3"))
		})
	}))
	require.NoError(t, h.router.Register("/path/:id", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("param " + c.MustPathParam("id")) })
	}))
	require.NoError(t, h.router.Register("/path/literal", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("literal") })
	}))

	assert.Equal(t, "one ♔ three", readText(t, h.dial(t, "/params/one/test/%E2%99%94/three", nil)))
	assert.Equal(t, "param 42", readText(t, h.dial(t, "/path/42", nil)))
	assert.Equal(t, "literal", readText(t, h.dial(t, "/path/literal", nil)))
	// 字面量大小写敏感
	assert.Equal(t, "param Literal", readText(t, h.dial(t, "/path/Literal", nil)))
	assert.Equal(t, "catch-all", readText(t, h.dial(t, "/something/else", nil)))

	p, params, ok := h.router.Match("/path/7")
	require.True(t, ok)
	assert.Equal(t, "/path/:id", p.String())
	assert.Equal(t, "7", params.Get("id"))
}

func TestRouter_NotFound(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Register("/chat", nil))

	status, body := h.dialFail(t, "/nope")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"code":4004,"data":null,"message":"WebSocket handler not found"}`, body)
}

func TestRouter_Register(t *testing.T) {
	r, err := NewRouter()
	require.NoError(t, err)

	require.NoError(t, r.Register("/chat/:room", nil))
	assert.ErrorIs(t, r.Register("chat/:room/", nil), ErrHandlerExists)
	assert.ErrorIs(t, r.Register("/a/*/b", nil), ErrInvalidPattern)
}

func TestRouter_ContextPath(t *testing.T) {
	h := newHarness(t, WithContextPath("/websocket/"))
	require.NoError(t, h.router.Register("/:channel", func(hd *Handler) {
		hd.OnConnect(func(c *Context) {
			_ = c.Send(c.MatchedPath() + " " + c.MustPathParam("channel"))
		})
	}))

	assert.Equal(t, "/websocket/:channel chat", readText(t, h.dial(t, "/websocket/chat", nil)))

	status, _ := h.dialFail(t, "/chat")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = h.dialFail(t, "/websocketx/chat")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouter_ContextAccessors(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Register("/websocket/:channel", func(hd *Handler) {
		hd.OnConnect(func(c *Context) {
			header, _ := c.Header("Test")
			host, _ := c.Host()
			qp, _ := c.QueryParam("qp")
			cookie, _ := c.Cookie("name")
			_ = c.Send(strings.Join([]string{
				header,
				host,
				c.MatchedPath(),
				qp,
				strings.Join(c.QueryParams("qps"), ","),
				cookie,
				fmt.Sprint(len(c.CookieMap())),
			}, "|"))
		})
	}))

	header := http.Header{}
	header.Set("Test", "HeaderParameter")
	header.Set("Cookie", "name=value; name2=value2; name3=value3")
	conn := h.dial(t, "/websocket/channel-one?qp=queryParam&qps=1&qps=2", header)

	assert.Equal(t, "HeaderParameter|127.0.0.1|/websocket/:channel|queryParam|1,2|value|3", readText(t, conn))
}

// TestRouter_AccessManager 测试允许、拒绝与异常三种情况
func TestRouter_AccessManager(t *testing.T) {
	var logs eventLog
	core, recorded := observer.New(zapcore.DebugLevel)

	h := newHarness(t,
		WithLogger(logger.FromZap(zap.New(core))),
		WithAccessManager(func(c *Context, roles []Role) AccessDecision {
			logs.add("handling upgrade request ...")
			if v, _ := c.QueryParam("allowed"); v == "true" {
				logs.add("upgrade request valid!")
				return Allow()
			}
			if v, _ := c.QueryParam("exception"); v == "true" {
				panic(qerrors.ErrUnauthorized)
			}
			logs.add("upgrade request invalid!")
			return Deny()
		}),
	)
	require.NoError(t, h.router.Register("/*", func(hd *Handler) {
		hd.OnConnect(func(c *Context) {
			logs.add("connected with upgrade request")
			_ = c.Send("ready")
		})
	}, "user"))

	// 异常：一条日志，不建立连接
	status, _ := h.dialFail(t, "/?exception=true")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Len(t, logs.snapshot(), 1)
	assert.Equal(t, 1, recorded.FilterMessage("websocket access manager failed").Len())

	// 拒绝：两条日志
	logs.reset()
	status, _ = h.dialFail(t, "/?allowed=false")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, []string{"handling upgrade request ...", "upgrade request invalid!"}, logs.snapshot())

	// 允许：服务器在异常之后继续正常工作
	logs.reset()
	conn := h.dial(t, "/?allowed=true", nil)
	assert.Equal(t, "ready", readText(t, conn))
	assert.Equal(t, []string{
		"handling upgrade request ...",
		"upgrade request valid!",
		"connected with upgrade request",
	}, logs.snapshot())
	assert.Equal(t, 1, h.router.Registry().Count())
}

func TestRouter_AccessManagerReceivesRoles(t *testing.T) {
	got := make(chan []Role, 1)
	h := newHarness(t, WithAccessManager(func(c *Context, roles []Role) AccessDecision {
		got <- roles
		return Deny()
	}))
	require.NoError(t, h.router.Register("/admin", nil, "admin", "ops"))

	status, _ := h.dialFail(t, "/admin")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, []Role{"admin", "ops"}, <-got)
	assert.Equal(t, 0, h.router.Registry().Count())
}

// TestRouter_MaxTextMessageSize 测试超长文本消息
func TestRouter_MaxTextMessageSize(t *testing.T) {
	h := newHarness(t, WithMaxTextMessageSize(1))
	events := make(chan string, 4)
	require.NoError(t, h.router.Register("/limited", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
		hd.OnMessage(func(c *Context) { events <- "message" })
		hd.OnError(func(c *Context) { events <- c.Err().Error() })
		hd.OnClose(func(c *Context) {
			code, _ := c.CloseStatus()
			events <- fmt.Sprintf("close:%d", code)
		})
	}))

	conn := h.dial(t, "/limited", nil)
	assert.Equal(t, "ready", readText(t, conn))

	text := "This text is far too long!!"
	require.Len(t, text, 27)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))

	expect(t, events, "Text message size [27] exceeds maximum size [1]")
	expect(t, events, "close:1009")
	assert.Equal(t, websocket.CloseMessageTooBig, readClose(t, conn).Code)
}

func TestRouter_MaxBinaryMessageSize(t *testing.T) {
	h := newHarness(t, WithMaxBinaryMessageSize(2))
	errs := make(chan error, 1)
	require.NoError(t, h.router.Register("/bin", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
		hd.OnError(func(c *Context) { errs <- c.Err() })
	}))

	conn := h.dial(t, "/bin", nil)
	assert.Equal(t, "ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrMessageTooLarge)
		var tooLarge *MessageTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		assert.Equal(t, "Binary", tooLarge.Kind)
		assert.EqualValues(t, 3, tooLarge.Size)
	case <-time.After(testTimeout):
		t.Fatal("onError not called")
	}
}

// TestRouter_HandlerPanic 测试处理器 panic 被恢复
func TestRouter_HandlerPanic(t *testing.T) {
	h := newHarness(t)
	events := make(chan string, 4)
	require.NoError(t, h.router.Register("/panic", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
		hd.OnMessage(func(c *Context) { panic("boom") })
		hd.OnError(func(c *Context) { events <- c.Err().Error() })
		hd.OnClose(func(c *Context) {
			code, _ := c.CloseStatus()
			events <- fmt.Sprintf("close:%d", code)
		})
	}))

	conn := h.dial(t, "/panic", nil)
	assert.Equal(t, "ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x")))

	expect(t, events, "ws: handler panic: boom")
	expect(t, events, "close:1011")
	assert.Equal(t, websocket.CloseInternalServerErr, readClose(t, conn).Code)

	// 其他连接不受影响
	assert.Equal(t, "ready", readText(t, h.dial(t, "/panic", nil)))
}

func TestRouter_ServerInitiatedClose(t *testing.T) {
	h := newHarness(t)
	events := make(chan string, 4)
	require.NoError(t, h.router.Register("/bye", func(hd *Handler) {
		hd.OnMessage(func(c *Context) {
			_ = c.Send("goodbye")
			assert.NoError(t, c.CloseWithReason(websocket.CloseNormalClosure, "done"))
			// 重复关闭无副作用
			assert.NoError(t, c.Close())
			assert.ErrorIs(t, c.Send("late"), ErrConnectionClosed)
		})
		hd.OnClose(func(c *Context) {
			code, reason := c.CloseStatus()
			events <- fmt.Sprintf("close:%d:%s", code, reason)
			events <- fmt.Sprint(c.Send("after close"))
		})
	}))

	conn := h.dial(t, "/bye", nil)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x")))
	assert.Equal(t, "goodbye", readText(t, conn))
	ce := readClose(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	assert.Equal(t, "done", ce.Text)

	expect(t, events, "close:1000:done")
	expect(t, events, ErrConnectionClosed.Error())
	select {
	case extra := <-events:
		t.Fatalf("unexpected event %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouter_SendObjectRoundTrip(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Register("/json", func(hd *Handler) {
		hd.OnMessage(func(c *Context) {
			msg, err := MessageAs[chatMessage](c)
			if err != nil {
				_ = c.Send(err.Error())
				return
			}
			msg.Text = strings.ToUpper(msg.Text)
			_ = c.SendObject(msg)
		})
	}))

	conn := h.dial(t, "/json", nil)
	require.NoError(t, conn.WriteJSON(chatMessage{User: "alice", Text: "hi"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	var got chatMessage
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, chatMessage{User: "alice", Text: "HI"}, got)
}

// TestRouter_WsLogger 测试横切处理器在路由处理器之后执行
func TestRouter_WsLogger(t *testing.T) {
	var logs eventLog
	closed := make(chan struct{})
	h := newHarness(t, WithWsLogger(func(hd *Handler) {
		hd.OnConnect(func(c *Context) { logs.add("%s connected", c.MustPathParam("param")) })
		hd.OnClose(func(c *Context) {
			logs.add("%s disconnected", c.MustPathParam("param"))
			close(closed)
		})
	}))
	require.NoError(t, h.router.Register("/:param", func(hd *Handler) {
		hd.OnConnect(func(c *Context) {
			logs.add("handler connect")
			_ = c.Send("ready")
		})
	}))

	conn := h.dial(t, "/logged", nil)
	assert.Equal(t, "ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case <-closed:
	case <-time.After(testTimeout):
		t.Fatal("wsLogger onClose not called")
	}
	assert.Equal(t, []string{"handler connect", "logged connected", "logged disconnected"}, logs.snapshot())
}

func TestRouter_DevLogger(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	h := newHarness(t, WithWsLogger(DevLogger(logger.FromZap(zap.New(core)))))
	require.NoError(t, h.router.Register("/dev", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
	}))

	conn := h.dial(t, "/dev", nil)
	assert.Equal(t, "ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	assert.Eventually(t, func() bool {
		return recorded.FilterMessage("ws closed").Len() == 1
	}, testTimeout, 10*time.Millisecond)
	assert.Equal(t, 1, recorded.FilterMessage("ws connected").Len())
	msgs := recorded.FilterMessage("ws message").All()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].ContextMap()["message"])
}

func TestRouter_MaxConnections(t *testing.T) {
	h := newHarness(t, WithMaxConnections(1))
	require.NoError(t, h.router.Register("/one", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
	}))

	first := h.dial(t, "/one", nil)
	assert.Equal(t, "ready", readText(t, first))

	second := h.dial(t, "/one", nil)
	assert.Equal(t, websocket.CloseTryAgainLater, readClose(t, second).Code)
	assert.Equal(t, 1, h.router.Registry().Count())
}

// TestRouter_Shutdown 测试优雅关闭
func TestRouter_Shutdown(t *testing.T) {
	h := newHarness(t)
	closes := make(chan string, 4)
	require.NoError(t, h.router.Register("/s", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
		hd.OnClose(func(c *Context) {
			code, _ := c.CloseStatus()
			closes <- fmt.Sprint(code)
		})
	}))

	a := h.dial(t, "/s", nil)
	b := h.dial(t, "/s", nil)
	assert.Equal(t, "ready", readText(t, a))
	assert.Equal(t, "ready", readText(t, b))

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		done <- h.router.Shutdown(ctx)
	}()

	assert.Equal(t, websocket.CloseGoingAway, readClose(t, a).Code)
	assert.Equal(t, websocket.CloseGoingAway, readClose(t, b).Code)
	require.NoError(t, <-done)
	expect(t, closes, "1001")
	expect(t, closes, "1001")
	assert.Equal(t, 0, h.router.Registry().Count())

	status, _ := h.dialFail(t, "/s")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

// TestRouter_ShutdownWhileRegistering 测试关闭时仍在注册中的连接同样被排空
func TestRouter_ShutdownWhileRegistering(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h := newHarness(t, WithRegistryObserver(&funcObserver{
		onRegister: func(*Context) {
			once.Do(func() {
				close(entered)
				<-release
			})
		},
	}))
	closes := make(chan string, 1)
	require.NoError(t, h.router.Register("/slow", func(hd *Handler) {
		hd.OnClose(func(c *Context) {
			code, _ := c.CloseStatus()
			closes <- fmt.Sprint(code)
		})
	}))

	conn := h.dial(t, "/slow", nil)
	select {
	case <-entered:
	case <-time.After(testTimeout):
		t.Fatal("observer not called")
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		done <- h.router.Shutdown(ctx)
	}()
	assert.Eventually(t, h.router.draining.Load, testTimeout, 5*time.Millisecond)

	// 注册未完成时 Shutdown 不能返回
	select {
	case err := <-done:
		t.Fatalf("Shutdown returned before the connection was drained: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, websocket.CloseGoingAway, readClose(t, conn).Code)
	require.NoError(t, <-done)
	expect(t, closes, "1001")
	assert.Equal(t, 0, h.router.Registry().Count())
}

// TestRouter_PanicReasonIsValidUTF8 测试过长的多字节关闭原因按字符边界截断
func TestRouter_PanicReasonIsValidUTF8(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Register("/wide", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
		hd.OnMessage(func(c *Context) { panic(strings.Repeat("错", 50)) })
	}))

	conn := h.dial(t, "/wide", nil)
	assert.Equal(t, "ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x")))

	ce := readClose(t, conn)
	assert.Equal(t, websocket.CloseInternalServerErr, ce.Code)
	assert.True(t, utf8.ValidString(ce.Text))
	assert.LessOrEqual(t, len(ce.Text), maxCloseReason)
	assert.True(t, strings.HasPrefix(ce.Text, "ws: handler panic: 错"))
}

// TestRouter_WsLoggerSeesPanickedEvent 测试路由处理器 panic 时横切处理器仍收到该事件
func TestRouter_WsLoggerSeesPanickedEvent(t *testing.T) {
	var logs eventLog
	closed := make(chan struct{})
	h := newHarness(t, WithWsLogger(func(hd *Handler) {
		hd.OnMessage(func(c *Context) { logs.add("logger message %s", c.Message()) })
		hd.OnError(func(c *Context) { logs.add("logger error") })
		hd.OnClose(func(c *Context) { close(closed) })
	}))
	require.NoError(t, h.router.Register("/panic", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
		hd.OnMessage(func(c *Context) {
			logs.add("handler message")
			panic("boom")
		})
		hd.OnError(func(c *Context) { logs.add("handler error %s", c.Err()) })
	}))

	conn := h.dial(t, "/panic", nil)
	assert.Equal(t, "ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x")))
	assert.Equal(t, websocket.CloseInternalServerErr, readClose(t, conn).Code)

	select {
	case <-closed:
	case <-time.After(testTimeout):
		t.Fatal("wsLogger onClose not called")
	}
	assert.Equal(t, []string{
		"handler message",
		"logger message x",
		"handler error ws: handler panic: boom",
		"logger error",
	}, logs.snapshot())
}

func TestRouter_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	h := newHarness(t, WithTracerProvider(tp))
	require.NoError(t, h.router.Register("/traced/:id", func(hd *Handler) {
		hd.OnConnect(func(c *Context) { _ = c.Send("ready") })
	}))

	assert.Equal(t, "ready", readText(t, h.dial(t, "/traced/1", nil)))
	h.dialFail(t, "/missing")

	assert.Eventually(t, func() bool { return len(sr.Ended()) == 2 }, testTimeout, 10*time.Millisecond)
	routes := map[string]bool{}
	for _, span := range sr.Ended() {
		assert.Equal(t, "ws.upgrade", span.Name())
		for _, kv := range span.Attributes() {
			if kv.Key == "ws.route" {
				routes[kv.Value.AsString()] = true
			}
		}
	}
	assert.True(t, routes["/traced/:id"])
}
