package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tokmz/qiws/pkg/logger"
)

// Context 一个 WebSocket 连接的上下文
//
// 同一连接的所有回调收到的是同一个 *Context，可以作为 map 的键跨回调使用。
// Message、Data、Err 只在当前回调执行期间有效；发送方法可以在任意 goroutine 中调用。
type Context struct {
	req        *http.Request
	pattern    *RoutePattern
	matched    string
	params     Params
	serializer Serializer
	sessionID  string
	sess       *session
	attrs      sync.Map

	queryOnce  sync.Once
	query      url.Values
	cookieOnce sync.Once
	cookies    map[string]string

	// 当前回调的载荷，仅由分发 goroutine 读写
	message     string
	data        []byte
	err         error
	closeCode   int
	closeReason string
}

// NewContext 创建处于 pending 状态的 Context（用于测试或自定义接入）
func NewContext(req *http.Request, pattern *RoutePattern, params Params) *Context {
	if params == nil {
		params = Params{}
	}
	var matched string
	if pattern != nil {
		matched = pattern.String()
	}
	return &Context{
		req:        req,
		pattern:    pattern,
		matched:    matched,
		params:     params,
		serializer: JSONSerializer{},
	}
}

func (c *Context) setSessionID(id string) {
	c.sessionID = id
}

// SessionID 注册后分配的唯一标识，pending 状态下为空
func (c *Context) SessionID() string {
	return c.sessionID
}

// MatchedPath 匹配到的路由模式，包含 ContextPath，如 "/websocket/:channel"
func (c *Context) MatchedPath() string {
	return c.matched
}

// Request 升级请求
func (c *Context) Request() *http.Request {
	return c.req
}

// RequestContext 连接级 context，携带链路信息，连接关闭后被取消
func (c *Context) RequestContext() context.Context {
	if c.sess != nil {
		return logger.ContextWithSessionID(c.sess.ctx, c.sessionID)
	}
	return c.req.Context()
}

// PathParam 获取路径参数，未声明的参数返回 ErrPathParamNotFound
func (c *Context) PathParam(name string) (string, error) {
	v, ok := c.params[name]
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrPathParamNotFound, name, c.MatchedPath())
	}
	return v, nil
}

// MustPathParam 获取路径参数，不存在时 panic
func (c *Context) MustPathParam(name string) string {
	v, err := c.PathParam(name)
	if err != nil {
		panic(err)
	}
	return v
}

// PathParamMap 全部路径参数的副本
func (c *Context) PathParamMap() map[string]string {
	out := make(map[string]string, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

// queryValues 宽松解析查询串，格式错误的片段被忽略
func (c *Context) queryValues() url.Values {
	c.queryOnce.Do(func() {
		// ParseQuery 在出错时仍返回已成功解析的部分
		c.query, _ = url.ParseQuery(c.req.URL.RawQuery)
		if c.query == nil {
			c.query = url.Values{}
		}
	})
	return c.query
}

// QueryParam 第一个同名查询参数
func (c *Context) QueryParam(name string) (string, bool) {
	vs := c.queryValues()[name]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// QueryParams 同名查询参数的全部值，按出现顺序
func (c *Context) QueryParams(name string) []string {
	vs := c.queryValues()[name]
	out := make([]string, len(vs))
	copy(out, vs)
	return out
}

// QueryParamMap 全部查询参数，从不失败
func (c *Context) QueryParamMap() map[string][]string {
	q := c.queryValues()
	out := make(map[string][]string, len(q))
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Header 请求头，名称大小写不敏感
func (c *Context) Header(name string) (string, bool) {
	vs := c.req.Header.Values(name)
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// HeaderMap 全部请求头（规范化名称 -> 第一个值）
func (c *Context) HeaderMap() map[string]string {
	out := make(map[string]string, len(c.req.Header))
	for k, vs := range c.req.Header {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func (c *Context) cookieValues() map[string]string {
	c.cookieOnce.Do(func() {
		cookies := c.req.Cookies()
		c.cookies = make(map[string]string, len(cookies))
		for _, ck := range cookies {
			if _, ok := c.cookies[ck.Name]; !ok {
				c.cookies[ck.Name] = ck.Value
			}
		}
	})
	return c.cookies
}

// Cookie 按名称读取 Cookie
func (c *Context) Cookie(name string) (string, bool) {
	v, ok := c.cookieValues()[name]
	return v, ok
}

// CookieMap 全部 Cookie
func (c *Context) CookieMap() map[string]string {
	src := c.cookieValues()
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Host 请求的主机名（不含端口）
func (c *Context) Host() (string, bool) {
	h := c.req.Host
	if h == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host, true
	}
	return h, true
}

// RemoteAddr 对端地址
func (c *Context) RemoteAddr() string {
	if c.sess != nil {
		return c.sess.conn.RemoteAddr().String()
	}
	return c.req.RemoteAddr
}

// Set 存储连接级属性
func (c *Context) Set(key string, value any) {
	c.attrs.Store(key, value)
}

// Get 读取连接级属性
func (c *Context) Get(key string) (any, bool) {
	return c.attrs.Load(key)
}

// Send 发送文本帧（非阻塞）
func (c *Context) Send(text string) error {
	return c.enqueue(websocket.TextMessage, []byte(text))
}

// SendBytes 发送二进制帧（非阻塞）
func (c *Context) SendBytes(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	return c.enqueue(websocket.BinaryMessage, buf)
}

// SendObject 序列化后以文本帧发送
func (c *Context) SendObject(v any) error {
	data, err := c.serializer.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(websocket.TextMessage, data)
}

func (c *Context) enqueue(messageType int, data []byte) error {
	if c.sess == nil {
		return ErrNotConnected
	}
	return c.sess.enqueue(outbound{messageType: messageType, data: data})
}

// Close 以 1000 正常关闭连接
func (c *Context) Close() error {
	return c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason 以指定关闭码和原因关闭连接
func (c *Context) CloseWithReason(code int, reason string) error {
	if c.sess == nil {
		return ErrNotConnected
	}
	return c.sess.close(code, reason)
}

// Message 当前文本帧内容，仅在 OnMessage 中有效
func (c *Context) Message() string {
	return c.message
}

// Data 当前二进制帧内容，仅在 OnBinaryMessage 中有效
func (c *Context) Data() []byte {
	return c.data
}

// Err 当前错误，仅在 OnError 中有效
func (c *Context) Err() error {
	return c.err
}

// CloseStatus 关闭码与原因，仅在 OnClose 中有效
func (c *Context) CloseStatus() (int, string) {
	return c.closeCode, c.closeReason
}

// BindMessage 将当前文本帧反序列化到 v
func (c *Context) BindMessage(v any) error {
	if c.message == "" {
		return ErrNoMessage
	}
	if err := c.serializer.Unmarshal([]byte(c.message), v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

// MessageAs 将当前文本帧反序列化为 T
func MessageAs[T any](c *Context) (T, error) {
	var v T
	err := c.BindMessage(&v)
	return v, err
}

// resetPayload 清理单次回调的载荷
func (c *Context) resetPayload() {
	c.message = ""
	c.data = nil
	c.err = nil
}
