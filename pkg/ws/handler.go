package ws

// HandlerFunc 生命周期回调
type HandlerFunc func(c *Context)

// Handler 一个路由上的生命周期回调集合，未设置的回调会被跳过
type Handler struct {
	onConnect       HandlerFunc
	onMessage       HandlerFunc
	onBinaryMessage HandlerFunc
	onClose         HandlerFunc
	onError         HandlerFunc
}

// OnConnect 连接建立后、读取第一帧之前调用
func (h *Handler) OnConnect(fn HandlerFunc) *Handler {
	h.onConnect = fn
	return h
}

// OnMessage 收到文本帧时调用，通过 Context.Message 读取内容
func (h *Handler) OnMessage(fn HandlerFunc) *Handler {
	h.onMessage = fn
	return h
}

// OnBinaryMessage 收到二进制帧时调用，通过 Context.Data 读取内容
func (h *Handler) OnBinaryMessage(fn HandlerFunc) *Handler {
	h.onBinaryMessage = fn
	return h
}

// OnClose 连接关闭时调用，每个连接恰好一次
func (h *Handler) OnClose(fn HandlerFunc) *Handler {
	h.onClose = fn
	return h
}

// OnError 处理器 panic、消息超限或传输错误时调用，通过 Context.Err 读取错误
func (h *Handler) OnError(fn HandlerFunc) *Handler {
	h.onError = fn
	return h
}

type event uint8

const (
	eventConnect event = iota
	eventMessage
	eventBinaryMessage
	eventClose
	eventError
)

var eventNames = [...]string{
	eventConnect:       "connect",
	eventMessage:       "message",
	eventBinaryMessage: "binary_message",
	eventClose:         "close",
	eventError:         "error",
}

func (e event) String() string {
	return eventNames[e]
}

func (h *Handler) callback(e event) HandlerFunc {
	if h == nil {
		return nil
	}
	switch e {
	case eventConnect:
		return h.onConnect
	case eventMessage:
		return h.onMessage
	case eventBinaryMessage:
		return h.onBinaryMessage
	case eventClose:
		return h.onClose
	case eventError:
		return h.onError
	}
	return nil
}

// buildHandler 执行构建函数，nil 构建函数得到空处理器
func buildHandler(build func(*Handler)) *Handler {
	h := &Handler{}
	if build != nil {
		build(h)
	}
	return h
}
