package ws

// 升级被拒绝的原因
const (
	RejectNotFound = "not_found"
	RejectDenied   = "denied"
	RejectError    = "error"
	RejectLimit    = "limit"
	RejectUpgrade  = "upgrade"
)

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	ConnectionOpened(route string)
	ConnectionClosed(route string)
	UpgradeRejected(reason string)

	// 消息指标
	MessageReceived(route, kind string)
	MessageSent(route, kind string)
	MessageDropped(route string)

	// 错误指标
	HandlerError(route string)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) ConnectionOpened(route string)      {}
func (NoopMetrics) ConnectionClosed(route string)      {}
func (NoopMetrics) UpgradeRejected(reason string)      {}
func (NoopMetrics) MessageReceived(route, kind string) {}
func (NoopMetrics) MessageSent(route, kind string)     {}
func (NoopMetrics) MessageDropped(route string)        {}
func (NoopMetrics) HandlerError(route string)          {}
