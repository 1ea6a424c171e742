package ws

import (
	"net/http"
	"runtime/debug"

	qerrors "github.com/tokmz/qiws/pkg/errors"
)

// Role 路由声明的角色，原样交给 AccessManager
type Role string

// DecisionKind 升级决策类型，零值为拒绝
type DecisionKind uint8

const (
	DecisionDeny DecisionKind = iota
	DecisionAllow
	DecisionDenyWithError
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAllow:
		return "allow"
	case DecisionDenyWithError:
		return "error"
	default:
		return "deny"
	}
}

// AccessDecision AccessManager 的返回值
type AccessDecision struct {
	kind DecisionKind
	err  error
}

// Allow 允许升级
func Allow() AccessDecision {
	return AccessDecision{kind: DecisionAllow}
}

// Deny 拒绝升级，客户端收到 403
func Deny() AccessDecision {
	return AccessDecision{kind: DecisionDeny}
}

// DenyWithError 拒绝升级并携带错误
//
// err 为 *errors.Error 时使用其 HttpCode 作为响应状态码。
func DenyWithError(err error) AccessDecision {
	return AccessDecision{kind: DecisionDenyWithError, err: err}
}

// Kind 决策类型
func (d AccessDecision) Kind() DecisionKind {
	return d.kind
}

// Allowed 是否允许升级
func (d AccessDecision) Allowed() bool {
	return d.kind == DecisionAllow
}

// Err 拒绝原因
func (d AccessDecision) Err() error {
	return d.err
}

// StatusCode 拒绝时写给客户端的 HTTP 状态码
func (d AccessDecision) StatusCode() int {
	if d.err != nil {
		return qerrors.StatusCode(d.err, http.StatusForbidden)
	}
	return http.StatusForbidden
}

// AccessManager 在协议升级之前调用，决定是否接受连接
//
// c 处于 pending 状态：可以读取路径参数、查询参数、请求头和 Cookie，
// 但发送操作会返回 ErrNotConnected。
type AccessManager func(c *Context, permitted []Role) AccessDecision

// evaluate 执行 AccessManager，panic 视为 DenyWithError
func (am AccessManager) evaluate(c *Context, permitted []Role) (d AccessDecision) {
	if am == nil {
		return Allow()
	}
	defer func() {
		if r := recover(); r != nil {
			d = DenyWithError(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	return am(c, permitted)
}
