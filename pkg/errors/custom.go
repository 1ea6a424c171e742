package errors

import (
	"errors"
	"net/http"
)

// Error 业务错误，携带业务码与 HTTP 状态码
type Error struct {
	Code     int    `json:"code"`    // 错误码
	Message  string `json:"message"` // 错误信息
	HttpCode int    `json:"-"`       // http状态码
	Err      error  `json:"-"`       // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 实现 errors.Unwrap 接口
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建新的错误
// httpCode 可选，默认 200
func New(code int, message string, httpCode ...int) *Error {
	hc := http.StatusOK
	if len(httpCode) > 0 {
		hc = httpCode[0]
	}
	return &Error{
		Code:     code,
		HttpCode: hc,
		Message:  message,
	}
}

// Clone 克隆错误（避免修改共享的预定义错误）
func (e *Error) Clone() *Error {
	c := *e
	return &c
}

// WithError 添加原始错误（返回新实例）
func (e *Error) WithError(err error) *Error {
	c := e.Clone()
	c.Err = err
	return c
}

// WithMessage 替换错误信息（返回新实例）
func (e *Error) WithMessage(message string) *Error {
	c := e.Clone()
	c.Message = message
	return c
}

// WithHttpCode 替换 HTTP 状态码（返回新实例）
func (e *Error) WithHttpCode(httpCode int) *Error {
	c := e.Clone()
	c.HttpCode = httpCode
	return c
}

// Is 当 target 也是 *Error 时按 Code 比较
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// StatusCode 返回 HTTP 状态码，未设置时退化为 fallback
func StatusCode(err error, fallback int) int {
	var e *Error
	if errors.As(err, &e) && e.HttpCode >= 400 {
		return e.HttpCode
	}
	return fallback
}

// As 同标准库 errors.As
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is 同标准库 errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}
