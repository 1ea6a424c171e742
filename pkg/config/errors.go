package config

import (
	"net/http"

	"github.com/tokmz/qiws/pkg/errors"
)

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(3001, "配置文件未找到", http.StatusInternalServerError)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3003, "配置读取失败", http.StatusInternalServerError)
	// ErrConfigDecodeFailed 配置解析到结构体失败
	ErrConfigDecodeFailed = errors.New(3004, "配置解析失败", http.StatusInternalServerError)
)
