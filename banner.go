package qiws

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 框架版本号
const Version = "0.3.0"

const banner = `
 ██████╗ ██╗    ██╗███████╗   qiws 基于 Gin 的 WebSocket 路由
██╔═══██╗██║    ██║██╔════╝   路径参数、升级前访问控制、消息大小限制与优雅关机
██║▄▄ ██║██║ █╗ ██║███████╗   github: https://github.com/tokmz/qiws
╚██████╔╝╚███╔███╔╝╚════██║   open: %s
 ╚══▀▀═╝  ╚══╝╚══╝ ███████║   version: %s
`

// printBanner 打印启动 banner 和路由表
func (e *Engine) printBanner(addr string) {
	out := os.Stdout

	var open string
	switch {
	case strings.HasPrefix(addr, ":"):
		open = "ws://127.0.0.1" + addr
	case strings.Contains(addr, ":"):
		open = "ws://" + addr
	default:
		open = "ws://127.0.0.1:" + addr
	}

	fPrint(out, banner, open, Version)
	fPrint(out, "\n")

	routes := e.engine.Routes()
	patterns := e.router.Patterns()
	if len(routes) > 0 || len(patterns) > 0 {
		printRoutes(out, routes, patterns, e.config.Mode)
		fPrint(out, "\n")
	}

	mode := e.config.Mode
	if mode == gin.DebugMode {
		fPrint(out, "[qiws] Running in \"%s\" mode. Switch to \"release\" mode in production.\n", mode)
	} else {
		fPrint(out, "[qiws] Running in \"%s\" mode.\n", mode)
	}
	fPrint(out, "[qiws] Go version: %s | OS: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fPrint(out, "[qiws] Listening on %s\n", addr)
}

// methodColor 根据方法返回 ANSI 颜色码
func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m"
	case "POST":
		return "\033[32m"
	case "PUT":
		return "\033[33m"
	case "DELETE":
		return "\033[31m"
	case "WS":
		return "\033[36m"
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// printRoutes 打印 HTTP 路由与 WebSocket 路由
func printRoutes(out io.Writer, routes gin.RoutesInfo, patterns []string, mode string) {
	maxPathLen := 0
	for _, r := range routes {
		maxPathLen = max(maxPathLen, len(r.Path))
	}
	for _, p := range patterns {
		maxPathLen = max(maxPathLen, len(p))
	}

	for _, r := range routes {
		fPrint(out, "[qiws-%s] %s %-7s %s %-*s --> %s\n",
			mode,
			methodColor(r.Method), r.Method, resetColor,
			maxPathLen, r.Path,
			r.Handler)
	}
	for _, p := range patterns {
		fPrint(out, "[qiws-%s] %s %-7s %s %s\n",
			mode,
			methodColor("WS"), "WS", resetColor,
			p)
	}
}

// silenceGin 静默 Gin 的默认输出
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
