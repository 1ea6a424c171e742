package ws

import (
	"fmt"
	"net/url"
	"strings"
)

type segmentKind uint8

const (
	segmentLiteral segmentKind = iota
	segmentParam
	segmentWildcard
)

// 特异性排名：字面量 > 参数 > 通配
var segmentRank = [...]int{
	segmentLiteral:  3,
	segmentParam:    2,
	segmentWildcard: 1,
}

type segment struct {
	kind  segmentKind
	value string // 字面量文本或参数名
}

// Params 路径参数
type Params map[string]string

// Get 返回参数值，不存在时为空字符串
func (p Params) Get(key string) string {
	return p[key]
}

// Has 参数是否存在
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// RoutePattern 编译后的路由模式，注册后不可变
//
// 支持三种段：
//   - 字面量 "chat"，大小写敏感
//   - 参数 ":room" 或 "{room}"，匹配任意一个非空段
//   - 末尾通配 "*"，匹配剩余的零个或多个段，不绑定值
type RoutePattern struct {
	raw      string
	segments []segment
	params   []string
}

// CompilePattern 编译路由模式
func CompilePattern(pattern string) (*RoutePattern, error) {
	parts := splitPath(pattern)
	p := &RoutePattern{
		raw:      "/" + strings.Join(parts, "/"),
		segments: make([]segment, 0, len(parts)),
	}

	seen := make(map[string]bool, len(parts))
	for i, part := range parts {
		switch {
		case part == "*":
			if i != len(parts)-1 {
				return nil, fmt.Errorf("%w: wildcard must be the last segment in %q", ErrInvalidPattern, pattern)
			}
			p.segments = append(p.segments, segment{kind: segmentWildcard})

		case strings.HasPrefix(part, ":") || (strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}")):
			name := strings.TrimPrefix(part, ":")
			if strings.HasPrefix(part, "{") {
				name = part[1 : len(part)-1]
			}
			if name == "" {
				return nil, fmt.Errorf("%w: empty parameter name in %q", ErrInvalidPattern, pattern)
			}
			if seen[name] {
				return nil, fmt.Errorf("%w: duplicate parameter %q in %q", ErrInvalidPattern, name, pattern)
			}
			seen[name] = true
			p.params = append(p.params, name)
			p.segments = append(p.segments, segment{kind: segmentParam, value: name})

		default:
			p.segments = append(p.segments, segment{kind: segmentLiteral, value: part})
		}
	}
	return p, nil
}

// MustCompilePattern 编译失败时 panic
func MustCompilePattern(pattern string) *RoutePattern {
	p, err := CompilePattern(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String 返回规范化后的模式文本
func (p *RoutePattern) String() string {
	return p.raw
}

// ParamNames 返回声明的参数名（按出现顺序）
func (p *RoutePattern) ParamNames() []string {
	out := make([]string, len(p.params))
	copy(out, p.params)
	return out
}

// HasParam 模式中是否声明了该参数
func (p *RoutePattern) HasParam(name string) bool {
	for _, n := range p.params {
		if n == name {
			return true
		}
	}
	return false
}

func (p *RoutePattern) hasWildcard() bool {
	n := len(p.segments)
	return n > 0 && p.segments[n-1].kind == segmentWildcard
}

// Match 用未解码的请求路径匹配，成功时返回解码后的参数
func (p *RoutePattern) Match(path string) (Params, bool) {
	return p.match(decodeSegments(splitPath(path)))
}

func (p *RoutePattern) match(parts []string) (Params, bool) {
	wild := p.hasWildcard()
	fixed := len(p.segments)
	if wild {
		fixed--
		if len(parts) < fixed {
			return nil, false
		}
	} else if len(parts) != fixed {
		return nil, false
	}

	params := make(Params, len(p.params))
	for i := 0; i < fixed; i++ {
		seg := p.segments[i]
		switch seg.kind {
		case segmentLiteral:
			if parts[i] != seg.value {
				return nil, false
			}
		case segmentParam:
			if parts[i] == "" {
				return nil, false
			}
			params[seg.value] = parts[i]
		}
	}
	return params, true
}

// Score 返回逐段特异性排名（字面量=3，参数=2，通配=1），按字典序比较
func (p *RoutePattern) Score() []int {
	n := len(p.segments)
	if p.hasWildcard() {
		n--
	}
	return p.ranks(n)
}

// ranks 返回该模式在长度为 n 的路径上逐段的特异性排名，通配覆盖剩余各段
func (p *RoutePattern) ranks(n int) []int {
	out := make([]int, 0, n)
	for _, seg := range p.segments {
		if seg.kind == segmentWildcard {
			for len(out) < n {
				out = append(out, segmentRank[segmentWildcard])
			}
			break
		}
		out = append(out, segmentRank[seg.kind])
	}
	return out
}

// moreSpecific 报告在长度为 n 的路径上 p 是否严格比 q 更具体
func (p *RoutePattern) moreSpecific(q *RoutePattern, n int) bool {
	pr, qr := p.ranks(n), q.ranks(n)
	for i := 0; i < len(pr) && i < len(qr); i++ {
		if pr[i] != qr[i] {
			return pr[i] > qr[i]
		}
	}
	// 排名相同时，不带通配的更具体
	return !p.hasWildcard() && q.hasWildcard()
}

// splitPath 按 "/" 切分并丢弃空段
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := raw[:0]
	for _, s := range raw {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// decodeSegments 逐段百分号解码，解码失败的段保持原样
func decodeSegments(parts []string) []string {
	for i, s := range parts {
		if !strings.Contains(s, "%") {
			continue
		}
		if d, err := url.PathUnescape(s); err == nil {
			parts[i] = d
		}
	}
	return parts
}
