package ws

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// RegistryObserver 注册表变更观察者，在锁外同步回调
type RegistryObserver interface {
	OnRegister(c *Context)
	OnUnregister(c *Context)
}

// Registry 在线连接注册表
type Registry struct {
	sessions sync.Map     // sessionID -> *Context
	count    atomic.Int64 // 连接数
	maxConns int          // 最大连接数，<= 0 表示不限制
	observer RegistryObserver
	newID    func() string
}

// NewRegistry 创建注册表
func NewRegistry(maxConns int, observer RegistryObserver) *Registry {
	return &Registry{
		maxConns: maxConns,
		observer: observer,
		newID:    uuid.NewString,
	}
}

// Register 为连接分配唯一 session id 并加入注册表
func (r *Registry) Register(c *Context) (string, error) {
	// 先占用计数，超过限制回滚
	newCount := r.count.Add(1)
	if r.maxConns > 0 && int(newCount) > r.maxConns {
		r.count.Add(-1)
		return "", ErrTooManyConnections
	}

	// id 冲突时重新生成
	const maxAttempts = 8
	for i := 0; i < maxAttempts; i++ {
		id := r.newID()
		if _, exists := r.sessions.Load(id); exists {
			continue
		}
		c.setSessionID(id)
		if _, loaded := r.sessions.LoadOrStore(id, c); loaded {
			continue
		}
		if r.observer != nil {
			r.observer.OnRegister(c)
		}
		return id, nil
	}

	r.count.Add(-1)
	return "", ErrSessionExists
}

// Unregister 移除连接，重复调用无副作用
func (r *Registry) Unregister(id string) bool {
	value, loaded := r.sessions.LoadAndDelete(id)
	if !loaded {
		return false
	}
	r.count.Add(-1)
	if r.observer != nil {
		if c, ok := value.(*Context); ok {
			r.observer.OnUnregister(c)
		}
	}
	return true
}

// Lookup 按 session id 查找连接
func (r *Registry) Lookup(id string) (*Context, bool) {
	value, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	c, ok := value.(*Context)
	return c, ok
}

// Count 当前连接数
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// Snapshot 返回调用时刻的连接快照
func (r *Registry) Snapshot() []*Context {
	capacity := r.Count()
	if capacity < 0 {
		capacity = 0
	}
	out := make([]*Context, 0, capacity)
	r.sessions.Range(func(_, value any) bool {
		if c, ok := value.(*Context); ok {
			out = append(out, c)
		}
		return true
	})
	return out
}

// ForEach 遍历快照，fn 返回 false 时停止
//
// 遍历期间不持有任何锁，fn 中可以安全地注册或移除连接。
func (r *Registry) ForEach(fn func(c *Context) bool) {
	for _, c := range r.Snapshot() {
		if !fn(c) {
			return
		}
	}
}
