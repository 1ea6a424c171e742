// Package presence 将 ws 连接注册表镜像到 Redis 哈希表，
// 多个实例共享同一张在线表。
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/ws"
)

var (
	ErrInvalidConfig = errors.New("presence: invalid config")
	ErrOperation     = errors.New("presence: redis operation failed")
)

// Entry 在线表中的一条记录
type Entry struct {
	SessionID   string    `json:"session_id"`
	Node        string    `json:"node,omitempty"`
	Route       string    `json:"route"`
	Path        string    `json:"path"`
	Host        string    `json:"host,omitempty"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Redis 实现 ws.RegistryObserver
type Redis struct {
	client  redis.UniversalClient
	key     string
	node    string
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time
}

var _ ws.RegistryObserver = (*Redis)(nil)

// New 使用已有客户端创建在线表
func New(client redis.UniversalClient, cfg *Config, log logger.Logger) (*Redis, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Key == "" || cfg.OpTimeout <= 0 {
		return nil, fmt.Errorf("%w: key and OpTimeout are required", ErrInvalidConfig)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Redis{
		client:  client,
		key:     cfg.Key,
		node:    cfg.NodeID,
		timeout: cfg.OpTimeout,
		log:     log,
		now:     time.Now,
	}, nil
}

// NewFromConfig 按配置创建客户端与在线表
func NewFromConfig(cfg *Config, log logger.Logger) (*Redis, error) {
	client, err := cfg.NewClient()
	if err != nil {
		return nil, err
	}
	return New(client, cfg, log)
}

func (p *Redis) entry(c *ws.Context) Entry {
	host, _ := c.Host()
	return Entry{
		SessionID:   c.SessionID(),
		Node:        p.node,
		Route:       c.MatchedPath(),
		Path:        c.Request().URL.Path,
		Host:        host,
		RemoteAddr:  c.RemoteAddr(),
		ConnectedAt: p.now().UTC(),
	}
}

// OnRegister 写入在线表，失败只记录日志
func (p *Redis) OnRegister(c *ws.Context) {
	data, err := json.Marshal(p.entry(c))
	if err != nil {
		p.log.Warn("presence encode failed", zap.String("session_id", c.SessionID()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.HSet(ctx, p.key, c.SessionID(), data).Err(); err != nil {
		p.log.Warn("presence register failed", zap.String("session_id", c.SessionID()), zap.Error(err))
	}
}

// OnUnregister 从在线表删除，失败只记录日志
func (p *Redis) OnUnregister(c *ws.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.HDel(ctx, p.key, c.SessionID()).Err(); err != nil {
		p.log.Warn("presence unregister failed", zap.String("session_id", c.SessionID()), zap.Error(err))
	}
}

// Count 在线连接总数（所有实例）
func (p *Redis) Count(ctx context.Context) (int64, error) {
	n, err := p.client.HLen(ctx, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOperation, err)
	}
	return n, nil
}

// Lookup 按 session id 查询
func (p *Redis) Lookup(ctx context.Context, sessionID string) (Entry, bool, error) {
	data, err := p.client.HGet(ctx, p.key, sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: %w", ErrOperation, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("%w: %w", ErrOperation, err)
	}
	return e, true, nil
}

// Purge 删除本节点写入的全部记录，用于进程重启后清理残留
func (p *Redis) Purge(ctx context.Context) (int, error) {
	all, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOperation, err)
	}

	var stale []string
	for id, raw := range all {
		var e Entry
		if json.Unmarshal([]byte(raw), &e) == nil && e.Node == p.node {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := p.client.HDel(ctx, p.key, stale...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOperation, err)
	}
	return len(stale), nil
}

// Close 关闭 Redis 客户端
func (p *Redis) Close() error {
	return p.client.Close()
}
