package presence

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMode Redis 模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 在线表配置
type Config struct {
	// Redis 连接
	Mode         RedisMode
	Addr         string   // 单机地址
	Addrs        []string // 地址列表（集群/哨兵）
	MasterName   string   // 哨兵主节点名
	Username     string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// 在线表
	Key       string        // 哈希表键名
	NodeID    string        // 当前节点标识，多实例部署时区分来源
	OpTimeout time.Duration // 单次 Redis 操作超时
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode:         RedisStandalone,
		Addr:         "127.0.0.1:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Key:          "qiws:presence",
		OpTimeout:    time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidConfig)
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("%w: OpTimeout must be positive, got %v", ErrInvalidConfig, c.OpTimeout)
	}
	switch c.Mode {
	case RedisStandalone, "":
		if c.Addr == "" {
			return fmt.Errorf("%w: standalone mode requires addr", ErrInvalidConfig)
		}
	case RedisCluster:
		if len(c.Addrs) == 0 {
			return fmt.Errorf("%w: cluster mode requires addrs", ErrInvalidConfig)
		}
	case RedisSentinel:
		if len(c.Addrs) == 0 || c.MasterName == "" {
			return fmt.Errorf("%w: sentinel mode requires addrs and master name", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported redis mode: %s", ErrInvalidConfig, c.Mode)
	}
	return nil
}

// NewClient 按模式创建 Redis 客户端
func (c *Config) NewClient() (redis.UniversalClient, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.Mode {
	case RedisCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        c.Addrs,
			Username:     c.Username,
			Password:     c.Password,
			PoolSize:     c.PoolSize,
			DialTimeout:  c.DialTimeout,
			ReadTimeout:  c.ReadTimeout,
			WriteTimeout: c.WriteTimeout,
		}), nil

	case RedisSentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    c.MasterName,
			SentinelAddrs: c.Addrs,
			Username:      c.Username,
			Password:      c.Password,
			DB:            c.DB,
			PoolSize:      c.PoolSize,
			DialTimeout:   c.DialTimeout,
			ReadTimeout:   c.ReadTimeout,
			WriteTimeout:  c.WriteTimeout,
		}), nil

	default:
		return redis.NewClient(&redis.Options{
			Addr:         c.Addr,
			Username:     c.Username,
			Password:     c.Password,
			DB:           c.DB,
			PoolSize:     c.PoolSize,
			DialTimeout:  c.DialTimeout,
			ReadTimeout:  c.ReadTimeout,
			WriteTimeout: c.WriteTimeout,
		}), nil
	}
}
