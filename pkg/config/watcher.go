package config

import (
	"io/fs"
	"slices"

	"github.com/fsnotify/fsnotify"
)

var fsNotExist = fs.ErrNotExist

// startWatch 开始监控配置文件变更，调用方必须持有 mu
func (c *Config) startWatch() {
	if c.watching {
		return
	}
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		c.mu.RLock()
		watching := c.watching
		callbacks := slices.Clone(c.onChange)
		c.mu.RUnlock()

		if !watching {
			return
		}
		// 在锁外执行回调，回调中可以读取配置
		for _, fn := range callbacks {
			fn(c)
		}
	})
	c.viper.WatchConfig()
	c.watching = true
}

// StartWatch 开始监控配置文件变更，已在监控时不重复启动
func (c *Config) StartWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startWatch()
}

// StopWatch 停止监控配置文件
// 注意：viper 未提供停止底层 fsnotify watcher 的方法，
// 此方法仅使回调不再生效
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// OnChange 追加配置变更回调
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// IsWatching 是否正在监控
func (c *Config) IsWatching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}
