package logger

// Option 配置选项函数
type Option func(*Config)

// WithLevel 设置日志级别
func WithLevel(level Level) Option {
	return func(c *Config) {
		c.Level = level
	}
}

// WithLevelText 按名称设置级别，无法识别时为 info
func WithLevelText(text string) Option {
	return WithLevel(ParseLevel(text))
}

// WithFormat 设置日志格式
func WithFormat(format Format) Option {
	return func(c *Config) {
		c.Format = format
	}
}

// WithConsole 是否输出到 stdout
func WithConsole(enable bool) Option {
	return func(c *Config) {
		c.Console = enable
	}
}

// WithFile 追加写入文件，不轮转
func WithFile(filename string) Option {
	return func(c *Config) {
		c.File = filename
	}
}

// WithRotate 按 lumberjack 轮转写入，为 0 的参数取默认值
func WithRotate(filename string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) Option {
	return func(c *Config) {
		c.Rotate = &RotateConfig{
			Filename:   filename,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		}
	}
}

// WithSampling 每秒前 initial 条全部记录，之后每 thereafter 条记录 1 条
//
// initial <= 0 关闭采样。连接数很多时 debug 级的帧日志可以靠它限流。
func WithSampling(initial, thereafter int) Option {
	return func(c *Config) {
		if initial <= 0 {
			c.Sampling = nil
			return
		}
		c.Sampling = &SamplingConfig{Initial: initial, Thereafter: thereafter}
	}
}

func WithCaller(enable bool) Option {
	return func(c *Config) {
		c.EnableCaller = enable
	}
}

// WithStacktrace Error 及以上是否记录堆栈
func WithStacktrace(enable bool) Option {
	return func(c *Config) {
		c.EnableStacktrace = enable
	}
}

// WithHooks 追加写入前钩子
func WithHooks(hooks ...Hook) Option {
	return func(c *Config) {
		c.Hooks = append(c.Hooks, hooks...)
	}
}
