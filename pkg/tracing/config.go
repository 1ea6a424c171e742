package tracing

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig 配置错误
var ErrInvalidConfig = errors.New("tracing: invalid config")

// 导出器类型
const (
	ExporterOTLP     = "otlp"      // OTLP HTTP
	ExporterOTLPGRPC = "otlp-grpc" // OTLP gRPC
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// 采样类型
const (
	SamplingAlways      = "always"
	SamplingNever       = "never"
	SamplingRatio       = "ratio"
	SamplingParentBased = "parent_based"
)

// Config 链路追踪配置
type Config struct {
	ServiceName    string `mapstructure:"service_name"` // 必填
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`

	// Exporter otlp/otlp-grpc/stdout/noop
	Exporter       string            `mapstructure:"exporter"`
	Endpoint       string            `mapstructure:"endpoint"`         // 为空时读取 OTEL_EXPORTER_OTLP_ENDPOINT
	Headers        map[string]string `mapstructure:"headers"`
	Insecure       bool              `mapstructure:"insecure"`
	StdoutPretty   bool              `mapstructure:"stdout_pretty"`
	SamplingType   string            `mapstructure:"sampling_type"`
	SamplingRate   float64           `mapstructure:"sampling_rate"`    // 0.0-1.0
	Enabled        bool              `mapstructure:"enabled"`
	SetGlobal      bool              `mapstructure:"set_global"`       // 同时设置 otel 全局 Provider 与 Propagator
	Attributes     map[string]string `mapstructure:"attributes"`
	BatchTimeout   time.Duration     `mapstructure:"batch_timeout"`
	MaxExportBatch int               `mapstructure:"max_export_batch"`
	MaxQueueSize   int               `mapstructure:"max_queue_size"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "qiws",
		ServiceVersion: "0.3.0",
		Environment:    "development",
		Exporter:       ExporterStdout,
		SamplingType:   SamplingParentBased,
		SamplingRate:   1.0,
		Enabled:        true,
		BatchTimeout:   5 * time.Second,
		MaxExportBatch: 512,
		MaxQueueSize:   2048,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidConfig)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("%w: sampling rate must be between 0.0 and 1.0, got %v", ErrInvalidConfig, c.SamplingRate)
	}
	switch c.Exporter {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return fmt.Errorf("%w: unsupported exporter %q", ErrInvalidConfig, c.Exporter)
	}
	switch c.SamplingType {
	case "", SamplingAlways, SamplingNever, SamplingRatio, SamplingParentBased:
	default:
		return fmt.Errorf("%w: unsupported sampling type %q", ErrInvalidConfig, c.SamplingType)
	}
	return nil
}
