// Package config 负责加载和验证 YAML 配置文件。
// 提供应用程序所需的所有配置项，包括行情连接、订单簿参数、模拟费率、输出设置等。
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"prediction-book-engine/internal/core/fixedpoint"
)

// Config 应用配置根结构
// 包含所有子模块的配置项
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Instruments 用户配置的合约列表
	Instruments []InstrumentConfig `yaml:"instruments"`
	// Metadata 元数据 API 配置
	Metadata MetadataConfig `yaml:"metadata"`
	// WS WebSocket 连接配置
	WS WSConfig `yaml:"ws"`
	// Book 订单簿参数配置
	Book BookConfig `yaml:"book"`
	// Sim 模拟器默认参数配置
	Sim SimConfig `yaml:"sim"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// InstrumentConfig 合约配置
// tick 描述符可内联指定；缺省时从元数据 API 获取，仍缺省则用概率市场默认值。
type InstrumentConfig struct {
	// ID 合约标识（不透明字符串，如 token id）
	ID string `yaml:"id"`
	// TickSize 最小价格变动（十进制字符串），如 "0.0001"
	TickSize string `yaml:"tick_size"`
	// SizeScale 数量定标的十进制位数
	SizeScale uint32 `yaml:"size_scale"`
	// MinTick 合法域下界（含）
	MinTick uint32 `yaml:"min_tick"`
	// MaxTick 合法域上界（含）
	MaxTick uint32 `yaml:"max_tick"`
}

// HasInlineSpec 判断是否内联指定了 tick 描述符
func (ic *InstrumentConfig) HasInlineSpec() bool {
	return ic.TickSize != ""
}

// TickSpec 解析内联 tick 描述符
func (ic *InstrumentConfig) TickSpec() (fixedpoint.TickSpec, error) {
	tickSize, err := decimal.NewFromString(ic.TickSize)
	if err != nil {
		return fixedpoint.TickSpec{}, fmt.Errorf("解析 tick_size 失败: %w", err)
	}
	spec := fixedpoint.TickSpec{
		TickSize:  tickSize,
		SizeScale: ic.SizeScale,
		MinTick:   fixedpoint.PriceTick(ic.MinTick),
		MaxTick:   fixedpoint.PriceTick(ic.MaxTick),
	}
	// 未给出上界时按 tick 大小推导合法域，避免退化为 [0, 0]
	if spec.MaxTick == 0 {
		spec.MinTick, spec.MaxTick = fixedpoint.DefaultDomain(tickSize)
	}
	if err := spec.Validate(); err != nil {
		return fixedpoint.TickSpec{}, err
	}
	return spec, nil
}

// MetadataConfig 元数据 API 配置
type MetadataConfig struct {
	// URL 市场元数据 API 地址（提供各合约的 tick 描述符）
	URL string `yaml:"url"`
	// TimeoutMs HTTP 请求超时时间（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// WSConfig WebSocket 连接配置
type WSConfig struct {
	// URL WebSocket 连接地址
	URL string `yaml:"url"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// PongTimeoutMs 心跳响应超时（毫秒）
	PongTimeoutMs int `yaml:"pong_timeout_ms"`
	// ReadTimeoutMs 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// BufferSize 更新记录通道缓冲区大小
	BufferSize int `yaml:"buffer_size"`
	// ReconnectBaseMs 重连退避基础间隔（毫秒）
	ReconnectBaseMs int `yaml:"reconnect_base_ms"`
	// ReconnectMaxMs 重连退避最大间隔（毫秒）
	ReconnectMaxMs int `yaml:"reconnect_max_ms"`
}

// BookConfig 订单簿参数配置
type BookConfig struct {
	// MaxDepthPerSide 每边最大保留深度 D
	MaxDepthPerSide int `yaml:"max_depth_per_side"`
	// StaleIdleThresholdMs 空闲清扫阈值（毫秒），超过该时间无更新的 Book 被清除
	StaleIdleThresholdMs int `yaml:"stale_idle_threshold_ms"`
	// SweepIntervalMs 清扫周期（毫秒）
	SweepIntervalMs int `yaml:"sweep_interval_ms"`
	// EnforceTickAlignment 是否强制 tick 对齐（关闭时未对齐价格舍入到最近 tick）
	EnforceTickAlignment *bool `yaml:"enforce_tick_alignment"`
}

// SimConfig 模拟器默认参数配置
type SimConfig struct {
	// DefaultFeeBps 默认费率（基点），请求未指定时使用
	DefaultFeeBps float64 `yaml:"default_fee_bps"`
	// ProbeSize 流动性探针数量（十进制字符串）
	// 非空时每个指标周期对各合约模拟一次该数量的买入与卖出，
	// 将平均成交价与冲击写入分析记录。空表示禁用。
	ProbeSize string `yaml:"probe_size"`
}

// ProbeSizeDecimal 解析流动性探针数量
// 未配置时返回 (0, false)。
func (sc *SimConfig) ProbeSizeDecimal() (decimal.Decimal, bool) {
	if sc.ProbeSize == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(sc.ProbeSize)
	if err != nil || d.Sign() <= 0 {
		return decimal.Decimal{}, false
	}
	return d, true
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// TopsEnabled 是否输出盘口顶记录文件
	TopsEnabled bool `yaml:"tops_enabled"`
	// MetricsEnabled 是否输出指标文件
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsIntervalMs 指标输出间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析 YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 设置默认值
	cfg.setDefaults()

	// 验证配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	// 应用默认值
	if c.App.Name == "" {
		c.App.Name = "prediction-book-engine"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	// 元数据 API 默认超时
	if c.Metadata.TimeoutMs == 0 {
		c.Metadata.TimeoutMs = 10000 // 10 秒
	}

	// WebSocket 默认配置
	if c.WS.PingIntervalMs == 0 {
		c.WS.PingIntervalMs = 25000 // 25 秒
	}
	if c.WS.PongTimeoutMs == 0 {
		c.WS.PongTimeoutMs = 10000 // 10 秒
	}
	if c.WS.ReadTimeoutMs == 0 {
		c.WS.ReadTimeoutMs = 30000 // 30 秒
	}
	if c.WS.BufferSize == 0 {
		c.WS.BufferSize = 1000
	}
	if c.WS.ReconnectBaseMs == 0 {
		c.WS.ReconnectBaseMs = 1000 // 1 秒
	}
	if c.WS.ReconnectMaxMs == 0 {
		c.WS.ReconnectMaxMs = 30000 // 30 秒
	}

	// 订单簿默认值
	if c.Book.MaxDepthPerSide == 0 {
		c.Book.MaxDepthPerSide = 100
	}
	if c.Book.StaleIdleThresholdMs == 0 {
		c.Book.StaleIdleThresholdMs = 300000 // 5 分钟
	}
	if c.Book.SweepIntervalMs == 0 {
		c.Book.SweepIntervalMs = 60000 // 1 分钟
	}
	if c.Book.EnforceTickAlignment == nil {
		v := true
		c.Book.EnforceTickAlignment = &v
	}

	// 输出默认值
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 10000 // 10 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	// 验证合约配置
	if len(c.Instruments) == 0 {
		errs = append(errs, "instruments: 至少需要配置一个合约")
	}
	for i, inst := range c.Instruments {
		if inst.ID == "" {
			errs = append(errs, fmt.Sprintf("instruments[%d].id: 合约标识不能为空", i))
		}
		if inst.HasInlineSpec() {
			if _, err := inst.TickSpec(); err != nil {
				errs = append(errs, fmt.Sprintf("instruments[%d]: tick 描述符非法: %v", i, err))
			}
		}
	}

	// 验证 WebSocket 配置
	if c.WS.URL == "" {
		errs = append(errs, "ws.url: WebSocket 地址不能为空")
	}
	if c.WS.ReconnectBaseMs > c.WS.ReconnectMaxMs {
		errs = append(errs, fmt.Sprintf("ws.reconnect_base_ms (%d) 不能大于 ws.reconnect_max_ms (%d)",
			c.WS.ReconnectBaseMs, c.WS.ReconnectMaxMs))
	}

	// 验证订单簿参数
	if c.Book.MaxDepthPerSide < 0 {
		errs = append(errs, "book.max_depth_per_side: 深度上限不能为负数")
	}
	if c.Book.StaleIdleThresholdMs < 0 {
		errs = append(errs, "book.stale_idle_threshold_ms: 空闲阈值不能为负数")
	}

	// 验证模拟器参数
	if c.Sim.DefaultFeeBps < 0 {
		errs = append(errs, "sim.default_fee_bps: 费率不能为负数")
	}
	if c.Sim.ProbeSize != "" {
		if d, err := decimal.NewFromString(c.Sim.ProbeSize); err != nil || d.Sign() <= 0 {
			errs = append(errs, fmt.Sprintf("sim.probe_size: 必须为正十进制数: %q", c.Sim.ProbeSize))
		}
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// InstrumentIDs 获取所有配置的合约标识
// 返回: 合约标识列表
func (c *Config) InstrumentIDs() []string {
	ids := make([]string, len(c.Instruments))
	for i, inst := range c.Instruments {
		ids[i] = inst.ID
	}
	return ids
}
