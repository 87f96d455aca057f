// Package config 配置加载测试
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
app:
  name: book-engine-test
  log_level: debug
instruments:
  - id: WILL-X-WIN-2026
    tick_size: "0.01"
    size_scale: 6
    min_tick: 1
    max_tick: 9999
  - id: WILL-Y-WIN-2026
metadata:
  url: https://gateway.example.com/markets
  timeout_ms: 5000
ws:
  url: wss://gateway.example.com/ws
  ping_interval_ms: 20000
  buffer_size: 500
book:
  max_depth_per_side: 50
  stale_idle_threshold_ms: 120000
  enforce_tick_alignment: false
sim:
  default_fee_bps: 20
  probe_size: "100"
output:
  dir: /tmp/book-engine
  tops_enabled: true
  metrics_enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Name != "book-engine-test" || cfg.App.LogLevel != "debug" {
		t.Fatalf("app=%+v", cfg.App)
	}
	if len(cfg.Instruments) != 2 {
		t.Fatalf("instruments=%d, want 2", len(cfg.Instruments))
	}
	if !cfg.Instruments[0].HasInlineSpec() {
		t.Fatalf("第一个合约应有内联描述符")
	}
	spec, err := cfg.Instruments[0].TickSpec()
	if err != nil {
		t.Fatalf("TickSpec: %v", err)
	}
	if spec.SizeScale != 6 || spec.MaxTick != 9999 {
		t.Fatalf("spec=%+v", spec)
	}
	if cfg.Instruments[1].HasInlineSpec() {
		t.Fatalf("第二个合约不应有内联描述符")
	}

	if cfg.WS.PingIntervalMs != 20000 || cfg.WS.BufferSize != 500 {
		t.Fatalf("ws=%+v", cfg.WS)
	}
	if cfg.Book.MaxDepthPerSide != 50 {
		t.Fatalf("max_depth=%d, want 50", cfg.Book.MaxDepthPerSide)
	}
	if *cfg.Book.EnforceTickAlignment {
		t.Fatalf("enforce_tick_alignment 应为 false")
	}
	if cfg.Sim.DefaultFeeBps != 20 {
		t.Fatalf("fee_bps=%f, want 20", cfg.Sim.DefaultFeeBps)
	}
	if probe, ok := cfg.Sim.ProbeSizeDecimal(); !ok || !probe.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("probe_size=%v ok=%v, want 100", probe, ok)
	}

	ids := cfg.InstrumentIDs()
	if len(ids) != 2 || ids[0] != "WILL-X-WIN-2026" {
		t.Fatalf("ids=%v", ids)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
instruments:
  - id: WILL-X-WIN-2026
ws:
  url: wss://gateway.example.com/ws
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Name != "prediction-book-engine" || cfg.App.LogLevel != "info" {
		t.Fatalf("app 默认值: %+v", cfg.App)
	}
	if cfg.WS.PingIntervalMs != 25000 || cfg.WS.PongTimeoutMs != 10000 ||
		cfg.WS.ReadTimeoutMs != 30000 || cfg.WS.BufferSize != 1000 {
		t.Fatalf("ws 默认值: %+v", cfg.WS)
	}
	if cfg.WS.ReconnectBaseMs != 1000 || cfg.WS.ReconnectMaxMs != 30000 {
		t.Fatalf("重连退避默认值: base=%d max=%d", cfg.WS.ReconnectBaseMs, cfg.WS.ReconnectMaxMs)
	}
	if cfg.Book.MaxDepthPerSide != 100 {
		t.Fatalf("max_depth 默认值=%d, want 100", cfg.Book.MaxDepthPerSide)
	}
	if cfg.Book.StaleIdleThresholdMs != 300000 || cfg.Book.SweepIntervalMs != 60000 {
		t.Fatalf("book 默认值: %+v", cfg.Book)
	}
	if cfg.Book.EnforceTickAlignment == nil || !*cfg.Book.EnforceTickAlignment {
		t.Fatalf("enforce_tick_alignment 默认应为 true")
	}
	if cfg.Metadata.TimeoutMs != 10000 {
		t.Fatalf("metadata 默认超时=%d", cfg.Metadata.TimeoutMs)
	}
	if cfg.Output.Dir != "./output" || cfg.Output.MetricsIntervalMs != 10000 {
		t.Fatalf("output 默认值: %+v", cfg.Output)
	}
	if _, ok := cfg.Sim.ProbeSizeDecimal(); ok {
		t.Fatalf("probe_size 默认应为禁用")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			"缺少合约",
			`
ws:
  url: wss://gateway.example.com/ws
`,
			"instruments",
		},
		{
			"缺少 ws 地址",
			`
instruments:
  - id: X
`,
			"ws.url",
		},
		{
			"合约标识为空",
			`
instruments:
  - id: ""
ws:
  url: wss://gateway.example.com/ws
`,
			"id",
		},
		{
			"非法内联描述符",
			`
instruments:
  - id: X
    tick_size: "abc"
ws:
  url: wss://gateway.example.com/ws
`,
			"tick",
		},
		{
			"非法日志级别",
			`
app:
  log_level: verbose
instruments:
  - id: X
ws:
  url: wss://gateway.example.com/ws
`,
			"log_level",
		},
		{
			"负费率",
			`
instruments:
  - id: X
ws:
  url: wss://gateway.example.com/ws
sim:
  default_fee_bps: -1
`,
			"fee_bps",
		},
		{
			"重连退避区间颠倒",
			`
instruments:
  - id: X
ws:
  url: wss://gateway.example.com/ws
  reconnect_base_ms: 60000
  reconnect_max_ms: 5000
`,
			"reconnect_base_ms",
		},
		{
			"流动性探针数量非法",
			`
instruments:
  - id: X
ws:
  url: wss://gateway.example.com/ws
sim:
  probe_size: "-5"
`,
			"probe_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("应返回错误")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("err=%v, 应包含 %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("缺失文件应报错")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "instruments: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatalf("非法 YAML 应报错")
	}
}

func TestTickSpec_DomainDefaulted(t *testing.T) {
	// 内联描述符未给出 min/max tick 时按 tick 大小推导，不能退化为 [0, 0]
	ic := InstrumentConfig{ID: "WILL-X-WIN-2026", TickSize: "0.01", SizeScale: 6}

	spec, err := ic.TickSpec()
	if err != nil {
		t.Fatalf("TickSpec: %v", err)
	}
	if spec.MinTick != 1 || spec.MaxTick != 99 {
		t.Fatalf("域=[%d, %d], want [1, 99]", spec.MinTick, spec.MaxTick)
	}
}
