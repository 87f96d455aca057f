// Package metadata tick 描述符解析与合约映射。
package metadata

import (
	"fmt"

	"github.com/shopspring/decimal"

	"prediction-book-engine/internal/config"
	"prediction-book-engine/internal/core/fixedpoint"
)

// SpecFromMarket 将市场元数据转换为 tick 描述符
// 参数 m: 市场信息
// 返回: tick 描述符，若字段非法则返回错误
func SpecFromMarket(m *Market) (fixedpoint.TickSpec, error) {
	tickSize, err := decimal.NewFromString(m.TickSize)
	if err != nil {
		return fixedpoint.TickSpec{}, fmt.Errorf("解析市场 %s 的 tick_size 失败: %w", m.Instrument, err)
	}
	spec := fixedpoint.TickSpec{
		TickSize:  tickSize,
		SizeScale: m.SizeScale,
		MinTick:   fixedpoint.PriceTick(m.MinTick),
		MaxTick:   fixedpoint.PriceTick(m.MaxTick),
	}
	// 网关未下发上界时按 tick 大小推导合法域，避免退化为 [0, 0]
	if spec.MaxTick == 0 {
		spec.MinTick, spec.MaxTick = fixedpoint.DefaultDomain(tickSize)
	}
	if err := spec.Validate(); err != nil {
		return fixedpoint.TickSpec{}, fmt.Errorf("市场 %s 的 tick 描述符非法: %w", m.Instrument, err)
	}
	return spec, nil
}

// ResolveSpecs 为配置的合约解析 tick 描述符
// 优先级：配置内联 > 网关元数据 > 概率市场默认值。
// 参数 instruments: 用户配置的合约列表
// 参数 markets: 网关返回的市场列表（可为空）
// 返回: 合约标识 → tick 描述符的映射
func ResolveSpecs(instruments []config.InstrumentConfig, markets []Market) (map[string]fixedpoint.TickSpec, error) {
	byInstrument := make(map[string]*Market, len(markets))
	for i := range markets {
		byInstrument[markets[i].Instrument] = &markets[i]
	}

	specs := make(map[string]fixedpoint.TickSpec, len(instruments))
	for _, inst := range instruments {
		// 配置内联描述符优先
		if inst.HasInlineSpec() {
			spec, err := inst.TickSpec()
			if err != nil {
				return nil, fmt.Errorf("合约 %s 的内联 tick 描述符非法: %w", inst.ID, err)
			}
			specs[inst.ID] = spec
			continue
		}

		// 其次使用网关元数据
		if m, ok := byInstrument[inst.ID]; ok {
			if !m.Active {
				return nil, fmt.Errorf("合约 %s 不可交易", inst.ID)
			}
			spec, err := SpecFromMarket(m)
			if err != nil {
				return nil, err
			}
			specs[inst.ID] = spec
			continue
		}

		// 兜底：概率市场默认描述符
		specs[inst.ID] = fixedpoint.DefaultProbabilitySpec()
	}

	return specs, nil
}
