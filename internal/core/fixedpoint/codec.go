// Package fixedpoint 量化与反量化实现。
// 量化（入口）：十进制 → 整数，严格校验；反量化（出口）：整数 → 十进制。
package fixedpoint

import (
	"math"

	"github.com/shopspring/decimal"
)

var maxInt64Dec = decimal.NewFromInt(math.MaxInt64)

// QuantizePrice 将十进制价格量化为 PriceTick（严格模式）
// 价格除以 tick size 后必须恰好是合法域内的非负整数；
// 未对齐的价格直接失败，不做任何舍入——这是一级校验而非告警。
func QuantizePrice(price decimal.Decimal, spec *TickSpec) (PriceTick, error) {
	if price.Sign() < 0 {
		return 0, ErrOutOfDomain
	}
	if !price.Mod(spec.TickSize).IsZero() {
		return 0, ErrTickMisaligned
	}
	q := price.DivRound(spec.TickSize, 0)
	return tickInDomain(q, spec)
}

// QuantizePriceRound 将十进制价格量化为 PriceTick（四舍五入模式）
// 在 enforce_tick_alignment 关闭时使用：未对齐的价格舍入到最近的 tick。
func QuantizePriceRound(price decimal.Decimal, spec *TickSpec) (PriceTick, error) {
	if price.Sign() < 0 {
		return 0, ErrOutOfDomain
	}
	q := price.DivRound(spec.TickSize, 0)
	return tickInDomain(q, spec)
}

// tickInDomain 校验整数商是否落在 [MinTick, MaxTick]
func tickInDomain(q decimal.Decimal, spec *TickSpec) (PriceTick, error) {
	if !q.IsInteger() {
		return 0, ErrTickMisaligned
	}
	v := q.IntPart()
	if v < int64(spec.MinTick) || v > int64(spec.MaxTick) {
		return 0, ErrOutOfDomain
	}
	return PriceTick(v), nil
}

// QuantizeSize 将十进制数量量化为 SizeFixed
// 乘以 10^SizeScale 后必须是能用 int64 表示的非负整数。
// 数量可以为 0（0 是删除信号，在本层合法）。
func QuantizeSize(size decimal.Decimal, spec *TickSpec) (SizeFixed, error) {
	if size.Sign() < 0 {
		return 0, ErrNegativeSize
	}
	scaled := size.Shift(int32(spec.SizeScale))
	if !scaled.IsInteger() {
		// 精度超过定标位数，无法无损表示
		return 0, ErrScaleOverflow
	}
	if scaled.Cmp(maxInt64Dec) > 0 {
		return 0, ErrScaleOverflow
	}
	return SizeFixed(scaled.IntPart()), nil
}

// DequantizePrice 将 PriceTick 还原为十进制价格
// 仅用于出口（API、面向用户的结构体）。
func DequantizePrice(tick PriceTick, spec *TickSpec) decimal.Decimal {
	return spec.TickSize.Mul(decimal.NewFromInt(int64(tick)))
}

// DequantizeSize 将 SizeFixed 还原为十进制数量
// 仅用于出口。
func DequantizeSize(size SizeFixed, spec *TickSpec) decimal.Decimal {
	return decimal.New(int64(size), -int32(spec.SizeScale))
}

// NotionalDecimal 将整数名义值还原为报价币种的十进制金额
// 引擎内部的名义值以 tick × SizeFixed 的整数单位累加；
// 换算关系：notional_quote = raw × TickSize / 10^SizeScale。
func NotionalDecimal(raw decimal.Decimal, spec *TickSpec) decimal.Decimal {
	return raw.Mul(spec.TickSize).Shift(-int32(spec.SizeScale))
}
