// Package sim 实现执行模拟器：在对手方阶梯上扫单，计算成交画像。
// 模拟只读不写，名义值以 tick × SizeFixed 的整数单位在 128 位累加器中累加，
// 十进制换算只发生在出口。流动性不足不是错误，用非零 residual 表达。
package sim

import (
	"math"

	"github.com/shopspring/decimal"

	"prediction-book-engine/internal/core/book"
	"prediction-book-engine/internal/core/fixedpoint"
	"prediction-book-engine/internal/core/ladder"
	"prediction-book-engine/internal/core/model"
	"prediction-book-engine/internal/util/safemath"
)

// Mode 模拟模式
type Mode int

const (
	// ModeSizeIn 按数量成交：买/卖指定数量
	ModeSizeIn Mode = iota
	// ModeNotionalIn 按名义值成交：花费指定的报价币种金额
	ModeNotionalIn
)

// String 返回模式的可读名称
func (m Mode) String() string {
	switch m {
	case ModeSizeIn:
		return "size_in"
	case ModeNotionalIn:
		return "notional_in"
	default:
		return "unknown"
	}
}

// AbortReason 扫单提前终止的原因
type AbortReason int

const (
	// AbortNone 未终止：目标完全成交
	AbortNone AbortReason = iota
	// AbortSlippage 触发滑点上限
	AbortSlippage
	// AbortPriceCap 触发价格上限（买）或下限（卖）
	AbortPriceCap
	// AbortExhausted 对手方流动性耗尽
	AbortExhausted
)

// String 返回终止原因的可读名称
func (a AbortReason) String() string {
	switch a {
	case AbortNone:
		return "none"
	case AbortSlippage:
		return "slippage"
	case AbortPriceCap:
		return "price_cap"
	case AbortExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Limits 模拟限制项
type Limits struct {
	// MaxSlippageBps 滑点上限（基点）：当前档位相对首个成交档位的价差
	// 超过该值时终止。<= 0 表示不限制。
	MaxSlippageBps float64
	// MaxPriceTick 硬性价格界限：买单为上限，卖单为下限。0 表示不限制。
	MaxPriceTick fixedpoint.PriceTick
	// FeeBps 费率（基点），对名义值总额收取
	FeeBps float64
	// FeeFixed 固定费用（报价币种），加在总成本上
	FeeFixed decimal.Decimal
}

// Request 模拟请求
type Request struct {
	// Side taker 方向：买单吃卖盘，卖单吃买盘
	Side model.Side
	// Mode 模拟模式
	Mode Mode
	// Size 目标数量（ModeSizeIn）
	Size fixedpoint.SizeFixed
	// Notional 目标名义值，报价币种十进制（ModeNotionalIn）
	Notional decimal.Decimal
}

// Execution 模拟结果
type Execution struct {
	// Instrument 合约标识
	Instrument string
	// Side taker 方向
	Side model.Side
	// FilledSize 成交数量（定标整数）
	FilledSize fixedpoint.SizeFixed
	// AvgPriceTicks 平均成交价（tick，浮点）
	AvgPriceTicks float64
	// AvgPrice 平均成交价（十进制，精确值）
	AvgPrice decimal.Decimal
	// Notional 名义值总额（报价币种）
	Notional decimal.Decimal
	// Fees 费用总额（报价币种）
	Fees decimal.Decimal
	// ResidualSize 未成交数量（ModeSizeIn；0 表示目标完全成交）
	ResidualSize fixedpoint.SizeFixed
	// ResidualNotional 未花费名义值（ModeNotionalIn）
	ResidualNotional decimal.Decimal
	// LevelsConsumed 消耗的档位数
	LevelsConsumed int
	// FirstFillTick 首个成交档位价格
	FirstFillTick fixedpoint.PriceTick
	// LastFillTick 最后成交档位价格
	LastFillTick fixedpoint.PriceTick
	// ImpactBps 市场冲击（基点）: 10000 × (last − first) / first，基准为首个成交档位
	ImpactBps float64
	// AbortedBy 提前终止原因
	AbortedBy AbortReason
}

// Simulate 在 Book 的对手方阶梯上模拟执行
// 从触及档位向外逐档消耗 min(remaining, 档位数量)。
// 整个扫单在一次读锁内完成：视图一致，Book 不被改动。
// 名义值累加器溢出返回 simulation 分类的错误，Book 不受影响。
func Simulate(b *book.Book, req Request, limits Limits) (Execution, error) {
	exec := Execution{
		Instrument: b.Instrument(),
		Side:       req.Side,
		AvgPrice:   decimal.Zero,
		Notional:   decimal.Zero,
		Fees:       decimal.Zero,
	}
	if !req.Side.IsValid() {
		return exec, model.NewValidationError(b.Instrument(), 0, "未知盘口方向", nil)
	}

	spec := b.Spec()

	// 目标换算为内部整数单位
	var remainingSize int64
	var remainingRaw uint64 // 名义值目标，tick × SizeFixed 单位
	switch req.Mode {
	case ModeSizeIn:
		if req.Size <= 0 {
			return exec, model.NewValidationError(b.Instrument(), 0, "目标数量必须为正", nil)
		}
		remainingSize = int64(req.Size)
	case ModeNotionalIn:
		raw, err := notionalTargetRaw(b.Instrument(), req.Notional, &spec)
		if err != nil {
			return exec, err
		}
		remainingRaw = raw
	default:
		return exec, model.NewValidationError(b.Instrument(), 0, "未知模拟模式", nil)
	}

	var acc safemath.Uint128
	var filled int64
	var simErr error
	firstTick := fixedpoint.PriceTick(0)
	haveFirst := false
	aborted := AbortNone
	targetMet := false

	b.WalkOpposite(req.Side, func(lv ladder.Level) bool {
		// tick 0 档位无法作为名义值与冲击的基准价（除数为 0）
		if lv.Tick == 0 {
			simErr = model.NewSimulationError(b.Instrument(), "档位价格为 0，无法定价", nil)
			return false
		}
		// 硬性价格界限：买不高于上限，卖不低于下限
		if limits.MaxPriceTick != 0 {
			if req.Side == model.SideBid && lv.Tick > limits.MaxPriceTick {
				aborted = AbortPriceCap
				return false
			}
			if req.Side == model.SideAsk && lv.Tick < limits.MaxPriceTick {
				aborted = AbortPriceCap
				return false
			}
		}
		// 滑点上限：相对首个成交档位
		if haveFirst && limits.MaxSlippageBps > 0 {
			slip := 10000 * math.Abs(float64(lv.Tick)-float64(firstTick)) / float64(firstTick)
			if slip > limits.MaxSlippageBps {
				aborted = AbortSlippage
				return false
			}
		}

		var consume int64
		switch req.Mode {
		case ModeSizeIn:
			consume = remainingSize
			if int64(lv.Size) < consume {
				consume = int64(lv.Size)
			}
		case ModeNotionalIn:
			// 本档位最多能吃到的数量 = 剩余名义值 / 档位价格（向下取整）
			affordable := remainingRaw / uint64(lv.Tick)
			if affordable == 0 {
				// 剩余名义值不足一个最小数量单位，目标视为达成
				targetMet = true
				return false
			}
			consume = int64(lv.Size)
			if affordable < uint64(consume) {
				consume = int64(affordable)
			}
		}

		if err := acc.AddMul(uint64(lv.Tick), uint64(consume)); err != nil {
			simErr = model.NewSimulationError(b.Instrument(), "名义值累加器溢出", err)
			return false
		}

		if !haveFirst {
			firstTick = lv.Tick
			haveFirst = true
		}
		exec.LastFillTick = lv.Tick
		exec.LevelsConsumed++
		filled += consume

		switch req.Mode {
		case ModeSizeIn:
			remainingSize -= consume
			if remainingSize == 0 {
				targetMet = true
				return false
			}
		case ModeNotionalIn:
			remainingRaw -= uint64(lv.Tick) * uint64(consume)
			if remainingRaw == 0 {
				targetMet = true
				return false
			}
		}
		return true
	})

	if simErr != nil {
		return exec, simErr
	}

	exec.FilledSize = fixedpoint.SizeFixed(filled)
	exec.FirstFillTick = firstTick

	switch req.Mode {
	case ModeSizeIn:
		exec.ResidualSize = fixedpoint.SizeFixed(remainingSize)
	case ModeNotionalIn:
		exec.ResidualNotional = fixedpoint.NotionalDecimal(
			decimal.NewFromUint64(remainingRaw), &spec)
	}
	// 目标未满、未触发限制且扫完了整个对手方 → 流动性耗尽
	if !targetMet && aborted == AbortNone {
		aborted = AbortExhausted
	}
	exec.AbortedBy = aborted

	if filled > 0 {
		rawDec := uint128Decimal(acc)
		exec.AvgPriceTicks = uint128Float(acc) / float64(filled)
		exec.Notional = fixedpoint.NotionalDecimal(rawDec, &spec)
		exec.AvgPrice = exec.Notional.Div(fixedpoint.DequantizeSize(fixedpoint.SizeFixed(filled), &spec))
		exec.ImpactBps = 10000 * (float64(exec.LastFillTick) - float64(firstTick)) / float64(firstTick)

		fees := exec.Notional.Mul(decimal.NewFromFloat(limits.FeeBps)).Div(decimal.NewFromInt(10000))
		if !limits.FeeFixed.IsZero() {
			fees = fees.Add(limits.FeeFixed)
		}
		exec.Fees = fees
	}

	return exec, nil
}

// notionalTargetRaw 将报价币种目标金额换算为内部名义值单位
// raw = notional / tick_size × 10^size_scale，向下取整。
// 超出 uint64 表示范围的目标返回 simulation 错误。
func notionalTargetRaw(instrument string, notional decimal.Decimal, spec *fixedpoint.TickSpec) (uint64, error) {
	if notional.Sign() <= 0 {
		return 0, model.NewValidationError(instrument, 0, "目标名义值必须为正", nil)
	}
	raw := notional.Div(spec.TickSize).Shift(int32(spec.SizeScale)).Floor()
	if raw.Cmp(decimal.NewFromUint64(math.MaxUint64)) > 0 {
		return 0, model.NewSimulationError(instrument, "目标名义值超出可表示范围", safemath.ErrOverflow)
	}
	return raw.BigInt().Uint64(), nil
}

// uint128Decimal 将 128 位累加器转为十进制（精确值）
func uint128Decimal(u safemath.Uint128) decimal.Decimal {
	hi := decimal.NewFromUint64(u.Hi)
	lo := decimal.NewFromUint64(u.Lo)
	shift := decimal.NewFromUint64(math.MaxUint64).Add(decimal.NewFromInt(1))
	return hi.Mul(shift).Add(lo)
}

// uint128Float 将 128 位累加器转为 float64（仅用于均价等近似指标）
func uint128Float(u safemath.Uint128) float64 {
	return float64(u.Hi)*math.Pow(2, 64) + float64(u.Lo)
}
