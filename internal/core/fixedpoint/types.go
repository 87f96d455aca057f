// Package fixedpoint 实现价格与数量的定点编码。
// 外部边界（行情、API）使用十进制，内部热路径只比较和累加整数：
// 价格编码为 tick 整数（PriceTick），数量编码为定标整数（SizeFixed）。
// 本包是整个引擎中唯一接触十进制运算的地方。
package fixedpoint

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PriceTick 价格的整数表示
// 单位为合约的最小价格变动（tick size）。
// 对概率市场（tick 0.0001），合法域通常为 [1, 9999]。
type PriceTick uint32

// SizeFixed 数量的定标整数表示
// 定标常用 10^6。带符号以便表达增量；档位存储的数量恒 > 0。
type SizeFixed int64

// TickSpec 合约的 tick 描述符
// 在首次 apply 之前通过带外途径（metadata 或配置）告知 Registry。
type TickSpec struct {
	// TickSize 最小价格变动（报价单位），如 0.0001
	TickSize decimal.Decimal
	// SizeScale 数量定标的十进制位数，如 6 表示 10^6
	SizeScale uint32
	// MinTick 合法域下界（含）
	MinTick PriceTick
	// MaxTick 合法域上界（含）
	MaxTick PriceTick
}

// 校验错误
var (
	// ErrTickMisaligned 价格不是 tick 的整数倍
	ErrTickMisaligned = errors.New("价格未对齐 tick")
	// ErrOutOfDomain tick 超出 [MinTick, MaxTick] 合法域
	ErrOutOfDomain = errors.New("tick 超出合法域")
	// ErrScaleOverflow 数量定标后无法用 int64 表示或损失精度
	ErrScaleOverflow = errors.New("数量定标溢出")
	// ErrNegativeSize 数量为负（增量中的负数量按协议视为错误）
	ErrNegativeSize = errors.New("数量为负")
)

// maxSizeScale 定标位数上限：10^18 是 int64 能安全承载的最大量级
const maxSizeScale = 18

// Validate 校验描述符合法性
func (s *TickSpec) Validate() error {
	if s.TickSize.Sign() <= 0 {
		return fmt.Errorf("tick_size 必须为正数: %s", s.TickSize)
	}
	if s.SizeScale > maxSizeScale {
		return fmt.Errorf("size_scale 超出上限 %d: %d", maxSizeScale, s.SizeScale)
	}
	if s.MinTick > s.MaxTick {
		return fmt.Errorf("min_tick (%d) 不能大于 max_tick (%d)", s.MinTick, s.MaxTick)
	}
	return nil
}

// DefaultDomain 按 tick 大小推导概率市场的默认合法域
// 价格落在开区间 (0, 1)：下界 1 tick，上界为不含 1.0 的最大 tick
// （tick 0.01 → [1, 99]，tick 0.0001 → [1, 9999]）。
// tick 大小非正时回退到 [1, 1]。
func DefaultDomain(tickSize decimal.Decimal) (PriceTick, PriceTick) {
	if tickSize.Sign() <= 0 {
		return 1, 1
	}
	max := decimal.NewFromInt(1).Div(tickSize).IntPart() - 1
	if max < 1 {
		max = 1
	}
	if max > int64(math.MaxUint32) {
		max = int64(math.MaxUint32)
	}
	return 1, PriceTick(max)
}

// DefaultProbabilitySpec 概率市场的默认描述符
// tick 0.0001，数量定标 10^6，合法域 [1, 9999]（价格开区间 (0, 1)）。
func DefaultProbabilitySpec() TickSpec {
	return TickSpec{
		TickSize:  decimal.New(1, -4),
		SizeScale: 6,
		MinTick:   1,
		MaxTick:   9999,
	}
}
