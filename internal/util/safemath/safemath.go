// Package safemath 提供带溢出检测的整数运算。
// 档位数量的加减必须要么成功要么显式报错——静默饱和是 bug；
// 模拟器的名义值累加使用 128 位累加器，避免深度扫单时溢出。
package safemath

import (
	"errors"
	"math"
	"math/bits"
)

// ErrOverflow 整数运算溢出
var ErrOverflow = errors.New("整数运算溢出")

// AddInt64 带溢出检测的 int64 加法
func AddInt64(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SubInt64 带溢出检测的 int64 减法
func SubInt64(a, b int64) (int64, error) {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// SatAddInt64 饱和加法
// 溢出时钳制在 int64 边界并返回 saturated=true。
// 仅用于聚合统计（如 total_size），协议路径必须用 AddInt64。
func SatAddInt64(a, b int64) (v int64, saturated bool) {
	v, err := AddInt64(a, b)
	if err == nil {
		return v, false
	}
	if b > 0 {
		return math.MaxInt64, true
	}
	return math.MinInt64, true
}

// Uint128 128 位无符号累加器
// 零值即为 0，可直接使用。
type Uint128 struct {
	// Hi 高 64 位
	Hi uint64
	// Lo 低 64 位
	Lo uint64
}

// AddMul 累加 a × b
// 使用 bits.Mul64/bits.Add64 实现，无堆分配。
// 128 位累加器本身溢出时返回 ErrOverflow。
func (u *Uint128) AddMul(a, b uint64) error {
	hi, lo := bits.Mul64(a, b)
	var carry uint64
	u.Lo, carry = bits.Add64(u.Lo, lo, 0)
	u.Hi, carry = bits.Add64(u.Hi, hi, carry)
	if carry != 0 {
		return ErrOverflow
	}
	return nil
}

// Cmp 比较两个 Uint128
// 返回 -1/0/+1。
func (u Uint128) Cmp(o Uint128) int {
	if u.Hi != o.Hi {
		if u.Hi < o.Hi {
			return -1
		}
		return 1
	}
	if u.Lo != o.Lo {
		if u.Lo < o.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// IsZero 判断是否为 0
func (u Uint128) IsZero() bool {
	return u.Hi == 0 && u.Lo == 0
}

// Uint64 转换为 uint64
// 超出 uint64 表示范围时返回 ErrOverflow。
func (u Uint128) Uint64() (uint64, error) {
	if u.Hi != 0 {
		return 0, ErrOverflow
	}
	return u.Lo, nil
}

// DivUint64 除以 uint64，返回商（向下取整）
// 除数为 0 或商超出 uint64 时返回 ErrOverflow。
func (u Uint128) DivUint64(d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrOverflow
	}
	if u.Hi >= d {
		// 商无法用 64 位表示
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(u.Hi, u.Lo, d)
	return q, nil
}
