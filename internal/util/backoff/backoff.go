// Package backoff 实现行情网关重连的退避策略。
// 断线后的重试间隔从基础值开始逐次翻倍并封顶于最大值，
// 施加随机抖动，避免多个实例在网关恢复时同一时刻重连。
package backoff

import (
	"math/rand"
	"time"
)

// Backoff 重连退避状态
// 非并发安全：每条连接各持一个实例，由其重连循环串行调用。
type Backoff struct {
	// base 首次重试的等待时间
	base time.Duration
	// max 等待时间上限
	max time.Duration
	// jitter 抖动比例，如 0.2 表示 ±20%
	jitter float64
	// next 下次 Next 返回的基准值
	next time.Duration
	// rng 抖动随机源
	rng *rand.Rand
}

// New 创建退避状态
// base 非正时回退到 1s；max 小于 base 时回退到 30s（仍小于 base 则取 base）。
func New(base, max time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = 30 * time.Second
		if max < base {
			max = base
		}
	}
	return &Backoff{
		base:   base,
		max:    max,
		jitter: jitter,
		next:   base,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next 返回本次重试前应等待的时间并推进状态
// 基准值逐次翻倍，封顶于 max；抖动后的返回值不低于 0。
func (b *Backoff) Next() time.Duration {
	d := b.next

	if b.next > b.max/2 {
		b.next = b.max
	} else {
		b.next *= 2
	}

	if b.jitter > 0 {
		factor := 1 + (b.rng.Float64()*2-1)*b.jitter
		d = time.Duration(float64(d) * factor)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Reset 连接成功后复位，下一次断线重新从基础间隔开始
func (b *Backoff) Reset() {
	b.next = b.base
}
