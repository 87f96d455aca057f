// Package ladder 实现单边价格阶梯：tick → 聚合数量的有序映射。
// 这是按价格聚合的盘口，不是订单队列——同价位只有一个聚合档位。
// 底层为按 tick 升序排列的有界切片，容量在创建时一次性预留，
// 稳态 apply（替换、删除、重插已见过的 tick）不产生任何堆分配。
package ladder

import (
	"errors"
	"sort"

	"prediction-book-engine/internal/core/fixedpoint"
	"prediction-book-engine/internal/core/model"
	"prediction-book-engine/internal/util/safemath"
)

// Change apply 的变更分类
type Change int

const (
	// NoOp 无变化（删除不存在的档位、超深度丢弃、等值替换）
	NoOp Change = iota
	// DepthChanged 非触及档位发生变化
	DepthChanged
	// BestChanged 触及档位（最优价）可能发生移动或数量变化
	BestChanged
)

// String 返回变更分类的可读名称
func (c Change) String() string {
	switch c {
	case NoOp:
		return "noop"
	case DepthChanged:
		return "depth_changed"
	case BestChanged:
		return "best_changed"
	default:
		return "unknown"
	}
}

var (
	// ErrInvariant 不变量违规：负数量或不一致的档位状态
	ErrInvariant = errors.New("阶梯不变量违规")
	// ErrLadderOverflow total_size 累加已饱和，聚合值不可信
	ErrLadderOverflow = errors.New("阶梯数量合计溢出")
)

// Level 单个价格档位
// 不变量：档位存在期间 Size > 0；0 是删除信号，永不存储。
type Level struct {
	// Tick 价格 tick
	Tick fixedpoint.PriceTick
	// Size 聚合数量（定标整数）
	Size fixedpoint.SizeFixed
}

// Ladder 单边价格阶梯
// 买盘最优为最大 tick，卖盘最优为最小 tick。
// 非并发安全：由所属 Book 的锁保护。
type Ladder struct {
	// side 盘口方向，决定最优价的朝向与逐出端
	side model.Side
	// maxDepth 每边保留的最大深度 D
	maxDepth int
	// levels 档位，按 tick 升序
	levels []Level
	// total 数量合计（增量维护）
	total int64
	// totalSaturated total 是否已饱和
	totalSaturated bool
}

// New 创建空阶梯
// 参数 side: bid 或 ask
// 参数 maxDepth: 每边最大深度（容量一次性预留）
func New(side model.Side, maxDepth int) *Ladder {
	if maxDepth <= 0 {
		maxDepth = 100
	}
	return &Ladder{
		side:     side,
		maxDepth: maxDepth,
		levels:   make([]Level, 0, maxDepth),
	}
}

// Side 返回盘口方向
func (l *Ladder) Side() model.Side {
	return l.side
}

// Len 返回当前档位数
func (l *Ladder) Len() int {
	return len(l.levels)
}

// Apply 应用单个档位变更
// size == 0 删除档位（不存在则为 NoOp）；否则插入或替换。
// 插入超过深度上限时逐出离触及最远的档位；比最远档位更远的插入直接丢弃。
// 负数量返回 ErrInvariant，阶梯状态不变。
func (l *Ladder) Apply(tick fixedpoint.PriceTick, size fixedpoint.SizeFixed) (Change, error) {
	if size < 0 {
		return NoOp, ErrInvariant
	}

	idx, found := l.search(tick)

	if size == 0 {
		if !found {
			// 删除不存在的档位是 no-op，不是错误
			return NoOp, nil
		}
		old := l.levels[idx].Size
		wasBest := l.isBestIndex(idx)
		copy(l.levels[idx:], l.levels[idx+1:])
		l.levels = l.levels[:len(l.levels)-1]
		l.addTotal(-int64(old))
		if wasBest {
			return BestChanged, nil
		}
		return DepthChanged, nil
	}

	if found {
		old := l.levels[idx].Size
		if old == size {
			return NoOp, nil
		}
		l.levels[idx].Size = size
		l.addTotal(int64(size) - int64(old))
		if l.isBestIndex(idx) {
			return BestChanged, nil
		}
		return DepthChanged, nil
	}

	// 新档位插入
	if len(l.levels) >= l.maxDepth {
		worstIdx := l.worstIndex()
		if !l.nearerTouch(tick, l.levels[worstIdx].Tick) {
			// 比当前最差档位更远：丢弃
			return NoOp, nil
		}
		// 逐出最差档位后再插入
		l.addTotal(-int64(l.levels[worstIdx].Size))
		copy(l.levels[worstIdx:], l.levels[worstIdx+1:])
		l.levels = l.levels[:len(l.levels)-1]
		if idx > worstIdx {
			idx--
		}
	}

	l.levels = append(l.levels, Level{})
	copy(l.levels[idx+1:], l.levels[idx:])
	l.levels[idx] = Level{Tick: tick, Size: size}
	l.addTotal(int64(size))

	if l.isBestIndex(idx) {
		return BestChanged, nil
	}
	return DepthChanged, nil
}

// Best 返回触及档位
// 阶梯为空时 ok 为 false。
func (l *Ladder) Best() (lv Level, ok bool) {
	if len(l.levels) == 0 {
		return Level{}, false
	}
	return l.levels[l.bestIndex()], true
}

// EachFromTouch 从触及档位向外惰性遍历最多 n 个档位
// fn 返回 false 时提前终止。n <= 0 表示不限制（受深度上限约束）。
// 遍历过程不分配内存，供模拟器扫单使用。
func (l *Ladder) EachFromTouch(n int, fn func(Level) bool) {
	count := len(l.levels)
	if n > 0 && n < count {
		count = n
	}
	if l.side == model.SideBid {
		// 买盘：从最大 tick 向下
		for i := 0; i < count; i++ {
			if !fn(l.levels[len(l.levels)-1-i]) {
				return
			}
		}
		return
	}
	// 卖盘：从最小 tick 向上
	for i := 0; i < count; i++ {
		if !fn(l.levels[i]) {
			return
		}
	}
}

// TopN 返回从触及档位向外的前 n 档拷贝
// 仅用于出口（查询接口、快照记录）。
func (l *Ladder) TopN(n int) []Level {
	if n <= 0 || n > len(l.levels) {
		n = len(l.levels)
	}
	out := make([]Level, 0, n)
	l.EachFromTouch(n, func(lv Level) bool {
		out = append(out, lv)
		return true
	})
	return out
}

// TotalSize 返回数量合计
// 合计已饱和时返回 ErrLadderOverflow。
func (l *Ladder) TotalSize() (fixedpoint.SizeFixed, error) {
	if l.totalSaturated {
		return fixedpoint.SizeFixed(l.total), ErrLadderOverflow
	}
	return fixedpoint.SizeFixed(l.total), nil
}

// Load 用快照档位批量重建阶梯
// 仅保留离触及最近的 maxDepth 档（深度截断策略）。
// 快照路径允许分配；entries 中不得有重复 tick。
func (l *Ladder) Load(entries []Level) error {
	l.levels = l.levels[:0]
	l.total = 0
	l.totalSaturated = false

	if len(entries) == 0 {
		return nil
	}

	sorted := make([]Level, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Tick < sorted[j].Tick })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Tick == sorted[i-1].Tick {
			return ErrInvariant
		}
	}
	for _, lv := range sorted {
		if lv.Size <= 0 {
			return ErrInvariant
		}
	}

	// 深度截断：买盘保留最高的 D 档，卖盘保留最低的 D 档
	if len(sorted) > l.maxDepth {
		if l.side == model.SideBid {
			sorted = sorted[len(sorted)-l.maxDepth:]
		} else {
			sorted = sorted[:l.maxDepth]
		}
	}

	l.levels = append(l.levels, sorted...)
	for _, lv := range sorted {
		l.addTotal(int64(lv.Size))
	}
	return nil
}

// search 二分查找 tick
// 返回插入位置与是否命中。
func (l *Ladder) search(tick fixedpoint.PriceTick) (int, bool) {
	idx := sort.Search(len(l.levels), func(i int) bool { return l.levels[i].Tick >= tick })
	if idx < len(l.levels) && l.levels[idx].Tick == tick {
		return idx, true
	}
	return idx, false
}

// bestIndex 触及档位的下标
func (l *Ladder) bestIndex() int {
	if l.side == model.SideBid {
		return len(l.levels) - 1
	}
	return 0
}

// worstIndex 离触及最远档位的下标
func (l *Ladder) worstIndex() int {
	if l.side == model.SideBid {
		return 0
	}
	return len(l.levels) - 1
}

// isBestIndex 判断下标是否为触及档位
func (l *Ladder) isBestIndex(idx int) bool {
	return len(l.levels) > 0 && idx == l.bestIndex()
}

// nearerTouch 判断 a 是否比 b 更接近触及
func (l *Ladder) nearerTouch(a, b fixedpoint.PriceTick) bool {
	if l.side == model.SideBid {
		return a > b
	}
	return a < b
}

// addTotal 增量维护数量合计（饱和语义）
func (l *Ladder) addTotal(delta int64) {
	v, saturated := safemath.SatAddInt64(l.total, delta)
	l.total = v
	if saturated {
		l.totalSaturated = true
	}
}
