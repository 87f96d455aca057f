// Package book 实现单个合约的双边订单簿。
// Book 持有买卖两个价格阶梯、最近应用的序列号、最后更新时间与 tick 描述符，
// 并维护一个 seqlock 形式的盘口顶缓存供无锁轮询。
// 写路径（apply）由 Registry 独占驱动；读路径可并发。
package book

import (
	"fmt"
	"sync"
	"sync/atomic"

	"prediction-book-engine/internal/core/fixedpoint"
	"prediction-book-engine/internal/core/ladder"
	"prediction-book-engine/internal/core/model"
)

// State Book 状态机
type State int

const (
	// StateLive 正常状态：按序接受增量
	StateLive State = iota
	// StateAwaitingSnapshot 检测到序列号 gap，增量被忽略直到快照到达
	StateAwaitingSnapshot
	// StatePoisoned 不变量违规后的毒化状态：不再接受任何更新
	StatePoisoned
)

// String 返回状态的可读名称
func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateAwaitingSnapshot:
		return "awaiting_snapshot"
	case StatePoisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}

// GapError 序列号 gap
// Expected 为期望的下一个序列号（last+1），Observed 为实际到达值。
type GapError struct {
	// Expected 期望序列号
	Expected uint64
	// Observed 实际序列号
	Observed uint64
}

// Error 实现 error 接口
func (e *GapError) Error() string {
	return fmt.Sprintf("序列号 gap: 期望 %d, 实际 %d", e.Expected, e.Observed)
}

// ErrAwaitingSnapshot Book 处于 AwaitingSnapshot，增量被忽略
type awaitingError struct{}

func (awaitingError) Error() string { return "等待快照中，增量被忽略" }

// ErrAwaitingSnapshot 哨兵错误：处于 AwaitingSnapshot 时增量被忽略
var ErrAwaitingSnapshot error = awaitingError{}

// tobEmpty seqlock 缓存中"该边为空"的哨兵值
const tobEmpty = ^uint32(0)

// LevelChange 已量化的单个档位变更
type LevelChange struct {
	// Side 盘口方向
	Side model.Side
	// Tick 价格 tick
	Tick fixedpoint.PriceTick
	// Size 数量（0 表示删除）
	Size fixedpoint.SizeFixed
}

// Book 单个合约的双边订单簿
type Book struct {
	// instrument 合约标识
	instrument string
	// spec tick 描述符
	spec fixedpoint.TickSpec
	// maxDepth 每边最大深度
	maxDepth int

	// mu 保护以下可变状态；apply 持写锁，查询持读锁
	mu sync.RWMutex
	// bids 买盘阶梯
	bids *ladder.Ladder
	// asks 卖盘阶梯
	asks *ladder.Ladder
	// state 状态机
	state State
	// seq 最近应用的序列号
	seq uint64
	// lastGoodSeq 进入 AwaitingSnapshot 前最后一个有效序列号
	lastGoodSeq uint64
	// lastUpdateNs 最后更新的本机到达时间（纳秒），staleness 基准
	lastUpdateNs int64
	// lastTsMs 最后更新的交易所时间戳（毫秒）
	lastTsMs int64

	// seqlock 盘口顶缓存：版本为偶数时 tobBid/tobAsk 稳定可读
	tobVersion atomic.Uint64
	tobBid     atomic.Uint32
	tobAsk     atomic.Uint32
}

// New 创建空 Book
// 参数 instrument: 合约标识
// 参数 spec: tick 描述符
// 参数 maxDepth: 每边最大深度 D
func New(instrument string, spec fixedpoint.TickSpec, maxDepth int) *Book {
	b := &Book{
		instrument: instrument,
		spec:       spec,
		maxDepth:   maxDepth,
		bids:       ladder.New(model.SideBid, maxDepth),
		asks:       ladder.New(model.SideAsk, maxDepth),
		state:      StateLive,
	}
	b.tobBid.Store(tobEmpty)
	b.tobAsk.Store(tobEmpty)
	return b
}

// Instrument 返回合约标识
func (b *Book) Instrument() string {
	return b.instrument
}

// Spec 返回 tick 描述符
func (b *Book) Spec() fixedpoint.TickSpec {
	return b.spec
}

// ApplySnapshot 原子地用快照替换簿内容
// 新阶梯在锁外构建，持锁后一步换入：并发读者要么看到旧视图要么看到新视图，
// 永远不会看到半填充的阶梯。任何快照都会清除 AwaitingSnapshot。
func (b *Book) ApplySnapshot(seq uint64, tsMs, arrivedNs int64, bids, asks []ladder.Level) error {
	newBids := ladder.New(model.SideBid, b.maxDepth)
	newAsks := ladder.New(model.SideAsk, b.maxDepth)
	if err := newBids.Load(bids); err != nil {
		return model.NewValidationError(b.instrument, seq, "快照买盘非法", err)
	}
	if err := newAsks.Load(asks); err != nil {
		return model.NewValidationError(b.instrument, seq, "快照卖盘非法", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StatePoisoned {
		return model.NewInvariantError(b.instrument, seq, "Book 已毒化，拒绝快照", nil)
	}

	b.bids = newBids
	b.asks = newAsks
	b.state = StateLive
	b.seq = seq
	b.lastGoodSeq = seq
	b.lastUpdateNs = arrivedNs
	b.lastTsMs = tsMs
	b.publishTopLocked()
	return nil
}

// ApplyDelta 应用一组增量变更
// 序列号必须恰好为 last+1，否则转入 AwaitingSnapshot 并返回 *GapError；
// AwaitingSnapshot 状态下返回 ErrAwaitingSnapshot（增量被忽略，不是错误）。
// 阶梯层报出的不变量违规会毒化 Book。
func (b *Book) ApplyDelta(seq uint64, tsMs, arrivedNs int64, changes []LevelChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StatePoisoned:
		return model.NewInvariantError(b.instrument, seq, "Book 已毒化，拒绝增量", nil)
	case StateAwaitingSnapshot:
		return ErrAwaitingSnapshot
	}

	if seq != b.seq+1 {
		b.state = StateAwaitingSnapshot
		b.lastGoodSeq = b.seq
		return &GapError{Expected: b.seq + 1, Observed: seq}
	}

	bestMoved := false
	for _, ch := range changes {
		var lad *ladder.Ladder
		if ch.Side == model.SideBid {
			lad = b.bids
		} else {
			lad = b.asks
		}
		change, err := lad.Apply(ch.Tick, ch.Size)
		if err != nil {
			// 量化层已拦截负数量，走到这里说明是编程缺陷：毒化
			b.state = StatePoisoned
			return model.NewInvariantError(b.instrument, seq, "增量应用触发不变量违规", err)
		}
		if change == ladder.BestChanged {
			bestMoved = true
		}
	}

	b.seq = seq
	b.lastGoodSeq = seq
	b.lastUpdateNs = arrivedNs
	b.lastTsMs = tsMs
	if bestMoved {
		b.publishTopLocked()
	}
	return nil
}

// publishTopLocked 发布 seqlock 盘口顶缓存
// 版本先加到奇数（写入中），写完买卖最优后再加到偶数。
// 调用方必须持有写锁。
func (b *Book) publishTopLocked() {
	b.tobVersion.Add(1)
	if lv, ok := b.bids.Best(); ok {
		b.tobBid.Store(uint32(lv.Tick))
	} else {
		b.tobBid.Store(tobEmpty)
	}
	if lv, ok := b.asks.Best(); ok {
		b.tobAsk.Store(uint32(lv.Tick))
	} else {
		b.tobAsk.Store(tobEmpty)
	}
	b.tobVersion.Add(1)
}

// PollTop 无锁读取盘口顶
// seqlock 协议：读版本→读数据→复核版本，不一致则重试。
// 返回的 version 单调递增，可用于判断盘口顶是否变动。
func (b *Book) PollTop() (bidTick, askTick fixedpoint.PriceTick, bidOK, askOK bool, version uint64) {
	for {
		v1 := b.tobVersion.Load()
		if v1%2 != 0 {
			continue
		}
		bid := b.tobBid.Load()
		ask := b.tobAsk.Load()
		v2 := b.tobVersion.Load()
		if v1 != v2 {
			continue
		}
		return fixedpoint.PriceTick(bid), fixedpoint.PriceTick(ask), bid != tobEmpty, ask != tobEmpty, v1
	}
}

// State 返回当前状态
func (b *Book) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Sequence 返回最近应用的序列号
func (b *Book) Sequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// LastUpdateNs 返回最后更新的本机到达时间（纳秒）
func (b *Book) LastUpdateNs() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateNs
}

// BestBid 返回最优买档
func (b *Book) BestBid() (ladder.Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Best()
}

// BestAsk 返回最优卖档
func (b *Book) BestAsk() (ladder.Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Best()
}

// SpreadTicks 返回价差（tick）
// 任一边为空时 ok 为 false。
func (b *Book) SpreadTicks() (spread int64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, bok := b.bids.Best()
	ask, aok := b.asks.Best()
	if !bok || !aok {
		return 0, false
	}
	return int64(ask.Tick) - int64(bid.Tick), true
}

// MidTicks 返回中间价（整数 tick）
// 多出的半个 tick 通过 half 单独暴露。
func (b *Book) MidTicks() (mid fixedpoint.PriceTick, half bool, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, bok := b.bids.Best()
	ask, aok := b.asks.Best()
	if !bok || !aok {
		return 0, false, false
	}
	sum := uint64(bid.Tick) + uint64(ask.Tick)
	return fixedpoint.PriceTick(sum / 2), sum%2 == 1, true
}

// SpreadBps 返回价差（基点）
// 公式: 10000 × spread_ticks / mid_ticks；mid 为 0 时 ok 为 false。
func (b *Book) SpreadBps() (bps float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, bok := b.bids.Best()
	ask, aok := b.asks.Best()
	if !bok || !aok {
		return 0, false
	}
	mid := (uint64(bid.Tick) + uint64(ask.Tick)) / 2
	if mid == 0 {
		return 0, false
	}
	spread := int64(ask.Tick) - int64(bid.Tick)
	return 10000 * float64(spread) / float64(mid), true
}

// IsValid 检查簿是否未交叉
// 双边非空时要求 best_bid < best_ask；空簿视为有效。
func (b *Book) IsValid() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, bok := b.bids.Best()
	ask, aok := b.asks.Best()
	if !bok || !aok {
		return true
	}
	return bid.Tick < ask.Tick
}

// TopN 返回指定边从触及向外的前 n 档拷贝
func (b *Book) TopN(side model.Side, n int) []ladder.Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if side == model.SideBid {
		return b.bids.TopN(n)
	}
	return b.asks.TopN(n)
}

// TotalSize 返回指定边的数量合计
func (b *Book) TotalSize(side model.Side) (fixedpoint.SizeFixed, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if side == model.SideBid {
		return b.bids.TotalSize()
	}
	return b.asks.TotalSize()
}

// WalkOpposite 在读锁内从对手方触及档位向外遍历
// 买单遍历卖盘，卖单遍历买盘。整个遍历持同一把读锁，保证视图一致；
// 遍历过程不分配内存，供模拟器使用。
func (b *Book) WalkOpposite(side model.Side, fn func(ladder.Level) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if side == model.SideBid {
		b.asks.EachFromTouch(0, fn)
		return
	}
	b.bids.EachFromTouch(0, fn)
}

// Depths 返回双边档位数
func (b *Book) Depths() (bidLevels, askLevels int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len(), b.asks.Len()
}
