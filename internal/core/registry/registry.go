// Package registry 实现 Book Registry：合约标识到 Book 的映射与统一 apply 入口。
// 所有行情更新经由 ApplyUpdate 进入；量化、校验、序列号检查在此层完成，
// Book 只处理已量化的整数数据。对策略暴露十进制查询面。
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prediction-book-engine/internal/core/book"
	"prediction-book-engine/internal/core/fixedpoint"
	"prediction-book-engine/internal/core/ladder"
	"prediction-book-engine/internal/core/model"
)

// OutcomeKind apply 结果分类
type OutcomeKind int

const (
	// OutcomeApplied 更新成功应用
	OutcomeApplied OutcomeKind = iota
	// OutcomeResynced 快照替换了已存在的 Book（gap 修复或常规重建）
	OutcomeResynced
	// OutcomeGapDetected 增量序列号不连续，Book 转入 AwaitingSnapshot
	OutcomeGapDetected
	// OutcomeRejected 校验失败，Book 状态不变
	OutcomeRejected
	// OutcomeIgnored Book 处于 AwaitingSnapshot，增量被静默丢弃
	OutcomeIgnored
)

// String 返回结果分类的可读名称
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeApplied:
		return "applied"
	case OutcomeResynced:
		return "resynced"
	case OutcomeGapDetected:
		return "gap_detected"
	case OutcomeRejected:
		return "rejected"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// ApplyOutcome apply 的结构化结果
type ApplyOutcome struct {
	// Kind 结果分类
	Kind OutcomeKind
	// BookVersion 应用后的 Book 版本（Applied/Resynced 时有效，取序列号）
	BookVersion uint64
	// Expected gap 时期望的序列号
	Expected uint64
	// Observed gap 时实际到达的序列号
	Observed uint64
	// Reason 拒绝原因（Rejected 时非 nil）
	Reason error
}

// Config Registry 配置
type Config struct {
	// MaxDepthPerSide 每边最大深度 D
	MaxDepthPerSide int
	// EnforceTickAlignment 是否强制 tick 对齐（关闭时未对齐价格舍入到最近 tick）
	EnforceTickAlignment bool
}

// Registry 合约 → Book 的注册表
// map 由读偏向锁保护：写锁仅在创建新 Book 或清扫时短暂持有；
// apply 对 map 只取读锁，Book 级互斥由 Book 自身的锁承担。
type Registry struct {
	logger *zap.Logger
	cfg    Config

	mu    sync.RWMutex
	books map[string]*book.Book
	specs map[string]fixedpoint.TickSpec

	// scratch 增量量化的复用缓冲
	// apply 路径为单消费者，稳态下增量不再按条分配切片。
	scratch []book.LevelChange
}

// New 创建 Registry
func New(cfg Config, logger *zap.Logger) *Registry {
	if cfg.MaxDepthPerSide <= 0 {
		cfg.MaxDepthPerSide = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger,
		cfg:    cfg,
		books:  make(map[string]*book.Book),
		specs:  make(map[string]fixedpoint.TickSpec),
	}
}

// RegisterSpec 注册合约的 tick 描述符
// 必须在该合约的首次 apply 之前完成，否则更新会被拒绝。
func (r *Registry) RegisterSpec(instrument string, spec fixedpoint.TickSpec) error {
	if instrument == "" {
		return model.NewValidationError(instrument, 0, "合约标识为空", nil)
	}
	if err := spec.Validate(); err != nil {
		return model.NewValidationError(instrument, 0, "tick 描述符非法", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[instrument] = spec
	return nil
}

// Spec 查询合约的 tick 描述符
func (r *Registry) Spec(instrument string) (fixedpoint.TickSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[instrument]
	return spec, ok
}

// Get 查询合约的 Book
func (r *Registry) Get(instrument string) (*book.Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[instrument]
	return b, ok
}

// ApplyUpdate 应用一条行情更新
// Registry 层的统一入口：量化 → 定位/创建 Book → 委派到 Book 的 apply 路径。
// 稳态热路径上唯一的 map 写入是新合约的首次插入。
func (r *Registry) ApplyUpdate(rec *model.UpdateRecord) ApplyOutcome {
	if rec.Instrument == "" {
		return rejected(model.NewValidationError("", rec.Sequence, "合约标识为空", nil))
	}

	spec, ok := r.Spec(rec.Instrument)
	if !ok {
		return rejected(model.NewValidationError(rec.Instrument, rec.Sequence, "未注册 tick 描述符", nil))
	}

	switch rec.Kind {
	case model.KindSnapshot:
		return r.applySnapshot(rec, &spec)
	case model.KindDelta:
		return r.applyDelta(rec, &spec)
	default:
		return rejected(model.NewValidationError(rec.Instrument, rec.Sequence,
			fmt.Sprintf("未知更新类型: %s", rec.Kind), nil))
	}
}

// applySnapshot 量化并应用快照
func (r *Registry) applySnapshot(rec *model.UpdateRecord, spec *fixedpoint.TickSpec) ApplyOutcome {
	bids, err := r.quantizeLevels(rec.Bids, spec, rec)
	if err != nil {
		return rejected(err)
	}
	asks, err := r.quantizeLevels(rec.Asks, spec, rec)
	if err != nil {
		return rejected(err)
	}

	b, existed := r.getOrCreate(rec.Instrument, spec)
	if err := b.ApplySnapshot(rec.Sequence, rec.TimestampMs, rec.ArrivedAtUnixNs, bids, asks); err != nil {
		return rejected(err)
	}
	if existed {
		return ApplyOutcome{Kind: OutcomeResynced, BookVersion: rec.Sequence}
	}
	return ApplyOutcome{Kind: OutcomeApplied, BookVersion: rec.Sequence}
}

// applyDelta 量化并应用增量
func (r *Registry) applyDelta(rec *model.UpdateRecord, spec *fixedpoint.TickSpec) ApplyOutcome {
	changes := r.scratch[:0]
	for _, ch := range rec.Changes {
		if !ch.Side.IsValid() {
			return rejected(model.NewValidationError(rec.Instrument, rec.Sequence,
				fmt.Sprintf("未知盘口方向: %s", ch.Side), nil))
		}
		tick, err := r.quantizePrice(ch.Price, spec)
		if err != nil {
			return rejected(model.NewValidationError(rec.Instrument, rec.Sequence, "价格量化失败", err))
		}
		size, err := fixedpoint.QuantizeSize(ch.Size, spec)
		if err != nil {
			return rejected(model.NewValidationError(rec.Instrument, rec.Sequence, "数量量化失败", err))
		}
		changes = append(changes, book.LevelChange{Side: ch.Side, Tick: tick, Size: size})
	}
	// Book 的 apply 在返回前消费完 changes，不会保留引用
	r.scratch = changes

	b, _ := r.getOrCreate(rec.Instrument, spec)
	err := b.ApplyDelta(rec.Sequence, rec.TimestampMs, rec.ArrivedAtUnixNs, changes)
	switch e := err.(type) {
	case nil:
		return ApplyOutcome{Kind: OutcomeApplied, BookVersion: rec.Sequence}
	case *book.GapError:
		r.logger.Warn("检测到序列号 gap",
			zap.String("instrument", rec.Instrument),
			zap.Uint64("expected", e.Expected),
			zap.Uint64("observed", e.Observed))
		return ApplyOutcome{Kind: OutcomeGapDetected, Expected: e.Expected, Observed: e.Observed}
	default:
		if err == book.ErrAwaitingSnapshot {
			return ApplyOutcome{Kind: OutcomeIgnored}
		}
		if kind, ok := model.KindOf(err); ok && kind == model.ErrKindInvariant {
			r.logger.Error("Book 不变量违规，已毒化",
				zap.String("instrument", rec.Instrument),
				zap.Uint64("seq", rec.Sequence),
				zap.Error(err))
		}
		return rejected(err)
	}
}

// quantizeLevels 量化快照档位列表
// 快照中数量必须严格为正。
func (r *Registry) quantizeLevels(levels []model.PriceLevel, spec *fixedpoint.TickSpec, rec *model.UpdateRecord) ([]ladder.Level, error) {
	out := make([]ladder.Level, 0, len(levels))
	for _, pl := range levels {
		tick, err := r.quantizePrice(pl.Price, spec)
		if err != nil {
			return nil, model.NewValidationError(rec.Instrument, rec.Sequence, "快照价格量化失败", err)
		}
		size, err := fixedpoint.QuantizeSize(pl.Size, spec)
		if err != nil {
			return nil, model.NewValidationError(rec.Instrument, rec.Sequence, "快照数量量化失败", err)
		}
		if size <= 0 {
			return nil, model.NewValidationError(rec.Instrument, rec.Sequence,
				fmt.Sprintf("快照档位数量必须为正: %s", pl.Size), nil)
		}
		out = append(out, ladder.Level{Tick: tick, Size: size})
	}
	return out, nil
}

// quantizePrice 按配置选择严格或舍入量化
func (r *Registry) quantizePrice(price decimal.Decimal, spec *fixedpoint.TickSpec) (fixedpoint.PriceTick, error) {
	if r.cfg.EnforceTickAlignment {
		return fixedpoint.QuantizePrice(price, spec)
	}
	return fixedpoint.QuantizePriceRound(price, spec)
}

// getOrCreate 查找或惰性创建 Book
// 返回 existed 标识 Book 是否已存在（决定快照结果是 Applied 还是 Resynced）。
func (r *Registry) getOrCreate(instrument string, spec *fixedpoint.TickSpec) (b *book.Book, existed bool) {
	r.mu.RLock()
	b, existed = r.books[instrument]
	r.mu.RUnlock()
	if existed {
		return b, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, existed = r.books[instrument]; existed {
		return b, true
	}
	b = book.New(instrument, *spec, r.cfg.MaxDepthPerSide)
	r.books[instrument] = b
	r.logger.Info("创建新 Book", zap.String("instrument", instrument))
	return b, false
}

// SweepStale 清扫空闲超时的 Book
// 先在读锁下收集候选，再升级写锁执行删除（删除前复核时间戳）。
// 返回被清除的 Book 数量。
func (r *Registry) SweepStale(idleThreshold time.Duration, nowNs int64) int {
	thresholdNs := nowNs - idleThreshold.Nanoseconds()

	r.mu.RLock()
	candidates := make([]string, 0)
	for inst, b := range r.books {
		if b.LastUpdateNs() < thresholdNs {
			candidates = append(candidates, inst)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return 0
	}

	evicted := 0
	r.mu.Lock()
	for _, inst := range candidates {
		b, ok := r.books[inst]
		if !ok {
			continue
		}
		// 收集与删除之间可能有新更新到达，删除前复核
		if b.LastUpdateNs() >= thresholdNs {
			continue
		}
		delete(r.books, inst)
		evicted++
	}
	r.mu.Unlock()

	if evicted > 0 {
		r.logger.Info("清扫空闲 Book", zap.Int("evicted", evicted))
	}
	return evicted
}

// Len 返回当前 Book 数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.books)
}

// Instruments 返回当前所有合约标识
func (r *Registry) Instruments() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.books))
	for inst := range r.books {
		out = append(out, inst)
	}
	return out
}

// BestBid 查询最优买档（十进制出口）
func (r *Registry) BestBid(instrument string) (price, size decimal.Decimal, ok bool) {
	return r.bestSide(instrument, model.SideBid)
}

// BestAsk 查询最优卖档（十进制出口）
func (r *Registry) BestAsk(instrument string) (price, size decimal.Decimal, ok bool) {
	return r.bestSide(instrument, model.SideAsk)
}

func (r *Registry) bestSide(instrument string, side model.Side) (price, size decimal.Decimal, ok bool) {
	b, found := r.Get(instrument)
	if !found {
		return decimal.Zero, decimal.Zero, false
	}
	var lv ladder.Level
	if side == model.SideBid {
		lv, ok = b.BestBid()
	} else {
		lv, ok = b.BestAsk()
	}
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	spec := b.Spec()
	return fixedpoint.DequantizePrice(lv.Tick, &spec), fixedpoint.DequantizeSize(lv.Size, &spec), true
}

// Spread 查询价差（十进制出口）
func (r *Registry) Spread(instrument string) (decimal.Decimal, bool) {
	b, found := r.Get(instrument)
	if !found {
		return decimal.Zero, false
	}
	spread, ok := b.SpreadTicks()
	if !ok {
		return decimal.Zero, false
	}
	spec := b.Spec()
	return spec.TickSize.Mul(decimal.NewFromInt(spread)), true
}

// Mid 查询中间价（十进制出口）
// 十进制中间价是精确值，整数 tick 的半 tick 截断在此不体现。
func (r *Registry) Mid(instrument string) (decimal.Decimal, bool) {
	b, found := r.Get(instrument)
	if !found {
		return decimal.Zero, false
	}
	bid, bok := b.BestBid()
	ask, aok := b.BestAsk()
	if !bok || !aok {
		return decimal.Zero, false
	}
	spec := b.Spec()
	sum := decimal.NewFromInt(int64(bid.Tick) + int64(ask.Tick))
	return spec.TickSize.Mul(sum).Div(decimal.NewFromInt(2)), true
}

// TopN 查询指定边从触及向外的前 n 档（十进制出口）
func (r *Registry) TopN(instrument string, side model.Side, n int) ([]model.PriceLevel, bool) {
	b, found := r.Get(instrument)
	if !found {
		return nil, false
	}
	spec := b.Spec()
	levels := b.TopN(side, n)
	out := make([]model.PriceLevel, 0, len(levels))
	for _, lv := range levels {
		out = append(out, model.PriceLevel{
			Price: fixedpoint.DequantizePrice(lv.Tick, &spec),
			Size:  fixedpoint.DequantizeSize(lv.Size, &spec),
		})
	}
	return out, true
}

// BookAnalytics 单簿分析快照
// 出口结构：价格与数量已反量化为十进制。
type BookAnalytics struct {
	// Instrument 合约标识
	Instrument string
	// State Book 状态
	State string
	// Sequence 最近应用的序列号
	Sequence uint64
	// BidLevels 买盘档位数
	BidLevels int
	// AskLevels 卖盘档位数
	AskLevels int
	// BidTotal 买盘数量合计
	BidTotal decimal.Decimal
	// AskTotal 卖盘数量合计
	AskTotal decimal.Decimal
	// Spread 价差（双边非空时有效）
	Spread decimal.Decimal
	// Mid 中间价（双边非空时有效）
	Mid decimal.Decimal
	// SpreadBps 价差（基点）
	SpreadBps float64
	// Crossed 簿是否交叉（不变量违规的征兆）
	Crossed bool
}

// Analytics 返回所有 Book 的分析快照
// 用于周期性指标输出；合计溢出时对应字段为 0。
func (r *Registry) Analytics() []BookAnalytics {
	r.mu.RLock()
	books := make([]*book.Book, 0, len(r.books))
	for _, b := range r.books {
		books = append(books, b)
	}
	r.mu.RUnlock()

	out := make([]BookAnalytics, 0, len(books))
	for _, b := range books {
		spec := b.Spec()
		a := BookAnalytics{
			Instrument: b.Instrument(),
			State:      b.State().String(),
			Sequence:   b.Sequence(),
			Spread:     decimal.Zero,
			Mid:        decimal.Zero,
			BidTotal:   decimal.Zero,
			AskTotal:   decimal.Zero,
			Crossed:    !b.IsValid(),
		}
		a.BidLevels, a.AskLevels = b.Depths()
		if total, err := b.TotalSize(model.SideBid); err == nil {
			a.BidTotal = fixedpoint.DequantizeSize(total, &spec)
		}
		if total, err := b.TotalSize(model.SideAsk); err == nil {
			a.AskTotal = fixedpoint.DequantizeSize(total, &spec)
		}
		if spread, ok := b.SpreadTicks(); ok {
			a.Spread = spec.TickSize.Mul(decimal.NewFromInt(spread))
		}
		if mid, ok := r.Mid(b.Instrument()); ok {
			a.Mid = mid
		}
		if bps, ok := b.SpreadBps(); ok {
			a.SpreadBps = bps
		}
		out = append(out, a)
	}
	return out
}

// rejected 构造 Rejected 结果
func rejected(reason error) ApplyOutcome {
	return ApplyOutcome{Kind: OutcomeRejected, Reason: reason}
}
