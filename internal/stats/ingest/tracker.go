// Package ingest 实现行情摄入路径的统计。
// 追踪 apply 结果计数、apply 耗时分位数与行情链路时延分位数。
package ingest

import (
	"sort"
	"sync"
	"sync/atomic"

	"prediction-book-engine/internal/core/model"
	"prediction-book-engine/internal/core/registry"
	"prediction-book-engine/internal/util/timeutil"
)

// Stats 摄入统计快照（滚动窗口）
type Stats struct {
	// Applied 成功应用的更新数（累计）
	Applied int64
	// Resynced 快照重建次数（累计）
	Resynced int64
	// GapDetected 序列号 gap 次数（累计）
	GapDetected int64
	// Rejected 校验拒绝次数（累计）
	Rejected int64
	// Ignored AwaitingSnapshot 期间被忽略的增量数（累计）
	Ignored int64

	// ApplyP50Us apply 耗时 P50（微秒）
	ApplyP50Us float64
	// ApplyP90Us apply 耗时 P90（微秒）
	ApplyP90Us float64
	// ApplyP99Us apply 耗时 P99（微秒）
	ApplyP99Us float64

	// FeedLagP50Ms 行情链路时延 P50（毫秒），交易所事件时间到本机到达
	FeedLagP50Ms float64
	// FeedLagP90Ms 行情链路时延 P90（毫秒）
	FeedLagP90Ms float64
	// FeedLagP99Ms 行情链路时延 P99（毫秒）
	FeedLagP99Ms float64
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) snapshotQuantiles(qs ...float64) (count int64, values []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.count
	if len(w.buf) == 0 {
		return count, make([]int64, len(qs))
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	values = make([]int64, len(qs))
	n := len(tmp)
	for i, q := range qs {
		if q <= 0 {
			values[i] = tmp[0]
			continue
		}
		if q >= 1 {
			values[i] = tmp[n-1]
			continue
		}
		idx := int(float64(n-1) * q)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		values[i] = tmp[idx]
	}
	return count, values
}

// Tracker 摄入统计追踪器
// 单写者（摄入循环）调用 Record，任意读者调用 Stats。
type Tracker struct {
	// applyNs apply 耗时滚动窗口（纳秒）
	applyNs *rollingWindow
	// feedLagNs 行情链路时延滚动窗口（纳秒）
	feedLagNs *rollingWindow

	// 结果计数（按 OutcomeKind 下标）
	applied     int64
	resynced    int64
	gapDetected int64
	rejected    int64
	ignored     int64
}

// NewTracker 创建摄入统计追踪器
// 参数 windowSize: 滚动窗口大小（建议 10000），用于 P50/P90/P99。
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		applyNs:   newRollingWindow(windowSize),
		feedLagNs: newRollingWindow(windowSize),
	}
}

// Record 记录一次 apply
// 参数 rec: 被应用的更新记录
// 参数 outcome: apply 结果
// 参数 applyNs: apply 耗时（纳秒）
func (t *Tracker) Record(rec *model.UpdateRecord, outcome registry.ApplyOutcome, applyNs int64) {
	switch outcome.Kind {
	case registry.OutcomeApplied:
		atomic.AddInt64(&t.applied, 1)
	case registry.OutcomeResynced:
		atomic.AddInt64(&t.resynced, 1)
	case registry.OutcomeGapDetected:
		atomic.AddInt64(&t.gapDetected, 1)
	case registry.OutcomeRejected:
		atomic.AddInt64(&t.rejected, 1)
	case registry.OutcomeIgnored:
		atomic.AddInt64(&t.ignored, 1)
	}

	t.applyNs.add(applyNs)

	// 链路时延：交易所事件时间到本机到达（缺少事件时间则不记录）
	if rec.TimestampMs > 0 {
		lag := rec.ArrivedAtUnixNs - timeutil.MsToNano(rec.TimestampMs)
		if lag > 0 {
			t.feedLagNs.add(lag)
		}
	}
}

// Stats 获取统计快照
func (t *Tracker) Stats() Stats {
	_, applyQs := t.applyNs.snapshotQuantiles(0.50, 0.90, 0.99)
	_, lagQs := t.feedLagNs.snapshotQuantiles(0.50, 0.90, 0.99)

	return Stats{
		Applied:      atomic.LoadInt64(&t.applied),
		Resynced:     atomic.LoadInt64(&t.resynced),
		GapDetected:  atomic.LoadInt64(&t.gapDetected),
		Rejected:     atomic.LoadInt64(&t.rejected),
		Ignored:      atomic.LoadInt64(&t.ignored),
		ApplyP50Us:   float64(applyQs[0]) / 1_000.0,
		ApplyP90Us:   float64(applyQs[1]) / 1_000.0,
		ApplyP99Us:   float64(applyQs[2]) / 1_000.0,
		FeedLagP50Ms: float64(lagQs[0]) / 1_000_000.0,
		FeedLagP90Ms: float64(lagQs[1]) / 1_000_000.0,
		FeedLagP99Ms: float64(lagQs[2]) / 1_000_000.0,
	}
}
