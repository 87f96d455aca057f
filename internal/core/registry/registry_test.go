// Package registry Book Registry 测试
package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prediction-book-engine/internal/core/fixedpoint"
	"prediction-book-engine/internal/core/model"
)

const testInstrument = "WILL-X-WIN-2026"

func centSpec() fixedpoint.TickSpec {
	return fixedpoint.TickSpec{
		TickSize:  decimal.NewFromFloat(0.01),
		SizeScale: 6,
		MinTick:   1,
		MaxTick:   9999,
	}
}

func newTestRegistry(t *testing.T, enforceAlignment bool) *Registry {
	t.Helper()
	r := New(Config{MaxDepthPerSide: 100, EnforceTickAlignment: enforceAlignment}, zap.NewNop())
	if err := r.RegisterSpec(testInstrument, centSpec()); err != nil {
		t.Fatalf("RegisterSpec: %v", err)
	}
	return r
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("解析十进制失败 %q: %v", s, err)
	}
	return d
}

func snapshotRecord(t *testing.T, seq uint64, bids, asks [][2]string) *model.UpdateRecord {
	t.Helper()
	rec := &model.UpdateRecord{
		Kind:            model.KindSnapshot,
		Instrument:      testInstrument,
		Sequence:        seq,
		TimestampMs:     1700000000000,
		ArrivedAtUnixNs: time.Now().UnixNano(),
	}
	for _, b := range bids {
		rec.Bids = append(rec.Bids, model.PriceLevel{Price: dec(t, b[0]), Size: dec(t, b[1])})
	}
	for _, a := range asks {
		rec.Asks = append(rec.Asks, model.PriceLevel{Price: dec(t, a[0]), Size: dec(t, a[1])})
	}
	return rec
}

func deltaRecord(t *testing.T, seq uint64, changes [][3]string) *model.UpdateRecord {
	t.Helper()
	rec := &model.UpdateRecord{
		Kind:            model.KindDelta,
		Instrument:      testInstrument,
		Sequence:        seq,
		TimestampMs:     1700000000000,
		ArrivedAtUnixNs: time.Now().UnixNano(),
	}
	for _, c := range changes {
		rec.Changes = append(rec.Changes, model.LevelChange{
			Side:  model.Side(c[0]),
			Price: dec(t, c[1]),
			Size:  dec(t, c[2]),
		})
	}
	return rec
}

func TestApplyUpdate_SnapshotThenQuery(t *testing.T) {
	r := newTestRegistry(t, true)

	outcome := r.ApplyUpdate(snapshotRecord(t, 1,
		[][2]string{{"0.50", "100"}, {"0.49", "50"}},
		[][2]string{{"0.52", "80"}},
	))
	if outcome.Kind != OutcomeApplied {
		t.Fatalf("outcome=%s reason=%v, want applied", outcome.Kind, outcome.Reason)
	}
	if outcome.BookVersion != 1 {
		t.Fatalf("version=%d, want 1", outcome.BookVersion)
	}

	price, size, ok := r.BestBid(testInstrument)
	if !ok || !price.Equal(dec(t, "0.50")) || !size.Equal(dec(t, "100")) {
		t.Fatalf("best_bid=(%s,%s) ok=%v, want (0.50,100)", price, size, ok)
	}
	price, _, ok = r.BestAsk(testInstrument)
	if !ok || !price.Equal(dec(t, "0.52")) {
		t.Fatalf("best_ask=%s ok=%v, want 0.52", price, ok)
	}

	spread, ok := r.Spread(testInstrument)
	if !ok || !spread.Equal(dec(t, "0.02")) {
		t.Fatalf("spread=%s ok=%v, want 0.02", spread, ok)
	}
	mid, ok := r.Mid(testInstrument)
	if !ok || !mid.Equal(dec(t, "0.51")) {
		t.Fatalf("mid=%s ok=%v, want 0.51", mid, ok)
	}
}

func TestApplyUpdate_DeltaRemovesLevel(t *testing.T) {
	r := newTestRegistry(t, true)
	r.ApplyUpdate(snapshotRecord(t, 1,
		[][2]string{{"0.50", "100"}, {"0.49", "50"}},
		[][2]string{{"0.52", "80"}},
	))

	outcome := r.ApplyUpdate(deltaRecord(t, 2, [][3]string{{"bid", "0.49", "0"}}))
	if outcome.Kind != OutcomeApplied {
		t.Fatalf("outcome=%s reason=%v, want applied", outcome.Kind, outcome.Reason)
	}

	levels, ok := r.TopN(testInstrument, model.SideBid, 0)
	if !ok || len(levels) != 1 {
		t.Fatalf("levels=%v ok=%v, want 单档", levels, ok)
	}
	if !levels[0].Price.Equal(dec(t, "0.50")) || !levels[0].Size.Equal(dec(t, "100")) {
		t.Fatalf("top=(%s,%s), want (0.50,100)", levels[0].Price, levels[0].Size)
	}

	b, _ := r.Get(testInstrument)
	total, err := b.TotalSize(model.SideBid)
	if err != nil || total != 100_000_000 {
		t.Fatalf("total=%d err=%v, want 100000000", total, err)
	}
}

func TestApplyUpdate_GapThenResync(t *testing.T) {
	r := newTestRegistry(t, true)
	r.ApplyUpdate(snapshotRecord(t, 2,
		[][2]string{{"0.50", "100"}},
		[][2]string{{"0.52", "80"}},
	))

	// seq 4 ≠ 3：gap
	outcome := r.ApplyUpdate(deltaRecord(t, 4, [][3]string{{"bid", "0.50", "200"}}))
	if outcome.Kind != OutcomeGapDetected {
		t.Fatalf("outcome=%s, want gap_detected", outcome.Kind)
	}
	if outcome.Expected != 3 || outcome.Observed != 4 {
		t.Fatalf("gap={%d,%d}, want {3,4}", outcome.Expected, outcome.Observed)
	}

	// gap 后快照视图不变
	price, _, ok := r.BestBid(testInstrument)
	if !ok || !price.Equal(dec(t, "0.50")) {
		t.Fatalf("gap 后 best_bid=%s, want 0.50", price)
	}

	// 等待快照期间增量被忽略
	outcome = r.ApplyUpdate(deltaRecord(t, 5, [][3]string{{"bid", "0.50", "200"}}))
	if outcome.Kind != OutcomeIgnored {
		t.Fatalf("outcome=%s, want ignored", outcome.Kind)
	}

	// 快照修复：已存在的 Book 被替换 → resynced
	outcome = r.ApplyUpdate(snapshotRecord(t, 5,
		[][2]string{{"0.51", "200"}},
		[][2]string{{"0.53", "40"}},
	))
	if outcome.Kind != OutcomeResynced {
		t.Fatalf("outcome=%s, want resynced", outcome.Kind)
	}
	price, _, _ = r.BestBid(testInstrument)
	if !price.Equal(dec(t, "0.51")) {
		t.Fatalf("resync 后 best_bid=%s, want 0.51", price)
	}

	// 修复后顺序增量恢复
	outcome = r.ApplyUpdate(deltaRecord(t, 6, [][3]string{{"ask", "0.54", "10"}}))
	if outcome.Kind != OutcomeApplied {
		t.Fatalf("outcome=%s, want applied", outcome.Kind)
	}
}

func TestApplyUpdate_MisalignedPriceRejected(t *testing.T) {
	r := newTestRegistry(t, true)
	r.ApplyUpdate(snapshotRecord(t, 1,
		[][2]string{{"0.50", "100"}},
		[][2]string{{"0.52", "80"}},
	))

	// 0.505 不是 0.01 的整数倍
	outcome := r.ApplyUpdate(deltaRecord(t, 2, [][3]string{{"bid", "0.505", "10"}}))
	if outcome.Kind != OutcomeRejected {
		t.Fatalf("outcome=%s, want rejected", outcome.Kind)
	}
	if !errors.Is(outcome.Reason, fixedpoint.ErrTickMisaligned) {
		t.Fatalf("reason=%v, want ErrTickMisaligned", outcome.Reason)
	}

	// 拒绝不改变 Book 状态：后续顺序增量仍被接受
	outcome = r.ApplyUpdate(deltaRecord(t, 2, [][3]string{{"bid", "0.50", "200"}}))
	if outcome.Kind != OutcomeApplied {
		t.Fatalf("outcome=%s, want applied", outcome.Kind)
	}
}

func TestApplyUpdate_RoundingMode(t *testing.T) {
	r := newTestRegistry(t, false)
	r.ApplyUpdate(snapshotRecord(t, 1,
		[][2]string{{"0.50", "100"}},
		[][2]string{{"0.52", "80"}},
	))

	// 非严格模式：0.505 舍入到 0.51
	outcome := r.ApplyUpdate(deltaRecord(t, 2, [][3]string{{"bid", "0.505", "10"}}))
	if outcome.Kind != OutcomeApplied {
		t.Fatalf("outcome=%s reason=%v, want applied", outcome.Kind, outcome.Reason)
	}
	price, _, ok := r.BestBid(testInstrument)
	if !ok || !price.Equal(dec(t, "0.51")) {
		t.Fatalf("best_bid=%s, want 0.51", price)
	}
}

func TestApplyUpdate_Rejections(t *testing.T) {
	r := newTestRegistry(t, true)

	t.Run("合约标识为空", func(t *testing.T) {
		rec := snapshotRecord(t, 1, nil, nil)
		rec.Instrument = ""
		if outcome := r.ApplyUpdate(rec); outcome.Kind != OutcomeRejected {
			t.Fatalf("outcome=%s, want rejected", outcome.Kind)
		}
	})

	t.Run("未注册描述符", func(t *testing.T) {
		rec := snapshotRecord(t, 1, nil, nil)
		rec.Instrument = "UNKNOWN-MARKET"
		if outcome := r.ApplyUpdate(rec); outcome.Kind != OutcomeRejected {
			t.Fatalf("outcome=%s, want rejected", outcome.Kind)
		}
	})

	t.Run("未知更新类型", func(t *testing.T) {
		rec := snapshotRecord(t, 1, nil, nil)
		rec.Kind = model.UpdateKind("trade")
		if outcome := r.ApplyUpdate(rec); outcome.Kind != OutcomeRejected {
			t.Fatalf("outcome=%s, want rejected", outcome.Kind)
		}
	})

	t.Run("未知盘口方向", func(t *testing.T) {
		r.ApplyUpdate(snapshotRecord(t, 1, [][2]string{{"0.50", "1"}}, nil))
		outcome := r.ApplyUpdate(deltaRecord(t, 2, [][3]string{{"buy", "0.50", "1"}}))
		if outcome.Kind != OutcomeRejected {
			t.Fatalf("outcome=%s, want rejected", outcome.Kind)
		}
	})

	t.Run("快照零数量", func(t *testing.T) {
		outcome := r.ApplyUpdate(snapshotRecord(t, 3, [][2]string{{"0.50", "0"}}, nil))
		if outcome.Kind != OutcomeRejected {
			t.Fatalf("outcome=%s, want rejected", outcome.Kind)
		}
	})

	t.Run("增量负数量", func(t *testing.T) {
		outcome := r.ApplyUpdate(deltaRecord(t, 2, [][3]string{{"bid", "0.50", "-1"}}))
		if outcome.Kind != OutcomeRejected {
			t.Fatalf("outcome=%s, want rejected", outcome.Kind)
		}
		if !errors.Is(outcome.Reason, fixedpoint.ErrNegativeSize) {
			t.Fatalf("reason=%v, want ErrNegativeSize", outcome.Reason)
		}
	})
}

func TestRegisterSpec_Invalid(t *testing.T) {
	r := New(Config{}, zap.NewNop())

	if err := r.RegisterSpec("", centSpec()); err == nil {
		t.Fatalf("空合约标识应报错")
	}

	bad := centSpec()
	bad.TickSize = decimal.Zero
	if err := r.RegisterSpec(testInstrument, bad); err == nil {
		t.Fatalf("非法描述符应报错")
	}
}

func TestAnalytics(t *testing.T) {
	r := newTestRegistry(t, true)
	r.ApplyUpdate(snapshotRecord(t, 1,
		[][2]string{{"0.50", "100"}, {"0.49", "50"}},
		[][2]string{{"0.52", "80"}},
	))

	all := r.Analytics()
	if len(all) != 1 {
		t.Fatalf("analytics=%d, want 1", len(all))
	}
	a := all[0]
	if a.Instrument != testInstrument || a.State != "live" || a.Sequence != 1 {
		t.Fatalf("analytics=%+v", a)
	}
	if a.BidLevels != 2 || a.AskLevels != 1 {
		t.Fatalf("levels=(%d,%d), want (2,1)", a.BidLevels, a.AskLevels)
	}
	if !a.BidTotal.Equal(dec(t, "150")) || !a.AskTotal.Equal(dec(t, "80")) {
		t.Fatalf("totals=(%s,%s), want (150,80)", a.BidTotal, a.AskTotal)
	}
	if !a.Spread.Equal(dec(t, "0.02")) || !a.Mid.Equal(dec(t, "0.51")) {
		t.Fatalf("spread=%s mid=%s", a.Spread, a.Mid)
	}
	if a.Crossed {
		t.Fatalf("簿不应交叉")
	}
	if a.SpreadBps < 392.0 || a.SpreadBps > 392.3 {
		t.Fatalf("spread_bps=%f", a.SpreadBps)
	}
}

func TestSweepStale(t *testing.T) {
	r := newTestRegistry(t, true)
	if err := r.RegisterSpec("FRESH-MARKET", centSpec()); err != nil {
		t.Fatalf("RegisterSpec: %v", err)
	}

	nowNs := time.Now().UnixNano()

	stale := snapshotRecord(t, 1, [][2]string{{"0.50", "1"}}, nil)
	stale.ArrivedAtUnixNs = nowNs - (10 * time.Minute).Nanoseconds()
	r.ApplyUpdate(stale)

	fresh := snapshotRecord(t, 1, [][2]string{{"0.60", "1"}}, nil)
	fresh.Instrument = "FRESH-MARKET"
	fresh.ArrivedAtUnixNs = nowNs
	r.ApplyUpdate(fresh)

	if r.Len() != 2 {
		t.Fatalf("len=%d, want 2", r.Len())
	}

	evicted := r.SweepStale(5*time.Minute, nowNs)
	if evicted != 1 {
		t.Fatalf("evicted=%d, want 1", evicted)
	}
	if _, ok := r.Get(testInstrument); ok {
		t.Fatalf("空闲 Book 应被清除")
	}
	if _, ok := r.Get("FRESH-MARKET"); !ok {
		t.Fatalf("活跃 Book 不应被清除")
	}

	// 清除后快照重建：Book 是新建的 → applied
	rebuilt := snapshotRecord(t, 10, [][2]string{{"0.55", "1"}}, nil)
	if outcome := r.ApplyUpdate(rebuilt); outcome.Kind != OutcomeApplied {
		t.Fatalf("outcome=%s, want applied", outcome.Kind)
	}
}

func TestApplyUpdate_DeltaBurst(t *testing.T) {
	r := newTestRegistry(t, true)

	if out := r.ApplyUpdate(snapshotRecord(t, 1,
		[][2]string{{"0.50", "100"}},
		[][2]string{{"0.52", "80"}},
	)); out.Kind != OutcomeApplied {
		t.Fatalf("snapshot outcome=%s reason=%v", out.Kind, out.Reason)
	}

	// 变更条数不一的连续增量，走同一条量化缓冲
	bursts := [][][3]string{
		{{"bid", "0.49", "30"}},
		{{"bid", "0.48", "20"}, {"ask", "0.53", "40"}},
		{{"bid", "0.49", "0"}, {"ask", "0.52", "0"}, {"ask", "0.54", "10"}},
		{{"bid", "0.50", "60"}},
	}
	seq := uint64(1)
	for i, changes := range bursts {
		seq++
		out := r.ApplyUpdate(deltaRecord(t, seq, changes))
		if out.Kind != OutcomeApplied {
			t.Fatalf("第 %d 条增量 outcome=%s reason=%v", i+1, out.Kind, out.Reason)
		}
	}

	// 中途一条量化失败的增量被拒绝后，后续增量不受影响
	if out := r.ApplyUpdate(deltaRecord(t, seq+1, [][3]string{{"bid", "0.505", "10"}})); out.Kind != OutcomeRejected {
		t.Fatalf("未对齐价格 outcome=%s, want rejected", out.Kind)
	}
	seq++
	if out := r.ApplyUpdate(deltaRecord(t, seq, [][3]string{{"ask", "0.55", "5"}})); out.Kind != OutcomeApplied {
		t.Fatalf("拒绝后的增量 outcome=%s reason=%v, want applied", out.Kind, out.Reason)
	}

	// 终态：bids {0.50:60, 0.48:20}，asks {0.53:40, 0.54:10, 0.55:5}
	price, size, ok := r.BestBid(testInstrument)
	if !ok || !price.Equal(dec(t, "0.50")) || !size.Equal(dec(t, "60")) {
		t.Fatalf("best_bid=(%s,%s) ok=%v, want (0.50,60)", price, size, ok)
	}
	price, size, ok = r.BestAsk(testInstrument)
	if !ok || !price.Equal(dec(t, "0.53")) || !size.Equal(dec(t, "40")) {
		t.Fatalf("best_ask=(%s,%s) ok=%v, want (0.53,40)", price, size, ok)
	}
}
