// Package main 是预测市场订单簿引擎的入口点。
// 订阅 CLOB 行情网关的 book 频道，维护各合约的内存订单簿，
// 检测序列号 gap 并带外请求快照修复，周期性输出盘口顶与摄入指标。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"prediction-book-engine/internal/config"
	"prediction-book-engine/internal/core/fixedpoint"
	"prediction-book-engine/internal/core/model"
	"prediction-book-engine/internal/core/registry"
	"prediction-book-engine/internal/core/sim"
	"prediction-book-engine/internal/feed/clobws"
	"prediction-book-engine/internal/metadata"
	"prediction-book-engine/internal/output/jsonl"
	"prediction-book-engine/internal/stats/ingest"
	"prediction-book-engine/internal/util/timeutil"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	// 启动时解析各合约的 tick 描述符（配置内联 > 网关元数据 > 默认值）
	var markets []metadata.Market
	if cfg.Metadata.URL != "" {
		fetcher := metadata.NewHTTPFetcher(cfg.Metadata.TimeoutMs)
		fetchCtx, fetchCancel := context.WithTimeout(ctx, time.Duration(cfg.Metadata.TimeoutMs)*time.Millisecond)
		markets, err = fetcher.FetchMarkets(fetchCtx, cfg.Metadata.URL)
		fetchCancel()
		if err != nil {
			logger.Warn("获取市场元数据失败，回退到配置/默认描述符", zap.Error(err))
			markets = nil
		}
	}

	specs, err := metadata.ResolveSpecs(cfg.Instruments, markets)
	if err != nil {
		logger.Error("解析 tick 描述符失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("tick 描述符解析完成", zap.Int("instruments", len(specs)))

	// 初始化 Registry 并注册描述符
	reg := registry.New(registry.Config{
		MaxDepthPerSide:      cfg.Book.MaxDepthPerSide,
		EnforceTickAlignment: *cfg.Book.EnforceTickAlignment,
	}, logger)
	for inst, spec := range specs {
		if err := reg.RegisterSpec(inst, spec); err != nil {
			logger.Error("注册 tick 描述符失败", zap.String("instrument", inst), zap.Error(err))
			os.Exit(1)
		}
	}

	// 连接行情网关
	client := clobws.NewClient(&cfg.WS, cfg.InstrumentIDs(), logger)

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startCancel()

	if err := client.Connect(startCtx); err != nil {
		logger.Error("行情网关连接失败", zap.Error(err))
		os.Exit(1)
	}
	if err := client.Subscribe(); err != nil {
		logger.Error("订阅失败", zap.Error(err))
		os.Exit(1)
	}

	go client.Run(ctx)

	// 输出写入器
	var topsWriter *jsonl.Writer
	var metricsWriter *jsonl.Writer
	if cfg.Output.TopsEnabled {
		topsWriter, err = jsonl.NewWriter(fmt.Sprintf("%s/tops.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 tops writer 失败", zap.Error(err))
			os.Exit(1)
		}
	}
	if cfg.Output.MetricsEnabled {
		metricsWriter, err = jsonl.NewWriter(fmt.Sprintf("%s/metrics.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 metrics writer 失败", zap.Error(err))
			os.Exit(1)
		}
	}

	tracker := ingest.NewTracker(10000)

	if err := runIngest(ctx, logger, cfg, reg, client, tracker, topsWriter, metricsWriter); err != nil {
		logger.Error("摄入循环退出", zap.Error(err))
	}

	// 输出最后一条 metrics 快照（便于离线复盘）
	if metricsWriter != nil {
		_ = metricsWriter.Write(buildMetricsRecord(reg, client, tracker, 0))
		_ = metricsWriter.Flush()
	}

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Close()
		if topsWriter != nil {
			_ = topsWriter.Close()
		}
		if metricsWriter != nil {
			_ = metricsWriter.Close()
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// runIngest 摄入主循环
// 单消费者：从 recordCh 逐条取更新并应用到 Registry，
// 对同一 Book 的 apply 天然串行，无并发写者。
func runIngest(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	reg *registry.Registry,
	client *clobws.Client,
	tracker *ingest.Tracker,
	topsWriter *jsonl.Writer,
	metricsWriter *jsonl.Writer,
) error {
	recordCh := client.RecordCh()

	metricsTicker := time.NewTicker(time.Duration(cfg.Output.MetricsIntervalMs) * time.Millisecond)
	defer metricsTicker.Stop()

	sweepTicker := time.NewTicker(time.Duration(cfg.Book.SweepIntervalMs) * time.Millisecond)
	defer sweepTicker.Stop()

	staleThreshold := time.Duration(cfg.Book.StaleIdleThresholdMs) * time.Millisecond

	// 盘口顶版本跟踪：仅在版本变动时输出记录
	topVersions := make(map[string]uint64)
	lastSweepEvicted := 0

	for {
		select {
		case <-ctx.Done():
			return nil

		case rec, ok := <-recordCh:
			if !ok {
				return nil
			}
			if rec == nil {
				continue
			}

			start := timeutil.NowNano()
			outcome := reg.ApplyUpdate(rec)
			tracker.Record(rec, outcome, timeutil.NowNano()-start)

			switch outcome.Kind {
			case registry.OutcomeApplied, registry.OutcomeResynced:
				maybeWriteTop(reg, rec.Instrument, topVersions, topsWriter)
			case registry.OutcomeGapDetected:
				// 带外请求快照修复 AwaitingSnapshot
				if err := client.RequestSnapshot(rec.Instrument); err != nil {
					logger.Warn("请求快照失败", zap.String("instrument", rec.Instrument), zap.Error(err))
				}
			case registry.OutcomeRejected:
				logger.Warn("更新被拒绝",
					zap.String("instrument", rec.Instrument),
					zap.Uint64("seq", rec.Sequence),
					zap.Error(outcome.Reason))
			}

		case <-sweepTicker.C:
			lastSweepEvicted = reg.SweepStale(staleThreshold, timeutil.NowNano())

		case <-metricsTicker.C:
			if metricsWriter == nil {
				continue
			}
			_ = metricsWriter.Write(buildMetricsRecord(reg, client, tracker, lastSweepEvicted))
			writeAnalytics(cfg, reg, metricsWriter)
			_ = metricsWriter.Flush()
		}
	}
}

// maybeWriteTop 盘口顶变动时写一条记录
// 通过 seqlock 版本号判断变动，避免对未变动的盘口做十进制换算。
func maybeWriteTop(reg *registry.Registry, instrument string, versions map[string]uint64, w *jsonl.Writer) {
	if w == nil {
		return
	}
	b, ok := reg.Get(instrument)
	if !ok {
		return
	}

	_, _, _, _, version := b.PollTop()
	if versions[instrument] == version {
		return
	}
	versions[instrument] = version

	rec := jsonl.TopOfBookRecord{
		Ts:         timeutil.NowMs(),
		Instrument: instrument,
		Sequence:   b.Sequence(),
	}
	spec := b.Spec()
	if lv, ok := b.BestBid(); ok {
		rec.BestBid = fixedpoint.DequantizePrice(lv.Tick, &spec).String()
		rec.BestBidSize = fixedpoint.DequantizeSize(lv.Size, &spec).String()
	}
	if lv, ok := b.BestAsk(); ok {
		rec.BestAsk = fixedpoint.DequantizePrice(lv.Tick, &spec).String()
		rec.BestAskSize = fixedpoint.DequantizeSize(lv.Size, &spec).String()
	}
	if bps, ok := b.SpreadBps(); ok {
		rec.SpreadBps = bps
	}
	_ = w.Write(rec)
}

// writeAnalytics 随指标周期输出每簿的分析快照
// 配置了 sim.probe_size 时附带流动性探针结果。
func writeAnalytics(cfg *config.Config, reg *registry.Registry, w *jsonl.Writer) {
	ts := timeutil.NowMs()
	probeSize, probeEnabled := cfg.Sim.ProbeSizeDecimal()
	for _, a := range reg.Analytics() {
		rec := jsonl.BookAnalyticsRecord{
			Ts:         ts,
			Instrument: a.Instrument,
			State:      a.State,
			Sequence:   a.Sequence,
			BidLevels:  a.BidLevels,
			AskLevels:  a.AskLevels,
			BidTotal:   a.BidTotal.String(),
			AskTotal:   a.AskTotal.String(),
			SpreadBps:  a.SpreadBps,
			Crossed:    a.Crossed,
		}
		if !a.Spread.IsZero() {
			rec.Spread = a.Spread.String()
		}
		if !a.Mid.IsZero() {
			rec.Mid = a.Mid.String()
		}
		if probeEnabled {
			probeBook(reg, a.Instrument, probeSize, cfg.Sim.DefaultFeeBps, &rec)
		}
		_ = w.Write(rec)
	}
}

// probeBook 对一个 Book 模拟标准数量的买入与卖出，填充探针字段
// 探针只读；某一边无成交时对应字段留空。
func probeBook(reg *registry.Registry, instrument string, size decimal.Decimal, feeBps float64, rec *jsonl.BookAnalyticsRecord) {
	b, ok := reg.Get(instrument)
	if !ok {
		return
	}
	spec := b.Spec()
	qty, err := fixedpoint.QuantizeSize(size, &spec)
	if err != nil || qty == 0 {
		return
	}
	limits := sim.Limits{FeeBps: feeBps}

	if exec, err := sim.Simulate(b, sim.Request{
		Side: model.SideBid, Mode: sim.ModeSizeIn, Size: qty,
	}, limits); err == nil && exec.FilledSize > 0 {
		rec.ProbeBuyAvg = exec.AvgPrice.String()
		rec.ProbeBuyImpactBps = exec.ImpactBps
	}
	if exec, err := sim.Simulate(b, sim.Request{
		Side: model.SideAsk, Mode: sim.ModeSizeIn, Size: qty,
	}, limits); err == nil && exec.FilledSize > 0 {
		rec.ProbeSellAvg = exec.AvgPrice.String()
		rec.ProbeSellImpactBps = exec.ImpactBps
	}
}

// buildMetricsRecord 构建周期性指标记录
func buildMetricsRecord(reg *registry.Registry, client *clobws.Client, tracker *ingest.Tracker, sweepEvicted int) jsonl.MetricsRecord {
	stats := tracker.Stats()
	connMetrics := client.Metrics()

	return jsonl.MetricsRecord{
		Ts:              timeutil.NowMs(),
		Books:           reg.Len(),
		Applied:         stats.Applied,
		Resynced:        stats.Resynced,
		GapDetected:     stats.GapDetected,
		Rejected:        stats.Rejected,
		Ignored:         stats.Ignored,
		ApplyP50Us:      stats.ApplyP50Us,
		ApplyP99Us:      stats.ApplyP99Us,
		FeedLagP50Ms:    stats.FeedLagP50Ms,
		FeedLagP99Ms:    stats.FeedLagP99Ms,
		WsReconnects:    connMetrics.ReconnectCount,
		WsParseErrors:   connMetrics.ParseErrorCount,
		WsUpdatesPerSec: connMetrics.UpdatesPerSec,
		WsLastMsgAgeMs:  connMetrics.LastMessageAgeMs,
		SweepEvicted:    sweepEvicted,
	}
}
