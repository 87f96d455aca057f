// Package clobws 实现 CLOB 行情网关的 WebSocket 客户端。
// 订阅频道: book（快照 + 增量）
// 心跳机制: 文本 ping/pong
// gap 修复: RequestSnapshot 带外请求指定合约的全量快照
package clobws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"prediction-book-engine/internal/config"
	"prediction-book-engine/internal/core/model"
	"prediction-book-engine/internal/util/backoff"
	"prediction-book-engine/internal/util/timeutil"
)

// Client CLOB 行情 WebSocket 客户端
type Client struct {
	// cfg WebSocket 配置
	cfg *config.WSConfig
	// instruments 订阅的合约标识列表
	instruments []string
	// logger 日志记录器
	logger *zap.Logger
	// decoder 行情帧解码器
	decoder Decoder
	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 连接锁
	connMu sync.Mutex
	// recordCh 更新记录输出通道
	recordCh chan *model.UpdateRecord
	// errCh 错误输出通道
	errCh chan error
	// metrics 连接指标
	metrics ConnectionMetrics
	// metricsMu 指标锁
	metricsMu sync.RWMutex
	// lastMsgTime 最后消息时间
	lastMsgTime int64
	// lastPingSentNs 上次发送 ping 的时间（纳秒）
	lastPingSentNs int64
	// lastPongRecvNs 上次收到 pong 的时间（纳秒）
	lastPongRecvNs int64
	// updateCount 更新计数（用于计算 QPS）
	updateCount int64
	// backoff 重连退避
	backoff *backoff.Backoff
	// closed 是否已关闭
	closed int32

	// parseErrSampleCount 解析错误计数（用于采样日志）
	parseErrSampleCount uint64
	// lastParseErrLogNs 上次解析错误日志时间（纳秒）
	lastParseErrLogNs int64
}

// NewClient 创建 CLOB 行情客户端
// 参数 cfg: WebSocket 配置
// 参数 instruments: 订阅的合约标识列表
// 参数 logger: 日志记录器
func NewClient(cfg *config.WSConfig, instruments []string, logger *zap.Logger) *Client {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 1000
	}
	return &Client{
		cfg:         cfg,
		instruments: instruments,
		logger:      logger.Named("clobws"),
		decoder:     NewParser(),
		recordCh:    make(chan *model.UpdateRecord, bufSize),
		errCh:       make(chan error, 10),
		backoff: backoff.New(
			time.Duration(cfg.ReconnectBaseMs)*time.Millisecond,
			time.Duration(cfg.ReconnectMaxMs)*time.Millisecond,
			0.2),
	}
}

// Connect 建立 WebSocket 连接
// 参数 ctx: 上下文，用于取消连接
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "prediction-book-engine/1.0")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接行情网关失败: %w", err)
	}

	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("行情网关连接成功", zap.String("url", c.cfg.URL))

	return nil
}

// Subscribe 订阅合约
// 订阅 book 频道，网关先推送全量快照再推送增量
func (c *Client) Subscribe() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}

	req := SubscribeRequest{
		Type:        "subscribe",
		Channel:     "book",
		Instruments: c.instruments,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	c.logger.Info("订阅请求已发送", zap.Int("instruments", len(c.instruments)))
	return nil
}

// RequestSnapshot 带外请求指定合约的全量快照
// 在检测到序列号 gap 后调用，修复 AwaitingSnapshot 状态
func (c *Client) RequestSnapshot(instrument string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}

	req := SnapshotRequest{
		Type:       "snapshot_request",
		Instrument: instrument,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化快照请求失败: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送快照请求失败: %w", err)
	}

	c.metricsMu.Lock()
	c.metrics.SnapshotRequestCount++
	c.metricsMu.Unlock()

	c.logger.Info("快照请求已发送", zap.String("instrument", instrument))
	return nil
}

// Run 启动客户端主循环
// 包含读取循环和心跳循环。
// recordCh 在读取循环退出后由本方法关闭：readLoop 是唯一发送者，
// 由发送方关闭通道才不会与并发发送相撞。
func (c *Client) Run(ctx context.Context) {
	defer close(c.recordCh)

	// 启动心跳 goroutine
	go c.heartbeatLoop(ctx)

	// 启动指标统计 goroutine
	go c.metricsLoop(ctx)

	// 读取循环
	c.readLoop(ctx)
}

// readLoop 读取循环
// 持续读取 WebSocket 消息并解码
func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			// 尝试重连
			c.reconnect(ctx)
			continue
		}

		// 读取消息
		_, data, err := conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}
			c.logger.Warn("读取行情消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.reconnect(ctx)
			continue
		}

		// 更新最后消息时间
		nowNs := timeutil.NowNano()
		atomic.StoreInt64(&c.lastMsgTime, nowNs)

		// 处理 pong 响应
		if IsPong(data) {
			atomic.StoreInt64(&c.lastPongRecvNs, nowNs)
			lastPing := atomic.LoadInt64(&c.lastPingSentNs)
			if lastPing > 0 {
				rttMs := (nowNs - lastPing) / 1_000_000
				c.metricsMu.Lock()
				c.metrics.WsRttMs = rttMs
				c.metricsMu.Unlock()
			}
			continue
		}

		// 处理网关控制响应
		if IsControlResponse(data) {
			c.logger.Debug("收到控制响应", zap.ByteString("data", data))
			continue
		}

		// 解码行情帧
		records, err := c.decoder.Decode(data, nowNs)
		if err != nil {
			c.incrementParseErrorCount()
			c.maybeLogParseError(err, data)
			continue
		}

		// 发送更新记录到通道
		for _, rec := range records {
			atomic.AddInt64(&c.updateCount, 1)
			select {
			case c.recordCh <- rec:
			default:
				c.logger.Warn("recordCh 已满，丢弃更新", zap.String("instrument", rec.Instrument))
			}
		}
	}
}

// heartbeatLoop 心跳循环
// 按配置间隔发送 ping，期望在超时窗口内收到 pong
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.PingIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			c.connMu.Lock()
			conn := c.conn
			if conn == nil {
				c.connMu.Unlock()
				continue
			}

			// 发送 ping（gorilla/websocket 不允许并发多写者，用 connMu 串行化写入）
			pingTime := timeutil.NowNano()
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				c.connMu.Unlock()
				c.logger.Warn("发送 ping 失败", zap.Error(err))
				continue
			}
			atomic.StoreInt64(&c.lastPingSentNs, pingTime)
			c.connMu.Unlock()

			// 检查 pong 是否按期返回（允许与行情推送并行）
			lastPing := atomic.LoadInt64(&c.lastPingSentNs)
			lastPong := atomic.LoadInt64(&c.lastPongRecvNs)
			if lastPing > 0 && lastPong < lastPing {
				if timeutil.NowNano()-lastPing > int64(c.cfg.PongTimeoutMs)*1_000_000 {
					c.logger.Warn("心跳超时，触发重连")
					c.incrementReconnectCount()
					c.closeConn()
				}
			}
		}
	}
}

// metricsLoop 指标统计循环
// 每秒计算 QPS
func (c *Client) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			// 计算 QPS
			count := atomic.LoadInt64(&c.updateCount)
			qps := float64(count - lastCount)
			lastCount = count

			// 计算最后消息距今时间
			lastMsg := atomic.LoadInt64(&c.lastMsgTime)
			var ageMs int64
			if lastMsg > 0 {
				ageMs = (timeutil.NowNano() - lastMsg) / 1_000_000
			}

			c.metricsMu.Lock()
			c.metrics.UpdatesPerSec = qps
			c.metrics.LastMessageAgeMs = ageMs
			c.metricsMu.Unlock()
		}
	}
}

// reconnect 重连
// 重连成功后重新订阅，网关会推送新的全量快照，
// 增量序列号从快照续起，Registry 侧自然完成重建。
func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()

	// 等待退避时间
	delay := c.backoff.Next()
	c.logger.Info("准备重连", zap.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	// 重新连接
	if err := c.Connect(ctx); err != nil {
		c.logger.Error("重连失败", zap.Error(err))
		return
	}

	// 重新订阅
	if err := c.Subscribe(); err != nil {
		c.logger.Error("重新订阅失败", zap.Error(err))
	}
}

// closeConn 关闭连接
func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端
// recordCh 不在这里关闭：它归发送方 readLoop 所有，随 Run 退出而关闭。
func (c *Client) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	c.closeConn()
	close(c.errCh)
	c.logger.Info("行情客户端已关闭")
	return nil
}

// RecordCh 获取更新记录通道
func (c *Client) RecordCh() <-chan *model.UpdateRecord {
	return c.recordCh
}

// ErrCh 获取错误通道
func (c *Client) ErrCh() <-chan error {
	return c.errCh
}

// Metrics 获取连接指标
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

// incrementReconnectCount 增加重连计数
func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

// incrementParseErrorCount 增加解析错误计数
func (c *Client) incrementParseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ParseErrorCount++
	c.metricsMu.Unlock()
}

// maybeLogParseError 采样记录解析错误原始消息，避免刷盘
// 采样策略：每 100 次错误记录 1 条，且同一类日志至少间隔 1 分钟。
func (c *Client) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&c.parseErrSampleCount, 1)
	if count%100 != 0 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&c.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析行情消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
