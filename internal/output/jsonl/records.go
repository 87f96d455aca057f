// Package jsonl 输出记录类型定义。
package jsonl

// TopOfBookRecord 盘口顶记录
// 盘口顶变动时输出一条
type TopOfBookRecord struct {
	// Ts 本机时间戳（毫秒）
	Ts int64 `json:"ts"`
	// Instrument 合约标识
	Instrument string `json:"instrument"`
	// Sequence 最近应用的序列号
	Sequence uint64 `json:"sequence"`
	// BestBid 最优买价（十进制字符串，空表示该边为空）
	BestBid string `json:"best_bid,omitempty"`
	// BestBidSize 最优买量
	BestBidSize string `json:"best_bid_size,omitempty"`
	// BestAsk 最优卖价
	BestAsk string `json:"best_ask,omitempty"`
	// BestAskSize 最优卖量
	BestAskSize string `json:"best_ask_size,omitempty"`
	// SpreadBps 价差（基点）
	SpreadBps float64 `json:"spread_bps,omitempty"`
}

// BookAnalyticsRecord 单簿分析记录
// 随指标周期每簿输出一条
type BookAnalyticsRecord struct {
	// Ts 本机时间戳（毫秒）
	Ts int64 `json:"ts"`
	// Instrument 合约标识
	Instrument string `json:"instrument"`
	// State Book 状态
	State string `json:"state"`
	// Sequence 最近应用的序列号
	Sequence uint64 `json:"sequence"`
	// BidLevels 买盘档位数
	BidLevels int `json:"bid_levels"`
	// AskLevels 卖盘档位数
	AskLevels int `json:"ask_levels"`
	// BidTotal 买盘数量合计
	BidTotal string `json:"bid_total"`
	// AskTotal 卖盘数量合计
	AskTotal string `json:"ask_total"`
	// Spread 价差
	Spread string `json:"spread,omitempty"`
	// Mid 中间价
	Mid string `json:"mid,omitempty"`
	// SpreadBps 价差（基点）
	SpreadBps float64 `json:"spread_bps,omitempty"`
	// Crossed 簿是否交叉
	Crossed bool `json:"crossed,omitempty"`
	// ProbeBuyAvg 流动性探针买入均价（未启用或未成交时为空）
	ProbeBuyAvg string `json:"probe_buy_avg,omitempty"`
	// ProbeBuyImpactBps 流动性探针买入冲击（基点）
	ProbeBuyImpactBps float64 `json:"probe_buy_impact_bps,omitempty"`
	// ProbeSellAvg 流动性探针卖出均价
	ProbeSellAvg string `json:"probe_sell_avg,omitempty"`
	// ProbeSellImpactBps 流动性探针卖出冲击（基点）
	ProbeSellImpactBps float64 `json:"probe_sell_impact_bps,omitempty"`
}

// MetricsRecord 周期性指标记录
type MetricsRecord struct {
	// Ts 本机时间戳（毫秒）
	Ts int64 `json:"ts"`
	// Books 当前 Book 数量
	Books int `json:"books"`
	// Applied 成功应用的更新数（累计）
	Applied int64 `json:"applied"`
	// Resynced 快照重建次数（累计）
	Resynced int64 `json:"resynced"`
	// GapDetected 序列号 gap 次数（累计）
	GapDetected int64 `json:"gap_detected"`
	// Rejected 校验拒绝次数（累计）
	Rejected int64 `json:"rejected"`
	// Ignored 被忽略的增量数（累计）
	Ignored int64 `json:"ignored"`
	// ApplyP50Us apply 耗时 P50（微秒）
	ApplyP50Us float64 `json:"apply_p50_us"`
	// ApplyP99Us apply 耗时 P99（微秒）
	ApplyP99Us float64 `json:"apply_p99_us"`
	// FeedLagP50Ms 行情链路时延 P50（毫秒）
	FeedLagP50Ms float64 `json:"feed_lag_p50_ms"`
	// FeedLagP99Ms 行情链路时延 P99（毫秒）
	FeedLagP99Ms float64 `json:"feed_lag_p99_ms"`
	// WsReconnects WebSocket 重连次数（累计）
	WsReconnects int64 `json:"ws_reconnects"`
	// WsParseErrors WebSocket 解析错误次数（累计）
	WsParseErrors int64 `json:"ws_parse_errors"`
	// WsUpdatesPerSec 每秒更新次数
	WsUpdatesPerSec float64 `json:"ws_updates_per_sec"`
	// WsLastMsgAgeMs 最后消息距今时间（毫秒）
	WsLastMsgAgeMs int64 `json:"ws_last_msg_age_ms"`
	// SweepEvicted 最近一次清扫清除的 Book 数
	SweepEvicted int `json:"sweep_evicted"`
}
