// Package clobws 定义 CLOB 行情网关的消息类型。
package clobws

// SubscribeRequest 订阅请求
// 用于订阅 book 频道
type SubscribeRequest struct {
	// Type 操作类型: subscribe, unsubscribe
	Type string `json:"type"`
	// Channel 频道名称: book
	Channel string `json:"channel"`
	// Instruments 合约标识列表
	Instruments []string `json:"instruments"`
}

// SnapshotRequest 快照请求
// 检测到序列号 gap 后带外请求全量快照
type SnapshotRequest struct {
	// Type 操作类型: snapshot_request
	Type string `json:"type"`
	// Instrument 合约标识
	Instrument string `json:"instrument"`
}

// ControlResponse 网关控制响应
type ControlResponse struct {
	// Type 响应类型: subscribed, error
	Type string `json:"type"`
	// Channel 频道名称
	Channel string `json:"channel,omitempty"`
	// Msg 错误消息
	Msg string `json:"msg,omitempty"`
}

// WireLevel 行情帧中的单个档位
// 价格与数量为十进制字符串，无损传递到量化层
type WireLevel struct {
	// Price 价格
	Price string `json:"price"`
	// Size 数量
	Size string `json:"size"`
}

// WireChange 增量帧中的单个变更
type WireChange struct {
	// Side 盘口方向: bid, ask
	Side string `json:"side"`
	// Price 价格
	Price string `json:"price"`
	// Size 数量，"0" 表示删除该档位
	Size string `json:"size"`
}

// BookFrame 订单簿行情帧
// 字段映射:
// - kind: snapshot 为全量快照，delta 为增量
// - sequence: 按合约单调递增的序列号
// - timestamp: 交易所事件时间戳（毫秒字符串）
type BookFrame struct {
	// Kind 帧类型: snapshot, delta
	Kind string `json:"kind"`
	// Instrument 合约标识
	Instrument string `json:"instrument"`
	// Sequence 序列号
	Sequence uint64 `json:"sequence"`
	// Timestamp 交易所时间戳（毫秒字符串）
	Timestamp string `json:"timestamp"`
	// Bids 买盘档位（仅 snapshot）
	Bids []WireLevel `json:"bids,omitempty"`
	// Asks 卖盘档位（仅 snapshot）
	Asks []WireLevel `json:"asks,omitempty"`
	// Changes 变更列表（仅 delta）
	Changes []WireChange `json:"changes,omitempty"`
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64
	// SnapshotRequestCount 快照请求次数
	SnapshotRequestCount int64
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64
	// WsRttMs WebSocket RTT（毫秒）
	WsRttMs int64
}
