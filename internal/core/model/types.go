// Package model 定义订单簿引擎使用的核心数据结构。
// 包含盘口方向、行情更新记录、错误分类等共享类型。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 盘口方向
type Side string

const (
	// SideBid 买盘
	SideBid Side = "bid"
	// SideAsk 卖盘
	SideAsk Side = "ask"
)

// IsValid 检查方向是否为已知值
func (s Side) IsValid() bool {
	return s == SideBid || s == SideAsk
}

// Opposite 返回对手方向
// 买单吃卖盘，卖单吃买盘。
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// UpdateKind 更新记录类型
type UpdateKind string

const (
	// KindSnapshot 全量快照：完整替换一个 Book 的内容
	KindSnapshot UpdateKind = "snapshot"
	// KindDelta 增量更新：相对上一个序列号的变更集
	KindDelta UpdateKind = "delta"
)

// PriceLevel 快照中的单个价格档位
// 价格与数量均为交易所边界的十进制表示，量化在 fixedpoint 层完成。
type PriceLevel struct {
	// Price 价格（十进制）
	Price decimal.Decimal
	// Size 数量（十进制），快照中必须 > 0
	Size decimal.Decimal
}

// LevelChange 增量更新中的单个档位变更
type LevelChange struct {
	// Side 盘口方向: bid 或 ask
	Side Side
	// Price 价格（十进制）
	Price decimal.Decimal
	// Size 数量（十进制），为 0 表示删除该档位
	Size decimal.Decimal
}

// UpdateRecord 统一行情更新记录
// 由 feed 解码器产出，是 Book Registry 消费的唯一输入形态。
type UpdateRecord struct {
	// Kind 更新类型: snapshot 或 delta
	Kind UpdateKind
	// Instrument 合约/市场标识（不透明字符串，如 token id）
	Instrument string
	// Sequence 按合约单调递增的序列号
	Sequence uint64
	// TimestampMs 交易所事件时间戳（毫秒）
	TimestampMs int64
	// ArrivedAtUnixNs 本机收到消息的时间戳（纳秒）
	// 用于 staleness 判定，是 GC 的主基准
	ArrivedAtUnixNs int64

	// Bids 快照买盘档位（仅 snapshot）
	Bids []PriceLevel
	// Asks 快照卖盘档位（仅 snapshot）
	Asks []PriceLevel
	// Changes 增量变更列表（仅 delta）
	Changes []LevelChange
}

// ArrivedAt 获取到达时间的 time.Time 表示
func (u *UpdateRecord) ArrivedAt() time.Time {
	return time.Unix(0, u.ArrivedAtUnixNs)
}

// ExchTs 获取交易所事件时间的 time.Time 表示
// 若 TimestampMs 为 0，返回零值
func (u *UpdateRecord) ExchTs() time.Time {
	if u.TimestampMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(u.TimestampMs)
}
