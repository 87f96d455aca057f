// Package metadata 负责从行情网关获取市场元数据并解析 tick 描述符。
package metadata

// MarketsResponse 市场元数据 API 响应
// API: GET /markets
type MarketsResponse struct {
	// Markets 市场列表
	Markets []Market `json:"markets"`
	// NextCursor 分页游标，空表示最后一页
	NextCursor string `json:"next_cursor,omitempty"`
}

// Market 单个市场信息
// 字段映射来自网关 API 响应
type Market struct {
	// Instrument 合约标识（token id）
	Instrument string `json:"instrument"`
	// Question 市场描述，如 "Will X happen by Y?"
	Question string `json:"question,omitempty"`
	// Active 是否可交易
	Active bool `json:"active"`
	// TickSize 最小价格变动（十进制字符串），如 "0.0001"
	TickSize string `json:"tick_size"`
	// SizeScale 数量定标的十进制位数
	SizeScale uint32 `json:"size_scale"`
	// MinTick 合法域下界（含）
	MinTick uint32 `json:"min_tick"`
	// MaxTick 合法域上界（含）
	MaxTick uint32 `json:"max_tick"`
}
