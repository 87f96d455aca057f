// Package clobws 实现 CLOB 行情消息解析。
// 字段映射: timestamp -> TimestampMs, sequence -> Sequence
package clobws

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"prediction-book-engine/internal/core/model"
	"prediction-book-engine/internal/util/fastparse"
	"prediction-book-engine/internal/util/timeutil"
)

// Decoder 行情帧解码器
// feed 边界上唯一的动态分发点：不同网关格式各自实现 Decode。
type Decoder interface {
	// Decode 将原始帧解码为统一更新记录
	// 非行情帧返回 (nil, nil)。
	Decode(data []byte, arrivedNs int64) ([]*model.UpdateRecord, error)
}

// Parser CLOB 行情解析器
type Parser struct{}

// NewParser 创建 CLOB 行情解析器
func NewParser() *Parser {
	return &Parser{}
}

// Parse 解析 WebSocket 消息
// 参数 data: 原始消息字节
// 返回: UpdateRecord 列表
func (p *Parser) Parse(data []byte) ([]*model.UpdateRecord, error) {
	return p.Decode(data, timeutil.NowNano())
}

// Decode 实现 Decoder 接口
// 参数 arrivedNs: 本机到达时间（纳秒），staleness 判定基准
func (p *Parser) Decode(data []byte, arrivedNs int64) ([]*model.UpdateRecord, error) {
	var frame BookFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("解析行情帧失败: %w", err)
	}

	switch frame.Kind {
	case "snapshot":
		rec, err := p.parseSnapshot(&frame, arrivedNs)
		if err != nil {
			return nil, err
		}
		return []*model.UpdateRecord{rec}, nil
	case "delta":
		rec, err := p.parseDelta(&frame, arrivedNs)
		if err != nil {
			return nil, err
		}
		return []*model.UpdateRecord{rec}, nil
	default:
		// 未知帧类型，忽略
		return nil, nil
	}
}

// parseSnapshot 解析快照帧
func (p *Parser) parseSnapshot(frame *BookFrame, arrivedNs int64) (*model.UpdateRecord, error) {
	if frame.Instrument == "" {
		return nil, fmt.Errorf("快照帧缺少合约标识")
	}

	bids, err := parseLevels(frame.Bids)
	if err != nil {
		return nil, fmt.Errorf("解析快照买盘失败: %w", err)
	}
	asks, err := parseLevels(frame.Asks)
	if err != nil {
		return nil, fmt.Errorf("解析快照卖盘失败: %w", err)
	}

	return &model.UpdateRecord{
		Kind:            model.KindSnapshot,
		Instrument:      frame.Instrument,
		Sequence:        frame.Sequence,
		TimestampMs:     fastparse.MustParseInt(frame.Timestamp),
		ArrivedAtUnixNs: arrivedNs,
		Bids:            bids,
		Asks:            asks,
	}, nil
}

// parseDelta 解析增量帧
func (p *Parser) parseDelta(frame *BookFrame, arrivedNs int64) (*model.UpdateRecord, error) {
	if frame.Instrument == "" {
		return nil, fmt.Errorf("增量帧缺少合约标识")
	}

	changes := make([]model.LevelChange, 0, len(frame.Changes))
	for i, ch := range frame.Changes {
		side := model.Side(ch.Side)
		if !side.IsValid() {
			return nil, fmt.Errorf("changes[%d]: 未知盘口方向: %s", i, ch.Side)
		}
		price, err := decimal.NewFromString(ch.Price)
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: 解析价格失败: %w", i, err)
		}
		size, err := decimal.NewFromString(ch.Size)
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: 解析数量失败: %w", i, err)
		}
		changes = append(changes, model.LevelChange{Side: side, Price: price, Size: size})
	}

	return &model.UpdateRecord{
		Kind:            model.KindDelta,
		Instrument:      frame.Instrument,
		Sequence:        frame.Sequence,
		TimestampMs:     fastparse.MustParseInt(frame.Timestamp),
		ArrivedAtUnixNs: arrivedNs,
		Changes:         changes,
	}, nil
}

// parseLevels 解析档位列表
func parseLevels(levels []WireLevel) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(levels))
	for i, lv := range levels {
		price, err := decimal.NewFromString(lv.Price)
		if err != nil {
			return nil, fmt.Errorf("levels[%d]: 解析价格失败: %w", i, err)
		}
		size, err := decimal.NewFromString(lv.Size)
		if err != nil {
			return nil, fmt.Errorf("levels[%d]: 解析数量失败: %w", i, err)
		}
		out = append(out, model.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// IsControlResponse 判断是否为网关控制响应
func IsControlResponse(data []byte) bool {
	var resp ControlResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false
	}
	return resp.Type == "subscribed" || resp.Type == "error"
}

// IsPong 判断是否为 pong 响应
func IsPong(data []byte) bool {
	return string(data) == "pong"
}
