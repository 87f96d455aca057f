// Package model 错误分类定义。
// 对外暴露的失败信息统一携带：分类、合约标识、序列号（若有意义）与简短描述。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind 错误分类
type ErrorKind int

const (
	// ErrKindValidation 校验错误：非法 tick、非法 scale、未知方向、数量溢出。
	// 不重试；违规更新被丢弃并上报。
	ErrKindValidation ErrorKind = iota
	// ErrKindSequence 序列号错误：检测到 gap。
	// 并非真正的失败：Book 进入 AwaitingSnapshot，等待快照修复。
	ErrKindSequence
	// ErrKindResource 资源错误：锁争用超时等。可重试。
	ErrKindResource
	// ErrKindInvariant 不变量错误：编程缺陷（如删除数量不一致的档位）。
	// 致命：Book 被毒化，不再接受后续更新。
	ErrKindInvariant
	// ErrKindSimulation 模拟错误：impact 计算中的数值溢出。
	// 仅对本次模拟致命，Book 不受影响。
	ErrKindSimulation
)

// String 返回分类的可读名称
func (k ErrorKind) String() string {
	switch k {
	case ErrKindValidation:
		return "validation"
	case ErrKindSequence:
		return "sequence"
	case ErrKindResource:
		return "resource"
	case ErrKindInvariant:
		return "invariant"
	case ErrKindSimulation:
		return "simulation"
	default:
		return "unknown"
	}
}

// CoreError 引擎对外暴露的结构化错误
type CoreError struct {
	// Kind 错误分类
	Kind ErrorKind
	// Instrument 合约标识
	Instrument string
	// Sequence 序列号（无意义时为 0）
	Sequence uint64
	// Msg 简短描述
	Msg string
	// Err 底层错误（可为 nil）
	Err error
}

// Error 实现 error 接口
func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s (instrument=%s seq=%d): %v", e.Kind, e.Msg, e.Instrument, e.Sequence, e.Err)
	}
	return fmt.Sprintf("[%s] %s (instrument=%s seq=%d)", e.Kind, e.Msg, e.Instrument, e.Sequence)
}

// Unwrap 返回底层错误
func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewValidationError 构造校验错误
func NewValidationError(instrument string, seq uint64, msg string, err error) *CoreError {
	return &CoreError{Kind: ErrKindValidation, Instrument: instrument, Sequence: seq, Msg: msg, Err: err}
}

// NewSequenceError 构造序列号错误
func NewSequenceError(instrument string, seq uint64, msg string) *CoreError {
	return &CoreError{Kind: ErrKindSequence, Instrument: instrument, Sequence: seq, Msg: msg}
}

// NewInvariantError 构造不变量错误
func NewInvariantError(instrument string, seq uint64, msg string, err error) *CoreError {
	return &CoreError{Kind: ErrKindInvariant, Instrument: instrument, Sequence: seq, Msg: msg, Err: err}
}

// NewSimulationError 构造模拟错误
func NewSimulationError(instrument string, msg string, err error) *CoreError {
	return &CoreError{Kind: ErrKindSimulation, Instrument: instrument, Msg: msg, Err: err}
}

// KindOf 提取错误的分类
// 非 CoreError 返回 (0, false)。
func KindOf(err error) (ErrorKind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}
