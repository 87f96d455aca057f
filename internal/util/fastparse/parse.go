// Package fastparse 提供高性能的字符串解析函数。
// 避免在热路径使用 fmt.Sprintf，使用 strconv 进行转换。
// 主要用于解析行情帧中的时间戳与序列号字段。
package fastparse

import (
	"strconv"
)

// ParseInt 快速解析整数字符串
// 使用 strconv.ParseInt 实现，支持 64 位整数
// 参数 s: 待解析的字符串，如 "12345"
// 返回: 解析后的整数和可能的错误
func ParseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// ParseUint 快速解析无符号整数字符串
// 用于解析序列号等非负整数
// 参数 s: 待解析的字符串
// 返回: 解析后的无符号整数和可能的错误
func ParseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// MustParseInt 解析整数，失败时返回 0
// 用于已知格式正确的场景，简化错误处理
// 参数 s: 待解析的字符串
// 返回: 解析后的整数，失败返回 0
func MustParseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// MustParseUint 解析无符号整数，失败时返回 0
// 参数 s: 待解析的字符串
// 返回: 解析后的无符号整数，失败返回 0
func MustParseUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
