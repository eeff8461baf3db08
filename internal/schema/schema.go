// Package schema 提供对解码后 JSON 值的断言辅助。LLM 返回的载荷不可信，
// 各处散落的 "字段必须是字符串/整数/布尔/列表" 检查统一收拢到这里，
// 由调用方传入自己的错误构造器来决定错误类别。
package schema

import (
	"math"
	"strings"
)

// ErrorFunc 由调用方提供的错误构造器，message 中总是带上字段标签
type ErrorFunc func(format string, args ...any) error

// RequireMap 断言 value 是 JSON 对象
func RequireMap(value any, label string, newErr ErrorFunc) (map[string]any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, newErr("%s must be a JSON object", label)
	}
	return m, nil
}

// RequireList 断言 value 是 JSON 数组
func RequireList(value any, label string, newErr ErrorFunc) ([]any, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, newErr("%s must be a JSON array", label)
	}
	return list, nil
}

// RequireString 断言 value 是字符串
func RequireString(value any, label string, newErr ErrorFunc) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", newErr("%s must be a string", label)
	}
	return s, nil
}

// RequireInt 断言 value 是整数。encoding/json 把数字解码成 float64，
// 这里要求其为整值
func RequireInt(value any, label string, newErr ErrorFunc) (int, error) {
	f, ok := value.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, newErr("%s must be an integer", label)
	}
	return int(f), nil
}

// RequireBool 断言 value 是布尔
func RequireBool(value any, label string, newErr ErrorFunc) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, newErr("%s must be a boolean", label)
	}
	return b, nil
}

// RequireStringList 断言 value 是字符串列表。LLM 偶尔会返回 null 或单个
// 字符串，这里宽容地做归一化
func RequireStringList(value any, label string, newErr ErrorFunc) ([]string, error) {
	if value == nil {
		return []string{}, nil
	}
	if s, ok := value.(string); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, nil
		}
		return []string{s}, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, newErr("%s must be a list of strings", label)
	}
	values := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, newErr("%s[%d] must be a string", label, i)
		}
		values = append(values, s)
	}
	return values, nil
}
