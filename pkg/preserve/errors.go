package preserve

import (
	"errors"
	"fmt"
)

// 独立 QA 校验器的预定义错误，每种校验失败对应一个可用 errors.Is 判别的哨兵。
var (
	// ErrFenceCountMismatch 代码围栏数量不一致
	ErrFenceCountMismatch = errors.New("code fence count mismatch")

	// ErrMathDelimiterMismatch 数学定界符数量不一致
	ErrMathDelimiterMismatch = errors.New("math delimiter count mismatch")

	// ErrURLTargetMismatch URL 目标不一致
	ErrURLTargetMismatch = errors.New("URL target mismatch")
)

// ErrorKind 保护层错误类别
type ErrorKind string

const (
	// KindDetection protect 阶段检测错误（输入已含占位符、计数器溢出等）
	KindDetection ErrorKind = "detection"
	// KindRestoration restore 阶段错误（占位符缺失/重复/未知、键格式非法）
	KindRestoration ErrorKind = "restoration"
)

// Error 保护层错误，Message 中始终点名出问题的 token 或边界
type Error struct {
	Kind    ErrorKind
	Message string
}

// Error 实现 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("preserve %s: %s", e.Kind, e.Message)
}

func detectionErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindDetection, Message: fmt.Sprintf(format, args...)}
}

func restorationErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindRestoration, Message: fmt.Sprintf(format, args...)}
}
