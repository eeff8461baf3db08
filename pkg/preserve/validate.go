package preserve

import (
	"fmt"
	"strings"
)

// 独立 QA 校验器：对 (original, restored) 做结构计数比对，与还原映射状态
// 无关，可在任意时刻安全调用。失败只代表外部改写破坏了结构，调用方通常
// 把它降级为警告而不是中止。

// ValidateFenceCounts 比对围栏标记行数量
func ValidateFenceCounts(original, restored string) error {
	originalCount := len(fenceLineRe.FindAllString(original, -1))
	restoredCount := len(fenceLineRe.FindAllString(restored, -1))
	if originalCount != restoredCount {
		return fmt.Errorf("%w: original=%d restored=%d", ErrFenceCountMismatch, originalCount, restoredCount)
	}
	return nil
}

// mathDelimiterCounts 八种数学定界符的计数元组：
// $、$$、\(、\)、\[、\]、\begin、\end
type mathDelimiterCounts struct {
	singleDollar int
	doubleDollar int
	openParen    int
	closeParen   int
	openBracket  int
	closeBracket int
	beginEnv     int
	endEnv       int
}

// ValidateMathDelimiters 比对八种数学定界符的计数
func ValidateMathDelimiters(original, restored string) error {
	if countMathDelimiters(original) != countMathDelimiters(restored) {
		return ErrMathDelimiterMismatch
	}
	return nil
}

// ValidateURLTargets 比对提取出的 URL 目标串，要求逐个按序完全一致
func ValidateURLTargets(original, restored string) error {
	originalTargets := extractURLTargets(original)
	restoredTargets := extractURLTargets(restored)
	if len(originalTargets) != len(restoredTargets) {
		return fmt.Errorf("%w: original has %d targets, restored has %d",
			ErrURLTargetMismatch, len(originalTargets), len(restoredTargets))
	}
	for i := range originalTargets {
		if originalTargets[i] != restoredTargets[i] {
			return fmt.Errorf("%w: target %d changed from %q to %q",
				ErrURLTargetMismatch, i, originalTargets[i], restoredTargets[i])
		}
	}
	return nil
}

func countMathDelimiters(text string) mathDelimiterCounts {
	single, double := countDollarDelimiters(text)
	return mathDelimiterCounts{
		singleDollar: single,
		doubleDollar: double,
		openParen:    countLiteralSequence(text, `\(`),
		closeParen:   countLiteralSequence(text, `\)`),
		openBracket:  countLiteralSequence(text, `\[`),
		closeBracket: countLiteralSequence(text, `\]`),
		beginEnv:     countEnvMarkers(text, `\begin{`),
		endEnv:       countEnvMarkers(text, `\end{`),
	}
}

func countDollarDelimiters(text string) (int, int) {
	single, double := 0, 0
	index := 0
	for index < len(text) {
		if text[index] != '$' || isEscaped(text, index) {
			index++
			continue
		}
		if index+1 < len(text) && text[index+1] == '$' {
			double++
			index += 2
			continue
		}
		single++
		index++
	}
	return single, double
}

func countLiteralSequence(text, token string) int {
	count := 0
	index := 0
	for index <= len(text)-len(token) {
		if text[index:index+len(token)] == token && !isEscaped(text, index) {
			count++
			index += len(token)
			continue
		}
		index++
	}
	return count
}

// countEnvMarkers 统计 \begin{env} / \end{env} 形式的标记，
// 前一个字符是反斜杠时视为被转义不计
func countEnvMarkers(text, prefix string) int {
	count := 0
	index := 0
	for {
		rel := strings.Index(text[index:], prefix)
		if rel < 0 {
			return count
		}
		at := index + rel
		closing := strings.IndexByte(text[at+len(prefix):], '}')
		if closing < 0 {
			return count
		}
		if closing > 0 && (at == 0 || text[at-1] != '\\') {
			count++
		}
		index = at + len(prefix)
	}
}
