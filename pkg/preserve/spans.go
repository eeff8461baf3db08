package preserve

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SpanKind 受保护区间的类别，同时也是占位符中的大写类别名
type SpanKind string

const (
	KindCodeBlock  SpanKind = "CODE_BLOCK"
	KindMathBlock  SpanKind = "MATH_BLOCK"
	KindMathInline SpanKind = "MATH_INLINE"
	KindInlineCode SpanKind = "INLINE_CODE"
	KindURL        SpanKind = "URL"
	KindHTML       SpanKind = "HTML"
)

// ProtectedSpan 原文上的半开区间 [Start, End)，必须原样穿过外部改写
type ProtectedSpan struct {
	Start int
	End   int
	Kind  SpanKind
}

var (
	fenceStartRe = regexp.MustCompile("^[ \t]*(`{3,}|~{3,})")
	fenceLineRe  = regexp.MustCompile("(?m)^[ \t]*(`{3,}|~{3,})")
	beginMathRe  = regexp.MustCompile(`\\begin\{([^\}]+)\}`)
	htmlTagRe    = regexp.MustCompile(`(?s)<(?:!--.*?--|!DOCTYPE[^<>]*|/?[A-Za-z][A-Za-z0-9:-]*(?:\s[^<>]*?)?/?)>`)
	refDefRe     = regexp.MustCompile(`^[ \t]*\[[^\]]+\]:[ \t]*`)
)

// FindProtectedSpans 扫描原文，返回按 (Start, End) 排序、两两不相交的受保护区间。
// 不同类别的候选区间重叠时按固定优先级取舍：代码块 > 块级数学 > 行内数学 >
// 行内代码 > URL > HTML，落选候选整体丢弃而不是截断。
func FindProtectedSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	spans = appendNonOverlapping(spans, findFencedCodeSpans(text))
	spans = appendNonOverlapping(spans, findDisplayDollarMathSpans(text))
	spans = appendNonOverlapping(spans, findBracketDisplayMathSpans(text))
	spans = appendNonOverlapping(spans, findBeginEndMathSpans(text))
	spans = appendNonOverlapping(spans, findInlineBracketMathSpans(text))
	spans = appendNonOverlapping(spans, findInlineDollarMathSpans(text))
	spans = appendNonOverlapping(spans, findInlineCodeSpans(text))
	spans = appendNonOverlapping(spans, findURLSpans(text))
	spans = appendNonOverlapping(spans, findHTMLTagSpans(text))

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	return spans
}

func appendNonOverlapping(spans []ProtectedSpan, candidates []ProtectedSpan) []ProtectedSpan {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End < candidates[j].End
	})
	for _, candidate := range candidates {
		if !overlapsAny(candidate.Start, candidate.End, spans) {
			spans = append(spans, candidate)
		}
	}
	return spans
}

func overlapsAny(start, end int, spans []ProtectedSpan) bool {
	for _, span := range spans {
		if span.End <= start || span.Start >= end {
			continue
		}
		return true
	}
	return false
}

// isEscaped 判断 index 处的字符是否被转义：前面有奇数个连续反斜杠
func isEscaped(text string, index int) bool {
	backslashes := 0
	for cursor := index - 1; cursor >= 0 && text[cursor] == '\\'; cursor-- {
		backslashes++
	}
	return backslashes%2 == 1
}

func countRun(text string, index int, ch byte) int {
	count := 0
	for index+count < len(text) && text[index+count] == ch {
		count++
	}
	return count
}

// eachLine 逐行回调，line 带结尾换行符，offset 为行首在 text 中的字节偏移
func eachLine(text string, fn func(offset int, line string)) {
	offset := 0
	for offset < len(text) {
		end := strings.IndexByte(text[offset:], '\n')
		if end < 0 {
			fn(offset, text[offset:])
			return
		}
		fn(offset, text[offset:offset+end+1])
		offset += end + 1
	}
}

// findFencedCodeSpans 识别围栏代码块：3 个以上同种反引号/波浪号开栏，
// 同字符且长度不小于开栏的整行收栏，未收栏则一直延伸到文末。
func findFencedCodeSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	var fenceChar byte
	fenceLen := 0
	fenceStart := -1

	eachLine(text, func(offset int, line string) {
		if fenceChar != 0 {
			if isFenceClose(line, fenceChar, fenceLen) {
				spans = append(spans, ProtectedSpan{Start: fenceStart, End: offset + len(line), Kind: KindCodeBlock})
				fenceChar = 0
				fenceLen = 0
				fenceStart = -1
			}
			return
		}
		if m := fenceStartRe.FindStringSubmatch(line); m != nil {
			fenceChar = m[1][0]
			fenceLen = len(m[1])
			fenceStart = offset
		}
	})

	if fenceChar != 0 && fenceStart >= 0 {
		spans = append(spans, ProtectedSpan{Start: fenceStart, End: len(text), Kind: KindCodeBlock})
	}
	return spans
}

func isFenceClose(line string, fenceChar byte, fenceLen int) bool {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return false
	}
	i := 0
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	run := countRun(line, i, fenceChar)
	if run < fenceLen {
		return false
	}
	for j := i + run; j < len(line); j++ {
		if line[j] != ' ' && line[j] != '\t' {
			return false
		}
	}
	return true
}

// findDisplayDollarMathSpans 把未转义的 $$ 作为开/闭定界符顺序配对，
// 落单的开栏延伸到文末。
func findDisplayDollarMathSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	start := -1
	index := 0
	for index < len(text)-1 {
		if text[index] == '$' && text[index+1] == '$' && !isEscaped(text, index) {
			if start < 0 {
				start = index
			} else {
				spans = append(spans, ProtectedSpan{Start: start, End: index + 2, Kind: KindMathBlock})
				start = -1
			}
			index += 2
			continue
		}
		index++
	}
	if start >= 0 {
		spans = append(spans, ProtectedSpan{Start: start, End: len(text), Kind: KindMathBlock})
	}
	return spans
}

func findBracketDisplayMathSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	index := 0
	for index < len(text)-1 {
		if !(text[index] == '\\' && text[index+1] == '[' && !isEscaped(text, index)) {
			index++
			continue
		}
		start := index
		closed := false
		for search := index + 2; search < len(text)-1; search++ {
			if text[search] == '\\' && text[search+1] == ']' && !isEscaped(text, search) {
				spans = append(spans, ProtectedSpan{Start: start, End: search + 2, Kind: KindMathBlock})
				index = search + 2
				closed = true
				break
			}
		}
		if !closed {
			spans = append(spans, ProtectedSpan{Start: start, End: len(text), Kind: KindMathBlock})
			index = len(text)
		}
	}
	return spans
}

func findBeginEndMathSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	for _, m := range beginMathRe.FindAllStringSubmatchIndex(text, -1) {
		start := m[0]
		if isEscaped(text, start) {
			continue
		}
		env := text[m[2]:m[3]]
		closer := `\end{` + env + `}`
		rel := strings.Index(text[m[1]:], closer)
		if rel < 0 {
			continue
		}
		spans = append(spans, ProtectedSpan{Start: start, End: m[1] + rel + len(closer), Kind: KindMathBlock})
	}
	return spans
}

// findInlineBracketMathSpans 在单行内配对 \( 与 \)；扫描触及文末仍未闭合时
// 延伸到文末，行内出现换行则放弃该开栏继续向后扫描。
func findInlineBracketMathSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	index := 0
	for index < len(text)-1 {
		if !(text[index] == '\\' && text[index+1] == '(' && !isEscaped(text, index)) {
			index++
			continue
		}
		start := index
		search := index + 2
		matched := false
		for ; search < len(text)-1; search++ {
			if text[search] == '\n' {
				break
			}
			if text[search] == '\\' && text[search+1] == ')' && !isEscaped(text, search) {
				spans = append(spans, ProtectedSpan{Start: start, End: search + 2, Kind: KindMathInline})
				index = search + 2
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if search < len(text)-1 && text[search] == '\n' {
			index = start + 2
			continue
		}
		spans = append(spans, ProtectedSpan{Start: start, End: len(text), Kind: KindMathInline})
		index = len(text)
	}
	return spans
}

// findInlineDollarMathSpans 识别单 $ 行内数学。启发式拒绝规则：内容去空白后
// 为空、内侧紧邻空白、闭合 $ 后面跟数字、内容不含字母或运算/结构字符，
// 用来避开 "$5 and $10" 这类货币写法。
func findInlineDollarMathSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	index := 0
	for index < len(text) {
		if text[index] != '$' || isEscaped(text, index) {
			index++
			continue
		}
		if index+1 < len(text) && text[index+1] == '$' {
			index += 2
			continue
		}
		if index+1 >= len(text) || isSpaceAt(text, index+1) {
			index++
			continue
		}

		search := index + 1
		found := false
		for search < len(text) {
			if text[search] == '\n' {
				break
			}
			if text[search] != '$' || isEscaped(text, search) {
				search++
				continue
			}
			if search+1 < len(text) && text[search+1] == '$' {
				search += 2
				continue
			}
			if isSpaceBefore(text, search) {
				search++
				continue
			}
			if search+1 < len(text) && text[search+1] >= '0' && text[search+1] <= '9' {
				search++
				continue
			}
			candidate := text[index+1 : search]
			if !looksLikeMath(candidate) {
				break
			}
			spans = append(spans, ProtectedSpan{Start: index, End: search + 1, Kind: KindMathInline})
			index = search + 1
			found = true
			break
		}
		if !found {
			index++
		}
	}
	return spans
}

func isSpaceAt(text string, index int) bool {
	r, _ := utf8.DecodeRuneInString(text[index:])
	return unicode.IsSpace(r)
}

func isSpaceBefore(text string, index int) bool {
	r, _ := utf8.DecodeLastRuneInString(text[:index])
	return unicode.IsSpace(r)
}

var (
	mathOperatorRe = regexp.MustCompile(`[\\^_=\{\}\[\]<>+\-*/]`)
	mathLetterRe   = regexp.MustCompile(`[A-Za-z]`)
)

func looksLikeMath(content string) bool {
	stripped := strings.TrimSpace(content)
	if stripped == "" {
		return false
	}
	return mathOperatorRe.MatchString(stripped) || mathLetterRe.MatchString(stripped)
}

// findInlineCodeSpans 识别行内代码：N 个反引号开栏，恰好 N 个反引号收栏。
// 没有匹配收栏、或候选区间会吞掉一个占位符形状的 token 时，在该位置回退
// 而不是贪到文末。
func findInlineCodeSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	index := 0
	for index < len(text) {
		if text[index] != '`' || isEscaped(text, index) {
			index++
			continue
		}

		tickCount := countRun(text, index, '`')
		start := index
		search := index + tickCount
		closed := false
		for search < len(text) {
			if text[search] == '`' && !isEscaped(text, search) {
				if countRun(text, search, '`') == tickCount {
					candidate := text[start : search+tickCount]
					if containsPlaceholderToken(candidate) {
						index = start + tickCount
					} else {
						spans = append(spans, ProtectedSpan{Start: start, End: search + tickCount, Kind: KindInlineCode})
						index = search + tickCount
					}
					closed = true
					break
				}
			}
			search++
		}
		if closed {
			continue
		}
		if containsPlaceholderToken(text[start:]) {
			index = start + tickCount
		} else {
			spans = append(spans, ProtectedSpan{Start: start, End: len(text), Kind: KindInlineCode})
			index = len(text)
		}
	}
	return spans
}

func findURLSpans(text string) []ProtectedSpan {
	spans := findInlineLinkURLSpans(text)
	return append(spans, findReferenceDefinitionURLSpans(text)...)
}

func findInlineLinkURLSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	index := 0
	for index < len(text) {
		var bracketIndex int
		switch {
		case text[index] == '!' && index+1 < len(text) && text[index+1] == '[':
			bracketIndex = index + 1
		case text[index] == '[':
			bracketIndex = index
		default:
			index++
			continue
		}

		if isEscaped(text, bracketIndex) {
			index++
			continue
		}

		labelEnd, ok := findMatchingBracket(text, bracketIndex)
		if !ok {
			index++
			continue
		}

		cursor := labelEnd + 1
		for cursor < len(text) && isSpaceAt(text, cursor) {
			if text[cursor] == '\r' || text[cursor] == '\n' {
				break
			}
			cursor++
		}
		if cursor >= len(text) || text[cursor] != '(' {
			index = labelEnd + 1
			continue
		}

		destStart := cursor + 1
		destEnd, ok := findMatchingParen(text, destStart)
		if !ok {
			index = labelEnd + 1
			continue
		}

		destination := text[destStart:destEnd]
		if urlStart, urlEnd, ok := parseLinkDestination(destination); ok && urlStart < urlEnd {
			spans = append(spans, ProtectedSpan{Start: destStart + urlStart, End: destStart + urlEnd, Kind: KindURL})
		}
		index = destEnd + 1
	}
	return spans
}

func findReferenceDefinitionURLSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	eachLine(text, func(offset int, line string) {
		loc := refDefRe.FindStringIndex(line)
		if loc == nil {
			return
		}
		destination := line[loc[1]:]
		if urlStart, urlEnd, ok := parseLinkDestination(destination); ok && urlStart < urlEnd {
			spans = append(spans, ProtectedSpan{
				Start: offset + loc[1] + urlStart,
				End:   offset + loc[1] + urlEnd,
				Kind:  KindURL,
			})
		}
	})
	return spans
}

// parseLinkDestination 解析链接目标：尖括号形式到 > 为止；裸形式到第一个
// 未转义空白或失配的右括号为止，内部配对括号计深度，反斜杠可转义。
func parseLinkDestination(destination string) (int, int, bool) {
	index := 0
	for index < len(destination) && isSpaceAt(destination, index) {
		index++
	}
	if index >= len(destination) {
		return 0, 0, false
	}

	if destination[index] == '<' {
		end := strings.IndexByte(destination[index+1:], '>')
		if end < 0 {
			return 0, 0, false
		}
		return index + 1, index + 1 + end, true
	}

	start := index
	depth := 0
	for index < len(destination) {
		ch := destination[index]
		if ch == '\n' {
			break
		}
		if ch == '\\' {
			index += 2
			continue
		}
		if ch == '(' {
			depth++
		} else if ch == ')' {
			if depth == 0 {
				break
			}
			depth--
		} else if isSpaceAt(destination, index) && depth == 0 {
			break
		}
		index++
	}

	if index <= start {
		return 0, 0, false
	}
	if index > len(destination) {
		index = len(destination)
	}
	return start, index, true
}

func findMatchingBracket(text string, startIndex int) (int, bool) {
	depth := 0
	for index := startIndex; index < len(text); index++ {
		if text[index] == '[' && !isEscaped(text, index) {
			depth++
		} else if text[index] == ']' && !isEscaped(text, index) {
			depth--
			if depth == 0 {
				return index, true
			}
		}
	}
	return 0, false
}

func findMatchingParen(text string, startIndex int) (int, bool) {
	depth := 0
	index := startIndex
	for index < len(text) {
		ch := text[index]
		if ch == '\n' {
			return 0, false
		}
		if ch == '\\' {
			index += 2
			continue
		}
		if ch == '(' {
			depth++
		} else if ch == ')' {
			if depth == 0 {
				return index, true
			}
			depth--
		}
		index++
	}
	return 0, false
}

// findHTMLTagSpans 逐个结构化匹配注释、doctype 与单个开/闭/自闭合标签，
// 不做嵌套分析。
func findHTMLTagSpans(text string) []ProtectedSpan {
	var spans []ProtectedSpan
	for _, loc := range htmlTagRe.FindAllStringIndex(text, -1) {
		if isEscaped(text, loc[0]) {
			continue
		}
		spans = append(spans, ProtectedSpan{Start: loc[0], End: loc[1], Kind: KindHTML})
	}
	return spans
}

func extractURLTargets(text string) []string {
	spans := findURLSpans(text)
	targets := make([]string, 0, len(spans))
	for _, span := range spans {
		targets = append(targets, text[span.Start:span.End])
	}
	return targets
}
