// Package chunk 把长 Markdown 文档切分成尺寸受限、可逐块独立送外部改写、
// 且拼接后逐字节还原原文的有序分块。切分尊重标题与空行结构，并且绝不
// 切开受保护结构（代码块、数学公式等）。
package chunk

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nerdneilsfield/markdown-translate/pkg/preserve"
)

// 配置与内部不变量错误
var (
	// ErrInvalidChunkSize 尺寸上限非正
	ErrInvalidChunkSize = errors.New("max chunk chars must be positive")

	// ErrSeparatorOverflow 单独的分隔符就超过尺寸上限（配置错误）
	ErrSeparatorOverflow = errors.New("separator exceeds max chunk chars")

	// ErrSegmentOverflow 打包阶段出现超限单元（展开阶段保证下应不可达）
	ErrSegmentOverflow = errors.New("segment exceeds max chunk chars")
)

// PlanEntry 分块计划条目。SourceText 是原文的精确子串（含其名下的分隔
// 文本），按 id 顺序拼接所有条目的 SourceText 必然等于原文。
type PlanEntry struct {
	ChunkID    string   `json:"chunk_id"`
	SourceText string   `json:"source_text"`
	Separators []string `json:"separators"`
}

type segment struct {
	text      string
	separator string
}

type section struct {
	text  string
	start int
}

type draft struct {
	sourceText string
	separators []string
}

var (
	headingRe   = regexp.MustCompile(`^[ \t]{0,3}#{1,6}[ \t]+`)
	blankLineRe = regexp.MustCompile(`(?:\r?\n[ \t]*){2,}`)
)

// Plan 构建分块计划。空文本返回空计划；maxChunkChars 非正返回配置错误。
func Plan(text string, maxChunkChars int) ([]PlanEntry, error) {
	if maxChunkChars <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, maxChunkChars)
	}
	if text == "" {
		return []PlanEntry{}, nil
	}

	protectedSpans := preserve.FindProtectedSpans(text)
	sections := splitByHeadings(text, protectedSpans)

	var drafts []draft
	for _, sec := range sections {
		segments, err := splitSectionSegments(sec.text, sec.start, protectedSpans, maxChunkChars)
		if err != nil {
			return nil, err
		}
		packed, err := packSegments(segments, maxChunkChars)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, packed...)
	}

	return assignChunkIDs(drafts), nil
}

// Reconstruct 按序拼接所有条目的 SourceText
func Reconstruct(entries []PlanEntry) string {
	var builder strings.Builder
	for _, entry := range entries {
		builder.WriteString(entry.SourceText)
	}
	return builder.String()
}

// Payload 返回计划的平面可序列化记录形式
func Payload(entries []PlanEntry) []map[string]any {
	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		separators := entry.Separators
		if separators == nil {
			separators = []string{}
		}
		payload = append(payload, map[string]any{
			"chunk_id":    entry.ChunkID,
			"source_text": entry.SourceText,
			"separators":  separators,
		})
	}
	return payload
}

// splitByHeadings 按标题行切段。落在受保护区间内的标题形状行不开新段。
func splitByHeadings(text string, protectedSpans []preserve.ProtectedSpan) []section {
	boundaries := []int{0}
	offset := 0
	for offset < len(text) {
		end := strings.IndexByte(text[offset:], '\n')
		var line string
		if end < 0 {
			line = text[offset:]
			end = len(text) - offset
		} else {
			line = text[offset : offset+end+1]
			end++
		}
		if headingRe.MatchString(line) && !indexInSpans(offset, protectedSpans) {
			if offset != boundaries[len(boundaries)-1] {
				boundaries = append(boundaries, offset)
			}
		}
		offset += end
	}
	if boundaries[len(boundaries)-1] != len(text) {
		boundaries = append(boundaries, len(text))
	}

	sections := make([]section, 0, len(boundaries)-1)
	for i := 0; i+1 < len(boundaries); i++ {
		sections = append(sections, section{text: text[boundaries[i]:boundaries[i+1]], start: boundaries[i]})
	}
	return sections
}

// splitSectionSegments 在段内按不与受保护区间重叠的空行串切分，
// 得到 (text, separator) 序列加一个尾巴。
func splitSectionSegments(sectionText string, sectionStart int, protectedSpans []preserve.ProtectedSpan, maxChunkChars int) ([]segment, error) {
	var parts []segment
	lastIndex := 0

	for _, loc := range blankLineRe.FindAllStringIndex(sectionText, -1) {
		absStart := sectionStart + loc[0]
		absEnd := sectionStart + loc[1]
		if overlapsSpans(absStart, absEnd, protectedSpans) {
			continue
		}
		if loc[0] < lastIndex {
			continue
		}
		expanded, err := expandPart(sectionText[lastIndex:loc[0]], sectionText[loc[0]:loc[1]], maxChunkChars)
		if err != nil {
			return nil, err
		}
		parts = append(parts, expanded...)
		lastIndex = loc[1]
	}

	expanded, err := expandPart(sectionText[lastIndex:], "", maxChunkChars)
	if err != nil {
		return nil, err
	}
	return append(parts, expanded...), nil
}

// expandPart 展开一个 (text, separator) 对：文本本身超限则强制细分；
// 文本加分隔符放得下则保持整体；只有分隔符放不下时拆成文本单元加独立
// 分隔符单元（分隔符永不丢弃）；单独分隔符仍超限是配置错误。
func expandPart(text, separator string, maxChunkChars int) ([]segment, error) {
	if text == "" && separator == "" {
		return nil, nil
	}
	textLen := len(text)
	sepLen := len(separator)
	if textLen > maxChunkChars {
		return forceSplit(text, separator, maxChunkChars), nil
	}
	if textLen+sepLen <= maxChunkChars {
		return []segment{{text: text, separator: separator}}, nil
	}
	if sepLen > maxChunkChars {
		return nil, fmt.Errorf("%w: separator length %d > limit %d", ErrSeparatorOverflow, sepLen, maxChunkChars)
	}
	return []segment{{text: text}, {separator: separator}}, nil
}

// forceSplit 反复在允许窗口内寻找切点：优先最后一个句末标点加空白，
// 其次最后一个换行，再次最后一个空格，实在没有就在上限处硬切。
// 原始分隔符只附着在最后一个片段上。
func forceSplit(text, separator string, maxChunkChars int) []segment {
	var segments []segment
	remaining := text

	for len(remaining) > maxChunkChars {
		cut := maxChunkChars
		best := lastSentenceBoundary(remaining, cut)
		if best <= 0 {
			best = strings.LastIndexByte(remaining[:cut], '\n')
		}
		if best <= 0 {
			best = strings.LastIndexByte(remaining[:cut], ' ')
		}
		if best <= 0 {
			best = hardCut(remaining, cut)
		}
		segments = append(segments, segment{text: remaining[:best]})
		remaining = remaining[best:]
	}

	return append(segments, segment{text: remaining, separator: separator})
}

// hardCut 在上限处硬切，尽量退到符文边界；退无可退时按字节切以保证推进
func hardCut(text string, cut int) int {
	adjusted := cut
	for adjusted > 0 && !utf8.RuneStart(text[adjusted]) {
		adjusted--
	}
	if adjusted == 0 {
		return cut
	}
	return adjusted
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？'
}

// lastSentenceBoundary 返回 limit 窗口内最后一个"句末标点+空白串"的结束
// 位置，没有则返回 -1
func lastSentenceBoundary(text string, limit int) int {
	best := -1
	var prev rune
	index := 0
	for index < limit {
		r, width := utf8.DecodeRuneInString(text[index:])
		if width == 0 || index+width > limit {
			break
		}
		if unicode.IsSpace(r) && isSentenceEnd(prev) {
			end := index
			for end < limit {
				next, nextWidth := utf8.DecodeRuneInString(text[end:])
				if nextWidth == 0 || end+nextWidth > limit || !unicode.IsSpace(next) {
					break
				}
				end += nextWidth
			}
			best = end
			prev = ' '
			index = end
			continue
		}
		prev = r
		index += width
	}
	return best
}

// packSegments 贪心打包：把连续单元塞进当前块，塞不下且当前块非空时
// 封块另起。单个单元超限说明展开阶段被绕过，按内部不变量错误上报。
func packSegments(segments []segment, maxChunkChars int) ([]draft, error) {
	var drafts []draft
	var textParts []string
	var separators []string
	currentLen := 0

	flush := func() {
		drafts = append(drafts, draft{
			sourceText: strings.Join(textParts, ""),
			separators: append([]string(nil), separators...),
		})
		textParts = textParts[:0]
		separators = separators[:0]
		currentLen = 0
	}

	for _, seg := range segments {
		segLen := len(seg.text) + len(seg.separator)
		if segLen > maxChunkChars {
			return nil, fmt.Errorf("%w: unit length %d > limit %d", ErrSegmentOverflow, segLen, maxChunkChars)
		}
		if currentLen+segLen > maxChunkChars && currentLen > 0 {
			flush()
		}
		textParts = append(textParts, seg.text, seg.separator)
		separators = append(separators, seg.separator)
		currentLen += segLen
	}

	if len(textParts) > 0 {
		flush()
	}
	return drafts, nil
}

// assignChunkIDs 编号为 chunk-NNNN：1 起始，零填充到 max(4, 总数位数)
func assignChunkIDs(drafts []draft) []PlanEntry {
	if len(drafts) == 0 {
		return []PlanEntry{}
	}
	width := len(fmt.Sprintf("%d", len(drafts)))
	if width < 4 {
		width = 4
	}
	entries := make([]PlanEntry, 0, len(drafts))
	for i, d := range drafts {
		entries = append(entries, PlanEntry{
			ChunkID:    fmt.Sprintf("chunk-%0*d", width, i+1),
			SourceText: d.sourceText,
			Separators: d.separators,
		})
	}
	return entries
}

func indexInSpans(index int, spans []preserve.ProtectedSpan) bool {
	for _, span := range spans {
		if span.Start <= index && index < span.End {
			return true
		}
	}
	return false
}

func overlapsSpans(start, end int, spans []preserve.ProtectedSpan) bool {
	for _, span := range spans {
		if span.End <= start || span.Start >= end {
			continue
		}
		return true
	}
	return false
}
