// Package formatter 对拼装完成的文档做可选的 Markdown 规范化。格式化
// 前先用标记把受保护结构（代码、公式、链接目标等）整体藏起来，防止
// 格式化器改写其内部字节。
package formatter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Kunde21/markdownfmt/v3"
	"github.com/Kunde21/markdownfmt/v3/markdown"

	"github.com/nerdneilsfield/markdown-translate/pkg/preserve"
)

// FormatMarkdown 规范化 Markdown 文本。失败时调用方应退回未格式化版本。
func FormatMarkdown(text string) (string, error) {
	shielded, markers := shieldProtected(text)

	formatted, err := markdownfmt.Process("", []byte(shielded),
		markdown.WithCodeFormatters(markdown.GoCodeFormatter))
	if err != nil {
		return "", fmt.Errorf("markdown formatting failed: %w", err)
	}

	result := restoreShielded(string(formatted), markers)
	if !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	return result, nil
}

// shieldProtected 把每个受保护区间替换成 @@PRESERVE_n@@ 标记。标记不含
// 下划线连写，不会被格式化器当成强调语法改写。
func shieldProtected(text string) (string, map[string]string) {
	spans := preserve.FindProtectedSpans(text)
	markers := make(map[string]string, len(spans))
	if len(spans) == 0 {
		return text, markers
	}

	var builder strings.Builder
	builder.Grow(len(text))
	cursor := 0
	for i, span := range spans {
		marker := fmt.Sprintf("@@PRESERVE_%d@@", i+1)
		markers[marker] = text[span.Start:span.End]
		builder.WriteString(text[cursor:span.Start])
		builder.WriteString(marker)
		cursor = span.End
	}
	builder.WriteString(text[cursor:])
	return builder.String(), markers
}

func restoreShielded(text string, markers map[string]string) string {
	keys := make([]string, 0, len(markers))
	for key := range markers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		text = strings.ReplaceAll(text, key, markers[key])
	}
	return text
}
