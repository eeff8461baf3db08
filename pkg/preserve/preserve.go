// Package preserve 实现 Markdown 受保护结构的占位符替换协议：
// 在文本送入不可信的外部改写步骤之前，把代码块、数学公式、行内代码、
// 链接目标与原始 HTML 替换成惰性占位符，改写完成后再严格校验并还原，
// 保证这些结构逐字节不变地穿过外部步骤。
package preserve

import (
	"regexp"
	"sort"
	"strings"

	"github.com/dlclark/regexp2"
)

const maxPlaceholdersPerKind = 999

// 占位符文法：__ + 大写类别名 + _ + 三位计数 + __，且不得紧跟在
// 单词字符后面。负向后顾断言超出 RE2 能力，这里与批量替换一样用 regexp2。
var (
	placeholderRe    = regexp2.MustCompile(`(?<![_A-Za-z0-9])__([A-Z][A-Z_]*)_[0-9]{3}__`, 0)
	placeholderKeyRe = regexp.MustCompile(`^__[A-Z][A-Z_]*_[0-9]{3}__$`)
)

// RestorationMap 占位符到原文子串的映射，由 Protect 产出、Restore 消费。
// 仅作审计用途时可以直接按普通 string→string 记录序列化。
type RestorationMap map[string]string

// Options 控制 Protect 的提取行为
type Options struct {
	// SkipInlineCode 跳过行内代码提取（占位符过多时调用方可降级重试）
	SkipInlineCode bool
}

// Protect 把 text 中所有受保护区间替换成占位符，返回替换后的文本与还原映射。
// 输入已含占位符形状 token、或单一类别计数超过 999 时报检测错误且无部分输出。
func Protect(text string) (string, RestorationMap, error) {
	return ProtectWithOptions(text, Options{})
}

// ProtectWithOptions 同 Protect，但允许跳过行内代码提取
func ProtectWithOptions(text string, opts Options) (string, RestorationMap, error) {
	if err := ensureNoPlaceholderTokens(text, "input text", detectionErrorf); err != nil {
		return "", nil, err
	}

	// 计数器按调用新建，不做任何进程级状态
	restoration := make(RestorationMap)
	counters := make(map[SpanKind]int)

	passes := []struct {
		kind SpanKind
		find func(string) []ProtectedSpan
		skip bool
	}{
		{kind: KindCodeBlock, find: findFencedCodeSpans},
		{kind: KindMathBlock, find: findDisplayDollarMathSpans},
		{kind: KindMathBlock, find: findBracketDisplayMathSpans},
		{kind: KindMathBlock, find: findBeginEndMathSpans},
		{kind: KindMathInline, find: findInlineBracketMathSpans},
		{kind: KindMathInline, find: findInlineDollarMathSpans},
		{kind: KindInlineCode, find: findInlineCodeSpans, skip: opts.SkipInlineCode},
		{kind: KindURL, find: findURLSpans},
		{kind: KindHTML, find: findHTMLTagSpans},
	}

	protected := text
	for _, pass := range passes {
		if pass.skip {
			continue
		}
		var err error
		protected, err = applySpans(protected, pass.find(protected), pass.kind, counters, restoration)
		if err != nil {
			return "", nil, err
		}
	}

	if err := ValidateRestoration(protected, restoration); err != nil {
		return "", nil, err
	}
	return protected, restoration, nil
}

// applySpans 用占位符替换 spans。替换走索引式缓冲重建：按起点升序在有序
// 不相交区间之间拷贝原文片段，避免原地改写带来的偏移失效。
func applySpans(text string, spans []ProtectedSpan, kind SpanKind, counters map[SpanKind]int, restoration RestorationMap) (string, error) {
	if len(spans) == 0 {
		return text, nil
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var builder strings.Builder
	builder.Grow(len(text))
	last := 0
	for _, span := range spans {
		placeholder, err := nextPlaceholder(kind, counters)
		if err != nil {
			return "", err
		}
		restoration[placeholder] = text[span.Start:span.End]
		builder.WriteString(text[last:span.Start])
		builder.WriteString(placeholder)
		last = span.End
	}
	builder.WriteString(text[last:])
	return builder.String(), nil
}

func nextPlaceholder(kind SpanKind, counters map[SpanKind]int) (string, error) {
	count := counters[kind] + 1
	if count > maxPlaceholdersPerKind {
		return "", detectionErrorf("too many placeholders for %s", kind)
	}
	counters[kind] = count
	return placeholderToken(kind, count), nil
}

func placeholderToken(kind SpanKind, count int) string {
	var b strings.Builder
	b.WriteString("__")
	b.WriteString(string(kind))
	b.WriteByte('_')
	b.WriteByte(byte('0' + count/100))
	b.WriteByte(byte('0' + count/10%10))
	b.WriteByte(byte('0' + count%10))
	b.WriteString("__")
	return b.String()
}

// Restore 把映射中的占位符替换回原文。strict 模式在替换前重新校验占位符
// 的存在性/唯一性/未知 token（用于未经外部改写的文本）；非强模式容忍缺失
// 的键（外部改写偶尔会弄丢 token，可复查的结果好过整体丢弃）。
func Restore(protectedText string, restoration RestorationMap, strict bool) (string, error) {
	for key := range restoration {
		if !placeholderKeyRe.MatchString(key) {
			return "", restorationErrorf("invalid placeholder format: %s", key)
		}
	}
	if strict {
		if err := ValidateRestoration(protectedText, restoration); err != nil {
			return "", err
		}
	}

	if len(restoration) == 0 {
		return protectedText, nil
	}

	presentKeys := make([]string, 0, len(restoration))
	for key := range restoration {
		if strings.Contains(protectedText, key) {
			presentKeys = append(presentKeys, key)
		}
	}
	if len(presentKeys) == 0 {
		return protectedText, nil
	}

	// 最长键优先的单遍替换，避免部分 token 撞车
	sort.Slice(presentKeys, func(i, j int) bool {
		if len(presentKeys[i]) != len(presentKeys[j]) {
			return len(presentKeys[i]) > len(presentKeys[j])
		}
		return presentKeys[i] < presentKeys[j]
	})
	quoted := make([]string, len(presentKeys))
	for i, key := range presentKeys {
		quoted[i] = regexp.QuoteMeta(key)
	}
	pattern := regexp.MustCompile(strings.Join(quoted, "|"))
	restored := pattern.ReplaceAllStringFunc(protectedText, func(token string) string {
		return restoration[token]
	})

	if err := ensureNoPlaceholderTokens(restored, "restored text", restorationErrorf); err != nil {
		return "", err
	}
	return restored, nil
}

// ValidateRestoration 校验映射中的每个占位符在文本中恰好出现一次，
// 且文本中不存在未登记的占位符形状 token。
func ValidateRestoration(protectedText string, restoration RestorationMap) error {
	keys := make([]string, 0, len(restoration))
	for key := range restoration {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		count := strings.Count(protectedText, key)
		if count == 0 {
			return restorationErrorf("placeholder missing: %s", key)
		}
		if count > 1 {
			return restorationErrorf("placeholder duplicated: %s (count=%d)", key, count)
		}
	}

	m, err := placeholderRe.FindStringMatch(protectedText)
	for err == nil && m != nil {
		token := m.String()
		if _, ok := restoration[token]; !ok {
			return restorationErrorf("unknown placeholder found: %s", token)
		}
		m, err = placeholderRe.FindNextMatch(m)
	}
	return nil
}

// FindPlaceholderToken 返回文本中第一个占位符形状的 token，不存在则返回空串
func FindPlaceholderToken(text string) string {
	m, err := placeholderRe.FindStringMatch(text)
	if err != nil || m == nil {
		return ""
	}
	return m.String()
}

// StripUnknownPlaceholders 删除文本中所有未登记的占位符形状 token，
// 登记过的保持原样。用于外部改写产物的清洗。
func StripUnknownPlaceholders(text string, restoration RestorationMap) string {
	cleaned, err := placeholderRe.ReplaceFunc(text, func(m regexp2.Match) string {
		token := m.String()
		if _, ok := restoration[token]; ok {
			return token
		}
		return ""
	}, -1, -1)
	if err != nil {
		return text
	}
	return cleaned
}

func containsPlaceholderToken(text string) bool {
	ok, err := placeholderRe.MatchString(text)
	return err == nil && ok
}

func ensureNoPlaceholderTokens(text, label string, errorf func(format string, args ...any) *Error) error {
	if token := FindPlaceholderToken(text); token != "" {
		return errorf("%s contains placeholder-like token: %s", label, token)
	}
	return nil
}
