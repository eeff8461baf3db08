package translator

import (
	"regexp"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// 每块提示词里术语表的预算，超出部分按优先级丢弃
const (
	defaultMaxGlossaryTerms = 30
	defaultMaxGlossaryChars = 2000
)

var (
	whitespaceRe    = regexp.MustCompile(`\s+`)
	glossaryTokenRe = regexp.MustCompile(`[a-z0-9]+`)
	nonWordCharRe   = regexp.MustCompile(`[^\w\s]`)
)

// normalizeGlossaryText 大小写折叠、连字符转空格、空白收拢、NFC 归一
func normalizeGlossaryText(value string) string {
	normalized := cases.Fold().String(norm.NFC.String(value))
	normalized = strings.ReplaceAll(normalized, "-", " ")
	normalized = whitespaceRe.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

func tokenizeGlossaryText(value string) []string {
	normalized := normalizeGlossaryText(value)
	if normalized == "" {
		return nil
	}
	return glossaryTokenRe.FindAllString(normalized, -1)
}

// hasExactPhrase 多词术语的整短语匹配：词边界优先，失败退到子串
func hasExactPhrase(termNormalized, chunkNormalized string) bool {
	if termNormalized == "" {
		return false
	}
	pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(termNormalized) + `\b`)
	if pattern.MatchString(chunkNormalized) {
		return true
	}
	return strings.Contains(chunkNormalized, termNormalized)
}

// hasWordBoundary 单词术语的词边界匹配。术语含标点时词边界不可靠，
// 退到子串，再退到大小写无关的模糊匹配兜底。
func hasWordBoundary(termNormalized, chunkNormalized string) bool {
	if termNormalized == "" {
		return false
	}
	if nonWordCharRe.MatchString(termNormalized) {
		if strings.Contains(chunkNormalized, termNormalized) {
			return true
		}
		return fuzzy.MatchNormalizedFold(termNormalized, chunkNormalized)
	}
	pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(termNormalized) + `\b`)
	return pattern.MatchString(chunkNormalized)
}

type glossaryCandidate struct {
	priority   int
	index      int
	entry      GlossaryEntry
	entryChars int
}

// filterGlossaryForChunk 为单块筛选术语表。优先级：多词整短语命中(1) >
// 单词词边界命中(2) > 多词 token 重叠率 >= 0.5(3)；同优先级保持原序。
// 超过条数或字符预算的候选被丢弃（字符预算按条跳过而不是截断）。
func filterGlossaryForChunk(glossary []GlossaryEntry, chunkText string, maxTerms, maxChars int) []GlossaryEntry {
	if len(glossary) == 0 || chunkText == "" {
		return nil
	}
	if maxTerms <= 0 || maxChars <= 0 {
		return nil
	}

	chunkNormalized := normalizeGlossaryText(chunkText)
	if chunkNormalized == "" {
		return nil
	}
	chunkTokens := make(map[string]struct{})
	for _, token := range glossaryTokenRe.FindAllString(chunkNormalized, -1) {
		chunkTokens[token] = struct{}{}
	}

	var candidates []glossaryCandidate
	for index, entry := range glossary {
		termTokens := tokenizeGlossaryText(entry.TermEN)
		termTokenSet := make(map[string]struct{})
		for _, token := range termTokens {
			termTokenSet[token] = struct{}{}
		}
		termNormalized := normalizeGlossaryText(entry.TermEN)

		priority := 0
		if len(termTokenSet) >= 2 {
			if hasExactPhrase(termNormalized, chunkNormalized) {
				priority = 1
			} else {
				overlap := 0
				for token := range termTokenSet {
					if _, ok := chunkTokens[token]; ok {
						overlap++
					}
				}
				if float64(overlap)/float64(len(termTokenSet)) >= 0.5 {
					priority = 3
				}
			}
		} else if hasWordBoundary(termNormalized, chunkNormalized) {
			priority = 2
		}
		if priority == 0 {
			continue
		}

		candidates = append(candidates, glossaryCandidate{
			priority:   priority,
			index:      index,
			entry:      entry,
			entryChars: len(entry.TermEN) + len(entry.TermZH) + len(entry.NoteZH),
		})
	}

	// 稳定的 (priority, index) 排序：索引已经递增，只需按优先级分桶
	var filtered []GlossaryEntry
	totalChars := 0
	for priority := 1; priority <= 3; priority++ {
		for _, candidate := range candidates {
			if candidate.priority != priority {
				continue
			}
			if len(filtered) >= maxTerms {
				return filtered
			}
			if totalChars+candidate.entryChars > maxChars {
				continue
			}
			filtered = append(filtered, candidate.entry)
			totalChars += candidate.entryChars
		}
	}
	return filtered
}

// collectGlossaryWarnings 译文里出现英文术语但缺对应中文形式时告警
func collectGlossaryWarnings(restored string, glossary []GlossaryEntry) []string {
	var warnings []string
	for _, entry := range glossary {
		if strings.Contains(restored, entry.TermEN) && !strings.Contains(restored, entry.TermZH) {
			warnings = append(warnings,
				"glossary term '"+entry.TermEN+"' missing target form '"+entry.TermZH+"'")
		}
	}
	return warnings
}
