package translator

import "regexp"

// 模型偶尔把提示词里的 <<< >>> 包裹符带进输出；整行出现直接删行，
// 粘在标题前则只删标记保住标题
var (
	promptMarkerLineRe    = regexp.MustCompile(`(?m)^[ \t]*(<<<|>>>)\s*$\n?`)
	promptMarkerHeadingRe = regexp.MustCompile(`(?m)^[ \t]*(<<<|>>>)\s*(#+\s*)`)
)

func stripPromptMarkers(text string) string {
	cleaned := promptMarkerLineRe.ReplaceAllString(text, "")
	return promptMarkerHeadingRe.ReplaceAllString(cleaned, "${2}")
}

// 标题被模型粘到前一行行尾的四种形态：分隔线后、引用行后、无序列表项后、
// 有序列表项后。统一在标题前补换行。
var headingCollisionRes = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^(={3,}|-{3,})\s*(#{1,6}\s+)`),
	regexp.MustCompile(`(?m)^(>[^\n]*?)(#{1,6}\s+)`),
	regexp.MustCompile(`(?m)^([ \t]*[-*+]\s+[^\n]*?)(#{1,6}\s+)`),
	regexp.MustCompile(`(?m)^([ \t]*\d+[.)]\s+[^\n]*?)(#{1,6}\s+)`),
}

// FixHeadingCollisions 把粘连在其他行上的 ATX 标题拆回独立行
func FixHeadingCollisions(text string) string {
	for _, re := range headingCollisionRes {
		text = re.ReplaceAllString(text, "${1}\n${2}")
	}
	return text
}
