package translator

import (
	"fmt"
	"strings"

	"github.com/nerdneilsfield/markdown-translate/pkg/providers"
)

// 画像 JSON 的 schema 示例，直接内嵌进提示词
const profileSchemaExample = `{
  "doc": {
    "title": "...",
    "source": {"type": "url|file", "value": "..."},
    "language": {"source": "en", "target": "zh-CN"}
  },
  "outline": [
    {
      "level": 1,
      "heading": "...",
      "summary_bullets": ["..."],
      "key_takeaways": ["..."]
    }
  ],
  "glossary": [
    {
      "term_en": "...",
      "term_zh": "...",
      "note_zh": "...",
      "keep_en_on_first_use": true
    }
  ],
  "style_guide": {
    "tone": "technical-but-friendly",
    "annotation_density": "medium",
    "rules": ["..."]
  }
}`

func buildProfileMessages(request ProfileRequest) []providers.Message {
	systemPrompt := "You are a translation profiling assistant. Output ONLY valid JSON. " +
		"Do not include markdown, code fences, or extra text."

	var builder strings.Builder
	builder.WriteString("Create a global profile for the document.")
	builder.WriteString("\nReturn a JSON object that matches the schema exactly.")
	builder.WriteString("\nSchema example:\n")
	builder.WriteString(profileSchemaExample)
	builder.WriteString("\nRules:")
	builder.WriteString("\n- Output ONLY valid JSON.")
	builder.WriteString("\n- Use double quotes for all keys and strings.")
	builder.WriteString("\n- keep_en_on_first_use must be true for every glossary entry.")
	builder.WriteString("\n- tone must be \"technical-but-friendly\".")
	builder.WriteString("\n- annotation_density must be \"medium\".")
	builder.WriteString("\n- style_guide.rules should be a list of short, actionable rules.")
	builder.WriteString("\n- Term style: first occurrence uses \"Chinese (English)\".")
	builder.WriteString("\n- Glossary enforcement is soft: prefer glossary terms when relevant.")
	builder.WriteString("\n- If a list has no items, return an empty list.")
	builder.WriteString("\n\nSource metadata:")
	builder.WriteString("\n- source_type: " + request.SourceType)
	builder.WriteString("\n- source_value: " + request.SourceValue)
	builder.WriteString("\n- source_language: " + request.SourceLanguage)
	builder.WriteString("\n- target_language: " + request.TargetLanguage)
	if request.TitleHint != "" {
		builder.WriteString("\n- title_hint: " + request.TitleHint)
	}
	builder.WriteString("\n\nDocument content:\n<<<\n")
	builder.WriteString(request.Content)
	builder.WriteString("\n>>>")

	return []providers.Message{
		providers.SystemMessage(systemPrompt),
		providers.UserMessage(builder.String()),
	}
}

// 大纲在提示词里的两种呈现模式
const (
	OutlineModeHeadings = "headings"
	OutlineModeFull     = "full"
)

type chunkPromptInput struct {
	outline        []OutlineEntry
	glossary       []GlossaryEntry
	protectedChunk string
	styleRules     []string
	placeholders   []string
	outlineMode    string
	sourceLanguage string
	targetLanguage string
}

func buildChunkMessages(input chunkPromptInput) []providers.Message {
	systemPrompt := "You are a technical translation assistant for study notes. " +
		"Output ONLY Markdown. Do not wrap output in JSON or code fences. " +
		"Preserve all placeholders and Markdown structure exactly."

	lines := []string{
		fmt.Sprintf("Translate the chunk from %s to %s.", input.sourceLanguage, input.targetLanguage),
		"Requirements:",
		"- Output Markdown only; no JSON wrapper, no extra commentary.",
		"- Preserve Markdown structure, links, math, code fences, and inline code.",
		"- Do not translate or modify placeholder tokens like __CODE_BLOCK_001__.",
		"- Term style: first occurrence uses `target-language (source-language)`, later occurrences target language only.",
		"- Annotation density: medium (key explanation + 1 example/analogy).",
		"- Annotation format: `> **学习批注：** ...` or `> **背景扩展：** ...`.",
		"- Glossary enforcement is soft: prefer glossary terms when relevant.",
	}

	if rules := renderStyleRules(input.styleRules); rules != "" {
		lines = append(lines, "", "Style rules:", rules)
	}

	if len(input.placeholders) > 0 {
		lines = append(lines, "", "Placeholders (must appear exactly once, unchanged):")
		for _, token := range input.placeholders {
			lines = append(lines, "- "+token)
		}
	}

	lines = append(lines,
		"",
		"Condensed outline:",
		renderCondensedOutline(input.outline, input.outlineMode),
		"",
		"Glossary:",
		renderGlossaryTable(input.glossary),
		"",
		"Chunk (protected text, keep placeholders unchanged):",
		"<<<",
		input.protectedChunk,
		">>>")

	return []providers.Message{
		providers.SystemMessage(systemPrompt),
		providers.UserMessage(strings.Join(lines, "\n")),
	}
}

// renderCondensedOutline headings 模式只列标题；full 模式附带摘要与要点
func renderCondensedOutline(outline []OutlineEntry, mode string) string {
	if len(outline) == 0 {
		return "_No outline provided._"
	}
	lines := make([]string, 0, len(outline))
	for _, entry := range outline {
		line := fmt.Sprintf("- L%d %s", entry.Level, entry.Heading)
		if mode != OutlineModeHeadings {
			var details []string
			if len(entry.SummaryBullets) > 0 {
				details = append(details, "Summary: "+strings.Join(entry.SummaryBullets, "; "))
			}
			if len(entry.KeyTakeaways) > 0 {
				details = append(details, "Takeaways: "+strings.Join(entry.KeyTakeaways, "; "))
			}
			if len(details) > 0 {
				line += " | " + strings.Join(details, " | ")
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderGlossaryTable(glossary []GlossaryEntry) string {
	if len(glossary) == 0 {
		return "_No glossary entries._"
	}
	lines := []string{
		"| term_en | term_zh | note_zh | keep_en_on_first_use |",
		"| --- | --- | --- | --- |",
	}
	for _, entry := range glossary {
		lines = append(lines, fmt.Sprintf("| %s | %s | %s | %t |",
			escapeTableCell(entry.TermEN),
			escapeTableCell(entry.TermZH),
			escapeTableCell(entry.NoteZH),
			entry.KeepENOnFirstUse))
	}
	return strings.Join(lines, "\n")
}

func renderStyleRules(styleRules []string) string {
	var lines []string
	for _, rule := range styleRules {
		if rule == "" {
			continue
		}
		lines = append(lines, "- "+rule)
	}
	return strings.Join(lines, "\n")
}
