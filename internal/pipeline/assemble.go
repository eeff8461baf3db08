package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerdneilsfield/markdown-translate/internal/translator"
)

// assembleOutput 按 Meta、Outline、Glossary、译文正文的顺序拼装最终
// 文档，段间空行分隔，最后统一修复标题粘连
func assembleOutput(profile *translator.Profile, modelID string, translations []translator.ChunkTranslation, now time.Time) string {
	var body strings.Builder
	for _, item := range translations {
		body.WriteString(item.Text)
	}

	sections := []string{
		renderMeta(profile.Doc, modelID, now),
		renderOutline(profile.Outline),
		renderGlossary(profile.Glossary),
		body.String(),
	}
	for i, section := range sections {
		sections[i] = strings.Trim(section, "\n")
	}
	output := strings.TrimRight(strings.Join(sections, "\n\n"), " \t\n") + "\n"
	return translator.FixHeadingCollisions(output)
}

func renderMeta(doc translator.Doc, modelID string, now time.Time) string {
	timestamp := now.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
	lines := []string{
		"## Meta",
		fmt.Sprintf("- Source: %s %s", doc.SourceType, doc.SourceValue),
		"- Timestamp: " + timestamp,
		"- Model: " + modelID,
	}
	return strings.Join(lines, "\n")
}

func renderOutline(outline []translator.OutlineEntry) string {
	lines := []string{"## Outline"}
	if len(outline) == 0 {
		lines = append(lines, "_No outline entries._")
		return strings.Join(lines, "\n")
	}

	for _, entry := range outline {
		headingLevel := entry.Level + 2
		if headingLevel < 3 {
			headingLevel = 3
		}
		if headingLevel > 6 {
			headingLevel = 6
		}
		lines = append(lines, strings.Repeat("#", headingLevel)+" "+entry.Heading)
		if len(entry.SummaryBullets) > 0 {
			lines = append(lines, "- Summary")
			for _, bullet := range entry.SummaryBullets {
				lines = append(lines, "  - "+bullet)
			}
		}
		if len(entry.KeyTakeaways) > 0 {
			lines = append(lines, "- Key takeaways")
			for _, bullet := range entry.KeyTakeaways {
				lines = append(lines, "  - "+bullet)
			}
		}
		lines = append(lines, "")
	}
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func renderGlossary(glossary []translator.GlossaryEntry) string {
	lines := []string{"## Glossary"}
	if len(glossary) == 0 {
		lines = append(lines, "_No glossary entries._")
		return strings.Join(lines, "\n")
	}

	lines = append(lines,
		"| Term (EN) | Term (ZH) | Note (ZH) | Keep EN First Use |",
		"| --- | --- | --- | --- |")
	for _, entry := range glossary {
		lines = append(lines, fmt.Sprintf("| %s | %s | %s | %t |",
			escapeTableCell(entry.TermEN),
			escapeTableCell(entry.TermZH),
			escapeTableCell(entry.NoteZH),
			entry.KeepENOnFirstUse))
	}
	return strings.Join(lines, "\n")
}

func escapeTableCell(value string) string {
	escaped := strings.ReplaceAll(value, "|", `\|`)
	return strings.ReplaceAll(escaped, "\n", "<br>")
}
