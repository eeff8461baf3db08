// Package translator 实现两步翻译：先做全局画像（大纲、术语表、文风），
// 再逐块翻译受保护的文本。所有 LLM 载荷都经过结构校验，占位符完整性由
// pkg/preserve 保证。
package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerdneilsfield/markdown-translate/internal/schema"
	"github.com/nerdneilsfield/markdown-translate/pkg/providers"
)

// ErrProfile 画像阶段失败（输入非法或 LLM 载荷不合 schema）
var ErrProfile = errors.New("profile step failed")

func profileErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProfile, fmt.Sprintf(format, args...))
}

// 来源类型
const (
	SourceTypeURL  = "url"
	SourceTypeFile = "file"
)

// Doc 文档元信息
type Doc struct {
	Title          string
	SourceType     string
	SourceValue    string
	SourceLanguage string
	TargetLanguage string
}

// OutlineEntry 大纲条目
type OutlineEntry struct {
	Level          int
	Heading        string
	SummaryBullets []string
	KeyTakeaways   []string
}

// GlossaryEntry 术语条目。KeepENOnFirstUse 恒为 true，画像后置默认保证。
type GlossaryEntry struct {
	TermEN           string
	TermZH           string
	NoteZH           string
	KeepENOnFirstUse bool
}

// StyleGuide 文风约定
type StyleGuide struct {
	Tone              string
	AnnotationDensity string
	Rules             []string
}

// Profile 全局画像
type Profile struct {
	Doc        Doc
	Outline    []OutlineEntry
	Glossary   []GlossaryEntry
	StyleGuide StyleGuide
}

// ProfileRequest 画像请求
type ProfileRequest struct {
	Content        string
	SourceType     string
	SourceValue    string
	TitleHint      string
	SourceLanguage string
	TargetLanguage string
}

// BuildProfile 让 LLM 以 JSON 模式产出全局画像，校验后套用默认值：
// 来源与语言字段以请求为准，空标题回填 TitleHint，keep_en_on_first_use
// 强制为 true。
func BuildProfile(ctx context.Context, client providers.ChatClient, request ProfileRequest) (*Profile, error) {
	if request.Content == "" {
		return nil, profileErrorf("content is required")
	}
	if request.SourceType != SourceTypeURL && request.SourceType != SourceTypeFile {
		return nil, profileErrorf("source type must be %q or %q", SourceTypeURL, SourceTypeFile)
	}
	if request.SourceValue == "" {
		return nil, profileErrorf("source value is required")
	}
	if request.SourceLanguage == "" {
		return nil, profileErrorf("source language is required")
	}
	if request.TargetLanguage == "" {
		return nil, profileErrorf("target language is required")
	}

	messages := buildProfileMessages(request)
	responseText, err := client.ChatCompletion(ctx, messages, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfile, err)
	}

	profile, err := ParseProfileJSON(responseText)
	if err != nil {
		return nil, err
	}

	profile.Doc.SourceType = request.SourceType
	profile.Doc.SourceValue = request.SourceValue
	profile.Doc.SourceLanguage = request.SourceLanguage
	profile.Doc.TargetLanguage = request.TargetLanguage
	if strings.TrimSpace(profile.Doc.Title) == "" && request.TitleHint != "" {
		profile.Doc.Title = request.TitleHint
	}
	for i := range profile.Glossary {
		profile.Glossary[i].KeepENOnFirstUse = true
	}
	return profile, nil
}

// ParseProfileJSON 解析并校验画像 JSON，任何不合 schema 的字段都带字段
// 标签报错
func ParseProfileJSON(responseText string) (*Profile, error) {
	var raw any
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		return nil, profileErrorf("profile response is not valid JSON: %v", err)
	}

	payload, err := schema.RequireMap(raw, "profile JSON", profileErrorf)
	if err != nil {
		return nil, err
	}

	docMap, err := schema.RequireMap(payload["doc"], "doc", profileErrorf)
	if err != nil {
		return nil, err
	}
	doc, err := parseDoc(docMap)
	if err != nil {
		return nil, err
	}

	outlineList, err := schema.RequireList(payload["outline"], "outline", profileErrorf)
	if err != nil {
		return nil, err
	}
	outline, err := parseOutline(outlineList)
	if err != nil {
		return nil, err
	}

	glossaryList, err := schema.RequireList(payload["glossary"], "glossary", profileErrorf)
	if err != nil {
		return nil, err
	}
	glossary, err := parseGlossary(glossaryList)
	if err != nil {
		return nil, err
	}

	styleMap, err := schema.RequireMap(payload["style_guide"], "style_guide", profileErrorf)
	if err != nil {
		return nil, err
	}
	styleGuide, err := parseStyleGuide(styleMap)
	if err != nil {
		return nil, err
	}

	return &Profile{Doc: doc, Outline: outline, Glossary: glossary, StyleGuide: styleGuide}, nil
}

func parseDoc(docMap map[string]any) (Doc, error) {
	var doc Doc
	var err error
	if doc.Title, err = schema.RequireString(docMap["title"], "doc.title", profileErrorf); err != nil {
		return Doc{}, err
	}
	source, err := schema.RequireMap(docMap["source"], "doc.source", profileErrorf)
	if err != nil {
		return Doc{}, err
	}
	if doc.SourceType, err = schema.RequireString(source["type"], "doc.source.type", profileErrorf); err != nil {
		return Doc{}, err
	}
	if doc.SourceType != SourceTypeURL && doc.SourceType != SourceTypeFile {
		return Doc{}, profileErrorf("doc.source.type must be %q or %q", SourceTypeURL, SourceTypeFile)
	}
	if doc.SourceValue, err = schema.RequireString(source["value"], "doc.source.value", profileErrorf); err != nil {
		return Doc{}, err
	}
	language, err := schema.RequireMap(docMap["language"], "doc.language", profileErrorf)
	if err != nil {
		return Doc{}, err
	}
	if doc.SourceLanguage, err = schema.RequireString(language["source"], "doc.language.source", profileErrorf); err != nil {
		return Doc{}, err
	}
	if doc.TargetLanguage, err = schema.RequireString(language["target"], "doc.language.target", profileErrorf); err != nil {
		return Doc{}, err
	}
	return doc, nil
}

func parseOutline(list []any) ([]OutlineEntry, error) {
	outline := make([]OutlineEntry, 0, len(list))
	for index, raw := range list {
		item, err := schema.RequireMap(raw, fmt.Sprintf("outline[%d]", index), profileErrorf)
		if err != nil {
			return nil, err
		}
		var entry OutlineEntry
		if entry.Level, err = schema.RequireInt(item["level"], fmt.Sprintf("outline[%d].level", index), profileErrorf); err != nil {
			return nil, err
		}
		if entry.Level <= 0 {
			return nil, profileErrorf("outline.level must be positive")
		}
		if entry.Heading, err = schema.RequireString(item["heading"], fmt.Sprintf("outline[%d].heading", index), profileErrorf); err != nil {
			return nil, err
		}
		if entry.SummaryBullets, err = schema.RequireStringList(item["summary_bullets"], fmt.Sprintf("outline[%d].summary_bullets", index), profileErrorf); err != nil {
			return nil, err
		}
		if entry.KeyTakeaways, err = schema.RequireStringList(item["key_takeaways"], fmt.Sprintf("outline[%d].key_takeaways", index), profileErrorf); err != nil {
			return nil, err
		}
		outline = append(outline, entry)
	}
	return outline, nil
}

func parseGlossary(list []any) ([]GlossaryEntry, error) {
	glossary := make([]GlossaryEntry, 0, len(list))
	for index, raw := range list {
		item, err := schema.RequireMap(raw, fmt.Sprintf("glossary[%d]", index), profileErrorf)
		if err != nil {
			return nil, err
		}
		var entry GlossaryEntry
		if entry.TermEN, err = schema.RequireString(item["term_en"], fmt.Sprintf("glossary[%d].term_en", index), profileErrorf); err != nil {
			return nil, err
		}
		if entry.TermZH, err = schema.RequireString(item["term_zh"], fmt.Sprintf("glossary[%d].term_zh", index), profileErrorf); err != nil {
			return nil, err
		}
		if entry.NoteZH, err = schema.RequireString(item["note_zh"], fmt.Sprintf("glossary[%d].note_zh", index), profileErrorf); err != nil {
			return nil, err
		}
		if entry.KeepENOnFirstUse, err = schema.RequireBool(item["keep_en_on_first_use"], fmt.Sprintf("glossary[%d].keep_en_on_first_use", index), profileErrorf); err != nil {
			return nil, err
		}
		glossary = append(glossary, entry)
	}
	return glossary, nil
}

func parseStyleGuide(styleMap map[string]any) (StyleGuide, error) {
	var styleGuide StyleGuide
	var err error
	if styleGuide.Tone, err = schema.RequireString(styleMap["tone"], "style_guide.tone", profileErrorf); err != nil {
		return StyleGuide{}, err
	}
	if styleGuide.Tone != "technical-but-friendly" {
		return StyleGuide{}, profileErrorf("style_guide.tone must be 'technical-but-friendly'")
	}
	if styleGuide.AnnotationDensity, err = schema.RequireString(styleMap["annotation_density"], "style_guide.annotation_density", profileErrorf); err != nil {
		return StyleGuide{}, err
	}
	if styleGuide.AnnotationDensity != "medium" {
		return StyleGuide{}, profileErrorf("style_guide.annotation_density must be 'medium'")
	}
	if styleGuide.Rules, err = schema.RequireStringList(styleMap["rules"], "style_guide.rules", profileErrorf); err != nil {
		return StyleGuide{}, err
	}
	return styleGuide, nil
}

// RenderProfileMarkdown 把画像渲染为人类可读的 Markdown 报告
func RenderProfileMarkdown(profile *Profile) string {
	title := strings.TrimSpace(profile.Doc.Title)
	if title == "" {
		title = "Profile"
	}

	lines := []string{"# " + title, "", "## Outline"}

	if len(profile.Outline) == 0 {
		lines = append(lines, "_No outline entries._")
	} else {
		for _, entry := range profile.Outline {
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
	}
	if lines[len(lines)-1] != "" {
		lines = append(lines, "")
	}

	lines = append(lines, "## Glossary")
	if len(profile.Glossary) == 0 {
		lines = append(lines, "_No glossary entries._")
	} else {
		lines = append(lines,
			"| Term (EN) | Term (ZH) | Note (ZH) | Keep EN First Use |",
			"| --- | --- | --- | --- |")
		for _, entry := range profile.Glossary {
			lines = append(lines, fmt.Sprintf("| %s | %s | %s | %t |",
				escapeTableCell(entry.TermEN),
				escapeTableCell(entry.TermZH),
				escapeTableCell(entry.NoteZH),
				entry.KeepENOnFirstUse))
		}
	}

	return strings.TrimRight(strings.Join(lines, "\n"), " \t\n") + "\n"
}

func escapeTableCell(value string) string {
	escaped := strings.ReplaceAll(value, "|", `\|`)
	return strings.ReplaceAll(escaped, "\n", "<br>")
}
