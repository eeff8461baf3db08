package translator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nerdneilsfield/markdown-translate/pkg/chunk"
	"github.com/nerdneilsfield/markdown-translate/pkg/preserve"
	"github.com/nerdneilsfield/markdown-translate/pkg/providers"
)

// ErrTranslate 翻译阶段失败
var ErrTranslate = errors.New("translate step failed")

// 术语表注入模式
const (
	GlossaryModeFiltered = "filtered"
	GlossaryModeFull     = "full"
)

// 还原映射超过这个规模时关闭行内代码保护重保护一次，避免提示词被
// 占位符清单淹没
const defaultSkipInlineCodeThreshold = 30

// 占位符完整性重试次数，保留缺失最少的一次
const placeholderRetryAttempts = 3

// ChunkTranslation 单块翻译结果
type ChunkTranslation struct {
	ChunkID  string
	Index    int
	Text     string
	Warnings []string
}

// Options 翻译器选项，零值字段取默认
type Options struct {
	Concurrency             int
	StyleRules              []string
	OutlineMode             string // headings | full
	GlossaryMode            string // filtered | full
	MaxGlossaryTerms        int
	MaxGlossaryChars        int
	SkipInlineCodeThreshold int
	SourceLanguage          string
	TargetLanguage          string
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.OutlineMode == "" {
		o.OutlineMode = OutlineModeHeadings
	}
	if o.GlossaryMode == "" {
		o.GlossaryMode = GlossaryModeFiltered
	}
	if o.MaxGlossaryTerms <= 0 {
		o.MaxGlossaryTerms = defaultMaxGlossaryTerms
	}
	if o.MaxGlossaryChars <= 0 {
		o.MaxGlossaryChars = defaultMaxGlossaryChars
	}
	if o.SkipInlineCodeThreshold <= 0 {
		o.SkipInlineCodeThreshold = defaultSkipInlineCodeThreshold
	}
	if o.SourceLanguage == "" {
		o.SourceLanguage = "en"
	}
	if o.TargetLanguage == "" {
		o.TargetLanguage = "zh-CN"
	}
	return o
}

// Translator 逐块翻译器
type Translator struct {
	client providers.ChatClient
	opts   Options
	log    *zap.Logger
}

// New 创建翻译器
func New(client providers.ChatClient, opts Options, log *zap.Logger) (*Translator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil chat client", ErrTranslate)
	}
	opts = opts.withDefaults()
	if opts.OutlineMode != OutlineModeHeadings && opts.OutlineMode != OutlineModeFull {
		return nil, fmt.Errorf("%w: outline mode must be %q or %q", ErrTranslate, OutlineModeHeadings, OutlineModeFull)
	}
	if opts.GlossaryMode != GlossaryModeFiltered && opts.GlossaryMode != GlossaryModeFull {
		return nil, fmt.Errorf("%w: glossary mode must be %q or %q", ErrTranslate, GlossaryModeFiltered, GlossaryModeFull)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Translator{client: client, opts: opts, log: log}, nil
}

// TranslateChunks 并发翻译全部分块，结果按输入顺序返回。任何一块失败
// 就取消其余工作并整体报错，没有部分成功。
func (t *Translator) TranslateChunks(ctx context.Context, entries []chunk.PlanEntry, profile *Profile, progress func(done, total int)) ([]ChunkTranslation, error) {
	if len(entries) == 0 {
		return []ChunkTranslation{}, nil
	}

	results := make([]ChunkTranslation, len(entries))
	total := len(entries)

	var mu sync.Mutex
	finished := 0

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(t.opts.Concurrency)
	for index, entry := range entries {
		index, entry := index, entry
		group.Go(func() error {
			translation, err := t.TranslateChunk(groupCtx, entry.SourceText, profile, entry.ChunkID, index)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", entry.ChunkID, err)
			}
			results[index] = translation
			if progress != nil {
				mu.Lock()
				finished++
				progress(finished, total)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// TranslateChunk 翻译单块：保护、提示、带占位符重试的 LLM 调用、清理、
// 非严格还原、QA 校验。空块原样返回。
func (t *Translator) TranslateChunk(ctx context.Context, chunkText string, profile *Profile, chunkID string, index int) (ChunkTranslation, error) {
	if chunkText == "" {
		return ChunkTranslation{ChunkID: chunkID, Index: index, Warnings: []string{}}, nil
	}

	glossary := profile.Glossary
	if t.opts.GlossaryMode == GlossaryModeFiltered {
		glossary = filterGlossaryForChunk(profile.Glossary, chunkText, t.opts.MaxGlossaryTerms, t.opts.MaxGlossaryChars)
	}

	protectedText, restoration, err := preserve.Protect(chunkText)
	if err != nil {
		return ChunkTranslation{}, fmt.Errorf("%w: %v", ErrTranslate, err)
	}
	if len(restoration) > t.opts.SkipInlineCodeThreshold {
		protectedText, restoration, err = preserve.ProtectWithOptions(chunkText, preserve.Options{SkipInlineCode: true})
		if err != nil {
			return ChunkTranslation{}, fmt.Errorf("%w: %v", ErrTranslate, err)
		}
	}

	expected := make([]string, 0, len(restoration))
	for key := range restoration {
		expected = append(expected, key)
	}
	sort.Strings(expected)

	translated, err := t.translateWithPlaceholderRetries(ctx, chunkPromptInput{
		outline:        profile.Outline,
		glossary:       glossary,
		protectedChunk: protectedText,
		styleRules:     t.effectiveStyleRules(profile),
		placeholders:   expected,
		outlineMode:    t.opts.OutlineMode,
		sourceLanguage: t.opts.SourceLanguage,
		targetLanguage: t.opts.TargetLanguage,
	})
	if err != nil {
		return ChunkTranslation{}, err
	}

	cleaned := preserve.StripUnknownPlaceholders(translated, restoration)
	restored, err := preserve.Restore(cleaned, restoration, false)
	if err != nil {
		return ChunkTranslation{}, fmt.Errorf("%w: restore failed: %v", ErrTranslate, err)
	}

	restored = stripPromptMarkers(restored)
	restored = FixHeadingCollisions(restored)

	warnings := qaWarnings(chunkText, restored)
	warnings = append(warnings, collectGlossaryWarnings(restored, glossary)...)
	if warnings == nil {
		warnings = []string{}
	}

	return ChunkTranslation{ChunkID: chunkID, Index: index, Text: restored, Warnings: warnings}, nil
}

// SourceLanguage 返回配置的源语言
func (t *Translator) SourceLanguage() string { return t.opts.SourceLanguage }

// TargetLanguage 返回配置的目标语言
func (t *Translator) TargetLanguage() string { return t.opts.TargetLanguage }

// effectiveStyleRules 选项优先，其次画像的 style_guide.rules
func (t *Translator) effectiveStyleRules(profile *Profile) []string {
	if len(t.opts.StyleRules) > 0 {
		return t.opts.StyleRules
	}
	return profile.StyleGuide.Rules
}

// translateWithPlaceholderRetries 调 LLM 并核对每个占位符都在输出里。
// 不全则重试，最多 placeholderRetryAttempts 次，保留缺失最少的一次结果。
func (t *Translator) translateWithPlaceholderRetries(ctx context.Context, input chunkPromptInput) (string, error) {
	messages := buildChunkMessages(input)

	if len(input.placeholders) == 0 {
		result, err := t.client.ChatCompletion(ctx, messages, false)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTranslate, err)
		}
		return result, nil
	}

	var best string
	bestMissing := len(input.placeholders) + 1
	for attempt := 1; attempt <= placeholderRetryAttempts; attempt++ {
		result, err := t.client.ChatCompletion(ctx, messages, false)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTranslate, err)
		}
		missing := countMissingPlaceholders(result, input.placeholders)
		if missing == 0 {
			return result, nil
		}
		t.log.Warn("placeholder check failed",
			zap.Int("attempt", attempt),
			zap.Int("missing", missing),
			zap.Int("expected", len(input.placeholders)))
		if missing < bestMissing {
			bestMissing = missing
			best = result
		}
	}

	if bestMissing <= len(input.placeholders) {
		return best, nil
	}
	return "", fmt.Errorf("%w: placeholder validation retries exhausted", ErrTranslate)
}

func countMissingPlaceholders(result string, expected []string) int {
	missing := 0
	for _, token := range expected {
		if !strings.Contains(result, token) {
			missing++
		}
	}
	return missing
}

// qaWarnings 结构校验失败降级为警告，附带残留占位符检查
func qaWarnings(original, restored string) []string {
	var warnings []string
	if err := preserve.ValidateFenceCounts(original, restored); err != nil {
		warnings = append(warnings, "QA warning: "+err.Error())
	}
	if err := preserve.ValidateMathDelimiters(original, restored); err != nil {
		warnings = append(warnings, "QA warning: "+err.Error())
	}
	if err := preserve.ValidateURLTargets(original, restored); err != nil {
		warnings = append(warnings, "QA warning: "+err.Error())
	}
	if token := preserve.FindPlaceholderToken(restored); token != "" {
		warnings = append(warnings, "QA warning: leftover placeholder "+token)
	}
	return warnings
}
