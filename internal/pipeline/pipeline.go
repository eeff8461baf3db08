// Package pipeline 串起完整的文档翻译流程：取源、清理、全局画像、分块、
// 并发逐块翻译、拼装输出、可选的 Markdown 格式化。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/markdown-translate/internal/fetcher"
	"github.com/nerdneilsfield/markdown-translate/internal/formatter"
	"github.com/nerdneilsfield/markdown-translate/internal/translator"
	"github.com/nerdneilsfield/markdown-translate/pkg/chunk"
	"github.com/nerdneilsfield/markdown-translate/pkg/providers"
)

// ErrPipeline 流水线级别失败（输入非法、取源失败等）
var ErrPipeline = errors.New("pipeline failed")

// Request 一次翻译任务
type Request struct {
	SourceType    string // url | file
	SourceValue   string
	TitleHint     string
	MaxChunkChars int
	FormatOutput  bool

	// Progress 每完成一块回调一次，可为 nil
	Progress func(done, total int)

	// Warning 每条 QA 警告回调一次，可为 nil（警告总会写日志）
	Warning func(chunkID, message string)
}

// Pipeline 文档翻译流水线
type Pipeline struct {
	client     providers.ChatClient
	fetcher    *fetcher.Fetcher
	translator *translator.Translator
	log        *zap.Logger
}

// New 组装流水线。fetcher 可为 nil（仅限 file 来源时）。
func New(client providers.ChatClient, f *fetcher.Fetcher, t *translator.Translator, log *zap.Logger) (*Pipeline, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil chat client", ErrPipeline)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: nil translator", ErrPipeline)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{client: client, fetcher: f, translator: t, log: log}, nil
}

// Run 执行完整流程，返回拼装后的文档
func (p *Pipeline) Run(ctx context.Context, request Request) (string, error) {
	if request.SourceType != translator.SourceTypeURL && request.SourceType != translator.SourceTypeFile {
		return "", fmt.Errorf("%w: source type must be %q or %q",
			ErrPipeline, translator.SourceTypeURL, translator.SourceTypeFile)
	}
	if request.SourceValue == "" {
		return "", fmt.Errorf("%w: source value is required", ErrPipeline)
	}
	if request.MaxChunkChars <= 0 {
		request.MaxChunkChars = 8000
	}

	runID := uuid.NewString()
	log := p.log.With(zap.String("run_id", runID))
	log.Info("pipeline start",
		zap.String("source_type", request.SourceType),
		zap.String("source_value", request.SourceValue))

	content, err := p.readSource(ctx, request)
	if err != nil {
		return "", err
	}
	content = fetcher.CleanReaderArtifacts(content)

	profile, err := translator.BuildProfile(ctx, p.client, translator.ProfileRequest{
		Content:        content,
		SourceType:     request.SourceType,
		SourceValue:    request.SourceValue,
		TitleHint:      request.TitleHint,
		SourceLanguage: p.translator.SourceLanguage(),
		TargetLanguage: p.translator.TargetLanguage(),
	})
	if err != nil {
		return "", err
	}
	log.Info("profile built",
		zap.Int("outline_entries", len(profile.Outline)),
		zap.Int("glossary_entries", len(profile.Glossary)))

	entries, err := chunk.Plan(content, request.MaxChunkChars)
	if err != nil {
		return "", err
	}
	log.Info("chunk plan built", zap.Int("chunks", len(entries)))

	translations, err := p.translator.TranslateChunks(ctx, entries, profile, request.Progress)
	if err != nil {
		return "", err
	}
	for _, translation := range translations {
		for _, warning := range translation.Warnings {
			log.Warn("chunk QA warning",
				zap.String("chunk_id", translation.ChunkID),
				zap.String("warning", warning))
			if request.Warning != nil {
				request.Warning(translation.ChunkID, warning)
			}
		}
	}

	output := assembleOutput(profile, p.client.ModelID(), translations, time.Now())
	if request.FormatOutput {
		formatted, err := formatter.FormatMarkdown(output)
		if err != nil {
			log.Warn("markdown format skipped", zap.Error(err))
		} else {
			output = formatted
		}
	}

	log.Info("pipeline done", zap.Int("output_bytes", len(output)))
	return output, nil
}

func (p *Pipeline) readSource(ctx context.Context, request Request) (string, error) {
	if request.SourceType == translator.SourceTypeURL {
		if p.fetcher == nil {
			return "", fmt.Errorf("%w: url source requires a fetcher", ErrPipeline)
		}
		content, err := p.fetcher.FetchMarkdown(ctx, request.SourceValue)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrPipeline, err)
		}
		return content, nil
	}

	info, err := os.Stat(request.SourceValue)
	if err != nil {
		return "", fmt.Errorf("%w: input file not found: %s", ErrPipeline, request.SourceValue)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: input path is not a file: %s", ErrPipeline, request.SourceValue)
	}
	data, err := os.ReadFile(request.SourceValue)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPipeline, err)
	}
	return string(data), nil
}
