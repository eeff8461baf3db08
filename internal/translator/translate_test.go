package translator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/markdown-translate/pkg/chunk"
	"github.com/nerdneilsfield/markdown-translate/pkg/providers"
)

// echoClient 把 <<< >>> 之间的受保护文本原样回显，模拟占位符完好的翻译
type echoClient struct {
	calls atomic.Int64
}

func (c *echoClient) ChatCompletion(_ context.Context, messages []providers.Message, _ bool) (string, error) {
	c.calls.Add(1)
	user := messages[len(messages)-1].Content
	start := strings.Index(user, "<<<\n")
	end := strings.LastIndex(user, "\n>>>")
	if start < 0 || end < 0 {
		return user, nil
	}
	return user[start+4 : end], nil
}

func (c *echoClient) ModelID() string { return "echo-model" }

func testProfile() *Profile {
	return &Profile{
		Doc: Doc{Title: "T", SourceType: SourceTypeFile, SourceValue: "a.md",
			SourceLanguage: "en", TargetLanguage: "zh-CN"},
		Outline: []OutlineEntry{{Level: 1, Heading: "Intro"}},
		StyleGuide: StyleGuide{
			Tone: "technical-but-friendly", AnnotationDensity: "medium",
			Rules: []string{"keep it short"},
		},
	}
}

func newTestTranslator(t *testing.T, client providers.ChatClient) *Translator {
	t.Helper()
	trans, err := New(client, Options{Concurrency: 2}, nil)
	require.NoError(t, err)
	return trans
}

func TestNewTranslatorValidation(t *testing.T) {
	_, err := New(nil, Options{}, nil)
	assert.ErrorIs(t, err, ErrTranslate)

	_, err = New(&echoClient{}, Options{OutlineMode: "bogus"}, nil)
	assert.ErrorIs(t, err, ErrTranslate)

	_, err = New(&echoClient{}, Options{GlossaryMode: "bogus"}, nil)
	assert.ErrorIs(t, err, ErrTranslate)
}

func TestTranslateChunkRoundTrip(t *testing.T) {
	trans := newTestTranslator(t, &echoClient{})
	chunkText := "Intro with `code`, math $x+y$ and a [link](https://example.com).\n"

	result, err := trans.TranslateChunk(context.Background(), chunkText, testProfile(), "chunk-0001", 0)
	require.NoError(t, err)
	assert.Equal(t, "chunk-0001", result.ChunkID)
	// 回显客户端保留全部占位符，还原后逐字节等于原文
	assert.Equal(t, chunkText, result.Text)
	assert.Empty(t, result.Warnings)
}

func TestTranslateChunkEmptyInput(t *testing.T) {
	client := &echoClient{}
	trans := newTestTranslator(t, client)
	result, err := trans.TranslateChunk(context.Background(), "", testProfile(), "chunk-0001", 3)
	require.NoError(t, err)
	assert.Equal(t, "", result.Text)
	assert.Equal(t, 3, result.Index)
	assert.Zero(t, client.calls.Load(), "empty chunks must not reach the LLM")
}

// dropPlaceholderClient 每次调用都丢掉一个占位符
type dropPlaceholderClient struct {
	echoClient
	drop string
}

func (c *dropPlaceholderClient) ChatCompletion(ctx context.Context, messages []providers.Message, jsonMode bool) (string, error) {
	result, err := c.echoClient.ChatCompletion(ctx, messages, jsonMode)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(result, c.drop, ""), nil
}

func TestTranslateChunkPlaceholderRetries(t *testing.T) {
	client := &dropPlaceholderClient{drop: "__INLINE_CODE_001__"}
	trans := newTestTranslator(t, client)

	result, err := trans.TranslateChunk(context.Background(),
		"text with `code` inside\n", testProfile(), "chunk-0001", 0)
	require.NoError(t, err)

	// 重试打满后保留缺失最少的结果，非严格还原容忍丢失的键
	assert.Equal(t, int64(placeholderRetryAttempts), client.calls.Load())
	assert.NotContains(t, result.Text, "__INLINE_CODE_001__")
	// 丢失的行内代码体现在围栏/结构警告之外的 QA 检查上：原文的反引号不见了
	assert.NotEqual(t, "text with `code` inside\n", result.Text)
}

func TestTranslateChunkQAWarnings(t *testing.T) {
	// 客户端篡改 URL 目标：占位符保留，但还原后 URL 校验告警
	client := &mutateAfterEchoClient{
		mutate: func(s string) string {
			return s + "\nextra [rogue](https://evil.example) link"
		},
	}
	trans := newTestTranslator(t, client)

	result, err := trans.TranslateChunk(context.Background(),
		"a [link](https://example.com) here\n", testProfile(), "chunk-0001", 0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings)
	joined := strings.Join(result.Warnings, "\n")
	assert.Contains(t, joined, "URL target")
}

type mutateAfterEchoClient struct {
	echoClient
	mutate func(string) string
}

func (c *mutateAfterEchoClient) ChatCompletion(ctx context.Context, messages []providers.Message, jsonMode bool) (string, error) {
	result, err := c.echoClient.ChatCompletion(ctx, messages, jsonMode)
	if err != nil {
		return "", err
	}
	return c.mutate(result), nil
}

func TestTranslateChunkStripsUnknownPlaceholders(t *testing.T) {
	client := &mutateAfterEchoClient{
		mutate: func(s string) string {
			return s + " __HTML_099__"
		},
	}
	trans := newTestTranslator(t, client)

	result, err := trans.TranslateChunk(context.Background(),
		"plain prose only\n", testProfile(), "chunk-0001", 0)
	require.NoError(t, err)
	assert.NotContains(t, result.Text, "__HTML_099__")
}

func TestTranslateChunkSkipInlineCodeFallback(t *testing.T) {
	// 超过阈值的行内代码触发降级重保护
	var builder strings.Builder
	for i := 0; i < 40; i++ {
		builder.WriteString("`c` word ")
	}
	trans, err := New(&echoClient{}, Options{SkipInlineCodeThreshold: 30}, nil)
	require.NoError(t, err)

	result, err := trans.TranslateChunk(context.Background(), builder.String(), testProfile(), "chunk-0001", 0)
	require.NoError(t, err)
	assert.Equal(t, builder.String(), result.Text)
}

func TestTranslateChunksOrderAndProgress(t *testing.T) {
	trans := newTestTranslator(t, &echoClient{})
	entries := []chunk.PlanEntry{
		{ChunkID: "chunk-0001", SourceText: "first paragraph\n\n"},
		{ChunkID: "chunk-0002", SourceText: "second paragraph\n\n"},
		{ChunkID: "chunk-0003", SourceText: "third paragraph\n"},
	}

	var progressCalls atomic.Int64
	results, err := trans.TranslateChunks(context.Background(), entries, testProfile(), func(done, total int) {
		progressCalls.Add(1)
		assert.Equal(t, 3, total)
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// 结果按输入顺序排列，与完成顺序无关
	for i, result := range results {
		assert.Equal(t, entries[i].ChunkID, result.ChunkID)
		assert.Equal(t, i, result.Index)
		assert.Equal(t, entries[i].SourceText, result.Text)
	}
	assert.Equal(t, int64(3), progressCalls.Load())
}

type failOnChunkClient struct {
	echoClient
	failWhen string
}

func (c *failOnChunkClient) ChatCompletion(ctx context.Context, messages []providers.Message, jsonMode bool) (string, error) {
	user := messages[len(messages)-1].Content
	if strings.Contains(user, c.failWhen) {
		return "", errors.New("provider exploded")
	}
	return c.echoClient.ChatCompletion(ctx, messages, jsonMode)
}

func TestTranslateChunksFirstErrorWins(t *testing.T) {
	trans := newTestTranslator(t, &failOnChunkClient{failWhen: "second"})
	entries := []chunk.PlanEntry{
		{ChunkID: "chunk-0001", SourceText: "first paragraph\n"},
		{ChunkID: "chunk-0002", SourceText: "second paragraph\n"},
		{ChunkID: "chunk-0003", SourceText: "third paragraph\n"},
	}

	_, err := trans.TranslateChunks(context.Background(), entries, testProfile(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk-0002")
}

func TestTranslateChunksEmpty(t *testing.T) {
	trans := newTestTranslator(t, &echoClient{})
	results, err := trans.TranslateChunks(context.Background(), nil, testProfile(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStripPromptMarkers(t *testing.T) {
	t.Run("Standalone Marker Lines Removed", func(t *testing.T) {
		text := "<<<\nbody line\n>>>\n"
		assert.Equal(t, "body line\n", stripPromptMarkers(text))
	})

	t.Run("Marker Glued To Heading Keeps Heading", func(t *testing.T) {
		text := ">>> # Title\n"
		assert.Equal(t, "# Title\n", stripPromptMarkers(text))
	})

	t.Run("Clean Text Unchanged", func(t *testing.T) {
		text := "no markers here\n"
		assert.Equal(t, text, stripPromptMarkers(text))
	})
}

func TestFixHeadingCollisions(t *testing.T) {
	cases := []struct {
		name string
		in   string
		out  string
	}{
		{"After Rule", "---# Title\n", "---\n# Title\n"},
		{"After Blockquote", "> quote ## Sub\n", "> quote \n## Sub\n"},
		{"After Bullet", "- item ### Deep\n", "- item \n### Deep\n"},
		{"After Ordered Item", "1. item ## Sub\n", "1. item \n## Sub\n"},
		{"Untouched", "normal # not heading\n", "normal # not heading\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.out, FixHeadingCollisions(tc.in))
		})
	}
}

func TestBuildChunkMessages(t *testing.T) {
	input := chunkPromptInput{
		outline:        []OutlineEntry{{Level: 2, Heading: "Details"}},
		glossary:       []GlossaryEntry{{TermEN: "token", TermZH: "词元", KeepENOnFirstUse: true}},
		protectedChunk: "chunk body __URL_001__",
		styleRules:     []string{"rule"},
		placeholders:   []string{"__URL_001__"},
		outlineMode:    OutlineModeHeadings,
		sourceLanguage: "en",
		targetLanguage: "zh-CN",
	}
	messages := buildChunkMessages(input)
	require.Len(t, messages, 2)
	assert.Equal(t, providers.RoleSystem, messages[0].Role)

	user := messages[1].Content
	assert.Contains(t, user, "from en to zh-CN")
	assert.Contains(t, user, "- L2 Details")
	assert.Contains(t, user, "| token | 词元 |")
	assert.Contains(t, user, "- __URL_001__")
	assert.Contains(t, user, "<<<\nchunk body __URL_001__\n>>>")
	// headings 模式不泄漏摘要明细
	assert.NotContains(t, user, "Summary:")
}
