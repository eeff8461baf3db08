// Package fetcher 通过 Jina Reader 把网页抓取为 Markdown，并清理其
// 输出中的已知瑕疵（空锚点、双倍围栏）。
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	readerBaseURL = "https://r.jina.ai/"

	defaultMinContentLength = 200
	defaultTimeout          = 30 * time.Second
	defaultMaxAttempts      = 5
	defaultBackoffInitial   = time.Second
	defaultBackoffMax       = 20 * time.Second

	envAPIKey = "JINA_API_KEY"
)

// ErrTransient 瞬时失败（429/5xx/网络错误），重试耗尽后仍可能带着它返回
var ErrTransient = errors.New("transient Jina Reader failure")

// Config 抓取配置，零值字段取默认
type Config struct {
	MinContentLength int
	Timeout          time.Duration
	MaxAttempts      int
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinContentLength <= 0 {
		c.MinContentLength = defaultMinContentLength
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = defaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultBackoffMax
	}
	return c
}

// Fetcher Jina Reader 客户端
type Fetcher struct {
	config  Config
	client  *http.Client
	baseURL string
	log     *zap.Logger
}

// Option 构造选项
type Option func(*Fetcher)

// WithBaseURL 覆盖 Reader 基址（测试用）
func WithBaseURL(baseURL string) Option {
	return func(f *Fetcher) {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		f.baseURL = baseURL
	}
}

// WithHTTPClient 覆盖 HTTP 客户端
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// New 创建抓取器
func New(config Config, log *zap.Logger, opts ...Option) *Fetcher {
	config = config.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	f := &Fetcher{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		baseURL: readerBaseURL,
		log:     log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type readerEnvelope struct {
	Code    int    `json:"code"`
	Status  any    `json:"status"`
	Message string `json:"message"`
	Content string `json:"content"`
	Data    struct {
		Content string `json:"content"`
	} `json:"data"`
}

func (e readerEnvelope) content() string {
	if e.Content != "" {
		return e.Content
	}
	return e.Data.Content
}

// FetchMarkdown 抓取目标页面的 Markdown。瞬时状态（429/5xx）按指数退避加
// 抖动重试，最多 MaxAttempts 次；非瞬时失败立即返回。
func (f *Fetcher) FetchMarkdown(ctx context.Context, target string) (string, error) {
	cleanURL := strings.TrimSpace(target)
	if cleanURL == "" {
		return "", errors.New("URL must be a non-empty string")
	}

	var lastErr error
	for attempt := 1; attempt <= f.config.MaxAttempts; attempt++ {
		content, err := f.doRequest(ctx, cleanURL)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if ctx.Err() != nil || !errors.Is(err, ErrTransient) || attempt == f.config.MaxAttempts {
			break
		}

		sleep := f.backoffDelay(attempt)
		f.log.Warn("Jina Reader retry",
			zap.Int("attempt", attempt),
			zap.Duration("sleep", sleep),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(sleep):
		}
	}
	return "", lastErr
}

// doRequest 单次请求。URL 含 '#' 时片段会在 GET 路径拼接中丢失，改走
// 表单 POST。
func (f *Fetcher) doRequest(ctx context.Context, cleanURL string) (string, error) {
	var request *http.Request
	var err error
	if strings.Contains(cleanURL, "#") {
		form := url.Values{"url": {cleanURL}}
		request, err = http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL, strings.NewReader(form.Encode()))
		if request != nil {
			request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		request, err = http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+cleanURL, nil)
	}
	if err != nil {
		return "", err
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("X-Return-Format", "markdown")
	if apiKey := os.Getenv(envAPIKey); apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+apiKey)
	}

	response, err := f.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = response.Body.Close() }()

	if isTransientStatus(response.StatusCode) {
		return "", fmt.Errorf("%w: HTTP %d from Jina Reader", ErrTransient, response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response body: %v", ErrTransient, err)
	}

	var envelope readerEnvelope
	decodeErr := json.Unmarshal(body, &envelope)

	if response.StatusCode != http.StatusOK {
		if decodeErr != nil {
			return "", fmt.Errorf("unexpected HTTP %d with non-JSON body", response.StatusCode)
		}
		return "", fmt.Errorf("unexpected response code=%d status=%v message=%s",
			envelope.Code, envelope.Status, envelope.Message)
	}
	if decodeErr != nil {
		return "", errors.New("expected JSON response from Jina Reader")
	}
	if envelope.Code != 200 {
		return "", fmt.Errorf("unexpected response code=%d status=%v message=%s",
			envelope.Code, envelope.Status, envelope.Message)
	}

	content := envelope.content()
	if content == "" {
		return "", errors.New("missing content in Jina Reader response")
	}
	if len(content) < f.config.MinContentLength {
		return "", fmt.Errorf("content too short (%d < %d)", len(content), f.config.MinContentLength)
	}
	return content, nil
}

func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	backoff := f.config.BackoffInitial << uint(attempt-1)
	if backoff > f.config.BackoffMax {
		backoff = f.config.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	return backoff/2 + jitter
}

func isTransientStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

var (
	emptyAnchorRe = regexp.MustCompile(`\[]\(https?://[^)]+\)\s*`)
	doubleFenceRe = regexp.MustCompile("(?m)^(`{6,}|~{6,})$")
)

// CleanReaderArtifacts 清理 Reader 输出的两类瑕疵：空锚点整体删除；
// 双倍长度的围栏行对半拆成两行（Reader 偶尔把开闭围栏挤在一行）。
func CleanReaderArtifacts(content string) string {
	content = emptyAnchorRe.ReplaceAllString(content, "")
	content = doubleFenceRe.ReplaceAllStringFunc(content, func(match string) string {
		half := match[:len(match)/2]
		return half + "\n" + half
	})
	return content
}
