// Package openai 封装 OpenAI 兼容接口的对话补全客户端，带指数退避重试。
package openai

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/markdown-translate/pkg/providers"
)

// 默认配置，可被 Config 或环境变量覆盖
const (
	DefaultModel   = "kimi-k2-0905-preview"
	DefaultBaseURL = "https://api.moonshot.cn/v1"

	defaultTimeout    = 180 * time.Second
	defaultMaxRetries = 5
	defaultMaxBackoff = 20 * time.Second
)

// 环境变量
const (
	envAPIKey  = "MOONSHOT_API_KEY"
	envModel   = "MOONSHOT_MODEL"
	envBaseURL = "MOONSHOT_BASE_URL"
)

// JSON 模式下模型偶尔会包一层代码围栏，剥掉
var codeFenceRe = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*\n(.*?)\n\\s*```\\s*$")

// Config 客户端配置
type Config struct {
	APIKeyEnv  string        // 存放 API key 的环境变量名，默认 MOONSHOT_API_KEY
	BaseURL    string        // API 基址，空则取环境变量或默认值
	Model      string        // 模型 ID，空则取环境变量或默认值
	Timeout    time.Duration // 单次请求超时
	MaxRetries int           // 最大尝试次数
	MaxBackoff time.Duration // 退避上限
}

// Client providers.ChatClient 的 OpenAI 兼容实现
type Client struct {
	client     *openai.Client
	model      string
	maxRetries int
	maxBackoff time.Duration
	log        *zap.Logger
}

var _ providers.ChatClient = (*Client)(nil)

// New 创建客户端。API key 缺失直接报错，不做延迟失败。
func New(cfg Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = envAPIKey
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("missing API key in env var: %s", keyEnv)
	}

	baseURL := firstNonEmpty(cfg.BaseURL, strings.TrimSpace(os.Getenv(envBaseURL)), DefaultBaseURL)
	model := firstNonEmpty(cfg.Model, strings.TrimSpace(os.Getenv(envModel)), DefaultModel)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		maxRetries: maxRetries,
		maxBackoff: maxBackoff,
		log:        log,
	}, nil
}

// ModelID 返回模型标识
func (c *Client) ModelID() string {
	return c.model
}

// ChatCompletion 执行对话补全。截断（finish_reason != stop）与空内容都
// 视为失败；jsonMode 时剥掉可能的代码围栏包装。
func (c *Client) ChatCompletion(ctx context.Context, messages []providers.Message, jsonMode bool) (string, error) {
	request := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, message := range messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{
			Role:    message.Role,
			Content: message.Content,
		})
	}
	if jsonMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	response, err := c.requestWithRetry(ctx, request)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	choice := response.Choices[0]
	if choice.FinishReason != openai.FinishReasonStop {
		return "", fmt.Errorf("chat completion truncated (finish_reason=%s)", choice.FinishReason)
	}
	content := choice.Message.Content
	if content == "" {
		return "", errors.New("chat completion returned empty content")
	}

	if jsonMode {
		content = stripCodeFences(content)
	}
	return content, nil
}

func (c *Client) requestWithRetry(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		response, err := c.client.CreateChatCompletion(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) || attempt == c.maxRetries {
			break
		}

		sleep := backoffDelay(attempt, c.maxBackoff)
		c.log.Warn("LLM retry",
			zap.Int("attempt", attempt),
			zap.String("model", c.model),
			zap.Duration("sleep", sleep),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return openai.ChatCompletionResponse{}, lastErr
}

// backoffDelay 带满抖动的指数退避
func backoffDelay(attempt int, maxBackoff time.Duration) time.Duration {
	backoff := time.Second << uint(attempt-1)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return time.Duration(rand.Int63n(int64(backoff)) + int64(time.Millisecond))
}

// isRetryable 429 与 5xx 视为瞬时错误
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}

func stripCodeFences(text string) string {
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
