package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"toneshift/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 例如 https://api.openai.com/v1
	Model          string   `json:"model"`           // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string   `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int      `json:"timeout_seconds"` // 可选 client 级超时（秒）
	Temperature    *float32 `json:"temperature,omitempty"`
	// OpenAI 兼容服务（OpenRouter/Azure 网关等）的附加请求头
	ExtraHeaders map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

// Client 基于 go-openai 的 Chat Completions 网关。并发安全。
type Client struct {
	api   *goopenai.Client
	model string
	temp  float32
}

var _ contract.LLMClient = (*Client)(nil)

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	cfg := goopenai.DefaultConfig(key)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	if len(opts.ExtraHeaders) > 0 {
		hc.Transport = headerTransport{base: http.DefaultTransport, headers: opts.ExtraHeaders}
	}
	cfg.HTTPClient = hc
	c := &Client{api: goopenai.NewClientWithConfig(cfg), model: opts.Model}
	if opts.Temperature != nil {
		c.temp = *opts.Temperature
	}
	return c, nil
}

// headerTransport 为每个请求追加固定请求头。
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if k != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// upstreamError 承载上游 HTTP 状态，实现 contract.UpstreamError。
type upstreamError struct {
	status int
	msg    string
	cause  error
}

func (e upstreamError) Error() string {
	return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg)
}
func (e upstreamError) Unwrap() error           { return e.cause }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }
func (e upstreamError) Temporary() bool {
	return e.status/100 == 5 || e.status == http.StatusRequestTimeout || e.status == http.StatusTooManyRequests
}

// Generate: 单次 Chat Completions 调用，同步返回首个候选的文本（原样）。
func (c *Client) Generate(ctx context.Context, prompt string) (contract.Raw, error) {
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []goopenai.ChatCompletionMessage{{Role: goopenai.ChatMessageRoleUser, Content: prompt}},
		Temperature: c.temp,
	})
	if err != nil {
		return contract.Raw{}, mapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return contract.Raw{}, fmt.Errorf("openai: no choices: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: resp.Choices[0].Message.Content}, nil
}

// mapError 将 SDK 错误映射为最小分类：429→限流；其余 HTTP 状态→upstreamError；取消→ctx.Err()。
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	status, msg := 0, ""
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, msg = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status, msg = reqErr.HTTPStatusCode, reqErr.Error()
	default:
		return fmt.Errorf("openai: %w", err)
	}
	if status == 0 {
		return fmt.Errorf("openai: %w", err)
	}
	msg = truncate(strings.TrimSpace(msg), 512)
	if status == http.StatusTooManyRequests {
		return upstreamError{status: status, msg: msg, cause: contract.ErrRateLimited}
	}
	return upstreamError{status: status, msg: msg, cause: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
