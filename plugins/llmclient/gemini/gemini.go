package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"toneshift/pkg/contract"
)

// Options: Google Gemini API 最小必需。
type Options struct {
	BaseURL   string `json:"base_url"`    // 为空时使用 SDK 默认端点
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// 客户端超时（秒）。未设置或 <=0 时采用默认 60 秒。
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Temperature    *float32 `json:"temperature,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

// Client 基于 google.golang.org/genai 的 GenerateContent 网关。并发安全。
type Client struct {
	api   *genai.Client
	model string
	cfg   *genai.GenerateContentConfig
}

var _ contract.LLMClient = (*Client)(nil)

// New 从原样 JSON 选项构造客户端（Gemini API 后端）。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(opts.BaseURL, "/") + "/"}
	}
	api, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	c := &Client{api: api, model: opts.Model}
	if opts.Temperature != nil {
		c.cfg = &genai.GenerateContentConfig{Temperature: genai.Ptr(*opts.Temperature)}
	}
	return c, nil
}

// upstreamError 承载上游 HTTP 状态，实现 contract.UpstreamError。
type upstreamError struct {
	status int
	msg    string
	cause  error
}

func (e upstreamError) Error() string {
	return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg)
}
func (e upstreamError) Unwrap() error           { return e.cause }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }
func (e upstreamError) Temporary() bool {
	return e.status/100 == 5 || e.status == http.StatusRequestTimeout || e.status == http.StatusTooManyRequests
}

// Generate: 单次 GenerateContent 调用，返回候选文本拼接（原样）。
func (c *Client) Generate(ctx context.Context, prompt string) (contract.Raw, error) {
	resp, err := c.api.Models.GenerateContent(ctx, c.model, genai.Text(prompt), c.cfg)
	if err != nil {
		return contract.Raw{}, mapError(ctx, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return contract.Raw{}, fmt.Errorf("gemini: no candidates: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: resp.Text()}, nil
}

// mapError 将 SDK 错误映射为最小分类：429→限流；其余 HTTP 状态→upstreamError；取消→ctx.Err()。
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return fmt.Errorf("gemini: %w", err)
	}
	msg := strings.TrimSpace(apiErr.Message)
	if apiErr.Code == http.StatusTooManyRequests {
		return upstreamError{status: apiErr.Code, msg: msg, cause: contract.ErrRateLimited}
	}
	return upstreamError{status: apiErr.Code, msg: msg, cause: err}
}
