package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"toneshift/pkg/contract"
	"toneshift/plugins/llmclient/mock"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	Tone   string `json:"tone,omitempty"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的调试网关，按提示词计数：
// 第一次调用返回 ErrRateLimited；
// 第二次对改写提示词返回空白应答（strict 解码器据此判为协议违规）；
// 之后与 mock 的 tone 模式一致。
type Client struct {
	prefix  string
	tone    string
	logPath string

	mu    sync.Mutex
	calls map[string]int
	logMu sync.Mutex
}

var _ contract.LLMClient = (*Client)(nil)

// New 构造 Client。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	if o.Tone == "" {
		o.Tone = string(contract.ToneFormal)
	}
	return &Client{prefix: o.Prefix, tone: o.Tone, logPath: o.LogPath, calls: make(map[string]int)}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	c.logMu.Lock()
	defer c.logMu.Unlock()
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// Generate 实现 contract.LLMClient。
func (c *Client) Generate(ctx context.Context, prompt string) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	c.mu.Lock()
	c.calls[prompt]++
	n := c.calls[prompt]
	c.mu.Unlock()

	switch {
	case n == 1:
		c.log("rate_limited")
		return contract.Raw{}, fmt.Errorf("flaky: %w", contract.ErrRateLimited)
	case n == 2 && !mock.IsClassifyPrompt(prompt):
		c.log("blank")
		return contract.Raw{Text: "  "}, nil
	default:
		c.log("ok")
		return contract.Raw{Text: mock.Reply(prompt, c.prefix, c.tone)}, nil
	}
}
