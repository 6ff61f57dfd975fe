package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"toneshift/pkg/contract"
)

// 响应模式
const (
	// ModeTone: 分类提示词返回 Tone；改写提示词返回 "Prefix: <括号内原文>"。
	ModeTone = "tone"
	// ModeEcho: 原样回显提示词。
	ModeEcho = "echo"
	// ModeScripted: 依次返回 Script 中的条目，耗尽后报错。
	ModeScripted = "scripted"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 改写输出前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组（调试用），不参与任何网络请求。
	APIKey string `json:"api_key"`
	// ResponseMode: tone（默认）| echo | scripted。
	ResponseMode string `json:"response_mode,omitempty"`
	// Tone: tone 模式下分类提示词的回答，默认 "FORMAL"。
	Tone string `json:"tone,omitempty"`
	// Script: scripted 模式的应答序列。
	Script []string `json:"script,omitempty"`
	// LatencyMS: 每次调用的模拟延迟（毫秒），尊重 ctx 取消。
	LatencyMS int `json:"latency_ms,omitempty"`
}

// Client 为无网络的调试网关。并发安全。
type Client struct {
	prefix  string
	mode    string
	tone    string
	latency time.Duration

	mu     sync.Mutex
	script []string
}

var _ contract.LLMClient = (*Client)(nil)

func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	if o.Tone == "" {
		o.Tone = string(contract.ToneFormal)
	}
	mode := strings.ToLower(strings.TrimSpace(o.ResponseMode))
	switch mode {
	case "":
		mode = ModeTone
	case ModeTone, ModeEcho, ModeScripted:
	default:
		return nil, fmt.Errorf("mock: unknown response_mode %q: %w", o.ResponseMode, contract.ErrInvalidInput)
	}
	return &Client{
		prefix:  o.Prefix,
		mode:    mode,
		tone:    o.Tone,
		latency: time.Duration(o.LatencyMS) * time.Millisecond,
		script:  append([]string(nil), o.Script...),
	}, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) (contract.Raw, error) {
	if c.latency > 0 {
		t := time.NewTimer(c.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return contract.Raw{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	switch c.mode {
	case ModeEcho:
		return contract.Raw{Text: prompt}, nil
	case ModeScripted:
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.script) == 0 {
			return contract.Raw{}, fmt.Errorf("mock: script exhausted: %w", contract.ErrResponseInvalid)
		}
		s := c.script[0]
		c.script = c.script[1:]
		return contract.Raw{Text: s}, nil
	default:
		return contract.Raw{Text: Reply(prompt, c.prefix, c.tone)}, nil
	}
}

// IsClassifyPrompt 粗略判断是否为语气分类提示词（基于内置分类模板的固定措辞）。
func IsClassifyPrompt(prompt string) bool {
	return strings.Contains(prompt, "that best describes the tone")
}

// Reply 生成 tone 模式的应答：分类→tone；改写→"prefix: <括号内原文>"。
func Reply(prompt, prefix, tone string) string {
	if IsClassifyPrompt(prompt) {
		return tone
	}
	if s, ok := Bracketed(prompt); ok {
		return prefix + ": " + s
	}
	return prefix
}

// Bracketed 取改写提示词 "Text: ..." 行中 [ ] 包裹的原文。
// 段落自身含换行时跨行查找。
func Bracketed(prompt string) (string, bool) {
	const marker = "\nText: "
	i := strings.Index(prompt, marker)
	if i < 0 {
		return "", false
	}
	rest := prompt[i+len(marker):]
	if j := strings.Index(rest, "\n\nSTRICT OUTPUT RULES"); j >= 0 {
		rest = rest[:j]
	}
	l := strings.Index(rest, " [")
	r := strings.LastIndex(rest, "] ")
	if l < 0 || r < l+2 {
		return "", false
	}
	return rest[l+2 : r], true
}
