package reply

import (
	"context"
	"fmt"
	"strings"

	"toneshift/pkg/contract"
)

// 解码模式。
const (
	// ModeVerbatim: 原样信任网关输出。
	ModeVerbatim = "verbatim"
	// ModeStrict: 校验严格输出协议，违规返回 ErrResponseInvalid。
	ModeStrict = "strict"
)

// minEcho: 视为"回显上下文"的最短片段（按 rune 计）。
const minEcho = 12

// Options 为回复解码器配置。Mode 为空时取 verbatim。
type Options struct {
	Mode string `json:"mode"`
}

// Decoder 实现 contract.Decoder。
type Decoder struct {
	strict bool
}

var _ contract.Decoder = (*Decoder)(nil)

// New 创建回复解码器；未知模式返回 ErrInvalidInput。
func New(opts *Options) (*Decoder, error) {
	mode := ModeVerbatim
	if opts != nil && strings.TrimSpace(opts.Mode) != "" {
		mode = strings.ToLower(strings.TrimSpace(opts.Mode))
	}
	switch mode {
	case ModeVerbatim:
		return &Decoder{}, nil
	case ModeStrict:
		return &Decoder{strict: true}, nil
	default:
		return nil, fmt.Errorf("decoder: unknown mode %q: %w", mode, contract.ErrInvalidInput)
	}
}

// Strict 报告是否启用协议校验。
func (d *Decoder) Strict() bool { return d.strict }

// Decode 将网关输出解释为段落替换文本。
// strict 模式：
//   - 去除首尾空白与一层包裹的 []；
//   - 非空输入得到空/全空白输出 → 违规（空白哨兵仅用于空输入）；
//   - 输出仍含 [原文] → 违规；
//   - 输出含前文末行或后文首行的非平凡片段 → 违规（越出括号边界）。
func (d *Decoder) Decode(ctx context.Context, task contract.RewriteTask, raw contract.Raw) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !d.strict {
		return raw.Text, nil
	}
	src := strings.TrimSpace(task.Text)
	if src == "" {
		// 空输入允许单空格哨兵
		return raw.Text, nil
	}
	out := strings.TrimSpace(raw.Text)
	if len(out) >= 2 && strings.HasPrefix(out, "[") && strings.HasSuffix(out, "]") {
		out = strings.TrimSpace(out[1 : len(out)-1])
	}
	if out == "" {
		return "", fmt.Errorf("decode: empty output for paragraph %d: %w", task.Index, contract.ErrResponseInvalid)
	}
	if strings.Contains(out, "["+src+"]") {
		return "", fmt.Errorf("decode: output repeats bracketed source for paragraph %d: %w", task.Index, contract.ErrResponseInvalid)
	}
	if echoes(out, src, lastLine(task.Window.Before)) || echoes(out, src, firstLine(task.Window.After)) {
		return "", fmt.Errorf("decode: output leaks surrounding context for paragraph %d: %w", task.Index, contract.ErrResponseInvalid)
	}
	return out, nil
}

// echoes 报告 out 是否包含上下文片段 span，且该片段并非原文自身的一部分。
func echoes(out, src, span string) bool {
	span = strings.TrimSpace(span)
	if len([]rune(span)) < minEcho {
		return false
	}
	return strings.Contains(out, span) && !strings.Contains(src, span)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
