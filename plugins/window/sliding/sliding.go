package sliding

import (
	"fmt"
	"strings"

	"toneshift/internal/prompt"
	"toneshift/pkg/contract"
)

// DefaultWidth 为默认单侧上下文段落数。
const DefaultWidth = 15

// Options 为滑动上下文窗口的可选配置。
type Options struct {
	// Width: 单侧上下文段落数（左右各 Width 条）。<=0 时采用 DefaultWidth。
	Width int `json:"width"`
	// Separator: 同侧段落之间的连接符。空串时采用 "\n"。
	Separator string `json:"separator"`
	// MaxContextTokens: 前后文合计的 token 上限估算；<=0 表示不限。
	// 超限时自远端起交替丢弃段落（先 Before 后 After），直到满足上限。
	MaxContextTokens int `json:"max_context_tokens"`
	// BytesPerToken: 估算系数，tokens ≈ ceil(utf8_bytes / BytesPerToken)。<=0 时采用默认 4。
	BytesPerToken int `json:"bytes_per_token"`
}

// Builder 实现 contract.WindowBuilder。
type Builder struct {
	width     int
	sep       string
	maxTokens int
	estimate  contract.TokenEstimator
}

var _ contract.WindowBuilder = (*Builder)(nil)

// New 创建滑动窗口构造器。
func New(opts *Options) *Builder {
	b := &Builder{width: DefaultWidth, sep: "\n", estimate: prompt.MakeEstimator(0)}
	if opts != nil {
		if opts.Width > 0 {
			b.width = opts.Width
		}
		if opts.Separator != "" {
			b.sep = opts.Separator
		}
		if opts.MaxContextTokens > 0 {
			b.maxTokens = opts.MaxContextTokens
		}
		b.estimate = prompt.MakeEstimator(opts.BytesPerToken)
	}
	return b
}

// Width 返回生效的单侧宽度。
func (b *Builder) Width() int { return b.width }

// Window 计算 texts[index] 的上下文：
// Before = texts[max(0,i-W):i]，After = texts[i+1:min(N,i+W+1)]，各侧以分隔符连接。
func (b *Builder) Window(texts []string, index int) (contract.Window, error) {
	n := len(texts)
	if index < 0 || index >= n {
		return contract.Window{}, fmt.Errorf("window: index %d out of range [0,%d): %w", index, n, contract.ErrInvalidInput)
	}
	lo := max(0, index-b.width)
	hi := min(n, index+b.width+1)
	before := texts[lo:index]
	after := texts[index+1 : hi]
	if b.maxTokens > 0 {
		before, after = b.fit(before, after)
	}
	return contract.Window{
		Before: strings.Join(before, b.sep),
		After:  strings.Join(after, b.sep),
	}, nil
}

// fit 自远端交替裁剪，直到估算总量不超过 maxTokens。
func (b *Builder) fit(before, after []string) ([]string, []string) {
	dropBefore := true
	for len(before)+len(after) > 0 && b.tokens(before, after) > b.maxTokens {
		switch {
		case len(before) == 0:
			after = after[:len(after)-1]
		case len(after) == 0:
			before = before[1:]
		case dropBefore:
			before = before[1:]
		default:
			after = after[:len(after)-1]
		}
		dropBefore = !dropBefore
	}
	return before, after
}

func (b *Builder) tokens(before, after []string) int {
	return b.estimate(strings.Join(before, b.sep)) + b.estimate(strings.Join(after, b.sep))
}
