package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"toneshift/pkg/contract"
	linear "toneshift/plugins/assembler/linear"
	reply "toneshift/plugins/decoder/reply"
	docx "toneshift/plugins/document/docx"
	memory "toneshift/plugins/document/memory"
	flaky "toneshift/plugins/llmclient/flaky"
	gmi "toneshift/plugins/llmclient/gemini"
	mock "toneshift/plugins/llmclient/mock"
	oai "toneshift/plugins/llmclient/openai"
	ptone "toneshift/plugins/prompt/tone"
	sfs "toneshift/plugins/storage/filesystem"
	wsld "toneshift/plugins/window/sliding"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewWindowBuilder 工厂签名：接收原样 JSON Options。
type NewWindowBuilder func(raw json.RawMessage) (contract.WindowBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewStorage 工厂签名：接收原样 JSON Options。
type NewStorage func(raw json.RawMessage) (contract.Storage, error)

// PromptBuilder 工厂注册表（显式、零反射）。
var PromptBuilder = map[string]NewPromptBuilder{
	// tone: 语气分类 + 单段落改写模板
	"tone": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts ptone.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		b, err := ptone.New(&opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	},
}

// Window 工厂注册表。
var Window = map[string]NewWindowBuilder{
	// sliding: 左右各 width 段的滑动上下文窗口
	"sliding": func(raw json.RawMessage) (contract.WindowBuilder, error) {
		var opts wsld.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wsld.New(&opts), nil
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) {
		c, err := oai.New(raw)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
	"gemini": func(raw json.RawMessage) (contract.LLMClient, error) {
		c, err := gmi.New(raw)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
	"mock": func(raw json.RawMessage) (contract.LLMClient, error) {
		c, err := mock.New(raw)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
	"flaky": func(raw json.RawMessage) (contract.LLMClient, error) {
		c, err := flaky.New(raw)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// reply: 默认 verbatim，options.mode 可切换 strict
	"reply": func(raw json.RawMessage) (contract.Decoder, error) {
		d, err := newReply(raw, reply.ModeVerbatim)
		if err != nil {
			return nil, err
		}
		return d, nil
	},
	// strict: 始终校验严格输出协议；显式 mode 只能为空或 strict
	"strict": func(raw json.RawMessage) (contract.Decoder, error) {
		d, err := newReply(raw, reply.ModeStrict)
		if err != nil {
			return nil, err
		}
		if !d.Strict() {
			return nil, fmt.Errorf("decoder strict: mode conflicts with strict: %w", contract.ErrInvalidInput)
		}
		return d, nil
	},
}

func newReply(raw json.RawMessage, def string) (*reply.Decoder, error) {
	var opts reply.Options
	if err := strictUnmarshal(raw, &opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Mode) == "" {
		opts.Mode = def
	}
	d, err := reply.New(&opts)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// linear: 按过滤后序号逐段 ReplaceText
	"linear": func(raw json.RawMessage) (contract.Assembler, error) { return linear.New(raw) },
}

// Storage 工厂注册表。
var Storage = map[string]NewStorage{
	// fs: 扁平目录存储（原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Storage, error) {
		var opts sfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		s, err := sfs.New(&opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
}

// Codec 文档编解码器注册表（按格式名）。
var Codec = map[string]contract.Codec{
	"docx": docx.New(),
	"text": memory.TextCodec{},
}

// codecExt: 扩展名 → 格式名。
var codecExt = map[string]string{
	".docx": "docx",
	".txt":  "text",
	".text": "text",
	".md":   "text",
}

// CodecFor 按文件扩展名（大小写不敏感）选择编解码器；未知扩展名返回 ErrUnsupportedFormat。
func CodecFor(path string) (contract.Codec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if name, ok := codecExt[ext]; ok {
		return Codec[name], nil
	}
	return nil, fmt.Errorf("registry: %q: %w", filepath.Base(path), contract.ErrUnsupportedFormat)
}
