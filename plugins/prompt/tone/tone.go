package tone

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"

	"toneshift/pkg/contract"
)

// Options 为语气提示词的可选配置。
// 每个模板 inline 与 path 二选一（inline 优先），均为空时使用内置默认模板。
// - 分类模板数据：{Tones, Text}
// - 改写模板数据：{Tone, Before, Text, After}
type Options struct {
	InlineClassifyTemplate string `json:"inline_classify_template"`
	ClassifyTemplatePath   string `json:"classify_template_path"`
	InlineRewriteTemplate  string `json:"inline_rewrite_template"`
	RewriteTemplatePath    string `json:"rewrite_template_path"`
}

// Builder 实现 contract.PromptBuilder。运行期不做 I/O；模板在构造期解析。
type Builder struct {
	classifyT *template.Template
	rewriteT  *template.Template
}

var _ contract.PromptBuilder = (*Builder)(nil)

type classifyData struct {
	Tones string
	Text  string
}

type rewriteData struct {
	Tone   string
	Before string
	Text   string
	After  string
}

// New 创建语气提示词构造器。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	ct, err := load("classify", DefaultClassifyTemplate, o.InlineClassifyTemplate, o.ClassifyTemplatePath)
	if err != nil {
		return nil, err
	}
	rt, err := load("rewrite", DefaultRewriteTemplate, o.InlineRewriteTemplate, o.RewriteTemplatePath)
	if err != nil {
		return nil, err
	}
	return &Builder{classifyT: ct, rewriteT: rt}, nil
}

func load(name, def, inline, path string) (*template.Template, error) {
	src := def
	if inline != "" {
		src = inline
	} else if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s template read: %w", name, err)
		}
		src = string(b)
	}
	// 缺失字段视为错误，避免模板拼写错误静默输出 "<no value>"
	t, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%s template parse: %w", name, err)
	}
	return t, nil
}

// BuildClassify 渲染分类提示词；text 为整篇文档文本。
func (b *Builder) BuildClassify(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := b.classifyT.Execute(&buf, classifyData{Tones: contract.ToneNames(), Text: text}); err != nil {
		return "", fmt.Errorf("classify render: %v: %w", err, contract.ErrInvalidInput)
	}
	return buf.String(), nil
}

// BuildRewrite 渲染单段落改写提示词。
func (b *Builder) BuildRewrite(ctx context.Context, task contract.RewriteTask) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !task.Tone.Valid() {
		return "", fmt.Errorf("rewrite render: %w", &contract.InvalidToneError{Raw: string(task.Tone)})
	}
	var buf bytes.Buffer
	data := rewriteData{Tone: task.Tone.String(), Before: task.Window.Before, Text: task.Text, After: task.Window.After}
	if err := b.rewriteT.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rewrite render: %v: %w", err, contract.ErrInvalidInput)
	}
	return buf.String(), nil
}

// EstimateOverheadTokens 估算改写模板的固定部分（字段全空时的渲染结果）。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	var buf bytes.Buffer
	if err := b.rewriteT.Execute(&buf, rewriteData{}); err != nil {
		return 0
	}
	return estimate(buf.String())
}

// DefaultClassifyTemplate 为内置分类模板。
const DefaultClassifyTemplate = `Respond only with one of the following words [{{.Tones}}], that best describes the tone of the text that follows and nothing else: '{{.Text}}'`

// DefaultRewriteTemplate 为内置改写模板（严格输出协议）。
const DefaultRewriteTemplate = `This is a STRICT text transformation task, not a conversational task. Follow the instructions exactly.

Rewrite ONLY the text between [brackets] in the specified tone. Use the surrounding text to understand the context but don't use it in the output.

Tone: {{.Tone}}
Text: {{.Before}} [{{.Text}}] {{.After}}

STRICT OUTPUT RULES:
1. Output first character must be first character replacing bracketed content
2. Output last character must be last character replacing bracketed content
3. Only modify the text if its tone significantly differs from the requested tone; otherwise, leave it unchanged.
4. No greetings, context, or other text permitted
5. No explanations
6. Direct replacement only
7. No Guesswork. If context is unclear, return the original text.
8. If no text present in brackets, return a single space character.
9. All abbreviations must remain EXACTLY as they appear. Never expand abbreviations.

Example input: "This is a test. [The test is hard]. The test has concluded."
Example output: The test is difficult

FAILURE CONDITIONS:
- Any output starting before bracket content
- Any output continuing after bracket content
- Any explanatory text
- Transforming ambiguous text
`
