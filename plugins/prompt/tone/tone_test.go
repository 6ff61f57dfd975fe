package tone

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toneshift/pkg/contract"
)

// UT-PR-01: 默认分类模板
func TestBuildClassifyDefault(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	p, err := b.BuildClassify(context.Background(), "Dear Sir,\nRegards\n")
	require.NoError(t, err)
	assert.Equal(t,
		"Respond only with one of the following words [CASUAL, FORMAL, GRANDILOQUENT], that best describes the tone of the text that follows and nothing else: 'Dear Sir,\nRegards\n'",
		p)
}

// UT-PR-02: 默认改写模板编码严格输出协议
func TestBuildRewriteDefault(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	task := contract.RewriteTask{
		Index:  1,
		Tone:   contract.ToneFormal,
		Text:   "gonna be late lol",
		Window: contract.Window{Before: "hey what's up", After: "see ya"},
	}
	p, err := b.BuildRewrite(context.Background(), task)
	require.NoError(t, err)

	assert.Contains(t, p, "Tone: FORMAL\n")
	assert.Contains(t, p, "Text: hey what's up [gonna be late lol] see ya\n")
	clauses := []string{
		"1. Output first character must be first character replacing bracketed content",
		"2. Output last character must be last character replacing bracketed content",
		"3. Only modify the text if its tone significantly differs from the requested tone",
		"4. No greetings, context, or other text permitted",
		"5. No explanations",
		"6. Direct replacement only",
		"7. No Guesswork. If context is unclear, return the original text.",
		"8. If no text present in brackets, return a single space character.",
		"9. All abbreviations must remain EXACTLY as they appear. Never expand abbreviations.",
		`Example input: "This is a test. [The test is hard]. The test has concluded."`,
		"Example output: The test is difficult",
		"FAILURE CONDITIONS:",
		"- Any output starting before bracket content",
		"- Transforming ambiguous text",
	}
	for _, c := range clauses {
		assert.Contains(t, p, c, "缺少协议条款")
	}
}

func TestBuildRewriteEmptyWindow(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	p, err := b.BuildRewrite(context.Background(), contract.RewriteTask{Tone: contract.ToneCasual, Text: "only"})
	require.NoError(t, err)
	assert.Contains(t, p, "Text:  [only] \n")
}

func TestBuildRewriteInvalidTone(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	_, err = b.BuildRewrite(context.Background(), contract.RewriteTask{Tone: "SARCASTIC", Text: "x"})
	assert.ErrorIs(t, err, contract.ErrInvalidTone)
}

// 模板可替换：inline 优先于 path
func TestTemplateOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rewrite.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("FILE {{.Tone}}"), 0o644))

	b, err := New(&Options{RewriteTemplatePath: path, InlineClassifyTemplate: "C {{.Tones}} | {{.Text}}"})
	require.NoError(t, err)
	p, err := b.BuildRewrite(context.Background(), contract.RewriteTask{Tone: contract.ToneGrandiloquent})
	require.NoError(t, err)
	assert.Equal(t, "FILE GRANDILOQUENT", p)
	c, err := b.BuildClassify(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "C CASUAL, FORMAL, GRANDILOQUENT | x", c)

	b, err = New(&Options{RewriteTemplatePath: path, InlineRewriteTemplate: "INLINE"})
	require.NoError(t, err)
	p, err = b.BuildRewrite(context.Background(), contract.RewriteTask{Tone: contract.ToneFormal})
	require.NoError(t, err)
	assert.Equal(t, "INLINE", p)
}

func TestTemplateErrors(t *testing.T) {
	_, err := New(&Options{InlineRewriteTemplate: "{{.Tone"})
	assert.ErrorContains(t, err, "rewrite template parse")

	_, err = New(&Options{ClassifyTemplatePath: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorContains(t, err, "classify template read")

	b, err := New(&Options{InlineRewriteTemplate: "{{.Missing}}"})
	require.NoError(t, err)
	_, err = b.BuildRewrite(context.Background(), contract.RewriteTask{Tone: contract.ToneFormal})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestEstimateOverhead(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	n := b.EstimateOverheadTokens(func(s string) int { return len(s) })
	assert.Greater(t, n, 500)
	assert.Less(t, n, len(DefaultRewriteTemplate))
	assert.Zero(t, b.EstimateOverheadTokens(nil))
}

func TestBuildCanceled(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.BuildClassify(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = b.BuildRewrite(ctx, contract.RewriteTask{Tone: contract.ToneFormal})
	assert.True(t, strings.Contains(err.Error(), "canceled"))
}
