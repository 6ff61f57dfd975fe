package transpose_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "toneshift/internal/config"
	"toneshift/internal/prompt"
	"toneshift/internal/transpose"
	"toneshift/pkg/contract"
	"toneshift/pkg/registry"
)

// baseConfig 以默认模板为底，按 provider 选项构造可运行配置。
func baseConfig(llm string, opts string) cfgpkg.Config {
	cfg := cfgpkg.Merge(cfgpkg.Defaults(), cfgpkg.DefaultTemplateConfig())
	cfg.Logging.Level = "error"
	cfg.LLM = llm
	cfg.Provider[llm] = cfgpkg.Provider{Client: llm, Options: json.RawMessage(opts)}
	return cfg
}

func assemble(t *testing.T, cfg cfgpkg.Config) (transpose.Components, transpose.Settings) {
	t.Helper()
	comp, set, err := cfgpkg.Assemble(cfg)
	require.NoError(t, err)
	return comp, set
}

// genLines 生成 n 个互不相同的段落，每 every 段插入一个空段落。
func genLines(n, every int) []string {
	var lines []string
	for i := 0; i < n; i++ {
		if every > 0 && i > 0 && i%every == 0 {
			lines = append(lines, "")
		}
		lines = append(lines, fmt.Sprintf("Paragraph %03d talks about item %d.", i, i*7))
	}
	return lines
}

// expectedOutput: 非空段落加前缀，空段落原样。
func expectedOutput(lines []string, prefix string) string {
	var b strings.Builder
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			l = prefix + ": " + l
		}
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// runFiles: 读取两份文本 → Transpose → 写出。
func runFiles(ctx context.Context, eng *transpose.Engine, tonePath, contentPath, outPath string) error {
	codec, err := registry.CodecFor(contentPath)
	if err != nil {
		return err
	}
	read := func(p string) (contract.Document, error) {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return codec.Decode(ctx, f)
	}
	toneDoc, err := read(tonePath)
	if err != nil {
		return err
	}
	doc, err := read(contentPath)
	if err != nil {
		return err
	}
	out, err := eng.Transpose(ctx, toneDoc, doc)
	if err != nil {
		return err
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err := codec.Encode(ctx, f, out); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeLines(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return p
}

func TestE2ESuccess(t *testing.T) {
	dir := t.TempDir()
	lines := genLines(60, 10)
	tonePath := writeLines(t, dir, "tone.txt", []string{"Dear Sir,", "Kind regards."})
	in := writeLines(t, dir, "content.txt", lines)
	out := filepath.Join(dir, "content-ADJUSTED_TONE.txt")

	comp, set := assemble(t, baseConfig("mock", `{"prefix":"DEBUG"}`))
	eng, err := transpose.New(comp, set, nil)
	require.NoError(t, err)
	require.NoError(t, runFiles(context.Background(), eng, tonePath, in, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, expectedOutput(lines, "DEBUG"), string(got))
}

func TestE2EBudgetExceeded(t *testing.T) {
	cfg := baseConfig("mock", `{"prefix":"DEBUG"}`)
	cfg.MaxTokens = 1
	comp, set := assemble(t, cfg)
	_, err := transpose.New(comp, set, nil)
	assert.ErrorIs(t, err, contract.ErrBudgetExceeded, "预算小于模板固定开销时装配失败")

	// 预算仅略高于固定开销：长段落在调用前被拒绝，且不产出结果
	cfg = baseConfig("mock", `{"prefix":"DEBUG"}`)
	cfg.MaxRetries = 0
	// 上下文裁剪为空，只有长段落本身超限
	cfg.Options.Window = json.RawMessage(`{"width":15,"max_context_tokens":1}`)
	comp, set = assemble(t, cfg)
	_, overhead := prompt.EffectiveMaxTokens(comp.Prompts, set.BytesPerToken, 1<<20)
	set.MaxTokens = overhead + 4
	eng, err := transpose.New(comp, set, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	in := writeLines(t, dir, "content.txt", []string{"short", strings.Repeat("long paragraph ", 40)})
	codec, err := registry.CodecFor(in)
	require.NoError(t, err)
	f, err := os.Open(in)
	require.NoError(t, err)
	defer f.Close()
	doc, err := codec.Decode(context.Background(), f)
	require.NoError(t, err)

	_, err = eng.ApplyTone(context.Background(), doc, contract.ToneFormal)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrBudgetExceeded)
	var rw *contract.RewriteError
	require.True(t, errors.As(err, &rw))
	assert.Equal(t, 1, rw.Index)
}

func TestE2ERetry(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "flaky.log")
	lines := genLines(12, 0)
	tonePath := writeLines(t, dir, "tone.txt", []string{"Hello there."})
	in := writeLines(t, dir, "content.txt", lines)
	out := filepath.Join(dir, "out.txt")

	cfg := baseConfig("flaky", fmt.Sprintf(`{"prefix":"FLAKY","log_path":%q}`, logPath))
	cfg.MaxRetries = 2
	cfg.Components.Decoder = "strict"
	comp, set := assemble(t, cfg)
	eng, err := transpose.New(comp, set, nil)
	require.NoError(t, err)
	require.NoError(t, runFiles(context.Background(), eng, tonePath, in, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, expectedOutput(lines, "FLAKY"), string(got))

	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, l := range strings.Split(strings.TrimSpace(string(logData)), "\n") {
		counts[l]++
	}
	// 分类：限流→成功；每个改写：限流→空白→成功
	assert.Equal(t, map[string]int{"rate_limited": 13, "blank": 12, "ok": 13}, counts)
}
