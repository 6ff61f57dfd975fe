package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toneshift/plugins/decoder/reply"
)

const basicJSON = `{
  "concurrency": 4,
  "max_retries": 2,
  "logging": {"level": "debug"},
  "components": {"decoder": "strict"},
  "llm": "gemini",
  "provider": {
    "gemini": {"client": "gemini", "options": {"model": "gemini-2.5-flash"}, "limits": {"rpm": 60}}
  },
  "options": {"window": {"width": 3}}
}`

const basicYAML = `
concurrency: 4
max_retries: 2
logging:
  level: debug
components:
  decoder: strict
llm: gemini
provider:
  gemini:
    client: gemini
    options:
      model: gemini-2.5-flash
    limits:
      rpm: 60
options:
  window:
    width: 3
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// UT-CFG-01: JSON 与 YAML 解析结果一致
func TestLoadFileJSONAndYAML(t *testing.T) {
	a, err := LoadFile(writeFile(t, "config.json", basicJSON))
	require.NoError(t, err)
	b, err := LoadFile(writeFile(t, "config.yaml", basicYAML))
	require.NoError(t, err)

	for _, cfg := range []Config{a, b} {
		assert.Equal(t, 4, cfg.Concurrency)
		assert.Equal(t, 2, cfg.MaxRetries)
		assert.Equal(t, -1, cfg.CallTimeoutSeconds, "缺省字段保持未设置标记")
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "strict", cfg.Components.Decoder)
		assert.Equal(t, "gemini", cfg.LLM)
		assert.Equal(t, 60, cfg.Provider["gemini"].Limits.RPM)
		assert.JSONEq(t, `{"model":"gemini-2.5-flash"}`, string(cfg.Provider["gemini"].Options))
		assert.JSONEq(t, `{"width":3}`, string(cfg.Options.Window))
	}
}

// UT-CFG-02: 未知字段（JSON/YAML）一律拒绝
func TestUnknownFields(t *testing.T) {
	_, err := ParseJSON([]byte(`{"unknown":1}`))
	assert.Error(t, err)
	_, err = ParseYAML([]byte("concurrency: 2\nunknown: 1\n"))
	assert.Error(t, err)
	_, err = ParseYAML([]byte("logging:\n  colour: red\n"))
	assert.Error(t, err)
	_, err = ParseYAML([]byte("concurrency: [1"))
	assert.Error(t, err)
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	cfg, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, Unset(), cfg)
}

// UT-CFG-03: ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"TONESHIFT_CONCURRENCY=0",
		"TONESHIFT_MAX_RETRIES=3",
		"TONESHIFT_CALL_TIMEOUT_SECONDS=30",
		"TONESHIFT_LLM=mock",
		"TONESHIFT_LOG_LEVEL=warn",
		"TONESHIFT_SERVER_ADDR=:9090",
		"TONESHIFT_COMPONENTS_DECODER=strict",
		"TONESHIFT_PROVIDER__mock__CLIENT=mock",
		"TONESHIFT_PROVIDER__mock__LIMITS_RPM=7",
		`TONESHIFT_PROVIDER__mock__OPTIONS_JSON={"prefix":"E"}`,
		"TONESHIFT_MAX_TOKENS=",
		"OTHER_VAR=1",
		"TONESHIFT_UNKNOWN=1",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	assert.Equal(t, 0, over.Concurrency, "显式 0 表示不限并发")
	assert.Equal(t, 3, over.MaxRetries)
	assert.Equal(t, 30, over.CallTimeoutSeconds)
	assert.Equal(t, 0, over.MaxTokens)
	assert.Equal(t, "mock", over.LLM)
	assert.Equal(t, "warn", over.Logging.Level)
	assert.Equal(t, ":9090", over.Server.Addr)
	assert.Equal(t, "strict", over.Components.Decoder)
	p := over.Provider["mock"]
	assert.Equal(t, "mock", p.Client)
	assert.Equal(t, 7, p.Limits.RPM)
	assert.JSONEq(t, `{"prefix":"E"}`, string(p.Options))

	_, err = EnvOverlay([]string{"TONESHIFT_CONCURRENCY=many"})
	assert.ErrorContains(t, err, "TONESHIFT_CONCURRENCY")
	_, err = EnvOverlay([]string{"TONESHIFT_PROVIDER__x__OPTIONS_JSON={bad"})
	assert.Error(t, err)

	over, err = EnvOverlay(nil)
	require.NoError(t, err)
	assert.Equal(t, Unset(), over)
}

// UT-CFG-04: 优先级 CLI > ENV > 文件 > 默认
func TestMergePrecedence(t *testing.T) {
	file, err := ParseJSON([]byte(basicJSON))
	require.NoError(t, err)
	env, err := EnvOverlay([]string{
		"TONESHIFT_MAX_RETRIES=0",
		"TONESHIFT_PROVIDER__gemini__LIMITS_TPM=1000",
	})
	require.NoError(t, err)
	cli := Unset()
	cli.Concurrency = 1
	cli.LLM = "openai"

	cfg := Merge(Merge(Merge(Defaults(), file), env), cli)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 0, cfg.MaxRetries, "ENV 显式 0 覆盖文件中的 2")
	assert.Equal(t, 0, cfg.CallTimeoutSeconds)
	assert.Equal(t, "openai", cfg.LLM)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "logs", cfg.Logging.Dir, "未覆盖时保留默认")
	assert.Equal(t, "strict", cfg.Components.Decoder)
	assert.Equal(t, "sliding", cfg.Components.Window)
	g := cfg.Provider["gemini"]
	assert.Equal(t, "gemini", g.Client, "provider 按字段合并，不丢失 client")
	assert.Equal(t, 60, g.Limits.RPM)
	assert.Equal(t, 1000, g.Limits.TPM)
	assert.JSONEq(t, `{"root_dir":"files"}`, string(cfg.Options.Storage))

	// 缺省 concurrency 的文件不覆盖默认 8
	file, err = ParseJSON([]byte(`{"llm":"mock"}`))
	require.NoError(t, err)
	assert.Equal(t, 8, Merge(Defaults(), file).Concurrency)
}

// UT-CFG-05: 校验错误分支
func TestValidateErrors(t *testing.T) {
	assert.Error(t, Validate(Config{}), "空配置应失败")
	cases := map[string]func(*Config){
		"negative concurrency": func(c *Config) { c.Concurrency = -1 },
		"negative retries":     func(c *Config) { c.MaxRetries = -1 },
		"negative timeout":     func(c *Config) { c.CallTimeoutSeconds = -1 },
		"unknown provider":     func(c *Config) { c.LLM = "nope" },
		"empty client":         func(c *Config) { c.Provider = map[string]Provider{"mock": {}} },
		"unregistered client":  func(c *Config) { c.Provider = map[string]Provider{"mock": {Client: "nope"}} },
		"unregistered decoder": func(c *Config) { c.Components.Decoder = "nope" },
		"unregistered window":  func(c *Config) { c.Components.Window = "nope" },
		"unregistered storage": func(c *Config) { c.Components.Storage = "nope" },
		"max tokens over limit": func(c *Config) {
			c.MaxTokens = 5000
			p := c.Provider["mock"]
			p.Limits.MaxTokensPerReq = 4096
			c.Provider["mock"] = p
		},
	}
	for name, mutate := range cases {
		cfg := DefaultTemplateConfig()
		mutate(&cfg)
		assert.Error(t, Validate(cfg), name)
	}
	assert.NoError(t, Validate(DefaultTemplateConfig()))
}

// UT-CFG-06: 默认模板可序列化、严格回读并完成装配
func TestTemplateAssemble(t *testing.T) {
	raw, err := json.MarshalIndent(DefaultTemplateConfig(), "", "  ")
	require.NoError(t, err)
	cfg, err := ParseJSON(raw)
	require.NoError(t, err)
	cfg = Merge(Defaults(), cfg)

	comp, set, err := Assemble(cfg)
	require.NoError(t, err)
	assert.NotNil(t, comp.LLM)
	assert.NotNil(t, comp.Prompts)
	assert.NotNil(t, comp.Window)
	assert.NotNil(t, comp.Decoder)
	assert.NotNil(t, comp.Assembler)
	assert.Equal(t, 8, set.Concurrency)
	assert.Equal(t, 2, set.MaxRetries)
	assert.Equal(t, 120*time.Second, set.CallTimeout)
	assert.NotNil(t, set.Gate)
	assert.True(t, strings.HasPrefix(string(set.GateKey), "mock:"))

	cfg.Options.Storage = json.RawMessage(`{"root_dir":` + quote(t.TempDir()) + `}`)
	s, err := Storage(cfg)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

// UT-CFG-07: 组件 Options 未知字段在装配期失败
func TestAssembleStrictOptions(t *testing.T) {
	cfg := Merge(Defaults(), DefaultTemplateConfig())
	cfg.Options.Window = json.RawMessage(`{"radius":1}`)
	_, _, err := Assemble(cfg)
	assert.ErrorContains(t, err, "window")

	cfg = Merge(Defaults(), DefaultTemplateConfig())
	cfg.Options.Decoder = json.RawMessage(`{"mode":"fuzzy"}`)
	_, _, err = Assemble(cfg)
	assert.ErrorContains(t, err, "decoder")

	cfg = Merge(Defaults(), DefaultTemplateConfig())
	cfg.Options.Storage = json.RawMessage(`{"root":"x"}`)
	_, err = Storage(cfg)
	assert.Error(t, err)
}

// UT-CFG-08: 模板配置下切换 components.decoder 即生效
func TestTemplateDecoderSwitch(t *testing.T) {
	cfg := Merge(Defaults(), DefaultTemplateConfig())
	comp, _, err := Assemble(cfg)
	require.NoError(t, err)
	assert.False(t, comp.Decoder.(*reply.Decoder).Strict(), "缺省 reply 为 verbatim")

	cfg.Components.Decoder = "strict"
	comp, _, err = Assemble(cfg)
	require.NoError(t, err)
	assert.True(t, comp.Decoder.(*reply.Decoder).Strict(), "strict 不被模板 options 覆盖")

	env, err := EnvOverlay([]string{EnvPrefix + "COMPONENTS_DECODER=strict"})
	require.NoError(t, err)
	comp, _, err = Assemble(Merge(Merge(Defaults(), DefaultTemplateConfig()), env))
	require.NoError(t, err)
	assert.True(t, comp.Decoder.(*reply.Decoder).Strict(), "ENV 切换 strict")

	cfg.Options.Decoder = json.RawMessage(`{"mode":"verbatim"}`)
	_, _, err = Assemble(cfg)
	assert.ErrorContains(t, err, "decoder", "strict 与显式 verbatim 冲突")
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestCloneRaw(t *testing.T) {
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	assert.Equal(t, "abc", string(dst))
	assert.Nil(t, cloneRaw(nil))
}
