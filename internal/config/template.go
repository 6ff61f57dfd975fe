package config

import "encoding/json"

// DefaultTemplateConfig 返回一个"可运行"的默认配置模板：
// - 使用 mock LLM 与合理限额（本地/离线调试友好）；
// - 组件名采用仓库内置实现；
// - 选项给出安全中性默认值，并列出全部键。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Concurrency:        d.Concurrency,
		MaxTokens:          0,
		MaxRetries:         2,
		CallTimeoutSeconds: 120,
		BytesPerToken:      4,
		Logging:            d.Logging,
		Server:             d.Server,
		Components:         d.Components,
		LLM:                "mock",
		Provider: map[string]Provider{
			"mock": {
				Client:  "mock",
				Options: json.RawMessage(`{"prefix":"","api_key":"","response_mode":"","tone":"FORMAL"}`),
				Limits:  Limits{RPM: 600, TPM: 1000000, MaxTokensPerReq: 0},
			},
			"openai": {
				Client: "openai",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": null,
  "extra_headers": {}
}`),
				Limits: Limits{RPM: 500, TPM: 200000, MaxTokensPerReq: 0},
			},
			"gemini": {
				Client: "gemini",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "GOOGLE_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": null
}`),
				Limits: Limits{RPM: 0, TPM: 0, MaxTokensPerReq: 0},
			},
		},
	}
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_classify_template": "",
  "classify_template_path": "",
  "inline_rewrite_template": "",
  "rewrite_template_path": ""
}`)
	cfg.Options.Window = json.RawMessage(`{
  "width": 15,
  "separator": "\n",
  "max_context_tokens": 0,
  "bytes_per_token": 4
}`)
	// mode: 留空时随 components.decoder（reply→verbatim，strict→strict）
	cfg.Options.Decoder = json.RawMessage(`{"mode": ""}`)
	// 线性装配器无配置项，保持空对象
	cfg.Options.Assembler = json.RawMessage(`{}`)
	cfg.Options.Storage = json.RawMessage(`{
  "root_dir": "files",
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}

// EnvTemplate 为 init-config 生成的 .env 模板（全部注释，按需取消）。
const EnvTemplate = `# toneshift 环境变量（优先级：CLI > ENV/.env > 配置文件 > 默认值）
# OPENAI_API_KEY=
# GOOGLE_API_KEY=
# TONESHIFT_LLM=mock
# TONESHIFT_CONCURRENCY=8
# TONESHIFT_MAX_RETRIES=2
# TONESHIFT_CALL_TIMEOUT_SECONDS=120
# TONESHIFT_LOG_LEVEL=info
# TONESHIFT_SERVER_ADDR=:8080
# TONESHIFT_COMPONENTS_DECODER=strict
# TONESHIFT_PROVIDER__openai__LIMITS_RPM=500
# TONESHIFT_PROVIDER__openai__OPTIONS_JSON={"model":"gpt-4.1-mini"}
`
