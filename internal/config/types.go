package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Concurrency: 同时在途的改写任务上限；0 表示不限。
	Concurrency int `json:"concurrency"`
	// MaxTokens: 单次提示词 token 上限；0 表示关闭预算校验。
	MaxTokens int `json:"max_tokens"`
	// MaxRetries: 单次调用最大重试次数（>=0）。0 表示不重试。
	MaxRetries int `json:"max_retries"`
	// CallTimeoutSeconds: 单次网关调用超时（秒）；0 表示不设。
	CallTimeoutSeconds int `json:"call_timeout_seconds"`
	// BytesPerToken: token 估算系数；0 使用默认 4。
	BytesPerToken int `json:"bytes_per_token"`

	Logging Logging `json:"logging"`
	Server  Server  `json:"server"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志等级与目录；轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Server: serve 子命令的监听地址。
type Server struct {
	Addr string `json:"addr"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	PromptBuilder string `json:"prompt_builder"`
	Window        string `json:"window"`
	Decoder       string `json:"decoder"`
	Assembler     string `json:"assembler"`
	Storage       string `json:"storage"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	PromptBuilder json.RawMessage `json:"prompt_builder,omitempty"`
	Window        json.RawMessage `json:"window,omitempty"`
	Decoder       json.RawMessage `json:"decoder,omitempty"`
	Assembler     json.RawMessage `json:"assembler,omitempty"`
	Storage       json.RawMessage `json:"storage,omitempty"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options,omitempty"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}
