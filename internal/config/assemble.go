package config

import (
	"errors"
	"fmt"
	"time"

	"toneshift/internal/rate"
	"toneshift/internal/transpose"
	"toneshift/pkg/contract"
	"toneshift/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if cfg.Concurrency < 0 {
		return errors.New("config: concurrency must be >= 0")
	}
	if cfg.MaxTokens < 0 {
		return errors.New("config: max_tokens must be >= 0")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if cfg.CallTimeoutSeconds < 0 {
		return errors.New("config: call_timeout_seconds must be >= 0")
	}
	if cfg.BytesPerToken < 0 {
		return errors.New("config: bytes_per_token must be >= 0")
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if prov.Limits.MaxTokensPerReq > 0 && cfg.MaxTokens > prov.Limits.MaxTokensPerReq {
		return fmt.Errorf("config: max_tokens(%d) exceeds provider.max_tokens_per_req(%d)", cfg.MaxTokens, prov.Limits.MaxTokensPerReq)
	}
	if registry.LLMClient[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered", prov.Client)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	if name := effName(cfg.Components.PromptBuilder, d.PromptBuilder); registry.PromptBuilder[name] == nil {
		return fmt.Errorf("config: prompt_builder %q not registered", name)
	}
	if name := effName(cfg.Components.Window, d.Window); registry.Window[name] == nil {
		return fmt.Errorf("config: window %q not registered", name)
	}
	if name := effName(cfg.Components.Decoder, d.Decoder); registry.Decoder[name] == nil {
		return fmt.Errorf("config: decoder %q not registered", name)
	}
	if name := effName(cfg.Components.Assembler, d.Assembler); registry.Assembler[name] == nil {
		return fmt.Errorf("config: assembler %q not registered", name)
	}
	if name := effName(cfg.Components.Storage, d.Storage); registry.Storage[name] == nil {
		return fmt.Errorf("config: storage %q not registered", name)
	}
	return nil
}

// Assemble 构造引擎组件与运行设置（含限流 Gate 与分组键）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (transpose.Components, transpose.Settings, error) {
	if err := Validate(cfg); err != nil {
		return transpose.Components{}, transpose.Settings{}, err
	}
	d := Defaults().Components
	fail := func(comp string, err error) (transpose.Components, transpose.Settings, error) {
		return transpose.Components{}, transpose.Settings{}, fmt.Errorf("config: %s: %w", comp, err)
	}

	pb, err := registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.PromptBuilder)](cfg.Options.PromptBuilder)
	if err != nil {
		return fail("prompt_builder", err)
	}
	win, err := registry.Window[effName(cfg.Components.Window, d.Window)](cfg.Options.Window)
	if err != nil {
		return fail("window", err)
	}
	dec, err := registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder)
	if err != nil {
		return fail("decoder", err)
	}
	asm, err := registry.Assembler[effName(cfg.Components.Assembler, d.Assembler)](cfg.Options.Assembler)
	if err != nil {
		return fail("assembler", err)
	}

	// LLM 客户端
	prov := cfg.Provider[cfg.LLM]
	llm, err := registry.LLMClient[prov.Client](prov.Options)
	if err != nil {
		return fail("llm "+cfg.LLM, err)
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生 API Key）
	// 派生失败时退化为 provider 名称。
	key, derr := rate.DeriveKey(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	comp := transpose.Components{
		LLM:       llm,
		Prompts:   pb,
		Window:    win,
		Decoder:   dec,
		Assembler: asm,
	}
	set := transpose.Settings{
		Concurrency:   cfg.Concurrency,
		MaxRetries:    cfg.MaxRetries,
		CallTimeout:   time.Duration(cfg.CallTimeoutSeconds) * time.Second,
		MaxTokens:     cfg.MaxTokens,
		BytesPerToken: cfg.BytesPerToken,
		Gate:          gate,
		GateKey:       key,
	}
	return comp, set, nil
}

// Storage 构造文件存储（serve 子命令使用）。
func Storage(cfg Config) (contract.Storage, error) {
	name := effName(cfg.Components.Storage, Defaults().Components.Storage)
	newStorage := registry.Storage[name]
	if newStorage == nil {
		return nil, fmt.Errorf("config: storage %q not registered", name)
	}
	raw := cfg.Options.Storage
	if len(raw) == 0 {
		raw = Defaults().Options.Storage
	}
	s, err := newStorage(raw)
	if err != nil {
		return nil, fmt.Errorf("config: storage: %w", err)
	}
	return s, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
