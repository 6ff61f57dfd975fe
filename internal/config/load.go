package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 为环境变量覆盖的统一前缀。
const EnvPrefix = "TONESHIFT_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Concurrency: 8,
		MaxRetries:  0,
		Logging:     Logging{Level: "info", Dir: "logs"},
		Server:      Server{Addr: ":8080"},
		Components: Components{
			PromptBuilder: "tone",
			Window:        "sliding",
			Decoder:       "reply",
			Assembler:     "linear",
			Storage:       "fs",
		},
		Options: Options{
			Storage: json.RawMessage(`{"root_dir":"files"}`),
		},
	}
}

// Unset 返回"全部未覆盖"的 Config：0 有语义的整型字段以 -1 标记未设置，
// 以便 Merge 区分"未覆盖"与"显式设置为 0"。
func Unset() Config {
	return Config{Concurrency: -1, MaxRetries: -1, CallTimeoutSeconds: -1}
}

// LoadFile 按扩展名解析配置文件：.yaml/.yml 为 YAML，其余为 JSON。均严格拒绝未知字段。
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(raw)
	default:
		return ParseJSON(raw)
	}
}

// ParseJSON 严格解析 JSON；缺省字段保持 Unset 标记。
func ParseJSON(raw []byte) (Config, error) {
	cfg := Unset()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ParseYAML 将 YAML 转为等价 JSON 后按 ParseJSON 的规则严格解析。
// Options 子树同样转为 JSON，原样交给工厂。
func ParseYAML(raw []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("config: yaml: %w", err)
	}
	if doc == nil {
		return Unset(), nil
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return Config{}, fmt.Errorf("config: yaml to json: %w", err)
	}
	return ParseJSON(js)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为"替换"；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	// 顶层：-1 表示未覆盖
	if over.Concurrency >= 0 {
		out.Concurrency = over.Concurrency
	}
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if over.CallTimeoutSeconds >= 0 {
		out.CallTimeoutSeconds = over.CallTimeoutSeconds
	}
	if over.MaxTokens != 0 {
		out.MaxTokens = over.MaxTokens
	}
	if over.BytesPerToken != 0 {
		out.BytesPerToken = over.BytesPerToken
	}
	if v := strings.TrimSpace(over.Logging.Level); v != "" {
		out.Logging.Level = v
	}
	if v := strings.TrimSpace(over.Logging.Dir); v != "" {
		out.Logging.Dir = v
	}
	if v := strings.TrimSpace(over.Server.Addr); v != "" {
		out.Server.Addr = v
	}

	// 组件名（空不覆盖）
	mergeName(&out.Components.PromptBuilder, over.Components.PromptBuilder)
	mergeName(&out.Components.Window, over.Components.Window)
	mergeName(&out.Components.Decoder, over.Components.Decoder)
	mergeName(&out.Components.Assembler, over.Components.Assembler)
	mergeName(&out.Components.Storage, over.Components.Storage)

	// Provider：按键逐字段覆盖（空值/0 不覆盖）
	if len(over.Provider) > 0 {
		prov := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			prov[k] = v
		}
		for k, v := range over.Provider {
			prov[k] = mergeProvider(prov[k], v)
		}
		out.Provider = prov
	}

	// Options（完整替换对应键）
	mergeRaw(&out.Options.PromptBuilder, over.Options.PromptBuilder)
	mergeRaw(&out.Options.Window, over.Options.Window)
	mergeRaw(&out.Options.Decoder, over.Options.Decoder)
	mergeRaw(&out.Options.Assembler, over.Options.Assembler)
	mergeRaw(&out.Options.Storage, over.Options.Storage)

	// LLM 名称
	if v := strings.TrimSpace(over.LLM); v != "" {
		out.LLM = v
	}
	return out
}

func mergeProvider(base, over Provider) Provider {
	mergeName(&base.Client, over.Client)
	mergeRaw(&base.Options, over.Options)
	if over.Limits.RPM != 0 {
		base.Limits.RPM = over.Limits.RPM
	}
	if over.Limits.TPM != 0 {
		base.Limits.TPM = over.Limits.TPM
	}
	if over.Limits.MaxTokensPerReq != 0 {
		base.Limits.MaxTokensPerReq = over.Limits.MaxTokensPerReq
	}
	return base
}

func mergeName(dst *string, over string) {
	if v := strings.TrimSpace(over); v != "" {
		*dst = v
	}
}

func mergeRaw(dst *json.RawMessage, over json.RawMessage) {
	if len(over) > 0 {
		*dst = cloneRaw(over)
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 TONESHIFT_；集合之外的键忽略；数值解析失败返回错误。
// 支持：CONCURRENCY, MAX_TOKENS, MAX_RETRIES, CALL_TIMEOUT_SECONDS, BYTES_PER_TOKEN, LLM,
// LOG_LEVEL, LOG_DIR, SERVER_ADDR, COMPONENTS_*
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	over := Unset()
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			// 空值视为未设置，避免清空文件中的配置
			continue
		}
		var err error
		switch key {
		case "CONCURRENCY":
			over.Concurrency, err = atoi(key, val)
		case "MAX_TOKENS":
			over.MaxTokens, err = atoi(key, val)
		case "MAX_RETRIES":
			over.MaxRetries, err = atoi(key, val)
		case "CALL_TIMEOUT_SECONDS":
			over.CallTimeoutSeconds, err = atoi(key, val)
		case "BYTES_PER_TOKEN":
			over.BytesPerToken, err = atoi(key, val)
		case "LLM":
			over.LLM = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "SERVER_ADDR":
			over.Server.Addr = val
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = val
		case "COMPONENTS_WINDOW":
			over.Components.Window = val
		case "COMPONENTS_DECODER":
			over.Components.Decoder = val
		case "COMPONENTS_ASSEMBLER":
			over.Components.Assembler = val
		case "COMPONENTS_STORAGE":
			over.Components.Storage = val
		default:
			// provider.* 路径：PROVIDER__name__FOO
			if strings.HasPrefix(key, "PROVIDER__") {
				err = providerEnv(prov, key, val)
			}
		}
		if err != nil {
			return Config{}, err
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func providerEnv(prov map[string]Provider, key, val string) error {
	parts := strings.Split(key, "__")
	if len(parts) < 3 || strings.TrimSpace(parts[1]) == "" {
		return nil
	}
	name := strings.TrimSpace(parts[1])
	field := strings.Join(parts[2:], "__")
	p := prov[name]
	var err error
	switch field {
	case "CLIENT":
		p.Client = val
	case "LIMITS_RPM":
		p.Limits.RPM, err = atoi(key, val)
	case "LIMITS_TPM":
		p.Limits.TPM, err = atoi(key, val)
	case "LIMITS_MAX_TOKENS_PER_REQ":
		p.Limits.MaxTokensPerReq, err = atoi(key, val)
	case "OPTIONS_JSON":
		if !json.Valid([]byte(val)) {
			return fmt.Errorf("config: %s%s: invalid json", EnvPrefix, key)
		}
		p.Options = json.RawMessage(val)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	prov[name] = p
	return nil
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func atoi(key, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
	}
	return n, nil
}
