package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// DeriveKey 从 LLM 客户端标识与其原样 Options JSON 中提取 API Key，
// 返回 client:sha256(key) 形式的限流分组键，使共用同一密钥的 provider 共享额度。
// 只识别 "api_key" 与 "api_key_env"；mock/flaky 未提供 api_key 时使用内置调试键。
func DeriveKey(client string, raw json.RawMessage) (LimitKey, error) {
	var obj struct {
		APIKey    string `json:"api_key"`
		APIKeyEnv string `json:"api_key_env"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &obj)
	}
	key := obj.APIKey
	if key == "" && obj.APIKeyEnv != "" {
		key = os.Getenv(obj.APIKeyEnv)
	}
	if key == "" {
		switch client {
		case "mock", "flaky":
			key = "MOCK_DEBUG_KEY"
		case "openai":
			key = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			key = os.Getenv("GOOGLE_API_KEY")
		}
	}
	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:8])), nil
}
