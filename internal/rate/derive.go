package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DeriveKeyFromProviderOptions 从 LLM 客户端标识与其原样 Options JSON 中提取凭据，
// 返回 client+sha256(凭据) 形式的限流分组键，使共享同一凭据的 provider 共用额度。
// 凭据来源依次为 "api_key"、"api_key_env" 指向的环境变量；
// 离线客户端（mock/flaky）缺省使用固定键；openai 兼容端点无 key 时（如本地 Ollama）以 base_url 作为凭据。
func DeriveKeyFromProviderOptions(client string, raw json.RawMessage) (LimitKey, error) {
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)

	pick := func(key string) string {
		if s, ok := obj[key].(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	}

	key := pick("api_key")
	if key == "" {
		if env := pick("api_key_env"); env != "" {
			key = strings.TrimSpace(os.Getenv(env))
		}
	}
	if key == "" {
		switch client {
		case "mock", "flaky":
			key = "MOCK_DEBUG_KEY"
		case "openai":
			key = pick("base_url")
		}
	}
	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:8])), nil
}
