package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 mock LLM 与合理限额（本地/离线调试友好）；
// - 默认输入为当前目录（递归收集 .tex），Writer 输出到 ./out 目录并写出报告旁路产物；
// - 组件名采用仓库内置实现，选项列出全部键并给出中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	on := true
	cfg := Config{
		Inputs:         []string{"."},
		Concurrency:    4,
		MaxTokens:      d.MaxTokens,
		MaxRetries:     2,
		MaxRounds:      d.MaxRounds,
		CallTimeoutMS:  d.CallTimeoutMS,
		BackoffMS:      d.BackoffMS,
		MinConfidence:  0.5,
		MismatchPolicy: d.MismatchPolicy,
		Logging:        Logging{Level: "info"},
		Report:         Report{JSONL: &on, Diff: &on},
		Components:     d.Components,
		Validators:     d.Validators,
		LLM:            "mock",
		Provider: map[string]Provider{
			"mock": {
				Client:  "mock",
				Options: json.RawMessage(`{"api_key":"","rules":{},"confidence":0.9,"reject":false,"fenced":false}`),
				Limits:  Limits{RPM: 600, TPM: 200000, MaxTokensPerReq: 4096},
			},
			"openai": {
				Client: "openai",
				Options: json.RawMessage(`{
  "base_url": "https://api.openai.com/v1",
  "model": "gpt-4.1-mini",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": 0,
  "disable_default_auth": false,
  "extra_headers": {},
  "disable_schema": false
}`),
				Limits: Limits{RPM: 500, TPM: 200000, MaxTokensPerReq: 8192},
			},
			"ollama": {
				Client: "openai",
				Options: json.RawMessage(`{
  "base_url": "http://localhost:11434/v1",
  "model": "llama3.1",
  "disable_default_auth": true,
  "timeout_seconds": 120,
  "disable_schema": true
}`),
			},
			"gemini": {
				Client: "gemini",
				Options: json.RawMessage(`{
  "base_url": "https://generativelanguage.googleapis.com",
  "model": "gemini-2.5-flash",
  "api_key_env": "GOOGLE_API_KEY",
  "api_key": "",
  "endpoint_path": "",
  "timeout_seconds": 60,
  "temperature": 0,
  "api_key_in_query": true,
  "extra_headers": {}
}`),
				Limits: Limits{RPM: 60, TPM: 100000, MaxTokensPerReq: 8192},
			},
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "extensions": [".tex"],
  "exclude_dir_names": [".git", "out", "build"]
}`)
	cfg.Options.Extractor = json.RawMessage(`{
  "protected_envs": null,
  "abbreviations": null,
  "max_chunk_bytes": 2000
}`)
	cfg.Options.Normalizer = json.RawMessage(`{"keep_comments": false}`)
	cfg.Options.Verifier = json.RawMessage(`{}`)
	cfg.Options.Windower = json.RawMessage(`{
  "context_radius": 1,
  "bytes_per_token": 4,
  "extra_bytes_per_chunk": 16,
  "skip_context_only": false
}`)
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_system_template": "",
  "system_template_path": "",
  "inline_validate_template": "",
  "validate_template_path": "",
  "inline_glossary": "",
  "glossary_path": "",
  "tense": "present"
}`)
	cfg.Options.Decoder = json.RawMessage(`{"strict": false}`)
	cfg.Options.Assembler = json.RawMessage(`{}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "flat": true,
  "suffix": "",
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	cfg.Options.Validators = map[string]json.RawMessage{
		"markup": json.RawMessage(`{"max_length_ratio": 1.5, "min_bytes": 24}`),
	}
	return cfg
}

// TemplateJSON 渲染模板为缩进 JSON。
func TemplateJSON() ([]byte, error) {
	b, err := json.MarshalIndent(DefaultTemplateConfig(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// TemplateYAML 渲染模板为 YAML（经 JSON 中转，键与 JSON 形态一致）。
func TemplateYAML() ([]byte, error) {
	j, err := json.Marshal(DefaultTemplateConfig())
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(j, &doc); err != nil {
		return nil, err
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return b, nil
}
