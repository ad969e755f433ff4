package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；YAML 先转换为同形 JSON；未知字段在解析期失败。
type Config struct {
	Inputs      []string `json:"inputs"`
	Concurrency int      `json:"concurrency"`
	// MaxTokens: 单次请求的 token 预算（含提示词固定开销）；窗口预算 = MaxTokens - 开销。
	MaxTokens int `json:"max_tokens"`
	// BytesPerToken: token 估算系数；0 使用默认 4。
	BytesPerToken int `json:"bytes_per_token,omitempty"`
	// MaxRetries: 单次 oracle 调用最大重试次数（>=0）。0 表示不重试。
	MaxRetries int `json:"max_retries"`
	// MaxRounds: 每片段 propose→validate 最大轮数（>=1）。
	MaxRounds int `json:"max_rounds"`
	// CallTimeoutMS: 单次 oracle 调用超时（毫秒）；0 表示不设置。
	CallTimeoutMS int `json:"call_timeout_ms"`
	// BackoffMS: 重试退避基数（毫秒）。
	BackoffMS int `json:"backoff_ms"`
	// MinConfidence: 置信度阈值 [0,1)；0 表示关闭。
	MinConfidence float64 `json:"min_confidence"`
	// MismatchPolicy: "strict" | "passthrough"。
	MismatchPolicy string  `json:"mismatch_policy"`
	Logging        Logging `json:"logging"`
	Report         Report  `json:"report"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// Validators: 复核链（按序全部接受才采纳）。"llm" 复用当前 provider；其余取自 registry.Validator。
	Validators []string `json:"validators"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Report: 旁路产物开关；nil 表示未设置（合并时不覆盖）。
type Report struct {
	JSONL *bool `json:"jsonl,omitempty"`
	Diff  *bool `json:"diff,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader        string `json:"reader"`
	Extractor     string `json:"extractor"`
	Normalizer    string `json:"normalizer"`
	Verifier      string `json:"verifier"`
	Windower      string `json:"windower"`
	PromptBuilder string `json:"prompt_builder"`
	Decoder       string `json:"decoder"`
	Assembler     string `json:"assembler"`
	Writer        string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader        json.RawMessage `json:"reader,omitempty"`
	Extractor     json.RawMessage `json:"extractor,omitempty"`
	Normalizer    json.RawMessage `json:"normalizer,omitempty"`
	Verifier      json.RawMessage `json:"verifier,omitempty"`
	Windower      json.RawMessage `json:"windower,omitempty"`
	PromptBuilder json.RawMessage `json:"prompt_builder,omitempty"`
	Decoder       json.RawMessage `json:"decoder,omitempty"`
	Assembler     json.RawMessage `json:"assembler,omitempty"`
	Writer        json.RawMessage `json:"writer,omitempty"`
	// Validators: 按校验器名索引的 Options（如 "markup"）。
	Validators map[string]json.RawMessage `json:"validators,omitempty"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}
