// Package registry 提供按名称构造组件的显式工厂表（零反射）。
// 每个工厂接收原样 JSON Options；结构化选项使用严格解码，拒绝未知字段。
package registry

import (
	"bytes"
	"encoding/json"

	"texgc/pkg/contract"
	"texgc/plugins/assembler/linear"
	"texgc/plugins/decoder/jsonreply"
	extlatex "texgc/plugins/extractor/latex"
	"texgc/plugins/llmclient/flaky"
	"texgc/plugins/llmclient/gemini"
	"texgc/plugins/llmclient/mock"
	"texgc/plugins/llmclient/openai"
	normlatex "texgc/plugins/normalizer/latex"
	"texgc/plugins/oracle/markup"
	"texgc/plugins/prompt/grammar"
	rfs "texgc/plugins/reader/filesystem"
	"texgc/plugins/verifier/ordered"
	"texgc/plugins/window/sliding"
	wfs "texgc/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。空输入保持零值。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// 工厂签名：接收原样 JSON Options。
type (
	NewReader        func(raw json.RawMessage) (contract.Reader, error)
	NewExtractor     func(raw json.RawMessage) (contract.Extractor, error)
	NewNormalizer    func(raw json.RawMessage) (contract.Normalizer, error)
	NewVerifier      func(raw json.RawMessage) (contract.Verifier, error)
	NewWindower      func(raw json.RawMessage) (contract.Windower, error)
	NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)
	NewLLMClient     func(raw json.RawMessage) (contract.LLMClient, error)
	NewDecoder       func(raw json.RawMessage) (contract.Decoder, error)
	NewValidator     func(raw json.RawMessage) (contract.Validator, error)
	NewAssembler     func(raw json.RawMessage) (contract.Assembler, error)
	NewWriter        func(raw json.RawMessage) (contract.Writer, error)
)

// Reader 工厂注册表。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader（目录递归按扩展名过滤）
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Extractor 工厂注册表。
var Extractor = map[string]NewExtractor{
	// latex: 句/段边界，不切分受保护区间
	"latex": func(raw json.RawMessage) (contract.Extractor, error) {
		var opts extlatex.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return extlatex.New(&opts), nil
	},
}

// Normalizer 工厂注册表。
var Normalizer = map[string]NewNormalizer{
	"latex": func(raw json.RawMessage) (contract.Normalizer, error) {
		var opts normlatex.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return normlatex.New(&opts), nil
	},
}

// Verifier 工厂注册表。
var Verifier = map[string]NewVerifier{
	// ordered: 原文非白名单 token 须按序出现在简化形态中
	"ordered": func(raw json.RawMessage) (contract.Verifier, error) {
		var none struct{}
		if err := strictUnmarshal(raw, &none); err != nil {
			return nil, err
		}
		return ordered.New(), nil
	},
}

// Windower 工厂注册表。
var Windower = map[string]NewWindower{
	"sliding": func(raw json.RawMessage) (contract.Windower, error) {
		var opts sliding.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sliding.New(&opts), nil
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// grammar: 提议 + 复核两类 Chat Prompt
	"grammar": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts grammar.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return grammar.New(&opts)
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"openai": openai.New,
	"gemini": gemini.New,
	"mock":   mock.New,
	"flaky":  flaky.New,
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// jsonreply: 从模型回复中提取 JSON 对象（代码块优先）
	"jsonreply": jsonreply.New,
}

// Validator 工厂注册表（本地校验器）。基于 LLM 的复核器依赖客户端，由配置装配层构造。
var Validator = map[string]NewValidator{
	// markup: LaTeX 骨架与长度比校验
	"markup": markup.New,
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	"linear": linear.New,
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换/扁平化/后缀可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
