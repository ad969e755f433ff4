package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"texgc/internal/pipeline"
	"texgc/internal/prompt"
	"texgc/internal/rate"
	"texgc/internal/segment"
	"texgc/pkg/contract"
	"texgc/pkg/registry"
	"texgc/plugins/oracle/llm"
)

// ValidatorLLM: 复核链中引用当前 provider 的保留名。
const ValidatorLLM = "llm"

// Validate 对边界与注册名做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	switch {
	case cfg.Concurrency < 1:
		return errors.New("config: concurrency must be >= 1")
	case cfg.MaxTokens <= 0:
		return errors.New("config: max_tokens must be > 0")
	case cfg.BytesPerToken < 0:
		return errors.New("config: bytes_per_token must be >= 0")
	case cfg.MaxRetries < 0:
		return errors.New("config: max_retries must be >= 0")
	case cfg.MaxRounds < 1:
		return errors.New("config: max_rounds must be >= 1")
	case cfg.CallTimeoutMS < 0:
		return errors.New("config: call_timeout_ms must be >= 0")
	case cfg.BackoffMS < 0:
		return errors.New("config: backoff_ms must be >= 0")
	case cfg.MinConfidence < 0 || cfg.MinConfidence >= 1:
		return errors.New("config: min_confidence must be in [0,1)")
	}
	if p := effName(cfg.MismatchPolicy, segment.PolicyStrict); p != segment.PolicyStrict && p != segment.PolicyPassthrough {
		return fmt.Errorf("config: mismatch_policy %q (want strict|passthrough)", p)
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

	n := names(cfg)
	checks := []struct {
		kind, name string
		ok         bool
	}{
		{"reader", n.Reader, registry.Reader[n.Reader] != nil},
		{"extractor", n.Extractor, registry.Extractor[n.Extractor] != nil},
		{"normalizer", n.Normalizer, registry.Normalizer[n.Normalizer] != nil},
		{"verifier", n.Verifier, registry.Verifier[n.Verifier] != nil},
		{"windower", n.Windower, registry.Windower[n.Windower] != nil},
		{"prompt_builder", n.PromptBuilder, registry.PromptBuilder[n.PromptBuilder] != nil},
		{"decoder", n.Decoder, registry.Decoder[n.Decoder] != nil},
		{"assembler", n.Assembler, registry.Assembler[n.Assembler] != nil},
		{"writer", n.Writer, registry.Writer[n.Writer] != nil},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("config: %s %q not registered", c.kind, c.name)
		}
	}

	if len(cfg.Validators) == 0 {
		return errors.New("config: validators empty")
	}
	for _, v := range cfg.Validators {
		if v != ValidatorLLM && registry.Validator[v] == nil {
			return fmt.Errorf("config: validator %q not registered", v)
		}
	}
	for v := range cfg.Options.Validators {
		if v != ValidatorLLM && registry.Validator[v] == nil {
			return fmt.Errorf("config: options.validators.%s: unknown validator", v)
		}
	}
	return nil
}

// Assemble 构造 Components、Settings 与限流 Gate+Key。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// 窗口预算 = max_tokens - PromptBuilder 固定开销；不足时返回 ErrBudgetExceeded。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, rate.Gate, rate.LimitKey, error) {
	fail := func(err error) (pipeline.Components, pipeline.Settings, rate.Gate, rate.LimitKey, error) {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}
	if err := Validate(cfg); err != nil {
		return fail(err)
	}
	n := names(cfg)
	var comp pipeline.Components
	var err error

	if comp.Reader, err = registry.Reader[n.Reader](cfg.Options.Reader); err != nil {
		return fail(fmt.Errorf("reader %s: %w", n.Reader, err))
	}
	if comp.Segment.Extractor, err = registry.Extractor[n.Extractor](cfg.Options.Extractor); err != nil {
		return fail(fmt.Errorf("extractor %s: %w", n.Extractor, err))
	}
	if comp.Segment.Normalizer, err = registry.Normalizer[n.Normalizer](cfg.Options.Normalizer); err != nil {
		return fail(fmt.Errorf("normalizer %s: %w", n.Normalizer, err))
	}
	if comp.Segment.Verifier, err = registry.Verifier[n.Verifier](cfg.Options.Verifier); err != nil {
		return fail(fmt.Errorf("verifier %s: %w", n.Verifier, err))
	}
	if comp.Windower, err = registry.Windower[n.Windower](cfg.Options.Windower); err != nil {
		return fail(fmt.Errorf("windower %s: %w", n.Windower, err))
	}
	pb, err := registry.PromptBuilder[n.PromptBuilder](cfg.Options.PromptBuilder)
	if err != nil {
		return fail(fmt.Errorf("prompt_builder %s: %w", n.PromptBuilder, err))
	}
	dec, err := registry.Decoder[n.Decoder](cfg.Options.Decoder)
	if err != nil {
		return fail(fmt.Errorf("decoder %s: %w", n.Decoder, err))
	}
	if comp.Assembler, err = registry.Assembler[n.Assembler](cfg.Options.Assembler); err != nil {
		return fail(fmt.Errorf("assembler %s: %w", n.Assembler, err))
	}
	if comp.Writer, err = registry.Writer[n.Writer](cfg.Options.Writer); err != nil {
		return fail(fmt.Errorf("writer %s: %w", n.Writer, err))
	}

	// LLM 客户端 → 远程 oracle（提议 + 复核）
	prov := cfg.Provider[cfg.LLM]
	client, err := registry.LLMClient[prov.Client](prov.Options)
	if err != nil {
		return fail(fmt.Errorf("llm %s: %w", cfg.LLM, err))
	}
	orc := llm.New(client, pb, dec, cfg.BytesPerToken)
	comp.Proposer = orc
	for _, name := range cfg.Validators {
		if name == ValidatorLLM {
			comp.Validators = append(comp.Validators, orc)
			continue
		}
		v, err := registry.Validator[name](cfg.Options.Validators[name])
		if err != nil {
			return fail(fmt.Errorf("validator %s: %w", name, err))
		}
		comp.Validators = append(comp.Validators, v)
	}

	window, overhead := prompt.EffectiveMaxTokens(pb, cfg.BytesPerToken, cfg.MaxTokens)
	if window <= 0 {
		return fail(fmt.Errorf("config: %w: max_tokens(%d) <= prompt overhead(%d)", contract.ErrBudgetExceeded, cfg.MaxTokens, overhead))
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生凭据摘要，失败退化为 provider 名称）
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	set := pipeline.Settings{
		Inputs:         cloneStrings(cfg.Inputs),
		Concurrency:    cfg.Concurrency,
		MaxRetries:     cfg.MaxRetries,
		MaxRounds:      cfg.MaxRounds,
		CallTimeout:    time.Duration(cfg.CallTimeoutMS) * time.Millisecond,
		Backoff:        time.Duration(cfg.BackoffMS) * time.Millisecond,
		MinConfidence:  cfg.MinConfidence,
		MismatchPolicy: effName(cfg.MismatchPolicy, segment.PolicyStrict),
		WindowTokens:   window,
		Gate:           gate,
		GateKey:        key,
		Report: pipeline.ReportSettings{
			JSONL: cfg.Report.JSONL != nil && *cfg.Report.JSONL,
			Diff:  cfg.Report.Diff != nil && *cfg.Report.Diff,
		},
	}
	return comp, set, gate, key, nil
}

// names 返回补齐默认名后的组件名。
func names(cfg Config) Components {
	d := Defaults().Components
	c := cfg.Components
	return Components{
		Reader:        effName(c.Reader, d.Reader),
		Extractor:     effName(c.Extractor, d.Extractor),
		Normalizer:    effName(c.Normalizer, d.Normalizer),
		Verifier:      effName(c.Verifier, d.Verifier),
		Windower:      effName(c.Windower, d.Windower),
		PromptBuilder: effName(c.PromptBuilder, d.PromptBuilder),
		Decoder:       effName(c.Decoder, d.Decoder),
		Assembler:     effName(c.Assembler, d.Assembler),
		Writer:        effName(c.Writer, d.Writer),
	}
}

func effName(got, def string) string {
	if got = strings.TrimSpace(got); got == "" {
		return def
	}
	return got
}
