package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "TEXGC_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Concurrency:    1,
		MaxTokens:      2048,
		MaxRetries:     0,
		MaxRounds:      3,
		CallTimeoutMS:  60000,
		BackoffMS:      200,
		MismatchPolicy: "strict",
		Components: Components{
			Reader:        "fs",
			Extractor:     "latex",
			Normalizer:    "latex",
			Verifier:      "ordered",
			Windower:      "sliding",
			PromptBuilder: "grammar",
			Decoder:       "jsonreply",
			Assembler:     "linear",
			Writer:        "fs",
		},
		Validators: []string{"markup", "llm"},
	}
}

// Load 按扩展名选择解析器：.yaml/.yml 走 YAML，其余按 JSON。
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(b)
	default:
		return LoadJSON("", b)
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadYAML 将 YAML 文档转换为同形 JSON 后按 LoadJSON 严格解析；
// 组件 Options 子树因此同样以原样 JSON 交给工厂。
func LoadYAML(raw []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return Config{}, errors.New("yaml: empty document")
	}
	j, err := json.Marshal(jsonCompatible(doc))
	if err != nil {
		return Config{}, fmt.Errorf("yaml: %w", err)
	}
	return LoadJSON("", j)
}

// jsonCompatible 将 YAML 的非字符串键映射转换为字符串键映射。
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = jsonCompatible(x)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[fmt.Sprint(k)] = jsonCompatible(x)
		}
		return m
	case []any:
		for i := range t {
			t[i] = jsonCompatible(t[i])
		}
		return t
	default:
		return v
	}
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if over.MaxTokens != 0 {
		out.MaxTokens = over.MaxTokens
	}
	if over.BytesPerToken != 0 {
		out.BytesPerToken = over.BytesPerToken
	}
	// MaxRetries 的 0 具有语义（禁用重试）；约定 <0（如 -1）视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if over.MaxRounds != 0 {
		out.MaxRounds = over.MaxRounds
	}
	if over.CallTimeoutMS != 0 {
		out.CallTimeoutMS = over.CallTimeoutMS
	}
	if over.BackoffMS != 0 {
		out.BackoffMS = over.BackoffMS
	}
	if over.MinConfidence != 0 {
		out.MinConfidence = over.MinConfidence
	}
	if s := strings.TrimSpace(over.MismatchPolicy); s != "" {
		out.MismatchPolicy = s
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if over.Report.JSONL != nil {
		v := *over.Report.JSONL
		out.Report.JSONL = &v
	}
	if over.Report.Diff != nil {
		v := *over.Report.Diff
		out.Report.Diff = &v
	}

	// 组件名（空不覆盖）
	pick(&out.Components.Reader, over.Components.Reader)
	pick(&out.Components.Extractor, over.Components.Extractor)
	pick(&out.Components.Normalizer, over.Components.Normalizer)
	pick(&out.Components.Verifier, over.Components.Verifier)
	pick(&out.Components.Windower, over.Components.Windower)
	pick(&out.Components.PromptBuilder, over.Components.PromptBuilder)
	pick(&out.Components.Decoder, over.Components.Decoder)
	pick(&out.Components.Assembler, over.Components.Assembler)
	pick(&out.Components.Writer, over.Components.Writer)
	if over.Validators != nil {
		out.Validators = cloneStrings(over.Validators)
	}

	// Provider（按字段覆盖：client/options 非空替换，限额非零替换）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = mergeProvider(merged[k], v)
		}
		out.Provider = merged
	}

	// Options（完整替换对应键）
	pickRaw(&out.Options.Reader, over.Options.Reader)
	pickRaw(&out.Options.Extractor, over.Options.Extractor)
	pickRaw(&out.Options.Normalizer, over.Options.Normalizer)
	pickRaw(&out.Options.Verifier, over.Options.Verifier)
	pickRaw(&out.Options.Windower, over.Options.Windower)
	pickRaw(&out.Options.PromptBuilder, over.Options.PromptBuilder)
	pickRaw(&out.Options.Decoder, over.Options.Decoder)
	pickRaw(&out.Options.Assembler, over.Options.Assembler)
	pickRaw(&out.Options.Writer, over.Options.Writer)
	if len(over.Options.Validators) > 0 {
		merged := make(map[string]json.RawMessage, len(out.Options.Validators)+len(over.Options.Validators))
		for k, v := range out.Options.Validators {
			merged[k] = v
		}
		for k, v := range over.Options.Validators {
			merged[k] = cloneRaw(v)
		}
		out.Options.Validators = merged
	}

	if s := strings.TrimSpace(over.LLM); s != "" {
		out.LLM = s
	}
	return out
}

func mergeProvider(base, over Provider) Provider {
	pick(&base.Client, over.Client)
	pickRaw(&base.Options, over.Options)
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

func pick(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func pickRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合，前缀 TEXGC_）。
// 支持：INPUTS, CONCURRENCY, MAX_TOKENS, BYTES_PER_TOKEN, MAX_RETRIES, MAX_ROUNDS, CALL_TIMEOUT_MS,
// BACKOFF_MS, MIN_CONFIDENCE, MISMATCH_POLICY, LOG_LEVEL, REPORT_JSONL, REPORT_DIFF, VALIDATORS, LLM,
// COMPONENTS_*，以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} /
// PROVIDER__<name>__OPTIONS_JSON。
// 空值视为未设置；数值解析失败返回错误（不静默忽略）。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	over.MaxRetries = -1
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key, val := strings.TrimPrefix(kv[:eq], EnvPrefix), kv[eq+1:]
		// 空值视为未设置（.env 模板中的占位键）
		if strings.TrimSpace(val) == "" {
			continue
		}
		var err error
		switch key {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "CONCURRENCY":
			over.Concurrency, err = atoi(val)
		case "MAX_TOKENS":
			over.MaxTokens, err = atoi(val)
		case "BYTES_PER_TOKEN":
			over.BytesPerToken, err = atoi(val)
		case "MAX_RETRIES":
			over.MaxRetries, err = atoi(val)
		case "MAX_ROUNDS":
			over.MaxRounds, err = atoi(val)
		case "CALL_TIMEOUT_MS":
			over.CallTimeoutMS, err = atoi(val)
		case "BACKOFF_MS":
			over.BackoffMS, err = atoi(val)
		case "MIN_CONFIDENCE":
			over.MinConfidence, err = strconv.ParseFloat(strings.TrimSpace(val), 64)
		case "MISMATCH_POLICY":
			over.MismatchPolicy = strings.TrimSpace(val)
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "REPORT_JSONL":
			over.Report.JSONL, err = boolPtr(val)
		case "REPORT_DIFF":
			over.Report.Diff, err = boolPtr(val)
		case "VALIDATORS":
			over.Validators = splitComma(val)
			if over.Validators == nil {
				over.Validators = []string{}
			}
		case "LLM":
			over.LLM = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_EXTRACTOR":
			over.Components.Extractor = strings.TrimSpace(val)
		case "COMPONENTS_NORMALIZER":
			over.Components.Normalizer = strings.TrimSpace(val)
		case "COMPONENTS_VERIFIER":
			over.Components.Verifier = strings.TrimSpace(val)
		case "COMPONENTS_WINDOWER":
			over.Components.Windower = strings.TrimSpace(val)
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = strings.TrimSpace(val)
		case "COMPONENTS_DECODER":
			over.Components.Decoder = strings.TrimSpace(val)
		case "COMPONENTS_ASSEMBLER":
			over.Components.Assembler = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		default:
			if strings.HasPrefix(key, "PROVIDER__") {
				err = providerEnv(prov, key, val)
			}
		}
		if err != nil {
			return Config{}, fmt.Errorf("env %s: %w", kv[:eq], err)
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

// providerEnv 解析 PROVIDER__name__FIELD；仅在发生有效变更时记录该 provider，避免空值覆盖配置文件。
func providerEnv(prov map[string]Provider, key, val string) error {
	parts := strings.Split(key, "__")
	if len(parts) < 3 || strings.TrimSpace(parts[1]) == "" {
		return nil
	}
	name, field := strings.TrimSpace(parts[1]), strings.Join(parts[2:], "__")
	p := prov[name]
	var err error
	changed := true
	switch field {
	case "CLIENT":
		p.Client = strings.TrimSpace(val)
		changed = p.Client != ""
	case "LIMITS_RPM":
		p.Limits.RPM, err = atoi(val)
	case "LIMITS_TPM":
		p.Limits.TPM, err = atoi(val)
	case "LIMITS_MAX_TOKENS_PER_REQ":
		p.Limits.MaxTokensPerReq, err = atoi(val)
	case "OPTIONS_JSON":
		if changed = strings.TrimSpace(val) != ""; changed {
			if !json.Valid([]byte(val)) {
				return errors.New("invalid json")
			}
			p.Options = json.RawMessage(val)
		}
	default:
		changed = false
	}
	if err != nil {
		return err
	}
	if changed {
		prov[name] = p
	}
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func boolPtr(s string) (*bool, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &v, nil
}
