package grammar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"texgc/pkg/contract"
)

// Options 为“LaTeX 语法纠错（提议 + 复核）” PromptBuilder 的最小配置。
// - InlineSystemTemplate / SystemTemplatePath: 提议阶段 system 模板（二选一，均为空时使用内置默认模板）。
// - InlineValidateTemplate / ValidateTemplatePath: 复核阶段 system 模板，规则同上。
// - Tense: 科技论文正文的期望时态，渲染进模板（默认 "present"）。
type Options struct {
	InlineSystemTemplate   string `json:"inline_system_template"`
	SystemTemplatePath     string `json:"system_template_path"`
	InlineValidateTemplate string `json:"inline_validate_template"`
	ValidateTemplatePath   string `json:"validate_template_path"`
	// 术语表（可选）：与模板一样的二选一优先级；若提供则以 <glossary> 追加到两个 system 提示尾部。
	InlineGlossary string `json:"inline_glossary"`
	GlossaryPath   string `json:"glossary_path"`
	Tense          string `json:"tense"`
}

// Builder: 以 Window 构造提议 Prompt，以 (original, proposed) 构造复核 Prompt。
// 运行期不做 I/O；模板在构造期解析并渲染。
type Builder struct {
	sys      string
	validate string
}

type tplData struct {
	Tense string
}

// New 创建语法纠错 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.Tense == "" {
		o.Tense = "present"
	}
	data := tplData{Tense: o.Tense}

	sys, err := render("system", defaultSystemTemplate, o.InlineSystemTemplate, o.SystemTemplatePath, data)
	if err != nil {
		return nil, err
	}
	val, err := render("validate", defaultValidateTemplate, o.InlineValidateTemplate, o.ValidateTemplatePath, data)
	if err != nil {
		return nil, err
	}

	var glos string
	if o.InlineGlossary != "" {
		glos = o.InlineGlossary
	} else if o.GlossaryPath != "" {
		b, err := os.ReadFile(o.GlossaryPath)
		if err != nil {
			return nil, fmt.Errorf("glossary read: %w", err)
		}
		glos = string(b)
	}
	if glos != "" {
		sys = withGlossary(sys, glos)
		val = withGlossary(val, glos)
	}
	return &Builder{sys: sys, validate: val}, nil
}

// render: inline 优先，其次 path，最后内置默认。
func render(name, def, inline, path string, data tplData) (string, error) {
	src := def
	if inline != "" {
		src = inline
	} else if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%s template read: %w", name, err)
		}
		src = string(b)
	}
	tpl, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("%s template parse: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%s template render: %w", name, err)
	}
	return buf.String(), nil
}

func withGlossary(sys, glos string) string {
	var sb strings.Builder
	sb.Grow(len(sys) + len(glos) + 32)
	sb.WriteString(sys)
	sb.WriteString("\n\n<glossary>\n")
	sb.WriteString(glos)
	if !strings.HasSuffix(glos, "\n") {
		sb.WriteByte('\n')
	}
	sb.WriteString("</glossary>")
	return sb.String()
}

// BuildPropose: 基于 Window 构造提议 ChatPrompt。
// Target.Raw 即待纠正文本；Left/Right 仅作为只读语境。
func (b *Builder) BuildPropose(ctx context.Context, w contract.Window) (contract.Prompt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	target := w.Target.Raw
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("prompt: %w: empty target", contract.ErrInvalidInput)
	}

	var uw strings.Builder
	uw.Grow(len(target) + 512)
	if len(w.Left) > 0 || len(w.Right) > 0 {
		uw.WriteString("### Context (read-only)\n\n<context>\n")
		writeChunks(&uw, w.Left)
		uw.WriteString("<target/>\n")
		writeChunks(&uw, w.Right)
		uw.WriteString("</context>\n\n")
	}
	uw.WriteString("### Target\n\n<target>\n")
	uw.WriteString(target)
	uw.WriteString("\n</target>\n")
	uw.WriteString(proposeRules)

	payload, err := json.Marshal(map[string]string{"text": target})
	if err != nil {
		return nil, fmt.Errorf("prompt payload: %w", contract.ErrInvalidInput)
	}
	return contract.ChatPrompt([]contract.Message{
		{Role: "system", Content: b.sys},
		{Role: "user", Content: uw.String()},
		{Role: contract.RoleSchema, Content: proposalJSONSchema},
		{Role: contract.RoleTask, Content: contract.TaskPropose},
		{Role: contract.RolePayload, Content: string(payload)},
	}), nil
}

// BuildValidate: 构造复核 ChatPrompt，比较原文与提议文本。
func (b *Builder) BuildValidate(ctx context.Context, original, proposed string) (contract.Prompt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if strings.TrimSpace(original) == "" || strings.TrimSpace(proposed) == "" {
		return nil, fmt.Errorf("prompt: %w: empty validate input", contract.ErrInvalidInput)
	}
	var uw strings.Builder
	uw.Grow(len(original) + len(proposed) + 512)
	uw.WriteString("<original>\n")
	uw.WriteString(original)
	uw.WriteString("\n</original>\n\n<corrected>\n")
	uw.WriteString(proposed)
	uw.WriteString("\n</corrected>\n")
	uw.WriteString(validateRules)

	payload, err := json.Marshal(map[string]string{"original": original, "proposed": proposed})
	if err != nil {
		return nil, fmt.Errorf("prompt payload: %w", contract.ErrInvalidInput)
	}
	return contract.ChatPrompt([]contract.Message{
		{Role: "system", Content: b.validate},
		{Role: "user", Content: uw.String()},
		{Role: contract.RoleSchema, Content: verdictJSONSchema},
		{Role: contract.RoleTask, Content: contract.TaskValidate},
		{Role: contract.RolePayload, Content: string(payload)},
	}), nil
}

// EstimateOverheadTokens: 估算与片段无关的固定开销（取提议与复核两者中较大者）。
// 注：不含目标与语境文本；伪角色不计入。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	propose := estimate(b.sys) + estimate("### Target\n\n<target>\n\n</target>\n"+proposeRules)
	validate := estimate(b.validate) + estimate("<original>\n\n</original>\n\n<corrected>\n\n</corrected>\n"+validateRules)
	return max(propose, validate)
}

// writeChunks: 语境片段按原文拼接（保留原始空白）。
func writeChunks(w *strings.Builder, recs []contract.ChunkRecord) {
	for _, r := range recs {
		w.WriteString(r.Raw)
	}
	if len(recs) > 0 {
		w.WriteByte('\n')
	}
}

// 静态接口断言
var _ contract.PromptBuilder = (*Builder)(nil)

const proposeRules = `
IMPORTANT OUTPUT RULES:
1) Correct ONLY the text inside <target>. Never rewrite the context.
2) Return ONLY strict JSON (no markdown, no code fences, no commentary).
3) Schema: {"corrected_sentence": string, "confidence": number in [0,1], "explanation": string}.
`

const validateRules = `
IMPORTANT OUTPUT RULES:
1) Return ONLY strict JSON (no markdown, no code fences, no commentary).
2) Schema: {"is_valid": boolean, "maintains_meaning": boolean, "technical_accuracy": boolean, "concerns": [string]}.
`

// 默认提议模板。
const defaultSystemTemplate = `
## Role Definition
You are a grammar checker for LaTeX academic papers. Scientific prose uses the {{.Tense}} tense.

## Rules
- Correct obvious grammatical errors in the target text only. Do not restyle or paraphrase correct prose.
- Never change LaTeX commands, environments, labels, references or citations.
- Never change math expressions delimited by $, $$, \( \) or \[ \].
- Keep scientific notation and names of systems exactly as written.
- Keep the original line breaks and spacing where no correction is needed.
- If the text is already correct, return it unchanged with high confidence.

<example>
user: <target>
The qubit were prepared in the state $\ket{0}$ \cite{nielsen}.
</target>

assistant: {"corrected_sentence": "The qubit is prepared in the state $\ket{0}$ \cite{nielsen}.", "confidence": 0.9, "explanation": "subject-verb agreement; {{.Tense}} tense"}
</example>
`

// 默认复核模板。
const defaultValidateTemplate = `
## Role Definition
You are a LaTeX quality assurance expert. Compare an original text and its grammar correction.

## Checks
1. The correction improves grammar without changing the meaning.
2. Technical content (notation, quantities, names) is preserved.
3. Every LaTeX command, math expression and citation is intact.
4. Scientific prose stays in the {{.Tense}} tense.

List every problem you find in "concerns". Report is_valid=false if any check fails.
`

const proposalJSONSchema = `{"type":"object","additionalProperties":false,"properties":{"corrected_sentence":{"type":"string"},"confidence":{"type":"number"},"explanation":{"type":"string"}},"required":["corrected_sentence","confidence","explanation"]}`

const verdictJSONSchema = `{"type":"object","additionalProperties":false,"properties":{"is_valid":{"type":"boolean"},"maintains_meaning":{"type":"boolean"},"technical_accuracy":{"type":"boolean"},"concerns":{"type":"array","items":{"type":"string"}}},"required":["is_valid","maintains_meaning","technical_accuracy","concerns"]}`
