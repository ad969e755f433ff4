package jsonreply

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"texgc/pkg/contract"
)

// Options:
//   - Strict: 仅接受整段严格 JSON 对象；关闭代码块提取与字符串值的类型宽容。
type Options struct {
	Strict bool `json:"strict"`
}

type decoder struct {
	strict bool
}

// New 从原样 JSON Options 创建解码器。
func New(raw json.RawMessage) (contract.Decoder, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("jsonreply options: %w", err)
		}
	}
	return &decoder{strict: opts.Strict}, nil
}

// 提议文本字段，按优先级依次尝试。
var proposalTextKeys = []string{"corrected_sentence", "corrected_text", "text"}

// DecodeProposal 期望 {"corrected_sentence": string, "confidence": number, "explanation": string}。
// 文本必填且非空；confidence 可缺省（0），百分制自动折算到 [0,1]。
func (d *decoder) DecodeProposal(ctx context.Context, raw contract.Raw) (contract.Proposal, error) {
	select {
	case <-ctx.Done():
		return contract.Proposal{}, ctx.Err()
	default:
	}
	obj, err := d.object(raw.Text)
	if err != nil {
		return contract.Proposal{}, err
	}
	var p contract.Proposal
	found := false
	for _, k := range proposalTextKeys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		s, ok := asString(v)
		if !ok {
			return contract.Proposal{}, fmt.Errorf("field %q not a string: %w", k, contract.ErrResponseInvalid)
		}
		p.Text = s
		found = true
		break
	}
	if !found || strings.TrimSpace(p.Text) == "" {
		return contract.Proposal{}, fmt.Errorf("missing corrected text: %w", contract.ErrResponseInvalid)
	}
	if v, ok := obj["confidence"]; ok && !isNull(v) {
		c, ok := d.asFloat(v)
		if !ok {
			return contract.Proposal{}, fmt.Errorf("confidence not a number: %w", contract.ErrResponseInvalid)
		}
		if c > 1 && c <= 100 {
			c /= 100
		}
		if c < 0 || c > 1 || math.IsNaN(c) {
			return contract.Proposal{}, fmt.Errorf("confidence %v out of range: %w", c, contract.ErrResponseInvalid)
		}
		p.Confidence = c
	}
	if v, ok := obj["explanation"]; ok {
		if s, ok := asString(v); ok {
			p.Explanation = s
		}
	}
	return p, nil
}

// 复核结论必需字段；三者全为 true 方视为通过。
var verdictKeys = []string{"is_valid", "maintains_meaning", "technical_accuracy"}

// DecodeVerdict 期望 {"is_valid": bool, "maintains_meaning": bool, "technical_accuracy": bool, "concerns": [string]}。
// 缺少任一布尔字段视为响应无效。
func (d *decoder) DecodeVerdict(ctx context.Context, raw contract.Raw) (contract.Verdict, error) {
	select {
	case <-ctx.Done():
		return contract.Verdict{}, ctx.Err()
	default:
	}
	obj, err := d.object(raw.Text)
	if err != nil {
		return contract.Verdict{}, err
	}
	v := contract.Verdict{Accepted: true}
	for _, k := range verdictKeys {
		r, ok := obj[k]
		if !ok {
			return contract.Verdict{}, fmt.Errorf("missing %q: %w", k, contract.ErrResponseInvalid)
		}
		b, ok := d.asBool(r)
		if !ok {
			return contract.Verdict{}, fmt.Errorf("field %q not a boolean: %w", k, contract.ErrResponseInvalid)
		}
		v.Accepted = v.Accepted && b
	}
	if r, ok := obj["concerns"]; ok {
		v.Concerns = asStrings(r)
	}
	return v, nil
}

var _ contract.Decoder = (*decoder)(nil)

// object: 从回复中取出首个 JSON 对象并按键拆分。
func (d *decoder) object(text string) (map[string]json.RawMessage, error) {
	src := strings.TrimSpace(text)
	if !d.strict {
		src = Extract(src)
	}
	if src == "" {
		return nil, fmt.Errorf("empty reply: %w", contract.ErrResponseInvalid)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(src), &obj); err != nil {
		return nil, fmt.Errorf("decode json object: %w", contract.ErrResponseInvalid)
	}
	if obj == nil {
		return nil, fmt.Errorf("reply is not an object: %w", contract.ErrResponseInvalid)
	}
	return obj, nil
}

// Extract 返回回复中的 JSON 文本：优先 ``` 代码块（可带 json 标记），其次首个配平的 {…}。
// 均未找到时返回去首尾空白后的原文。
func Extract(text string) string {
	s := strings.TrimSpace(text)
	if body, ok := fenced(s); ok {
		return body
	}
	if obj, ok := firstObject(s); ok {
		return obj
	}
	return s
}

func fenced(s string) (string, bool) {
	i := strings.Index(s, "```")
	if i < 0 {
		return "", false
	}
	rest := s[i+3:]
	if len(rest) >= 4 && strings.EqualFold(rest[:4], "json") {
		rest = rest[4:]
	}
	j := strings.Index(rest, "```")
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}

// firstObject: 扫描首个配平的花括号对象；字符串字面量内的括号与转义不计。
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch c {
			case '\\':
				i++
			case '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func isNull(r json.RawMessage) bool { return strings.TrimSpace(string(r)) == "null" }

func asString(r json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(r, &s); err != nil {
		return "", false
	}
	return s, true
}

func (d *decoder) asBool(r json.RawMessage) (bool, bool) {
	var b bool
	if err := json.Unmarshal(r, &b); err == nil {
		return b, true
	}
	if d.strict {
		return false, false
	}
	s, ok := asString(r)
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func (d *decoder) asFloat(r json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(r, &f); err == nil {
		return f, true
	}
	if d.strict {
		return 0, false
	}
	s, ok := asString(r)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// asStrings: 接受字符串数组或单个字符串；其余形状忽略。
func asStrings(r json.RawMessage) []string {
	var arr []string
	if err := json.Unmarshal(r, &arr); err == nil {
		out := arr[:0]
		for _, s := range arr {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := asString(r); ok && strings.TrimSpace(s) != "" {
		return []string{s}
	}
	return nil
}
