// Package markup 实现本地确定性校验：提议文本必须保留原文的 LaTeX 骨架。
package markup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"texgc/internal/texscan"
	"texgc/pkg/contract"
)

// Options:
//   - MaxLengthRatio: 长度比上限（双向）；0 取默认 1.5，负数关闭长度检查。
//   - MinBytes: 原文不足该字节数时不做长度检查；0 取默认 24。
type Options struct {
	MaxLengthRatio float64 `json:"max_length_ratio"`
	MinBytes       int     `json:"min_bytes"`
}

type Validator struct {
	ratio    float64
	minBytes int
}

// New 从原样 JSON Options 创建校验器。
func New(raw json.RawMessage) (contract.Validator, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("markup options: %w", err)
		}
	}
	if o.MaxLengthRatio == 0 {
		o.MaxLengthRatio = 1.5
	}
	if o.MaxLengthRatio > 0 && o.MaxLengthRatio < 1 {
		return nil, fmt.Errorf("markup: %w: max_length_ratio %v < 1", contract.ErrInvalidInput, o.MaxLengthRatio)
	}
	if o.MinBytes <= 0 {
		o.MinBytes = 24
	}
	return &Validator{ratio: o.MaxLengthRatio, minBytes: o.MinBytes}, nil
}

// Validate 比较两侧骨架（控制序列、数学片段、花括号、引用键、注释）与长度比。
// 不一致时 Accepted=false，Concerns 给出首个差异。
func (v *Validator) Validate(ctx context.Context, original, proposed string) (contract.Verdict, error) {
	select {
	case <-ctx.Done():
		return contract.Verdict{}, ctx.Err()
	default:
	}
	var concerns []string
	a, b := Skeleton(original), Skeleton(proposed)
	if i, ok := firstDiff(a, b); !ok {
		concerns = append(concerns, fmt.Sprintf("markup differs at token %d: %q vs %q", i, at(a, i), at(b, i)))
	}
	if v.ratio > 0 && len(original) >= v.minBytes {
		r := float64(len(proposed)) / float64(len(original))
		if r > v.ratio || r < 1/v.ratio {
			concerns = append(concerns, fmt.Sprintf("length ratio %.2f outside [%.2f, %.2f]", r, 1/v.ratio, v.ratio))
		}
	}
	return contract.Verdict{Accepted: len(concerns) == 0, Concerns: concerns}, nil
}

var _ contract.Validator = (*Validator)(nil)

// 其参数内容须逐字保留的命令类别。
var keyed = map[string]bool{"REF": true, "CITE": true, "GRAPHIC": true, "URL": true}

// Skeleton 提取文本的结构骨架：控制序列名、整段数学、花括号、引用类命令的参数、注释与逐字环境内容。
func Skeleton(s string) []string {
	var out []string
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '%':
			e := texscan.CommentEnd(s, i)
			out = append(out, strings.TrimSpace(s[i:e]))
			i = e
		case c == '\\':
			name, end := texscan.ControlWord(s, i)
			switch name {
			case "(":
				e, _ := texscan.MathEnd(s, end, `\)`)
				out = append(out, s[i:e])
				i = e
				continue
			case "[":
				e, _ := texscan.MathEnd(s, end, `\]`)
				out = append(out, s[i:e])
				i = e
				continue
			}
			out = append(out, `\`+name)
			i = end
			if name == "begin" {
				env, after := texscan.EnvName(s, end)
				if env != "" {
					out = append(out, "{"+env+"}")
					i = after
					if texscan.Verbatim[env] {
						e, _ := texscan.EnvEnd(s, after, env)
						out = append(out, s[after:e])
						i = e
					}
				}
				continue
			}
			if ph, ok := texscan.CommandPlaceholder(name); ok && keyed[ph] {
				e, _, _ := texscan.CommandArgs(s, end)
				out = append(out, s[end:e])
				i = e
			}
		case strings.HasPrefix(s[i:], "$$"):
			e, _ := texscan.MathEnd(s, i+2, "$$")
			out = append(out, s[i:e])
			i = e
		case c == '$':
			e, _ := texscan.MathEnd(s, i+1, "$")
			out = append(out, s[i:e])
			i = e
		case c == '{' || c == '}' || c == '&':
			out = append(out, s[i:i+1])
			i++
		default:
			i++
		}
	}
	return out
}

func firstDiff(a, b []string) (int, bool) {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i, false
		}
	}
	if len(a) != len(b) {
		return n, false
	}
	return 0, true
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return "<end>"
}
