package latex

import (
	"strings"

	"texgc/internal/texscan"
	"texgc/pkg/contract"
)

// Options 为规范化器的可选配置。
type Options struct {
	// KeepComments: 保留注释原文（默认删除）。
	KeepComments bool `json:"keep_comments"`
}

// Normalizer 实现 contract.Normalizer：白名单结构替换为 ⟦NAME⟧ 占位符，注释删除（保留换行）。
type Normalizer struct {
	keepComments bool
}

// New 创建规范化器。
func New(opts *Options) *Normalizer {
	n := &Normalizer{}
	if opts != nil {
		n.keepComments = opts.KeepComments
	}
	return n
}

// Normalize 派生简化形态。RulesDefault 下未闭合结构吞并至末尾；RulesStrict 仅替换闭合结构。
func (n *Normalizer) Normalize(raw string, rules contract.RuleSet) string {
	spans := texscan.Spans(raw, rules == contract.RulesDefault)
	if len(spans) == 0 {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw))
	prev := 0
	for _, sp := range spans {
		if sp.Name == "" && n.keepComments {
			continue
		}
		b.WriteString(raw[prev:sp.Start])
		if sp.Name != "" {
			b.WriteString(contract.Placeholder(sp.Name))
		}
		prev = sp.End
	}
	b.WriteString(raw[prev:])
	return b.String()
}
