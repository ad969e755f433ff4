package ordered

import (
	"strings"

	"texgc/internal/texscan"
	"texgc/pkg/contract"
)

// Verifier 实现 contract.Verifier。
// 判定：原文中闭合白名单结构之外的每个 token，须按原顺序出现在简化形态中；
// 占位符与被移除的结构均视为分隔符，简化形态可含额外 token。
type Verifier struct{}

// New 创建校验器。
func New() *Verifier { return &Verifier{} }

// Verify 返回一致性报告。
func (Verifier) Verify(raw, normalized string) contract.VerifyReport {
	want := strings.Fields(residual(raw))
	got := strings.Fields(contract.StripPlaceholders(normalized))
	j := 0
	for i, tok := range want {
		for j < len(got) && got[j] != tok {
			j++
		}
		if j == len(got) {
			return contract.VerifyReport{OK: false, Missing: tok, At: i}
		}
		j++
	}
	return contract.VerifyReport{OK: true, At: -1}
}

// residual 以空格替换原文中的闭合白名单结构。
func residual(raw string) string {
	spans := texscan.Spans(raw, false)
	if len(spans) == 0 {
		return raw
	}
	var b strings.Builder
	prev := 0
	for _, sp := range spans {
		b.WriteString(raw[prev:sp.Start])
		b.WriteByte(' ')
		prev = sp.End
	}
	b.WriteString(raw[prev:])
	return b.String()
}
