package contract

import "strings"

// Extractor: 在剩余文本上寻找下一个片段边界。
// 约束：
//  1. 返回值 n 满足 0 < n <= len(remainder)（remainder 非空时）；
//  2. 不在受保护区间（花括号组、数学模式、受保护环境、注释）内部切分；
//  3. 找不到合法边界时返回 len(remainder)；
//  4. 纯计算、确定性、无内部并发。
type Extractor interface {
	Next(remainder string) int
}

// RuleSet: 规范化规则集。
type RuleSet int

const (
	// RulesDefault: 宽松规则，未闭合结构吞并至片段末尾。
	RulesDefault RuleSet = iota
	// RulesStrict: 严格规则，仅替换已闭合结构。
	RulesStrict
)

func (r RuleSet) String() string {
	if r == RulesStrict {
		return "strict"
	}
	return "default"
}

// Normalizer: 派生简化形态（白名单结构替换为占位符）。纯函数，无 I/O。
type Normalizer interface {
	Normalize(raw string, rules RuleSet) string
}

// VerifyReport: 一致性校验结果。
type VerifyReport struct {
	OK bool
	// Missing: 首个未能在简化形态中按序找到的原文 token。
	Missing string
	// At: Missing 在原文 token 序列中的位置；OK 时为 -1。
	At int
}

// Verifier: 判定简化形态是否为原文的忠实约简。
type Verifier interface {
	Verify(raw, normalized string) VerifyReport
}

// 占位符形如 ⟦NAME⟧。
const (
	PlaceholderOpen  = "⟦"
	PlaceholderClose = "⟧"
)

// Placeholder 构造占位符文本。
func Placeholder(name string) string { return PlaceholderOpen + name + PlaceholderClose }

// StripPlaceholders 将占位符替换为单个空格（视作分隔符）。
func StripPlaceholders(s string) string {
	if !strings.Contains(s, PlaceholderOpen) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		i := strings.Index(s, PlaceholderOpen)
		if i < 0 {
			b.WriteString(s)
			break
		}
		j := strings.Index(s[i:], PlaceholderClose)
		if j < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		b.WriteByte(' ')
		s = s[i+j+len(PlaceholderClose):]
	}
	return b.String()
}
