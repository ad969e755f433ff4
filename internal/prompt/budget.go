package prompt

import "texgc/pkg/contract"

// MakeEstimator 返回一个近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// 当 bytesPerToken<=0 时采用默认 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		if len(s) == 0 {
			return 0
		}
		return (len(s) + bpt - 1) / bpt
	}
}

// EffectiveMaxTokens 计算预扣固定提示开销后的窗口预算。
// 返回 (effectiveMax, overheadTokens)。若 maxTokens<=0，返回 (0,0)。
func EffectiveMaxTokens(pb contract.PromptBuilder, bytesPerToken int, maxTokens int) (int, int) {
	if maxTokens <= 0 {
		return 0, 0
	}
	overhead := pb.EstimateOverheadTokens(MakeEstimator(bytesPerToken))
	return maxTokens - overhead, overhead
}

// PromptTokens 估算 Prompt 实际文本的 token 数（含 system/user/schema 文本，不含伪角色 task/payload）。
func PromptTokens(p contract.Prompt, bytesPerToken int) int {
	est := MakeEstimator(bytesPerToken)
	switch v := p.(type) {
	case contract.TextPrompt:
		return est(string(v))
	case contract.ChatPrompt:
		total := 0
		for _, m := range v {
			if m.Role == contract.RoleTask || m.Role == contract.RolePayload {
				continue
			}
			total += est(m.Content)
		}
		return total
	default:
		return 0
	}
}
