package contract

import "context"

// Prompt: 不透明载荷，由具体 PromptBuilder/LLMClient 配对解释。
type Prompt any

// Message: 最小会话消息形状（可用于 ChatPrompt）。
type Message struct {
	Role    string
	Content string
}

// TextPrompt: 文本型提示词载荷。
type TextPrompt string

// ChatPrompt: 会话型提示词载荷（最小集合）。
type ChatPrompt []Message

// 伪角色：不发往上游，仅在构造器与客户端之间传递附加信息。
const (
	RoleSchema  = "json_schema" // 期望的响应 JSON Schema
	RoleTask    = "task"        // "propose" | "validate"
	RolePayload = "payload"     // 结构化输入（JSON），供离线客户端解释
)

// Task 取值。
const (
	TaskPropose  = "propose"
	TaskValidate = "validate"
)

// IsPseudoRole 报告角色是否为伪角色。
func IsPseudoRole(role string) bool {
	return role == RoleSchema || role == RoleTask || role == RolePayload
}

// Pseudo 返回首个指定伪角色的内容。
func (p ChatPrompt) Pseudo(role string) (string, bool) {
	for _, m := range p {
		if m.Role == role {
			return m.Content, true
		}
	}
	return "", false
}

// Wire 返回去除伪角色后的消息序列。
func (p ChatPrompt) Wire() ChatPrompt {
	out := make(ChatPrompt, 0, len(p))
	for _, m := range p {
		if IsPseudoRole(m.Role) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// PromptBuilder: 构造确定性的纠错/校验 Prompt。
// 约束：
//   - 纯计算，不做 I/O；
//   - 不隐式修改业务内容；
//   - 失败快速返回错误。
type PromptBuilder interface {
	BuildPropose(ctx context.Context, w Window) (Prompt, error)
	BuildValidate(ctx context.Context, original, proposed string) (Prompt, error)
	// EstimateOverheadTokens: 估算固定提示词开销（system/glossary/schema），不含片段文本。
	EstimateOverheadTokens(estimate TokenEstimator) int
}

// TokenEstimator: 文本→token 的近似估算函数。
// 典型实现：ceil(len(utf8_bytes)/BytesPerToken)。
type TokenEstimator func(s string) int
