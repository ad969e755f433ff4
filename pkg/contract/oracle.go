package contract

import "context"

// Proposal: 纠错建议。Confidence 为 0..1，未报告时为 0。
type Proposal struct {
	Text        string
	Confidence  float64
	Explanation string
}

// Verdict: 校验结论。Accepted=false 时 Concerns 说明原因（可为空）。
type Verdict struct {
	Accepted bool
	Concerns []string
}

// Proposer: 外部纠错能力（propose）。
// 约束：仅处理 w.Target；Left/Right 为语境；失败返回 *OracleError 或可被 WrapOracle 归类的错误。
type Proposer interface {
	Propose(ctx context.Context, w Window) (Proposal, error)
}

// Validator: 外部校验能力（validate）。
// 约束：任意错误均视为拒绝；不得修改输入。
type Validator interface {
	Validate(ctx context.Context, original, proposed string) (Verdict, error)
}

// Metered: 可选接口。远程计费 oracle 实现之，编排层据此在调用前向速率闸门申请额度。
type Metered interface {
	EstimateTokens(input string) int
}
