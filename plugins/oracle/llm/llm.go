// Package llm 以 PromptBuilder + LLMClient + Decoder 组合实现 Proposer 与 Validator。
package llm

import (
	"context"

	"texgc/internal/prompt"
	"texgc/pkg/contract"
)

// Oracle 远程 oracle；实现 contract.Metered，编排层据此向速率闸门申请额度。
type Oracle struct {
	client  contract.LLMClient
	builder contract.PromptBuilder
	decoder contract.Decoder
	bpt     int
}

// New 组合三件组件；bytesPerToken<=0 时估算采用默认值。
func New(client contract.LLMClient, builder contract.PromptBuilder, decoder contract.Decoder, bytesPerToken int) *Oracle {
	return &Oracle{client: client, builder: builder, decoder: decoder, bpt: bytesPerToken}
}

// Propose 构造提议 Prompt、调用上游并解码。任何失败均归类为 *contract.OracleError。
func (o *Oracle) Propose(ctx context.Context, w contract.Window) (contract.Proposal, error) {
	p, err := o.builder.BuildPropose(ctx, w)
	if err != nil {
		return contract.Proposal{}, contract.WrapOracle("propose", err)
	}
	raw, err := o.client.Invoke(ctx, p)
	if err != nil {
		return contract.Proposal{}, contract.WrapOracle("propose", err)
	}
	prop, err := o.decoder.DecodeProposal(ctx, raw)
	if err != nil {
		return contract.Proposal{}, contract.WrapOracle("propose", err)
	}
	return prop, nil
}

// Validate 构造复核 Prompt、调用上游并解码。
func (o *Oracle) Validate(ctx context.Context, original, proposed string) (contract.Verdict, error) {
	p, err := o.builder.BuildValidate(ctx, original, proposed)
	if err != nil {
		return contract.Verdict{}, contract.WrapOracle("validate", err)
	}
	raw, err := o.client.Invoke(ctx, p)
	if err != nil {
		return contract.Verdict{}, contract.WrapOracle("validate", err)
	}
	v, err := o.decoder.DecodeVerdict(ctx, raw)
	if err != nil {
		return contract.Verdict{}, contract.WrapOracle("validate", err)
	}
	return v, nil
}

// EstimateTokens 估算一次调用的 token 消耗：固定开销 + 输入 + 与输入等长的输出。
func (o *Oracle) EstimateTokens(input string) int {
	est := prompt.MakeEstimator(o.bpt)
	return o.builder.EstimateOverheadTokens(est) + 2*est(input)
}

var (
	_ contract.Proposer  = (*Oracle)(nil)
	_ contract.Validator = (*Oracle)(nil)
	_ contract.Metered   = (*Oracle)(nil)
)
