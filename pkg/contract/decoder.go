package contract

import "context"

// Decoder: 将 Raw 解码为 Proposal/Verdict；字段名/容错策略由具体实现自决。
// 约束：无法解析或缺少必需字段时返回 ErrResponseInvalid（可包装）。
type Decoder interface {
	DecodeProposal(ctx context.Context, raw Raw) (Proposal, error)
	DecodeVerdict(ctx context.Context, raw Raw) (Verdict, error)
}

// CloneString: 强制拷贝字符串，避免底层共享导致生命周期耦合。
func CloneString(s string) string {
	if s == "" {
		return ""
	}
	b := make([]byte, len(s))
	copy(b, s)
	return string(b)
}
