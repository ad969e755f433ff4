package contract

import "context"

// WindowLimit: 窗口装入上限。
type WindowLimit struct {
	// MaxTokens: 每窗口最大 token 预算（近似估算）；必须为正数。
	MaxTokens int
}

// Windower: 为每个片段附加只读上下文。
// 约束：
//  1. 输出与输入一一对应、顺序不变；
//  2. 上下文不跨文件；
//  3. 预算不足时收缩上下文直至为空，不得报错丢弃目标。
type Windower interface {
	Make(ctx context.Context, fileID FileID, chunks []ChunkRecord, limit WindowLimit) ([]Window, error)
}
