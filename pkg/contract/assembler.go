package contract

import (
	"context"
	"io"
)

// Assembler: 按原始顺序将 CorrectionRecord 折叠为输出文本（单文件）。
// 约束：
//  1. 记录按 Index 升序且连续覆盖 [0, len(source))；
//  2. 任意空洞/重叠/越界，或 Chunk.Raw 与源切片不一致，返回 ErrCoverage；
//  3. 未接受的记录原样使用 Chunk.Raw；
//  4. 不引入跨文件状态。
type Assembler interface {
	Assemble(ctx context.Context, fileID FileID, source string, recs []CorrectionRecord) (io.Reader, error)
}
