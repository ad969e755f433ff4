package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"texgc/pkg/contract"
)

// Options: 线性装配无需配置。
type Options struct{}

type assembler struct{}

// New 从原样 JSON Options 创建线性装配器（当前忽略选项）。
func New(raw json.RawMessage) (contract.Assembler, error) {
	_ = raw
	return &assembler{}, nil
}

// Assemble 先校验记录对源文本的覆盖，再按序拼接各记录的 Output()。
// 覆盖规则：Index 自 0 连续；Start[0]==0；End>Start；Start[i]==End[i-1]；
// 末尾 End==len(source)；Raw 恰为 source[Start:End]。任一违反返回 ErrCoverage。
func (a *assembler) Assemble(ctx context.Context, fileID contract.FileID, source string, recs []contract.CorrectionRecord) (io.Reader, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if err := Check(source, recs); err != nil {
		return nil, fmt.Errorf("assemble %s: %w", fileID, err)
	}
	rs := make([]io.Reader, 0, len(recs))
	for _, r := range recs {
		rs = append(rs, strings.NewReader(r.Output()))
	}
	return io.MultiReader(rs...), nil
}

// Check 校验记录序列恰好无缝覆盖 source。
func Check(source string, recs []contract.CorrectionRecord) error {
	if len(recs) == 0 {
		if source == "" {
			return nil
		}
		return fmt.Errorf("%w: no records for %d bytes", contract.ErrCoverage, len(source))
	}
	prev := 0
	for i, r := range recs {
		c := r.Chunk
		switch {
		case c.Index != i:
			return fmt.Errorf("%w: record %d has index %d", contract.ErrCoverage, i, c.Index)
		case c.Start != prev:
			return fmt.Errorf("%w: chunk %d starts at %d, want %d", contract.ErrCoverage, i, c.Start, prev)
		case c.End <= c.Start:
			return fmt.Errorf("%w: chunk %d empty range [%d,%d)", contract.ErrCoverage, i, c.Start, c.End)
		case c.End > len(source):
			return fmt.Errorf("%w: chunk %d ends at %d past %d", contract.ErrCoverage, i, c.End, len(source))
		case c.Raw != source[c.Start:c.End]:
			return fmt.Errorf("%w: chunk %d raw differs from source", contract.ErrCoverage, i)
		}
		prev = c.End
	}
	if prev != len(source) {
		return fmt.Errorf("%w: covered %d of %d bytes", contract.ErrCoverage, prev, len(source))
	}
	return nil
}

var _ contract.Assembler = (*assembler)(nil)
