// Package segment 执行第一遍：顺序切分源文本并派生每个片段的简化形态。
package segment

import (
	"context"
	"fmt"
	"strconv"

	"texgc/internal/diag"
	"texgc/internal/texscan"
	"texgc/pkg/contract"
)

// 一致性校验失败时的处理策略。
const (
	PolicyStrict      = "strict"
	PolicyPassthrough = "passthrough"
)

// Components 为分段所需的三件纯计算组件。
type Components struct {
	Extractor  contract.Extractor
	Normalizer contract.Normalizer
	Verifier   contract.Verifier
}

// Settings 为分段参数。
type Settings struct {
	// MismatchPolicy: "strict"（默认）或 "passthrough"。
	MismatchPolicy string
}

// Run 自偏移 0 起循环：Next → 截取 Raw → 派生 Normalized → 校验 → 以 RawLength 前移游标。
// 产出的片段按序无缝覆盖 doc。无进展时返回 ErrExtractionStall；ctx 取消时返回其错误。
func Run(ctx context.Context, fileID contract.FileID, doc string, comp Components, set Settings, logger *diag.Logger) ([]contract.ChunkRecord, error) {
	if comp.Extractor == nil || comp.Normalizer == nil || comp.Verifier == nil {
		return nil, fmt.Errorf("segment: %w: missing component", contract.ErrInvalidInput)
	}
	policy := set.MismatchPolicy
	if policy == "" {
		policy = PolicyStrict
	}
	if policy != PolicyStrict && policy != PolicyPassthrough {
		return nil, fmt.Errorf("segment: %w: mismatch policy %q", contract.ErrInvalidInput, policy)
	}
	t := logger.StartWith("segment", "segment", string(fileID), "")

	var out []contract.ChunkRecord
	cur := contract.NewCursor(doc)
	for !cur.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rem := cur.Remainder()
		n := comp.Extractor.Next(rem)
		if n <= 0 || n > len(rem) {
			return nil, fmt.Errorf("segment %s: %w: next returned %d at offset %d", fileID, contract.ErrExtractionStall, n, cur.Offset())
		}
		raw := rem[:n]
		rec := contract.ChunkRecord{Index: len(out), Start: cur.Offset(), End: cur.Offset() + n, Raw: raw}
		derive(&rec, comp, policy, logger, fileID)
		out = append(out, rec)

		next, err := cur.Advance(contract.RawLength(raw))
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", fileID, err)
		}
		cur = next
	}
	t.Finish("segment", int64(len(out)))
	return out, nil
}

// derive 派生简化形态；校验失败时按策略重派生或透传，绝不静默放行。
func derive(rec *contract.ChunkRecord, comp Components, policy string, logger *diag.Logger, fileID contract.FileID) {
	norm := comp.Normalizer.Normalize(rec.Raw, contract.RulesDefault)
	rep := comp.Verifier.Verify(rec.Raw, norm)
	if !rep.OK {
		merr := &contract.MismatchError{Index: rec.Index, Report: rep}
		chunk := strconv.Itoa(rec.Index)
		resolved := false
		if policy == PolicyStrict {
			strict := comp.Normalizer.Normalize(rec.Raw, contract.RulesStrict)
			if r2 := comp.Verifier.Verify(rec.Raw, strict); r2.OK {
				norm, rec.Mismatch, resolved = strict, PolicyStrict, true
			}
		}
		if !resolved {
			norm, rec.Mismatch = rec.Raw, PolicyPassthrough
		}
		logger.WarnWithKV("segment", string(diag.CodeMismatch), merr.Error(), string(fileID), chunk,
			map[string]string{"resolved": rec.Mismatch})
		diag.IncOp("segment", "mismatch", rec.Mismatch)
	}
	rec.Normalized = norm
	rec.Skip = rec.Mismatch == PolicyPassthrough || !texscan.HasProse(norm)
}
