// Package report 生成纠错旁路产物：逐片段 JSONL 记录与已接受改动的统一差异。
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"texgc/pkg/contract"
)

// Row 为 JSONL 的一行（每个片段一行，按 Index 升序）。
type Row struct {
	FileID      string   `json:"file_id"`
	Index       int      `json:"index"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	State       string   `json:"state"`
	Reason      string   `json:"reason"`
	Rounds      int      `json:"rounds,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	Skip        bool     `json:"skip,omitempty"`
	Mismatch    string   `json:"mismatch,omitempty"`
	Src         string   `json:"src"`
	Dst         string   `json:"dst"`
	Proposed    string   `json:"proposed,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Concerns    []string `json:"concerns,omitempty"`
}

// NewRow 由终态记录构造一行；Dst 为装配实际采用的文本。
func NewRow(fileID contract.FileID, r contract.CorrectionRecord) Row {
	row := Row{
		FileID:      string(fileID),
		Index:       r.Chunk.Index,
		Start:       r.Chunk.Start,
		End:         r.Chunk.End,
		State:       r.State.String(),
		Reason:      r.Reason,
		Rounds:      r.Rounds,
		Confidence:  r.Confidence,
		Skip:        r.Chunk.Skip,
		Mismatch:    r.Chunk.Mismatch,
		Src:         r.Chunk.Raw,
		Dst:         r.Output(),
		Explanation: r.Explanation,
		Concerns:    r.Concerns,
	}
	if r.Proposed != "" && r.Proposed != row.Dst {
		row.Proposed = r.Proposed
	}
	return row
}

// WriteJSONL 逐行编码记录；不转义 HTML 字符（LaTeX 中常见 & < >）。
func WriteJSONL(w io.Writer, fileID contract.FileID, recs []contract.CorrectionRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range recs {
		row := NewRow(fileID, r)
		if err := enc.Encode(&row); err != nil {
			return fmt.Errorf("jsonl encode chunk %d: %w", r.Chunk.Index, err)
		}
	}
	return nil
}

// UnifiedDiff 生成已接受改动的统一差异（无上下文行，等价于 -U0）。
// 同一行范围内的多个改动合并为一个 hunk；无改动时返回空。
func UnifiedDiff(fileID contract.FileID, source string, recs []contract.CorrectionRecord) ([]byte, error) {
	hunks := Hunks(source, recs)
	if len(hunks) == 0 {
		return nil, nil
	}
	fd := &diff.FileDiff{
		OrigName: "a/" + string(fileID),
		NewName:  "b/" + string(fileID),
		Hunks:    hunks,
	}
	return diff.PrintFileDiff(fd)
}

// Hunks 计算 hunk 列表。行号自 1 起；新行号累计此前 hunk 的行数差。
func Hunks(source string, recs []contract.CorrectionRecord) []*diff.Hunk {
	type region struct {
		ls, le int // 覆盖的整行字节区间 [ls, le)
		edits  []contract.CorrectionRecord
	}
	var regions []region
	for _, r := range recs {
		if !r.Accepted || r.State != contract.StateAccepted || r.Proposed == r.Chunk.Raw {
			continue
		}
		ls := lineStart(source, r.Chunk.Start)
		le := lineEnd(source, r.Chunk.End)
		if n := len(regions); n > 0 && ls < regions[n-1].le {
			regions[n-1].le = max(regions[n-1].le, le)
			regions[n-1].edits = append(regions[n-1].edits, r)
			continue
		}
		regions = append(regions, region{ls: ls, le: le, edits: []contract.CorrectionRecord{r}})
	}

	out := make([]*diff.Hunk, 0, len(regions))
	delta := 0
	for _, rg := range regions {
		orig := source[rg.ls:rg.le]
		var nb strings.Builder
		prev := rg.ls
		for _, e := range rg.edits {
			nb.WriteString(source[prev:e.Chunk.Start])
			nb.WriteString(e.Proposed)
			prev = e.Chunk.End
		}
		nb.WriteString(source[prev:rg.le])
		updated := nb.String()

		origLines, newLines := splitLines(orig), splitLines(updated)
		startLine := strings.Count(source[:rg.ls], "\n") + 1
		var body bytes.Buffer
		writeLines(&body, '-', origLines)
		writeLines(&body, '+', newLines)
		out = append(out, &diff.Hunk{
			OrigStartLine: int32(startLine),
			OrigLines:     int32(len(origLines)),
			NewStartLine:  int32(startLine + delta),
			NewLines:      int32(len(newLines)),
			Body:          body.Bytes(),
		})
		delta += len(newLines) - len(origLines)
	}
	return out
}

func lineStart(s string, i int) int {
	return strings.LastIndexByte(s[:i], '\n') + 1
}

// lineEnd 返回 s[i-1] 所在行的结束位置（含换行符）。
func lineEnd(s string, i int) int {
	if i > 0 && s[i-1] == '\n' {
		return i
	}
	k := strings.IndexByte(s[i:], '\n')
	if k < 0 {
		return len(s)
	}
	return i + k + 1
}

// splitLines 按行切分并保留换行符；末行可无换行。
func splitLines(s string) []string {
	var out []string
	for len(s) > 0 {
		k := strings.IndexByte(s, '\n')
		if k < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:k+1])
		s = s[k+1:]
	}
	return out
}

func writeLines(b *bytes.Buffer, mark byte, lines []string) {
	for _, l := range lines {
		b.WriteByte(mark)
		b.WriteString(l)
		if !strings.HasSuffix(l, "\n") {
			b.WriteString("\n\\ No newline at end of file\n")
		}
	}
}
