// Package pipeline 编排两遍处理：分段（顺序、确定）→ 纠错（并发、受限）→ 装配 → 写出。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"texgc/internal/diag"
	"texgc/internal/rate"
	"texgc/internal/report"
	"texgc/internal/segment"
	"texgc/pkg/contract"
)

// - 单点并发：仅纠错阶段并发；分段、装配、写出均为同步。
// - 文件隔离：单文件失败（stall/coverage/写出）记录后继续处理其余文件，最终合并返回。
// - 取消：父 ctx 取消时立即中止当前文件并返回 ctx 错误。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader     contract.Reader
	Segment    segment.Components
	Windower   contract.Windower
	Proposer   contract.Proposer
	Validators []contract.Validator
	Assembler  contract.Assembler
	Writer     contract.Writer
}

// ReportSettings 控制旁路产物。
type ReportSettings struct {
	JSONL bool // <id>.jsonl：逐片段终态
	Diff  bool // <id>.diff：已接受修改的统一差异
}

// Settings 运行期配置。
type Settings struct {
	Inputs      []string
	Concurrency int
	// MaxRetries: 单次 oracle 调用失败后的最大重试次数（>=0）。
	MaxRetries int
	// MaxRounds: 每片段 propose→validate 最大轮数；<=0 取默认 3。
	MaxRounds int
	// CallTimeout: 单次 oracle 调用超时；0 表示仅受父 ctx 约束。
	CallTimeout time.Duration
	// Backoff: 重试退避基数；<=0 取默认 200ms。
	Backoff time.Duration
	// MinConfidence: 置信度不高于该值的建议进入下一轮；0 表示关闭。
	MinConfidence float64
	// MismatchPolicy: "strict" | "passthrough"。
	MismatchPolicy string
	// WindowTokens: 每窗口 token 预算（已扣除提示词固定开销）；<=0 时不附带上下文。
	WindowTokens int
	// 限流闸门（可选）：仅对实现 contract.Metered 的 oracle 生效
	Gate    rate.Gate
	GateKey rate.LimitKey
	Report  ReportSettings
}

func (s Settings) withDefaults() Settings {
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.MaxRounds <= 0 {
		s.MaxRounds = DefaultMaxRounds
	}
	if s.Backoff <= 0 {
		s.Backoff = DefaultBackoff
	}
	return s
}

// Run 执行完整流水线：Reader → segment → Windower → Correct → Assembler → Writer (+ 旁路报告)。
// 约束：
//   - 同一文件的输出按片段顺序装配，与并发完成顺序无关；
//   - 纠错阶段错误不上抛（落为 Rejected）；分段/装配/写出错误终止该文件；
//   - 返回所有失败文件错误的合并（errors.Join）。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) error {
	if err := sanity(comp, set); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	set = set.withDefaults()

	var failed []error
	rtimer := logger.Start("reader", "iterate")
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			logger.Fail("reader", "read failed", err, string(fid), "")
			return fmt.Errorf("read %s: %w", fid, err)
		}
		if err := processFile(ctx, fid, string(b), comp, set, logger); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			failed = append(failed, fmt.Errorf("%s: %w", fid, err))
		}
		return nil
	})
	if err != nil {
		logger.Fail("reader", "iterate failed", err, "", "")
		return fmt.Errorf("reader iterate: %w", errors.Join(append([]error{err}, failed...)...))
	}
	rtimer.Finish("iterate", 0)
	return errors.Join(failed...)
}

// processFile 处理单个文件；空文件写出空主工件与空旁路产物。
func processFile(ctx context.Context, fileID contract.FileID, doc string, comp Components, set Settings, logger *diag.Logger) (err error) {
	trace := uuid.NewString()
	ftimer := logger.StartWithKV("pipeline", "file", string(fileID), "", map[string]string{
		"trace": trace,
		"bytes": strconv.Itoa(len(doc)),
	})
	fileStart := time.Now()
	ok := false
	defer func() {
		if t := diag.GetTerminal(); t != nil {
			t.FileFinish(ok, time.Since(fileStart))
		}
		if err != nil {
			logger.Fail("pipeline", "file failed", err, string(fileID), "")
		}
	}()

	chunks, err := segment.Run(ctx, fileID, doc, comp.Segment, segment.Settings{MismatchPolicy: set.MismatchPolicy}, logger)
	if err != nil {
		return fmt.Errorf("segment: %w", err)
	}
	if t := diag.GetTerminal(); t != nil {
		t.FileStart(string(fileID), len(chunks), len(doc))
	}

	windows, err := makeWindows(ctx, fileID, chunks, comp.Windower, set.WindowTokens, logger)
	if err != nil {
		return fmt.Errorf("window: %w", err)
	}

	recs, err := Correct(ctx, fileID, windows, Oracles{Proposer: comp.Proposer, Validators: comp.Validators}, set, logger)
	if err != nil {
		return fmt.Errorf("correct: %w", err)
	}

	atimer := logger.StartWith("assembler", "assemble", string(fileID), "")
	rd, err := comp.Assembler.Assemble(ctx, fileID, doc, recs)
	if err != nil {
		return fmt.Errorf("assembler assemble: %w", err)
	}
	atimer.Finish("assemble", int64(len(recs)))

	wtimer := logger.StartWith("writer", "write", string(fileID), "")
	if err := comp.Writer.Write(ctx, contract.ArtifactID(fileID), rd); err != nil {
		return fmt.Errorf("writer write: %w", err)
	}
	wtimer.Finish("write", 1)

	if set.Report.JSONL {
		if err := writeJSONL(ctx, fileID, recs, comp.Writer); err != nil {
			return fmt.Errorf("writer write(jsonl): %w", err)
		}
	}
	if set.Report.Diff {
		d, err := report.UnifiedDiff(fileID, doc, recs)
		if err != nil {
			return fmt.Errorf("report diff: %w", err)
		}
		if err := comp.Writer.Write(ctx, contract.ArtifactID(string(fileID)+".diff"), bytes.NewReader(d)); err != nil {
			return fmt.Errorf("writer write(diff): %w", err)
		}
	}
	ftimer.Finish("file", int64(accepted(recs)))
	ok = true
	return nil
}

// makeWindows 附加上下文；未配置 Windower 或预算 <=0 时窗口仅含目标片段。
func makeWindows(ctx context.Context, fileID contract.FileID, chunks []contract.ChunkRecord, w contract.Windower, tokens int, logger *diag.Logger) ([]contract.Window, error) {
	if w == nil || tokens <= 0 {
		out := make([]contract.Window, len(chunks))
		for i, c := range chunks {
			out[i] = contract.Window{FileID: fileID, Target: c}
		}
		return out, nil
	}
	t := logger.StartWith("window", "make", string(fileID), "")
	out, err := w.Make(ctx, fileID, chunks, contract.WindowLimit{MaxTokens: tokens})
	if err != nil {
		return nil, err
	}
	t.Finish("make", int64(len(out)))
	return out, nil
}

// writeJSONL 通过管道将报告行流式交给 Writer。
func writeJSONL(ctx context.Context, fileID contract.FileID, recs []contract.CorrectionRecord, w contract.Writer) error {
	pr, pw := io.Pipe()
	go func() {
		_ = pw.CloseWithError(report.WriteJSONL(pw, fileID, recs))
	}()
	err := w.Write(ctx, contract.ArtifactID(string(fileID)+".jsonl"), pr)
	_ = pr.CloseWithError(err)
	return err
}

func accepted(recs []contract.CorrectionRecord) int {
	n := 0
	for _, r := range recs {
		if r.Accepted {
			n++
		}
	}
	return n
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Proposer == nil || c.Assembler == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if c.Segment.Extractor == nil || c.Segment.Normalizer == nil || c.Segment.Verifier == nil {
		return errors.New("pipeline: missing segment components")
	}
	if len(c.Validators) == 0 {
		return errors.New("pipeline: empty validator chain")
	}
	for i, v := range c.Validators {
		if v == nil {
			return fmt.Errorf("pipeline: validator %d is nil", i)
		}
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	return nil
}
