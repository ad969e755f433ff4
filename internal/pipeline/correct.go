package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"texgc/internal/diag"
	"texgc/internal/rate"
	"texgc/internal/texscan"
	"texgc/pkg/contract"
)

// Oracles 聚合第二遍使用的外部能力。Validators 按序全部接受方为接受。
type Oracles struct {
	Proposer   contract.Proposer
	Validators []contract.Validator
}

// 默认值。
const (
	DefaultMaxRounds = 3
	DefaultBackoff   = 200 * time.Millisecond
	maxBackoff       = 10 * time.Second
)

// Correct 对每个窗口的目标片段执行 propose → validate 状态机，返回与 windows 一一对应的终态记录。
// 约束：
//   - 并发度受 Settings.Concurrency 约束；结果按索引写入预分配切片，顺序与输入一致；
//   - 任一片段的 oracle 失败只影响该片段（Rejected），不向上传播；
//   - 父 ctx 取消时，未完成片段标记为 Rejected("canceled")，并返回 ctx 错误；
//   - 缺少 Proposer 或校验链为空时返回 contract.ErrInvalidInput。
func Correct(ctx context.Context, fileID contract.FileID, windows []contract.Window, orc Oracles, set Settings, logger *diag.Logger) ([]contract.CorrectionRecord, error) {
	if orc.Proposer == nil {
		return nil, fmt.Errorf("correct: %w: missing proposer", contract.ErrInvalidInput)
	}
	// 采纳须经至少一个校验器
	if len(orc.Validators) == 0 {
		return nil, fmt.Errorf("correct: %w: empty validator chain", contract.ErrInvalidInput)
	}
	recs := make([]contract.CorrectionRecord, len(windows))
	for i, w := range windows {
		recs[i] = contract.CorrectionRecord{Chunk: w.Target, State: contract.StateProposed}
	}
	c := &corrector{orc: orc, set: set.withDefaults(), logger: logger, fileID: fileID}

	var g errgroup.Group
	g.SetLimit(c.set.Concurrency)
	for i := range windows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			recs[i] = c.chunk(ctx, windows[i])
			c.report(recs[i])
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for i := range recs {
			if !recs[i].State.Terminal() {
				recs[i].State, recs[i].Reason, recs[i].Accepted = contract.StateRejected, contract.ReasonCanceled, false
			}
		}
		return recs, err
	}
	return recs, nil
}

type corrector struct {
	orc    Oracles
	set    Settings
	logger *diag.Logger
	fileID contract.FileID
}

// chunk 单片段状态机：Proposed → Validating → {Accepted, Rejected}。
func (c *corrector) chunk(ctx context.Context, w contract.Window) contract.CorrectionRecord {
	rec := contract.CorrectionRecord{Chunk: w.Target, State: contract.StateProposed}
	if w.Target.Skip {
		return reject(rec, contract.ReasonSkipped)
	}
	lead, core, trail := splitSpace(w.Target.Raw)
	if core == "" {
		return reject(rec, contract.ReasonBlank)
	}
	target := w
	target.Target.Raw = core
	label := strconv.Itoa(w.Target.Index)

	for round := 1; round <= c.set.MaxRounds; round++ {
		rec.Rounds = round
		rec.State = contract.StateProposed
		var prop contract.Proposal
		err := c.call(ctx, "propose", label, c.orc.Proposer, core, func(cctx context.Context) error {
			var err error
			prop, err = c.orc.Proposer.Propose(cctx, target)
			return err
		})
		if err != nil {
			return c.failed(ctx, rec, err)
		}
		rec.Confidence, rec.Explanation = prop.Confidence, prop.Explanation
		rec.Proposed = lead + prop.Text + trail
		if c.set.MinConfidence > 0 && prop.Confidence <= c.set.MinConfidence {
			c.logger.DebugStart("correct", "low_confidence", string(c.fileID), label,
				map[string]string{"round": strconv.Itoa(round), "confidence": strconv.FormatFloat(prop.Confidence, 'f', 2, 64)})
			continue
		}
		if prop.Text == core {
			return reject(rec, contract.ReasonUnchanged)
		}

		rec.State = contract.StateValidating
		accepted := len(c.orc.Validators) > 0
		for _, v := range c.orc.Validators {
			var verdict contract.Verdict
			err := c.call(ctx, "validate", label, v, core+prop.Text, func(cctx context.Context) error {
				var err error
				verdict, err = v.Validate(cctx, core, prop.Text)
				return err
			})
			if err != nil {
				return c.failed(ctx, rec, err)
			}
			if !verdict.Accepted {
				accepted = false
				rec.Concerns = verdict.Concerns
				break
			}
		}
		if accepted {
			rec.Accepted, rec.State, rec.Reason, rec.Concerns = true, contract.StateAccepted, contract.ReasonAccepted, nil
			return rec
		}
	}
	return reject(rec, contract.ReasonExhausted)
}

// call 执行一次带超时与重试的 oracle 调用；计费 oracle 先向闸门申请额度。
// 返回的错误均为 *contract.OracleError。
func (c *corrector) call(ctx context.Context, op, label string, oracle any, input string, fn func(context.Context) error) error {
	attempts := c.set.MaxRetries + 1
	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if m, ok := oracle.(contract.Metered); ok && c.set.Gate != nil {
			tokens := m.EstimateTokens(input)
			c.logger.DebugStart("gate", "ask", string(c.fileID), label, map[string]string{
				"tokens":  strconv.Itoa(tokens),
				"attempt": strconv.Itoa(attempt + 1),
			})
			if err := c.set.Gate.Wait(ctx, rate.Ask{Key: c.set.GateKey, Requests: 1, Tokens: tokens}); err != nil {
				c.logger.Fail("gate", "wait failed", err, string(c.fileID), label)
				return contract.WrapOracle(op, err)
			}
		}
		t := c.logger.StartWithKV("oracle", op, string(c.fileID), label, map[string]string{"attempt": strconv.Itoa(attempt + 1)})
		cctx, cancel := ctx, context.CancelFunc(func() {})
		if c.set.CallTimeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, c.set.CallTimeout)
		}
		err := fn(cctx)
		cancel()
		if err == nil {
			t.Finish(op, 1)
			return nil
		}
		last = contract.WrapOracle(op, err)
		c.logger.Fail("oracle", op+" failed", last, string(c.fileID), label)
		if ctx.Err() != nil || !shouldRetry(last) {
			break
		}
		if attempt+1 < attempts {
			if sleepWithCtx(ctx, c.backoff(attempt)) != nil {
				break
			}
		}
	}
	return last
}

// backoff: base·2^attempt，封顶 maxBackoff。
func (c *corrector) backoff(attempt int) time.Duration {
	d := c.set.Backoff
	for i := 0; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// failed 将 oracle 失败落为 Rejected；父 ctx 已取消时原因记为 canceled。
func (c *corrector) failed(ctx context.Context, rec contract.CorrectionRecord, err error) contract.CorrectionRecord {
	if ctx.Err() != nil {
		return reject(rec, contract.ReasonCanceled)
	}
	kind := contract.OracleKindOf(err)
	if kind == "" {
		kind = contract.OracleUnavailable
	}
	return reject(rec, "oracle_"+string(kind))
}

// report 上报单片段终态：指标与终端进度。
func (c *corrector) report(rec contract.CorrectionRecord) {
	diag.ObserveChunk(rec.State.String(), rec.Reason)
	if t := diag.GetTerminal(); t != nil {
		t.ChunkDone(rec.Chunk.Len(), rec.State == contract.StateAccepted, strings.HasPrefix(rec.Reason, "oracle_"))
	}
}

func reject(rec contract.CorrectionRecord, reason string) contract.CorrectionRecord {
	rec.Accepted = false
	rec.State = contract.StateRejected
	rec.Reason = reason
	return rec
}

// shouldRetry: 输入非法与预算超限不重试；超时、响应无效、上游不可用均重试。
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, contract.ErrInvalidInput) && !errors.Is(err, contract.ErrBudgetExceeded)
}

// splitSpace 拆出首尾空白，返回 (lead, core, trail)。
func splitSpace(s string) (string, string, string) {
	i := 0
	for i < len(s) && texscan.IsSpace(s[i]) {
		i++
	}
	j := len(s)
	for j > i && texscan.IsSpace(s[j-1]) {
		j--
	}
	return s[:i], s[i:j], s[j:]
}

// sleepWithCtx: 可取消的 sleep（最小实现）。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
