package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"texgc/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeStall     Code = "stall"
	CodeCoverage  Code = "coverage"
	CodeMismatch  Code = "mismatch"
	CodeOracle    Code = "oracle"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 领域哨兵优先于其包装的底层原因
	switch {
	case errors.Is(err, contract.ErrExtractionStall):
		return CodeStall
	case errors.Is(err, contract.ErrCoverage):
		return CodeCoverage
	case errors.Is(err, contract.ErrVerificationMismatch):
		return CodeMismatch
	case errors.Is(err, contract.ErrOracle):
		return CodeOracle
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrBudgetExceeded) || errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// upstream 提取上游 HTTP 诊断信息。
func upstream(err error) (int, string, bool) {
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		return ue.UpstreamStatus(), ue.UpstreamMessage(), true
	}
	return 0, "", false
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
