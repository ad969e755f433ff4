package contract

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrExtractionStall: 分段无进展（实现缺陷），终止当前文件。
	ErrExtractionStall = errors.New("extraction stall")
	// ErrVerificationMismatch: 简化形态丢失了非白名单内容；按策略处理，从不致命。
	ErrVerificationMismatch = errors.New("verification mismatch")
	// ErrCoverage: 装配发现空洞或重叠，终止当前文件。
	ErrCoverage = errors.New("coverage violation")
	// ErrOracle: 外部 oracle 失败（具体类别见 OracleError）。
	ErrOracle = errors.New("oracle error")
)

// MismatchError 携带一致性校验报告。
type MismatchError struct {
	Index  int
	Report VerifyReport
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("chunk %d: %v: token %q at %d", e.Index, ErrVerificationMismatch, e.Report.Missing, e.Report.At)
}

func (e *MismatchError) Unwrap() error { return ErrVerificationMismatch }

// OracleKind: oracle 失败类别。
type OracleKind string

const (
	OracleTimeout     OracleKind = "timeout"
	OracleMalformed   OracleKind = "malformed_response"
	OracleUnavailable OracleKind = "unavailable"
)

// OracleError: propose/validate 调用失败。
type OracleError struct {
	Op   string // "propose" | "validate"
	Kind OracleKind
	Err  error
}

func (e *OracleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrOracle) 对任意 OracleError 成立。
func (e *OracleError) Is(target error) bool { return target == ErrOracle }

// WrapOracle 将任意错误归类为 *OracleError；nil 原样返回，已归类的错误不重复包装。
// 归类：超时 → timeout；ErrResponseInvalid → malformed_response；其余 → unavailable。
func WrapOracle(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OracleError
	if errors.As(err, &oe) {
		return err
	}
	kind := OracleUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = OracleTimeout
	case errors.Is(err, ErrResponseInvalid):
		kind = OracleMalformed
	}
	return &OracleError{Op: op, Kind: kind, Err: err}
}

// OracleKindOf 提取错误的 oracle 类别；非 oracle 错误返回空串。
func OracleKindOf(err error) OracleKind {
	var oe *OracleError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}
