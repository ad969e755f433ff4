package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"texgc/pkg/contract"
)

// LimitKey: 限流分组键（provider + 凭据摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次请求 token 上限，0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait 阻塞直到额度可用或 ctx 取消；超出单请求上限或桶容量时快速失败（ErrBudgetExceeded）。
	Wait(ctx context.Context, a Ask) error
	// Try 非阻塞尝试；不足时返回 false 且不消耗额度。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate 从静态配置构造闸门；clk 为空则使用 time.Now。
// 每个维度以 golang.org/x/time/rate 令牌桶实现：速率 N/60 每秒，容量 N。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req *xrate.Limiter // nil 表示该维度关闭
	tok *xrate.Limiter
}

func newEntry(lim Limits) *entry {
	e := &entry{lim: lim}
	if lim.RPM > 0 {
		e.req = xrate.NewLimiter(xrate.Limit(float64(lim.RPM)/60.0), lim.RPM)
	}
	if lim.TPM > 0 {
		e.tok = xrate.NewLimiter(xrate.Limit(float64(lim.TPM)/60.0), lim.TPM)
	}
	return e
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 不限额
		e = newEntry(Limits{})
		g.m[key] = e
	}
	return e
}

func (g *gate) check(e *entry, a Ask) error {
	if a.Requests <= 0 || a.Tokens < 0 {
		return contract.ErrInvalidInput
	}
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return fmt.Errorf("%w: %d tokens > per-request cap %d", contract.ErrBudgetExceeded, a.Tokens, e.lim.MaxTokensPerReq)
	}
	return nil
}

// reserve 同时在两个维度预留额度，返回需等待的时长。任一维度无法满足时撤销已预留部分。
func (e *entry) reserve(now time.Time, a Ask) ([]*xrate.Reservation, time.Duration, error) {
	var rs []*xrate.Reservation
	var delay time.Duration
	take := func(l *xrate.Limiter, n int) error {
		if l == nil || n <= 0 {
			return nil
		}
		r := l.ReserveN(now, n)
		if !r.OK() {
			return fmt.Errorf("%w: ask %d exceeds bucket capacity %d", contract.ErrBudgetExceeded, n, l.Burst())
		}
		rs = append(rs, r)
		if d := r.DelayFrom(now); d > delay {
			delay = d
		}
		return nil
	}
	if err := take(e.req, a.Requests); err != nil {
		return nil, 0, err
	}
	if err := take(e.tok, a.Tokens); err != nil {
		cancelAll(rs, now)
		return nil, 0, err
	}
	return rs, delay, nil
}

func cancelAll(rs []*xrate.Reservation, now time.Time) {
	for _, r := range rs {
		r.CancelAt(now)
	}
}

func (g *gate) Try(a Ask) bool {
	e := g.get(a.Key)
	if g.check(e, a) != nil {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, delay, err := e.reserve(now, a)
	if err != nil {
		return false
	}
	if delay > 0 {
		cancelAll(rs, now)
		return false
	}
	return true
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e := g.get(a.Key)
	if err := g.check(e, a); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := g.clk()
	e.mu.Lock()
	rs, delay, err := e.reserve(now, a)
	e.mu.Unlock()
	if err != nil || delay <= 0 {
		return err
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		e.mu.Lock()
		cancelAll(rs, g.clk())
		e.mu.Unlock()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot 返回当前可用请求/令牌的向下取整估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.req != nil {
		rpmAvail = clampInt(e.req.TokensAt(now), e.req.Burst())
	}
	if e.tok != nil {
		tpmAvail = clampInt(e.tok.TokensAt(now), e.tok.Burst())
	}
	return
}

func clampInt(v float64, hi int) int {
	switch {
	case v < 0:
		return 0
	case v > float64(hi):
		return hi
	default:
		return int(v)
	}
}

var (
	_ Gate       = (*gate)(nil)
	_ Snapshoter = (*gate)(nil)
)
