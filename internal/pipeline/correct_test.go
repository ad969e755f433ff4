package pipeline

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texgc/internal/rate"
	"texgc/pkg/contract"
	"texgc/plugins/assembler/linear"
)

// 桩件 ----------------------------------------------------------

// fixProposer 将 from 全部替换为 to；可按索引注入阻塞或错误。
type fixProposer struct {
	from, to   string
	confidence float64
	block      map[int]bool  // 阻塞直到 ctx 结束
	fail       map[int]error // 直接返回错误
	delay      func(idx int) time.Duration
	mu         sync.Mutex
	calls      map[int]int
	inputs     map[int]string
}

func (p *fixProposer) Propose(ctx context.Context, w contract.Window) (contract.Proposal, error) {
	idx := w.Target.Index
	p.mu.Lock()
	if p.calls == nil {
		p.calls, p.inputs = map[int]int{}, map[int]string{}
	}
	p.calls[idx]++
	p.inputs[idx] = w.Target.Raw
	p.mu.Unlock()
	if p.block[idx] {
		<-ctx.Done()
		return contract.Proposal{}, ctx.Err()
	}
	if err := p.fail[idx]; err != nil {
		return contract.Proposal{}, err
	}
	if p.delay != nil {
		select {
		case <-ctx.Done():
			return contract.Proposal{}, ctx.Err()
		case <-time.After(p.delay(idx)):
		}
	}
	c := p.confidence
	if c == 0 {
		c = 0.9
	}
	return contract.Proposal{Text: strings.ReplaceAll(w.Target.Raw, p.from, p.to), Confidence: c}, nil
}

func (p *fixProposer) callsFor(idx int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[idx]
}

type meteredProposer struct{ fixProposer }

func (m *meteredProposer) EstimateTokens(input string) int { return len(input) }

type verdictValidator struct {
	accept bool
	err    error
	calls  atomic.Int32
}

func (v *verdictValidator) Validate(ctx context.Context, original, proposed string) (contract.Verdict, error) {
	v.calls.Add(1)
	if v.err != nil {
		return contract.Verdict{}, v.err
	}
	if !v.accept {
		return contract.Verdict{Concerns: []string{"meaning changed"}}, nil
	}
	return contract.Verdict{Accepted: true}, nil
}

type countGate struct{ asks atomic.Int32 }

func (g *countGate) Wait(ctx context.Context, a rate.Ask) error { g.asks.Add(1); return nil }
func (g *countGate) Try(a rate.Ask) bool                        { return true }

// windowsOf 将片段文本按序拼接为连续覆盖的窗口。
func windowsOf(parts ...string) ([]contract.Window, string) {
	var out []contract.Window
	off := 0
	for i, p := range parts {
		out = append(out, contract.Window{FileID: "f", Target: contract.ChunkRecord{Index: i, Start: off, End: off + len(p), Raw: p}})
		off += len(p)
	}
	return out, strings.Join(parts, "")
}

func assemble(t *testing.T, src string, recs []contract.CorrectionRecord) string {
	t.Helper()
	a, err := linear.New(nil)
	require.NoError(t, err)
	rd, err := a.Assemble(context.Background(), "f", src, recs)
	require.NoError(t, err)
	b, err := io.ReadAll(rd)
	require.NoError(t, err)
	return string(b)
}

func fastSettings() Settings {
	return Settings{Concurrency: 4, MaxRetries: 1, Backoff: time.Millisecond}
}

// 用例 ----------------------------------------------------------

func TestCorrectAcceptsValidatedProposal(t *testing.T) {
	ws, src := windowsOf("The cat sit on mat. ", "It is good.")
	p := &fixProposer{from: " sit ", to: " sits "}
	v := &verdictValidator{accept: true}
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{v}}, fastSettings(), nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, contract.StateAccepted, recs[0].State)
	assert.Equal(t, contract.ReasonAccepted, recs[0].Reason)
	assert.Equal(t, 1, recs[0].Rounds)
	assert.Equal(t, contract.StateRejected, recs[1].State)
	assert.Equal(t, contract.ReasonUnchanged, recs[1].Reason)
	assert.Equal(t, "The cat sits on mat. It is good.", assemble(t, src, recs))
}

func TestCorrectRejectFallsBackToOriginal(t *testing.T) {
	ws, src := windowsOf("teh one. ", "teh two.")
	p := &fixProposer{from: "teh", to: "the"}
	v := &verdictValidator{accept: false}
	set := fastSettings()
	set.MaxRounds = 2
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{v}}, set, nil)
	require.NoError(t, err)
	for _, r := range recs {
		assert.False(t, r.Accepted)
		assert.Equal(t, contract.ReasonExhausted, r.Reason)
		assert.Equal(t, 2, r.Rounds)
		assert.Equal(t, []string{"meaning changed"}, r.Concerns)
	}
	assert.Equal(t, src, assemble(t, src, recs))
}

func TestCorrectValidatorErrorRejects(t *testing.T) {
	ws, src := windowsOf("teh one.")
	p := &fixProposer{from: "teh", to: "the"}
	v := &verdictValidator{err: errors.New("boom")}
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{v}}, fastSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, "oracle_unavailable", recs[0].Reason)
	assert.Equal(t, int32(2), v.calls.Load())
	assert.Equal(t, src, assemble(t, src, recs))
}

func TestCorrectAllValidatorsMustAccept(t *testing.T) {
	ws, src := windowsOf("teh one.")
	p := &fixProposer{from: "teh", to: "the"}
	yes, no := &verdictValidator{accept: true}, &verdictValidator{accept: false}
	set := fastSettings()
	set.MaxRounds = 1
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{yes, no}}, set, nil)
	require.NoError(t, err)
	assert.Equal(t, contract.ReasonExhausted, recs[0].Reason)
	assert.Equal(t, src, assemble(t, src, recs))
}

func TestCorrectTimeoutOnMiddleChunk(t *testing.T) {
	ws, src := windowsOf("teh one. ", "teh two. ", "teh three.")
	p := &fixProposer{from: "teh", to: "the", block: map[int]bool{1: true}}
	v := &verdictValidator{accept: true}
	set := fastSettings()
	set.CallTimeout = 20 * time.Millisecond
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{v}}, set, nil)
	require.NoError(t, err)

	assert.Equal(t, "oracle_timeout", recs[1].Reason)
	assert.Equal(t, 2, p.callsFor(1))
	assert.True(t, recs[0].Accepted)
	assert.True(t, recs[2].Accepted)
	assert.Equal(t, "the one. teh two. the three.", assemble(t, src, recs))
}

func TestCorrectPreservesOrderUnderRandomLatency(t *testing.T) {
	parts := []string{"teh a. ", "teh b. ", "teh c. ", "teh d. ", "teh e."}
	ws, src := windowsOf(parts...)
	delays := make([]time.Duration, len(parts))
	rng := rand.New(rand.NewSource(7))
	for i := range delays {
		delays[i] = time.Duration(rng.Intn(20)) * time.Millisecond
	}
	p := &fixProposer{from: "teh", to: "the", delay: func(i int) time.Duration { return delays[i] }}
	set := fastSettings()
	set.Concurrency = len(parts)
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{&verdictValidator{accept: true}}}, set, nil)
	require.NoError(t, err)
	for i, r := range recs {
		assert.Equal(t, i, r.Chunk.Index)
	}
	assert.Equal(t, strings.ReplaceAll(src, "teh", "the"), assemble(t, src, recs))
}

func TestCorrectSkipAndBlankNeverCallOracle(t *testing.T) {
	ws, _ := windowsOf("\\section{Intro}", " \n\n ", "teh end.")
	ws[0].Target.Skip = true
	p := &fixProposer{from: "teh", to: "the"}
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{&verdictValidator{accept: true}}}, fastSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, contract.ReasonSkipped, recs[0].Reason)
	assert.Equal(t, contract.ReasonBlank, recs[1].Reason)
	assert.Equal(t, 0, p.callsFor(0))
	assert.Equal(t, 0, p.callsFor(1))
	assert.True(t, recs[2].Accepted)
}

func TestCorrectKeepsSurroundingWhitespace(t *testing.T) {
	ws, src := windowsOf("  teh cat \n")
	p := &fixProposer{from: "teh", to: "the"}
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{&verdictValidator{accept: true}}}, fastSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, "teh cat", p.inputs[0])
	assert.Equal(t, "  the cat \n", recs[0].Proposed)
	assert.Equal(t, "  the cat \n", assemble(t, src, recs))
}

func TestCorrectLowConfidenceExhaustsRounds(t *testing.T) {
	ws, _ := windowsOf("teh one.")
	p := &fixProposer{from: "teh", to: "the", confidence: 0.3}
	v := &verdictValidator{accept: true}
	set := fastSettings()
	set.MinConfidence = 0.5
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{v}}, set, nil)
	require.NoError(t, err)
	assert.Equal(t, contract.ReasonExhausted, recs[0].Reason)
	assert.Equal(t, DefaultMaxRounds, recs[0].Rounds)
	assert.Equal(t, int32(0), v.calls.Load())
}

func TestCorrectInvalidInputNotRetried(t *testing.T) {
	ws, _ := windowsOf("teh one.")
	p := &fixProposer{fail: map[int]error{0: contract.ErrInvalidInput}}
	set := fastSettings()
	set.MaxRetries = 3
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{&verdictValidator{accept: true}}}, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.callsFor(0))
	assert.Equal(t, "oracle_unavailable", recs[0].Reason)
}

func TestCorrectMalformedResponseReason(t *testing.T) {
	ws, _ := windowsOf("teh one.")
	p := &fixProposer{fail: map[int]error{0: contract.ErrResponseInvalid}}
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{&verdictValidator{accept: true}}}, fastSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.callsFor(0))
	assert.Equal(t, "oracle_malformed_response", recs[0].Reason)
}

func TestCorrectGateOnlyForMeteredOracles(t *testing.T) {
	ws, _ := windowsOf("teh one. ", "teh two.")
	p := &meteredProposer{fixProposer{from: "teh", to: "the"}}
	g := &countGate{}
	set := fastSettings()
	set.Gate, set.GateKey = g, "k"
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{&verdictValidator{accept: true}}}, set, nil)
	require.NoError(t, err)
	assert.True(t, recs[0].Accepted)
	assert.Equal(t, int32(2), g.asks.Load())
}

func TestCorrectParentCancel(t *testing.T) {
	ws, _ := windowsOf("teh one. ", "teh two.")
	p := &fixProposer{block: map[int]bool{0: true, 1: true}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	recs, err := Correct(ctx, "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{&verdictValidator{accept: true}}}, fastSettings(), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, contract.StateRejected, r.State)
		assert.Equal(t, contract.ReasonCanceled, r.Reason)
		assert.Equal(t, 1, p.callsFor(r.Chunk.Index))
	}
}

func TestCorrectMissingProposer(t *testing.T) {
	_, err := Correct(context.Background(), "f", nil, Oracles{}, Settings{}, nil)
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

// 空校验链不得采纳任何建议。
func TestCorrectEmptyValidatorChain(t *testing.T) {
	ws, _ := windowsOf("The cat sit on mat.")
	p := &fixProposer{from: "sit", to: "sits"}
	recs, err := Correct(context.Background(), "f", ws, Oracles{Proposer: p}, fastSettings(), nil)
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.Nil(t, recs)
	assert.Zero(t, p.callsFor(0))

	recs, err = Correct(context.Background(), "f", ws, Oracles{Proposer: p, Validators: []contract.Validator{}}, fastSettings(), nil)
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.Nil(t, recs)
}

func TestBackoffCapped(t *testing.T) {
	c := &corrector{set: Settings{Backoff: time.Second}.withDefaults()}
	assert.Equal(t, time.Second, c.backoff(0))
	assert.Equal(t, 4*time.Second, c.backoff(2))
	assert.Equal(t, maxBackoff, c.backoff(10))
}

func TestSplitSpace(t *testing.T) {
	l, c, r := splitSpace("\n  a b \t")
	assert.Equal(t, "\n  ", l)
	assert.Equal(t, "a b", c)
	assert.Equal(t, " \t", r)
	l, c, r = splitSpace("   ")
	assert.Equal(t, "   ", l)
	assert.Empty(t, c)
	assert.Empty(t, r)
}
