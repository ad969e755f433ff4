package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texgc/pkg/contract"
)

// memSink 收集日志行。
type memSink struct{ lines [][]byte }

func (m *memSink) WriteLine(b []byte) error {
	m.lines = append(m.lines, append([]byte(nil), b...))
	return nil
}

func (m *memSink) events(t *testing.T) []Event {
	t.Helper()
	out := make([]Event, 0, len(m.lines))
	for _, l := range m.lines {
		var ev Event
		require.NoError(t, json.Unmarshal(l, &ev))
		out = append(out, ev)
	}
	return out
}

// UT-DIAG-01: 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	require.NoError(t, w.WriteLine([]byte("first line that is very long")))
	require.NoError(t, w.WriteLine([]byte("second")))
	require.NoError(t, w.Close())

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	hasCurrent, hasRotated := false, false
	for _, e := range ents {
		switch {
		case e.Name() == "texgc-current.log":
			hasCurrent = true
		case strings.HasPrefix(e.Name(), "texgc-") && strings.HasSuffix(e.Name(), ".log"):
			hasRotated = true
		}
	}
	assert.True(t, hasCurrent, "应存在当前文件")
	assert.True(t, hasRotated, "应存在轮转文件")
}

// 单行超过上限时不对空文件轮转
func TestRotatingFileOversizedFirstLine(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 4)
	require.NoError(t, w.WriteLine([]byte("0123456789")))
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, ents, 1)
	require.NoError(t, w.rotate())
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "重复关闭应为 no-op")
}

// UT-DIAG-02: 指标计数
func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(opTotal.WithLabelValues("ut_comp", "finish", "success"))
	IncOp("ut_comp", "finish", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(opTotal.WithLabelValues("ut_comp", "finish", "success")))

	IncError("ut_comp", "oracle")
	assert.GreaterOrEqual(t, testutil.ToFloat64(errorTotal.WithLabelValues("ut_comp", "oracle")), 1.0)

	ObserveChunk("accepted", "accepted")
	assert.GreaterOrEqual(t, testutil.ToFloat64(chunkState.WithLabelValues("accepted", "accepted")), 1.0)

	ObserveDuration("ut_comp", "stage", 3)
	n, err := testutil.GatherAndCount(Registry(), "texgc_op_duration_ms")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

// UT-DIAG-03: 错误分类
func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeUnknown},
		{"协议", contract.ErrResponseInvalid, CodeProtocol},
		{"取消", context.Canceled, CodeCancel},
		{"IO", &fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{"网络", &net.DNSError{Err: "x"}, CodeNetwork},
		{"预算", contract.ErrBudgetExceeded, CodeBudget},
		{"限流", contract.ErrRateLimited, CodeBudget},
		{"路径", contract.ErrPathInvalid, CodeInvariant},
		{"停滞", fmt.Errorf("segment: %w", contract.ErrExtractionStall), CodeStall},
		{"覆盖", contract.ErrCoverage, CodeCoverage},
		{"不一致", &contract.MismatchError{}, CodeMismatch},
		{"oracle 超时优先于取消", contract.WrapOracle("propose", context.DeadlineExceeded), CodeOracle},
		{"未知", errors.New("other"), CodeUnknown},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

type upErr struct{}

func (upErr) Error() string           { return "upstream 503" }
func (upErr) UpstreamStatus() int     { return 503 }
func (upErr) UpstreamMessage() string { return " overloaded " }

// UT-DIAG-04: Logger 事件字段
func TestLoggerEvents(t *testing.T) {
	sink := &memSink{}
	l := NewLoggerTo("corr", "debug", sink)
	assert.Equal(t, "corr", l.CorrID())

	l.StartWith("segment", "run", "a.tex", "").Finish("run", 3)
	l.DebugStart("oracle", "propose", "a.tex", "2", map[string]string{"round": "1"})
	l.WarnWithKV("segment", string(CodeMismatch), "fallback", "a.tex", "4", nil)
	code := l.Fail("llm_client", "invoke failed", fmt.Errorf("wrap: %w", upErr{}), "a.tex", "2")
	assert.Equal(t, CodeUnknown, code)

	evs := sink.events(t)
	require.Len(t, evs, 5)
	assert.Equal(t, "start", evs[0].Stage)
	assert.Equal(t, "finish", evs[1].Stage)
	assert.Equal(t, int64(3), evs[1].Count)
	assert.Equal(t, "a.tex", evs[1].FileID)
	assert.Equal(t, "debug", evs[2].Level)
	assert.Equal(t, "warn", evs[3].Level)
	assert.Equal(t, "4", evs[3].Chunk)
	assert.Equal(t, "error", evs[4].Level)
	assert.Equal(t, "503", evs[4].KV["http_status"])
	assert.Equal(t, "overloaded", evs[4].KV["upstream_msg"])
	for _, ev := range evs {
		assert.Equal(t, "corr", ev.CorrID)
		assert.NotEmpty(t, ev.TS)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	sink := &memSink{}
	l := NewLoggerTo("c", "warn", sink)
	l.Start("comp", "msg").Finish("ok", 1)
	l.DebugStart("comp", "msg", "f", "b", nil)
	start := time.Now().Add(-10 * time.Millisecond)
	l.Error("comp", "code", "msg", &start)
	l.ErrorWith("comp", "code", "msg", nil, "f", "b")
	evs := sink.events(t)
	require.Len(t, evs, 2)
	assert.Greater(t, evs[0].DurMS, int64(0))

	assert.Equal(t, "warn", Warn.String())
	assert.Equal(t, "info", Level(12345).String())
}

// nil Logger 与 nil Timer 均为 no-op
func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	tm := l.StartWith("comp", "msg", "f", "c")
	assert.Nil(t, tm)
	tm.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
	l.ErrorWithKV("comp", "code", "msg", nil, "", "", nil)
	l.InfoFinish("comp", "msg", time.Now(), 0)
	assert.Equal(t, "", l.CorrID())
	assert.Equal(t, CodeBudget, l.Fail("gate", "wait", contract.ErrRateLimited, "", ""))
}

func TestNowUTC(t *testing.T) {
	_, err := time.Parse(time.RFC3339, NowUTC())
	assert.NoError(t, err)
}

// UT-DIAG-05: 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	require.False(t, term.isTTY)
	term.RunStart(4, "openai")
	term.FileStart("paper/main.tex", 12, 4096)
	term.ChunkDone(100, true, false) // 非 TTY：不输出进度
	term.ChunkDone(100, false, true)
	term.FileFinish(true, 5100*time.Millisecond)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "[run] 并发=4 | llm=openai")
	assert.Contains(t, out, "[file] main.tex | 片段=12 | 字节=4096")
	assert.Contains(t, out, "[done] main.tex | 片段 12 | 采纳 1 | 失败 1 | 用时 5.1s")
	assert.Contains(t, out, "[ok] 全部完成 | 文件 1 | 总用时 41.3s")
}

// UT-DIAG-06: 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart(2, "mock")
	term.FileStart("/a/b/c/longfilename.tex", 3, 300)

	term.ChunkDone(100, true, false)
	first := sb.String()
	require.Contains(t, first, "\r[")
	assert.Contains(t, first, "(33%)")

	term.ChunkDone(100, false, false)
	assert.Equal(t, first, sb.String(), "100ms 内应被节流")

	time.Sleep(120 * time.Millisecond)
	term.ChunkDone(100, false, true)
	third := sb.String()
	assert.Greater(t, len(third), len(first))
	assert.Contains(t, third, "(100%)")

	term.FileFinish(false, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	require.GreaterOrEqual(t, idx, 0)
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	require.GreaterOrEqual(t, cr, 0)
	assert.Contains(t, seg[cr+1:], " ", "清尾应以空格覆盖")
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// UT-DIAG-07: 写失败降级为禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.RunStart(1, "x")
	assert.False(t, term.enabled)
	term.FileStart("a", 0, 0)
	term.ChunkDone(1, false, false)
	term.FileFinish(true, 0)
	term.RunFinish(true, 0)

	tty := NewTerminal(&flakyWriter{fail: true}, true)
	tty.isTTY = true
	tty.FileStart("f.tex", 2, 10)
	tty.ChunkDone(5, false, false)
	assert.False(t, tty.enabled)
}

func TestTerminalHelpers(t *testing.T) {
	assert.NotEmpty(t, shortenBase("/x/y/这是一个很长的文件名用于截断测试abcdefghijk.tex", 10))
	assert.Equal(t, "", shortenBase("x", 0))
	assert.Equal(t, "a b c", safe("a\nb\rc"))
	assert.Equal(t, "0ms", formatDur(0))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))
	assert.Equal(t, "100%", percent(0, 0))

	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
	SetTerminal(NewTerminal(os.Stderr, false))
	assert.NotNil(t, GetTerminal())
	SetTerminal(nil)

	var tn *Terminal
	tn.RunStart(1, "x")
	tn.FileStart("a", 1, 1)
	tn.ChunkDone(1, true, false)
	tn.FileFinish(true, 0)
	tn.RunFinish(true, 0)
}

func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	assert.False(t, NewTerminal(os.Stderr, true).isTTY)
}
