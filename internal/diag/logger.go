package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level 日志级别。
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// LineSink 接收一行已编码的事件（不含换行）。
type LineSink interface {
	WriteLine(b []byte) error
}

// Logger 为最小结构化日志器：单行 JSON 写入轮转文件，失败时回退 stderr。
// 所有方法对 nil 接收者安全，调用方无需判空。
type Logger struct {
	corrID string
	level  Level
	sink   LineSink
	mu     sync.Mutex
}

// NewLogger 按 level 初始化，写入 logs/ 目录，10MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerTo(corrID, level, NewRotatingFile("logs", 10*1024*1024))
}

// NewLoggerTo 使用自定义 sink；sink 为 nil 时写 stderr。
func NewLoggerTo(corrID, level string, sink LineSink) *Logger {
	return &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level)), sink: sink}
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event 为标准事件结构。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"` // start|finish|warn|error
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	FileID string            `json:"file_id,omitempty"`
	Chunk  string            `json:"chunk,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 file_id/chunk 的 start。
func (l *Logger) StartWith(comp, msg, fileID, chunk string) *Timer {
	return l.StartWithKV(comp, msg, fileID, chunk, nil)
}

// StartWithKV 记录带 file_id/chunk 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, chunk string, kv map[string]string) *Timer {
	if l == nil {
		return nil
	}
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Chunk: chunk, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, chunk: chunk, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 file_id/chunk。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, chunk string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, chunk, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, chunk string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, FileID: fileID, Chunk: chunk, KV: kv})
}

// WarnWithKV 记录非致命异常（如一致性校验失败后的降级）。
func (l *Logger) WarnWithKV(comp, code, msg, fileID, chunk string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Code: code, Msg: msg, FileID: fileID, Chunk: chunk, KV: kv})
}

// Fail 记录错误事件并累加错误指标，返回分类码。
func (l *Logger) Fail(comp, msg string, err error, fileID, chunk string) Code {
	code := Classify(err)
	kv := map[string]string{"err": truncate(err.Error(), 300)}
	if s, m, ok := upstream(err); ok {
		kv["http_status"] = fmt.Sprintf("%d", s)
		if m = strings.TrimSpace(m); m != "" {
			kv["upstream_msg"] = truncate(m, 200)
		}
	}
	l.ErrorWithKV(comp, string(code), msg, nil, fileID, chunk, kv)
	IncOp(comp, "error", "error")
	if code != CodeUnknown {
		IncError(comp, string(code))
	}
	return code
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, chunk string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", FileID: fileID, Chunk: chunk, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	chunk  string
	t0     time.Time
}

// Finish 记录 finish 并上报成功计数与耗时；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: dur, Count: count, FileID: t.fileID, Chunk: t.chunk, Msg: msg})
	IncOp(t.comp, "finish", "success")
	ObserveDuration(t.comp, msg, dur)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
