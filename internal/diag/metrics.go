package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 指标注册在私有 Registry 上，由 CLI 按需暴露（--metrics-addr）。
var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	opTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "texgc_op_total",
		Help: "Component operations by stage and result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "texgc_error_total",
		Help: "Component errors by classification code.",
	}, []string{"comp", "code"})

	opDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "texgc_op_duration_ms",
		Help:    "Component stage latency in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 9),
	}, []string{"comp", "stage"})

	chunkState = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "texgc_chunk_state_total",
		Help: "Chunks reaching a terminal state, by state and reason.",
	}, []string{"state", "reason"})
)

// Registry 返回指标注册表（供 promhttp 暴露或测试读取）。
func Registry() *prometheus.Registry { return registry }

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) { opTotal.WithLabelValues(comp, stage, result).Inc() }

// IncError 按分类累加错误计数。
func IncError(comp, code string) { errorTotal.WithLabelValues(comp, code).Inc() }

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// ObserveChunk 记录片段终态。
func ObserveChunk(state, reason string) { chunkState.WithLabelValues(state, reason).Inc() }
