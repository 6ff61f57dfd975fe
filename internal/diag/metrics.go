package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// 指标（私有 Registry，由 serve 子命令经 /metrics 暴露）：
// - toneshift_op_total{comp,stage,result}
// - toneshift_error_total{comp,code}
// - toneshift_op_duration_ms{comp,stage}
var (
	Registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toneshift",
		Name:      "op_total",
		Help:      "Component operations by stage and result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toneshift",
		Name:      "error_total",
		Help:      "Component errors by classification code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "toneshift",
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 14),
	}, []string{"comp", "stage"})
)

func init() {
	Registry.MustRegister(
		opTotal,
		errorTotal,
		opDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// Failed 是组件失败时的统一记账：error 日志 + op/error 计数，返回分类代码。
func Failed(l *Logger, comp, msg string, err error, doc, para string, kv map[string]string) Code {
	code := Classify(err)
	fields := make(map[string]string, len(kv)+1)
	for k, v := range kv {
		fields[k] = v
	}
	if err != nil {
		fields["err"] = err.Error()
	}
	l.ErrorWithKV(comp, string(code), msg, nil, doc, para, fields)
	IncOp(comp, "error", "error")
	if code != CodeUnknown {
		IncError(comp, string(code))
	}
	return code
}
