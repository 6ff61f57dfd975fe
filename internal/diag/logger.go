package diag

import (
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 为结构化事件日志器（zap 后端）。
// 每条事件携带 corr_id/comp/stage(start|finish|error|retry)，可选 code/dur_ms/count/doc/para 与任意键值。
// 所有方法对 nil 接收者安全（no-op），便于组件在无日志配置时直接调用。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// NewLogger 以 level 初始化，日志写入 dir（空则 "logs"）下的轮转文件，10MiB 轮转。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	sink := NewRotatingFile(filepath.Clean(dir), 10*1024*1024)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), sink, zap.NewAtomicLevelAt(ParseLevel(level)))
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID)), sink: sink}
}

// NewWithCore 基于外部 core 构造（测试或嵌入式使用）。
func NewWithCore(corrID string, core zapcore.Core) *Logger {
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID))}
}

// NewNop 返回丢弃所有事件的 Logger。
func NewNop() *Logger { return &Logger{z: zap.NewNop()} }

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.MessageKey = "msg"
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.CallerKey = zapcore.OmitKey
	cfg.StacktraceKey = zapcore.OmitKey
	return cfg
}

// ParseLevel 解析 debug|info|warn|error；未知值回落 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Zap 暴露底层 *zap.Logger（HTTP 中间件等使用）。
func (l *Logger) Zap() *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.z
}

// Sync 刷新缓冲并关闭文件句柄。
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	err := l.z.Sync()
	if l.sink != nil {
		if cerr := l.sink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// event 为单条事件的可选字段。
type event struct {
	comp, stage, code string
	dur               time.Duration
	count             int64
	doc, para         string
	kv                map[string]string
}

func (l *Logger) log(lv zapcore.Level, msg string, ev event) {
	if l == nil {
		return
	}
	ce := l.z.Check(lv, msg)
	if ce == nil {
		return
	}
	fs := make([]zap.Field, 0, 8+len(ev.kv))
	fs = append(fs, zap.String("comp", ev.comp), zap.String("stage", ev.stage))
	if ev.code != "" {
		fs = append(fs, zap.String("code", ev.code))
	}
	if ev.dur > 0 {
		fs = append(fs, zap.Int64("dur_ms", ev.dur.Milliseconds()))
	}
	if ev.count != 0 {
		fs = append(fs, zap.Int64("count", ev.count))
	}
	if ev.doc != "" {
		fs = append(fs, zap.String("doc", ev.doc))
	}
	if ev.para != "" {
		fs = append(fs, zap.String("para", ev.para))
	}
	for k, v := range ev.kv {
		fs = append(fs, zap.String(k, v))
	}
	ce.Write(fs...)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "start"})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 doc/para 的 start。
func (l *Logger) StartWith(comp, msg, doc, para string) *Timer {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "start", doc: doc, para: para})
	return &Timer{l: l, comp: comp, doc: doc, para: para, t0: time.Now()}
}

// StartWithKV 记录带 doc/para 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, doc, para string, kv map[string]string) *Timer {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "start", doc: doc, para: para, kv: kv})
	return &Timer{l: l, comp: comp, doc: doc, para: para, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 doc/para。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, doc, para string) {
	l.ErrorWithKV(comp, code, msg, durSince, doc, para, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, doc, para string, kv map[string]string) {
	var dur time.Duration
	if durSince != nil {
		dur = time.Since(*durSince)
	}
	l.log(zapcore.ErrorLevel, msg, event{comp: comp, stage: "error", code: code, dur: dur, doc: doc, para: para, kv: kv})
}

// RetryWith 记录一次重试（warn 级别）。
func (l *Logger) RetryWith(comp, code, msg, doc, para string, kv map[string]string) {
	l.log(zapcore.WarnLevel, msg, event{comp: comp, stage: "retry", code: code, doc: doc, para: para, kv: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "finish", dur: time.Since(start), count: count})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, doc, para string, kv map[string]string) {
	l.log(zapcore.DebugLevel, msg, event{comp: comp, stage: "start", doc: doc, para: para, kv: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l    *Logger
	comp string
	doc  string
	para string
	t0   time.Time
}

// Finish 记录 finish 并观测阶段耗时；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil {
		return
	}
	d := time.Since(t.t0)
	ObserveDuration(t.comp, msg, d.Milliseconds())
	t.l.log(zapcore.InfoLevel, msg, event{comp: t.comp, stage: "finish", dur: d, count: count, doc: t.doc, para: t.para})
}
