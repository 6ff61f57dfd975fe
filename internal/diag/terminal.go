package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	concurrency int
	llm         string
	docsDone    int
	runStart    time.Time

	// 当前文档
	curDoc    string // 短名（base + 截断）
	parasAll  int
	parasDone int
	errCount  int

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供编排层旁路调用）。
var (
	termMu sync.RWMutex
	global *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); global = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return global }

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			t.isTTY = term.IsTerminal(int(f.Fd()))
		}
	}
	return t
}

// RunStart: 记录运行上下文（并发、LLM）。
func (t *Terminal) RunStart(concurrency int, llm string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.llm = llm
	t.docsDone = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 并发=%s | llm=%s", concurrencyLabel(concurrency), safe(llm)))
}

// DocStart: 标记当前文档与计划改写的段落数。
func (t *Terminal) DocStart(doc string, paragraphs int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.curDoc = shortenBase(doc, 48)
	t.parasAll = paragraphs
	t.parasDone = 0
	t.errCount = 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[doc] %s | 计划段落=%d", t.curDoc, paragraphs))
	}
}

// DocProgress: 周期性进度（≥100ms 节流，仅 TTY）。
func (t *Terminal) DocProgress(done, total, errs int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.parasDone = done
	t.parasAll = total
	t.errCount = errs
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	line := fmt.Sprintf("[doc] %s | 进度 %d/%d | 错误 %d | 并发 %s | 用时 %s",
		t.curDoc, t.parasDone, t.parasAll, t.errCount, concurrencyLabel(t.concurrency), formatSince(t.runStart))
	t.printInline(line)
}

// DocFinish: 完成当前文档（立即刷新并换行）。
func (t *Terminal) DocFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.docsDone++
	status := "done"
	if !ok {
		status = "fail"
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[%s] %s | 段落 %d | 总用时 %s", status, t.curDoc, t.parasAll, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.println(fmt.Sprintf("[%s] 全部完成 | 文档 %d | 总用时 %s", tag, t.docsDone, formatDur(dur)))
}

func (t *Terminal) println(s string) {
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	// \r + 内容；若新行比旧行短，以空格覆盖残留
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	b.WriteString(strings.Repeat(" ", pad))
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

func concurrencyLabel(n int) string {
	if n <= 0 {
		return "不限"
	}
	return fmt.Sprintf("%d", n)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if base == "." || base == "" {
		return ""
	}
	rs := []rune(base)
	if len(rs) <= max {
		return base
	}
	return string(rs[:max-1]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", max(d.Milliseconds(), 0))
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
