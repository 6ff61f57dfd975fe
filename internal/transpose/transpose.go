package transpose

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"toneshift/internal/diag"
	"toneshift/internal/prompt"
	"toneshift/internal/rate"
	"toneshift/pkg/contract"
)

// - 单点并发：仅此层管理并发；原子组件均为同步实现。
// - 首错取消：任一段落失败即取消整组，返回 *contract.RewriteError，不产出部分结果。
// - 窗口只读原始文本：窗口由目标文档的过滤后原文计算，与改写结果无关。
// - 合并按序：结果写入 results[Index]，屏障后由 Assembler 按序写回。

// Components 聚合运行所需的原子组件。
type Components struct {
	LLM       contract.LLMClient
	Prompts   contract.PromptBuilder
	Window    contract.WindowBuilder
	Decoder   contract.Decoder
	Assembler contract.Assembler
}

// Settings 运行期配置。零值即基线行为：不限并发、不重试、无单次超时。
type Settings struct {
	// Concurrency: 同时在途的改写任务上限；0 表示不限。
	Concurrency int
	// MaxRetries: 单次调用（分类或改写）的最大重试次数；0 表示不重试。
	MaxRetries int
	// RetryBackoff: 首次重试前的等待；<=0 使用 200ms。
	RetryBackoff time.Duration
	// CallTimeout: 单次网关调用超时；0 表示不设。
	CallTimeout time.Duration
	// MaxTokens: 单次提示词 token 上限；<=0 关闭预算校验。
	MaxTokens     int
	BytesPerToken int
	// Gate: 限流闸门（可选）；非空时每次调用前 Wait。
	Gate    rate.Gate
	GateKey rate.LimitKey
}

// Engine 为语气迁移编排器。并发安全：可被多个请求共享。
type Engine struct {
	comp Components
	set  Settings
	log  *diag.Logger
	call *caller
	rw   *Rewriter
}

// New 校验组件与配置并构造 Engine；logger 可为 nil。
func New(comp Components, set Settings, logger *diag.Logger) (*Engine, error) {
	if comp.LLM == nil || comp.Prompts == nil || comp.Window == nil || comp.Decoder == nil || comp.Assembler == nil {
		return nil, fmt.Errorf("transpose: missing components: %w", contract.ErrInvalidInput)
	}
	if set.Concurrency < 0 || set.MaxRetries < 0 || set.CallTimeout < 0 {
		return nil, fmt.Errorf("transpose: concurrency=%d max_retries=%d call_timeout=%s: %w",
			set.Concurrency, set.MaxRetries, set.CallTimeout, contract.ErrInvalidInput)
	}
	if set.MaxTokens > 0 {
		if eff, overhead := prompt.EffectiveMaxTokens(comp.Prompts, set.BytesPerToken, set.MaxTokens); eff <= 0 {
			return nil, fmt.Errorf("%w: max_tokens %d leaves no room after prompt overhead %d",
				contract.ErrBudgetExceeded, set.MaxTokens, overhead)
		}
	}
	if set.RetryBackoff <= 0 {
		set.RetryBackoff = 200 * time.Millisecond
	}
	c := &caller{llm: comp.LLM, set: set, log: logger}
	return &Engine{
		comp: comp,
		set:  set,
		log:  logger,
		call: c,
		rw:   &Rewriter{prompts: comp.Prompts, dec: comp.Decoder, call: c, log: logger},
	}, nil
}

// Rewriter 返回引擎使用的单段落改写器。
func (e *Engine) Rewriter() *Rewriter { return e.rw }

type docKey struct{}

// WithDocID 在 ctx 上附带文档标识，仅用于日志与终端进度。
func WithDocID(ctx context.Context, id contract.DocID) context.Context {
	return context.WithValue(ctx, docKey{}, id)
}

// DocIDFrom 读取 WithDocID 设置的标识；未设置时返回空串。
func DocIDFrom(ctx context.Context) contract.DocID {
	id, _ := ctx.Value(docKey{}).(contract.DocID)
	return id
}

// Transpose 提取 toneDoc 的语气并据此改写 targetDoc 的副本。
// targetDoc 本身不被修改；任一步失败时不返回部分结果。
func (e *Engine) Transpose(ctx context.Context, toneDoc, targetDoc contract.Document) (contract.Document, error) {
	if toneDoc == nil || targetDoc == nil {
		return nil, fmt.Errorf("transpose: tone and target documents required: %w", contract.ErrInvalidArgument)
	}
	tone, err := e.ExtractTone(ctx, toneDoc)
	if err != nil {
		return nil, err
	}
	return e.ApplyTone(ctx, targetDoc, tone)
}

// ApplyTone 以已知语气改写 doc 的副本：克隆 → 过滤 → 并发改写 → 屏障 → 按序写回。
func (e *Engine) ApplyTone(ctx context.Context, doc contract.Document, tone contract.StylisticTone) (contract.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("transpose: document required: %w", contract.ErrInvalidArgument)
	}
	if !tone.Valid() {
		return nil, &contract.InvalidToneError{Raw: string(tone)}
	}
	docID := string(DocIDFrom(ctx))

	result, err := doc.Clone()
	if err != nil {
		diag.Failed(e.log, "transpose", "clone failed", err, docID, "", nil)
		return nil, fmt.Errorf("transpose clone: %w", err)
	}
	src := contract.NonEmpty(doc.Paragraphs())
	dst := contract.NonEmpty(result.Paragraphs())
	if len(src) != len(dst) {
		err := fmt.Errorf("transpose: clone has %d non-empty paragraphs, source %d: %w", len(dst), len(src), contract.ErrInvariantViolation)
		diag.Failed(e.log, "transpose", "clone mismatch", err, docID, "", nil)
		return nil, err
	}
	texts := make([]string, len(src))
	for i, p := range src {
		texts[i] = p.Text()
		if dst[i].Text() != texts[i] {
			err := fmt.Errorf("transpose: paragraph %d differs after clone: %w", i, contract.ErrInvariantViolation)
			diag.Failed(e.log, "transpose", "clone mismatch", err, docID, "", nil)
			return nil, err
		}
	}

	n := len(dst)
	timer := e.log.StartWithKV("transpose", "apply", docID, "", map[string]string{
		"tone":       tone.String(),
		"paragraphs": fmt.Sprintf("%d", n),
	})
	term := diag.GetTerminal()
	if term != nil {
		term.DocStart(docID, n)
	}
	t0 := time.Now()
	ok := false
	defer func() {
		if term != nil {
			term.DocFinish(ok, time.Since(t0))
		}
	}()
	if n == 0 {
		ok = true
		timer.Finish("apply", 0)
		diag.IncOp("transpose", "finish", "success")
		return result, nil
	}

	results := make([]contract.RewriteResult, n)
	var done, errs atomic.Int64
	progress := func() {
		if term != nil {
			term.DocProgress(int(done.Load()), n, int(errs.Load()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.set.Concurrency > 0 {
		g.SetLimit(e.set.Concurrency)
	}
	for i := range n {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &contract.RewriteError{Index: i, Err: err}
			}
			w, err := e.comp.Window.Window(texts, i)
			if err != nil {
				errs.Add(1)
				progress()
				diag.Failed(e.log, "window", "window failed", err, docID, fmt.Sprintf("%d", i), nil)
				return &contract.RewriteError{Index: i, Err: fmt.Errorf("window: %w", err)}
			}
			out, err := e.rw.Rewrite(gctx, contract.RewriteTask{Index: i, Tone: tone, Text: texts[i], Window: w})
			if err != nil {
				errs.Add(1)
				progress()
				return &contract.RewriteError{Index: i, Err: err}
			}
			results[i] = contract.RewriteResult{Index: i, Output: out}
			done.Add(1)
			progress()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		diag.Failed(e.log, "transpose", "rewrite failed", err, docID, "", nil)
		return nil, err
	}

	atimer := e.log.StartWith("assembler", "assemble", docID, "")
	if err := e.comp.Assembler.Assemble(ctx, dst, results); err != nil {
		diag.Failed(e.log, "assembler", "assemble failed", err, docID, "", nil)
		return nil, fmt.Errorf("assembler assemble: %w", err)
	}
	atimer.Finish("assemble", int64(n))
	diag.IncOp("assembler", "finish", "success")

	ok = true
	timer.Finish("apply", int64(n))
	diag.IncOp("transpose", "finish", "success")
	return result, nil
}
