package transpose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"toneshift/internal/diag"
	"toneshift/internal/prompt"
	"toneshift/internal/rate"
	"toneshift/pkg/contract"
)

// caller 封装单次网关调用：预算 → Gate → 带超时的异步调用；以及按分类的退避重试。
type caller struct {
	llm contract.LLMClient
	set Settings
	log *diag.Logger
}

// invoke 执行一次调用（不含重试）。
func (c *caller) invoke(ctx context.Context, p, doc, para string, attempt int) (contract.Raw, error) {
	tokens := prompt.PromptTokens(p, c.set.BytesPerToken)
	if c.set.MaxTokens > 0 && tokens > c.set.MaxTokens {
		err := fmt.Errorf("%w: prompt %d tokens exceeds max_tokens %d", contract.ErrBudgetExceeded, tokens, c.set.MaxTokens)
		diag.Failed(c.log, "llm_client", "budget exceeded", err, doc, para, nil)
		return contract.Raw{}, err
	}
	if c.set.Gate != nil {
		c.log.DebugStart("gate", "ask", doc, para, map[string]string{
			"requests": "1",
			"tokens":   fmt.Sprintf("%d", tokens),
			"attempt":  fmt.Sprintf("%d", attempt),
		})
		if err := c.set.Gate.Wait(ctx, rate.Ask{Key: c.set.GateKey, Requests: 1, Tokens: tokens}); err != nil {
			diag.Failed(c.log, "gate", "wait failed", err, doc, para, nil)
			return contract.Raw{}, fmt.Errorf("gate: %w", err)
		}
	}

	timer := c.log.StartWithKV("llm_client", "invoke", doc, para, map[string]string{
		"tokens":  fmt.Sprintf("%d", tokens),
		"attempt": fmt.Sprintf("%d", attempt),
	})
	raw, err := c.generate(ctx, p)
	if err != nil {
		diag.Failed(c.log, "llm_client", "invoke failed", err, doc, para, upstreamKV(err))
		return contract.Raw{}, err
	}
	timer.Finish("invoke", int64(tokens))
	diag.IncOp("llm_client", "finish", "success")
	return raw, nil
}

// generate 经 GenerateAsync 调用网关；CallTimeout>0 时忽略 ctx 的网关也会在截止时间被放弃。
// 仅单次截止（上层 ctx 仍有效）时包装为 ErrCallTimeout。
func (c *caller) generate(ctx context.Context, p string) (contract.Raw, error) {
	cctx := ctx
	if c.set.CallTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, c.set.CallTimeout)
		defer cancel()
	}
	var (
		raw contract.Raw
		err error
	)
	select {
	case r := <-contract.GenerateAsync(cctx, c.llm, p):
		raw, err = r.Raw, r.Err
	case <-cctx.Done():
		err = cctx.Err()
	}
	if err != nil && c.set.CallTimeout > 0 && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %v: %w", contract.ErrCallTimeout, c.set.CallTimeout, err)
	}
	return raw, err
}

// retry 以指数退避执行 op，最多重试 MaxRetries 次。
// 仅 diag.Retryable 判定为真的错误会被重试；取消与 ctx 结束立即返回。
func (c *caller) retry(ctx context.Context, comp, doc, para string, op func(attempt int) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.set.RetryBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.set.MaxRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !diag.Retryable(err) {
			return backoff.Permanent(err)
		}
		if attempt <= c.set.MaxRetries {
			c.log.RetryWith(comp, string(diag.Classify(err)), "retry", doc, para, map[string]string{
				"attempt": fmt.Sprintf("%d", attempt),
				"err":     err.Error(),
			})
			diag.IncOp(comp, "retry", "error")
		}
		return err
	}, policy)
}

// upstreamKV 提取上游 HTTP 错误的状态码与消息片段（最多 200 字节）。
func upstreamKV(err error) map[string]string {
	var ue contract.UpstreamError
	if !errors.As(err, &ue) {
		return nil
	}
	kv := map[string]string{"http_status": fmt.Sprintf("%d", ue.UpstreamStatus())}
	if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
		if len(m) > 200 {
			m = m[:200]
		}
		kv["upstream_msg"] = m
	}
	return kv
}
