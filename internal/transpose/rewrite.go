package transpose

import (
	"context"
	"fmt"

	"toneshift/internal/diag"
	"toneshift/pkg/contract"
)

// Rewriter 执行单段落改写：构造提示词 → 网关调用 → 解码。
// 提示词只构造一次；重试复用同一提示词。
type Rewriter struct {
	prompts contract.PromptBuilder
	dec     contract.Decoder
	call    *caller
	log     *diag.Logger
}

// Rewrite 返回 task 对应段落的替换文本。
func (r *Rewriter) Rewrite(ctx context.Context, task contract.RewriteTask) (string, error) {
	docID := string(DocIDFrom(ctx))
	para := fmt.Sprintf("%d", task.Index)

	p, err := r.prompts.BuildRewrite(ctx, task)
	if err != nil {
		diag.Failed(r.log, "prompt_builder", "build rewrite failed", err, docID, para, nil)
		return "", fmt.Errorf("rewrite prompt: %w", err)
	}

	var out string
	err = r.call.retry(ctx, "rewriter", docID, para, func(attempt int) error {
		raw, err := r.call.invoke(ctx, p, docID, para, attempt)
		if err != nil {
			return err
		}
		timer := r.log.StartWith("decoder", "decode", docID, para)
		s, err := r.dec.Decode(ctx, task, raw)
		if err != nil {
			diag.Failed(r.log, "decoder", "decode failed", err, docID, para, nil)
			return err
		}
		timer.Finish("decode", 1)
		diag.IncOp("decoder", "finish", "success")
		out = s
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
