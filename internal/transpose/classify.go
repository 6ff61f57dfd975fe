package transpose

import (
	"context"
	"fmt"
	"strings"

	"toneshift/internal/diag"
	"toneshift/pkg/contract"
)

// ExtractTone 对整篇文档做一次语气分类。
// 文本为全部段落（含空段落）各自追加 "\n" 后的拼接；应答经 contract.ParseTone 解析，
// 不匹配时原样返回 *contract.InvalidToneError（不重试）。
func (e *Engine) ExtractTone(ctx context.Context, doc contract.Document) (contract.StylisticTone, error) {
	if doc == nil {
		return "", fmt.Errorf("classify: document required: %w", contract.ErrInvalidArgument)
	}
	docID := string(DocIDFrom(ctx))
	timer := e.log.StartWith("classifier", "classify", docID, "")

	p, err := e.comp.Prompts.BuildClassify(ctx, joinParagraphs(doc))
	if err != nil {
		diag.Failed(e.log, "prompt_builder", "build classify failed", err, docID, "", nil)
		return "", fmt.Errorf("classify prompt: %w", err)
	}

	var raw contract.Raw
	err = e.call.retry(ctx, "classifier", docID, "", func(attempt int) error {
		r, err := e.call.invoke(ctx, p, docID, "", attempt)
		if err != nil {
			return err
		}
		raw = r
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}

	tone, err := contract.ParseTone(raw.Text)
	if err != nil {
		diag.Failed(e.log, "classifier", "unknown tone", err, docID, "", nil)
		return "", err
	}
	timer.Finish("classify", 1)
	diag.IncOp("classifier", "finish", "success")
	return tone, nil
}

func joinParagraphs(doc contract.Document) string {
	var b strings.Builder
	for _, p := range doc.Paragraphs() {
		b.WriteString(p.Text())
		b.WriteByte('\n')
	}
	return b.String()
}
