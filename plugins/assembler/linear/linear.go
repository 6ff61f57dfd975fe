package linear

import (
	"context"
	"encoding/json"
	"fmt"

	"toneshift/pkg/contract"
)

// Options: 预留占位，线性装配无需配置。
type Options struct{}

type assembler struct{}

// New 从原样 JSON Options 创建线性装配器（当前忽略选项）。
func New(raw json.RawMessage) (contract.Assembler, error) {
	_ = raw
	return &assembler{}, nil
}

// Assemble 按 Index 将结果写回 targets[Index]。
// 先整体校验（数量一致、自 0 严格连续），再统一写回；校验失败时不修改任何段落。
func (a *assembler) Assemble(ctx context.Context, targets []contract.Paragraph, results []contract.RewriteResult) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if len(results) != len(targets) {
		return fmt.Errorf("assemble: %d results for %d paragraphs: %w", len(results), len(targets), contract.ErrSeqInvalid)
	}
	for i, r := range results {
		if r.Index != i {
			return fmt.Errorf("assemble: result %d carries index %d: %w", i, r.Index, contract.ErrSeqInvalid)
		}
		if targets[i] == nil {
			return fmt.Errorf("assemble: nil paragraph at %d: %w", i, contract.ErrInvalidInput)
		}
	}
	for i, r := range results {
		targets[i].ReplaceText(r.Output)
	}
	return nil
}

var _ contract.Assembler = (*assembler)(nil)
