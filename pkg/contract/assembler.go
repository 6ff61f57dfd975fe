package contract

import "context"

// Assembler: 将改写结果按过滤后序号写回目标段落。
// 约束：
//  1. len(results) 必须等于 len(targets)；
//  2. results 按 Index 严格升序且自 0 连续；
//  3. 仅调用 Paragraph.ReplaceText，不引入其他修改；
//  4. 序列违规返回 ErrSeqInvalid，且不修改任何段落。
type Assembler interface {
	Assemble(ctx context.Context, targets []Paragraph, results []RewriteResult) error
}
