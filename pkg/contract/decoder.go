package contract

import "context"

// Decoder: 将网关原始输出解释为段落替换文本。
// 约束：
//  1. 不做 I/O；
//  2. 违反输出协议时返回 ErrResponseInvalid（编排层据此决定是否重试）；
//  3. 不得引用其他任务的结果。
type Decoder interface {
	Decode(ctx context.Context, task RewriteTask, raw Raw) (string, error)
}
