package contract

import "context"

// Raw: LLM 客户端返回的原始文本载荷（万能容器）。
// 约束：原样返回，不做清洗/截断/归一化。
type Raw struct {
	Text string
}

// LLMClient: 文本生成网关。单次调用、同步返回。
// 约束：
//  1. 必须可被任意数量的 goroutine 并发调用（每次调用无状态）；
//  2. 应尊重 ctx 取消/超时并及时释放资源；
//  3. 返回文本可能为空或违反提示词协议，校验由 Decoder 负责。
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (Raw, error)
}

// AsyncResult: GenerateAsync 的单值结果。
type AsyncResult struct {
	Raw Raw
	Err error
}

// GenerateAsync 在独立 goroutine 中调用 c.Generate，返回仅写入一次的缓冲通道。
// 调用方放弃等待时（例如 ctx 已取消）goroutine 不会阻塞在发送上。
func GenerateAsync(ctx context.Context, c LLMClient, prompt string) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		raw, err := c.Generate(ctx, prompt)
		ch <- AsyncResult{Raw: raw, Err: err}
	}()
	return ch
}
