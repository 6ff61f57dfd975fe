package contract

import "context"

// PromptBuilder: 构造确定性的提示词文本。
// 约束：
//   - 纯计算，不做 I/O（模板在构造期加载）；
//   - 不隐式修改业务内容；
//   - 失败快速返回错误。
type PromptBuilder interface {
	// BuildClassify: 语气分类提示词；text 为整篇文档文本。
	BuildClassify(ctx context.Context, text string) (string, error)
	// BuildRewrite: 单段落改写提示词，须完整编码严格输出协议。
	BuildRewrite(ctx context.Context, task RewriteTask) (string, error)
	// EstimateOverheadTokens: 估算与段落无关的固定提示词开销（改写模板的固定部分）。
	EstimateOverheadTokens(estimate TokenEstimator) int
}

// TokenEstimator: 文本→token 的近似估算函数。
// 典型实现：ceil(len(utf8_bytes)/BytesPerToken)。
type TokenEstimator func(s string) int
