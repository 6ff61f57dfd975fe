package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（用于上层策略判定与日志分类）。
var (
	// ErrInvalidArgument: 调用方参数缺失或非法（如文档为 nil）。
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidTone: 语气分类结果不在集合内；具体值见 *InvalidToneError。
	ErrInvalidTone = errors.New("invalid tone")
	// ErrRewriteFailed: 任一段落改写失败；具体位置见 *RewriteError。
	ErrRewriteFailed = errors.New("rewrite failed")

	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSeqInvalid      = errors.New("sequence invalid")

	// ErrPathInvalid: 存储名映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrCallTimeout: 单次网关调用超过 CallTimeout 而上层 ctx 仍有效；按瞬时错误重试。
	ErrCallTimeout = errors.New("call timeout")
	// ErrUnsupportedFormat: 无可用编解码器处理该文档格式。
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// RewriteError: 单个段落任务失败。Index 为过滤后（非空段落）序号。
// errors.Is 同时命中 ErrRewriteFailed 与底层原因。
type RewriteError struct {
	Index int
	Err   error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("rewrite paragraph %d: %v", e.Index, e.Err)
}

func (e *RewriteError) Unwrap() []error { return []error{ErrRewriteFailed, e.Err} }
