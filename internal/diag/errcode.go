package diag

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"toneshift/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总与重试判定，与退出码、HTTP 状态码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeTone      Code = "tone"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeUpstream  Code = "upstream"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 单次调用超时视为瞬时网络错误；其余取消/超时优先
	if errors.Is(err, contract.ErrCallTimeout) {
		return CodeNetwork
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrBudgetExceeded) || errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrInvalidTone) {
		return CodeTone
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidArgument) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrSeqInvalid) ||
		errors.Is(err, contract.ErrPathInvalid) ||
		errors.Is(err, contract.ErrUnsupportedFormat) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	// 上游：429 归预算，瞬时（5xx/408）归网络，其余 4xx 为上游拒绝
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		switch {
		case ue.UpstreamStatus() == http.StatusTooManyRequests:
			return CodeBudget
		case ue.Temporary():
			return CodeNetwork
		default:
			return CodeUpstream
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Retryable 报告该错误在重试策略下是否值得再次尝试。
// - 取消/上层超时：不重试；
// - 限流/网络/上游瞬时/单次调用超时：重试；
// - 协议（响应违反输出协议）：重试；
// - 单请求预算超限：不重试（重试无法缩小提示词）。
func Retryable(err error) bool {
	if errors.Is(err, contract.ErrBudgetExceeded) {
		return false
	}
	switch Classify(err) {
	case CodeBudget, CodeNetwork, CodeProtocol:
		return true
	default:
		return false
	}
}
