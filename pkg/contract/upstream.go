package contract

// UpstreamError 承载网关上游（HTTP/SDK）错误的最小诊断信息。
// 实现方提供状态码与简短消息，编排层据此记录 http_status/upstream_msg 字段。
// Temporary 为 true 时视为可重试的瞬时错误（5xx/408/429）。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
	Temporary() bool
}
