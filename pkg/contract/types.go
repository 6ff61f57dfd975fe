package contract

// DocID: 逻辑文档标识（通常为文件名，经 NormalizeDocID 规范化），仅用于日志与进度。
type DocID string

// Window: 单个段落的上下文窗口（仅来源于原始文本）。
type Window struct {
	Before string
	After  string
}

// RewriteTask: 单个段落改写任务。
// Index 为过滤后（非空段落）序号；Text 为结果文档中该段落的当前文本。
type RewriteTask struct {
	Index  int
	Tone   StylisticTone
	Text   string
	Window Window
}

// RewriteResult: 改写结果；Index 与 RewriteTask.Index 一一对应。
type RewriteResult struct {
	Index  int
	Output string
}
