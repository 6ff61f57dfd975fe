package contract

import (
	"path"
	"strings"
)

// NormalizeDocID 将文件路径规范化为跨平台稳定的 DocID。
// 规则：
// - 反斜杠统一为正斜杠；
// - 清理多余分隔符与路径片段（.、..）；
// - 保留相对/绝对语义，不做隐式绝对化。
func NormalizeDocID(p string) DocID {
	return DocID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}
