package contract

// WindowBuilder: 基于过滤后（非空）原始文本序列计算上下文窗口。
// 约束：
//  1. 纯函数：相同输入得到相同输出；
//  2. 只读取 texts，不得引用任何改写结果；
//  3. index 越界返回 ErrInvalidInput。
type WindowBuilder interface {
	Window(texts []string, index int) (Window, error)
}
