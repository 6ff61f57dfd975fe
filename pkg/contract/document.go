package contract

import (
	"context"
	"io"
)

// Paragraph: 文档中按位置标识的段落。
// 约束：
//  1. Text 为所有 run 文本的拼接（只读投影）；
//  2. ReplaceText 替换可见文本：保留首个 run 的格式，丢弃其余 run；
//  3. 无 run 的段落在 ReplaceText 时追加一个无格式 run；
//  4. 非并发安全；同一段落只允许一个写者。
type Paragraph interface {
	Text() string
	ReplaceText(text string)
}

// Document: 有序段落序列。
// 约束：
//  1. Paragraphs 返回稳定顺序，空文本段落同样保留；
//  2. Clone 为完整结构副本（含非文本段落/表格等），与原文档无共享可变状态；
//  3. 除 Paragraph.ReplaceText 外不提供其他修改入口。
type Document interface {
	Paragraphs() []Paragraph
	Clone() (Document, error)
}

// Titled: 可选接口，文档元信息中的标题（可能为空）。
type Titled interface {
	Title() string
}

// Codec: 文档格式的读写边界。
// Decode 读取完整输入并构造 Document；Encode 将 Document 写出为同一格式。
// Encode 只接受由同一 Codec 解码（或其 Clone）得到的 Document，否则返回 ErrUnsupportedFormat。
type Codec interface {
	Decode(ctx context.Context, r io.Reader) (Document, error)
	Encode(ctx context.Context, w io.Writer, doc Document) error
}

// TextsOf 返回全部段落文本（含空文本）。
func TextsOf(doc Document) []string {
	ps := doc.Paragraphs()
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Text()
	}
	return out
}

// NonEmpty 返回文本非空的段落子序列（保持原顺序）。
func NonEmpty(ps []Paragraph) []Paragraph {
	out := make([]Paragraph, 0, len(ps))
	for _, p := range ps {
		if p.Text() != "" {
			out = append(out, p)
		}
	}
	return out
}
