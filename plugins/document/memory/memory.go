package memory

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"toneshift/pkg/contract"
)

// Style 为 run 级格式（与 docx rPr 的常用子集对应）。
type Style struct {
	Bold      bool
	Italic    bool
	Underline bool
	Font      string
	Size      int
	Color     string
}

// Run 为具有统一格式的一段文本。
type Run struct {
	Text  string
	Style Style
}

// Paragraph 为内存段落，实现 contract.Paragraph。
type Paragraph struct {
	Runs      []Run
	StyleName string
}

var _ contract.Paragraph = (*Paragraph)(nil)

// Text 拼接全部 run 文本。
func (p *Paragraph) Text() string {
	if len(p.Runs) == 1 {
		return p.Runs[0].Text
	}
	var b strings.Builder
	for _, r := range p.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// ReplaceText 保留首个 run 的格式并丢弃其余 run；无 run 时追加一个无格式 run。
func (p *Paragraph) ReplaceText(text string) {
	if len(p.Runs) == 0 {
		p.Runs = []Run{{Text: text}}
		return
	}
	p.Runs = []Run{{Text: text, Style: p.Runs[0].Style}}
}

// Document 为内存文档，实现 contract.Document 与 contract.Titled。
type Document struct {
	title string
	Paras []*Paragraph
}

var (
	_ contract.Document = (*Document)(nil)
	_ contract.Titled   = (*Document)(nil)
)

// New 以纯文本段落构造文档；空串对应无 run 的空段落。
func New(texts ...string) *Document {
	d := &Document{Paras: make([]*Paragraph, len(texts))}
	for i, s := range texts {
		p := &Paragraph{}
		if s != "" {
			p.Runs = []Run{{Text: s}}
		}
		d.Paras[i] = p
	}
	return d
}

// WithTitle 设置标题并返回 d。
func (d *Document) WithTitle(title string) *Document {
	d.title = title
	return d
}

func (d *Document) Title() string { return d.title }

func (d *Document) Paragraphs() []contract.Paragraph {
	out := make([]contract.Paragraph, len(d.Paras))
	for i, p := range d.Paras {
		out[i] = p
	}
	return out
}

// Clone 深拷贝全部段落与 run。
func (d *Document) Clone() (contract.Document, error) {
	c := &Document{title: d.title, Paras: make([]*Paragraph, len(d.Paras))}
	for i, p := range d.Paras {
		np := &Paragraph{StyleName: p.StyleName}
		if p.Runs != nil {
			np.Runs = append([]Run(nil), p.Runs...)
		}
		c.Paras[i] = np
	}
	return c, nil
}

// TextCodec 以"每行一个段落"读写纯文本。
// - Decode：统一 CRLF 为 LF；末尾换行不产生额外空段落；
// - Encode：各段落以 LF 结尾；段落内的 CR/LF 折叠为空格，保证回读后段落数不变。
type TextCodec struct{}

var _ contract.Codec = TextCodec{}

func (TextCodec) Decode(ctx context.Context, r io.Reader) (contract.Document, error) {
	if r == nil {
		return nil, fmt.Errorf("text decode: %w", contract.ErrInvalidArgument)
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var texts []string
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		texts = append(texts, strings.TrimSuffix(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("text decode: %w", err)
	}
	return New(texts...), nil
}

func (TextCodec) Encode(ctx context.Context, w io.Writer, doc contract.Document) error {
	d, ok := doc.(*Document)
	if !ok {
		return fmt.Errorf("text encode: %T: %w", doc, contract.ErrUnsupportedFormat)
	}
	bw := bufio.NewWriter(w)
	for _, p := range d.Paras {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := bw.WriteString(flattenLines(p.Text())); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// flattenLines 将段落内换行（CRLF/CR/LF）替换为单个空格。
func flattenLines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return lineBreaks.Replace(s)
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")
