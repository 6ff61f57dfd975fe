package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"toneshift/pkg/contract"
)

const (
	defaultDocumentPart = "word/document.xml"
	relsPart            = "_rels/.rels"
	corePart            = "docProps/core.xml"
	relOfficeDocument   = "/officeDocument"
	nsDC                = "http://purl.org/dc/elements/1.1/"

	// maxPartBytes 为单个包内部件解压后的上限。
	maxPartBytes = 64 << 20
)

// Codec 读写 WordprocessingML（.docx）包，实现 contract.Codec。
// 仅 body 直属段落参与文本投影与替换；表格、页眉页脚、样式等部件按原始字节保留。
type Codec struct{}

var _ contract.Codec = (*Codec)(nil)

// New 创建 docx 编解码器。
func New() *Codec { return &Codec{} }

// part 为包内一个 zip 条目。
type part struct {
	hdr  zip.FileHeader
	data []byte
}

// Document 为已解码的 docx 包，实现 contract.Document 与 contract.Titled。
type Document struct {
	parts  []part
	docIdx int
	title  string
	segs   []segment
	paras  []*Paragraph
}

var (
	_ contract.Document = (*Document)(nil)
	_ contract.Titled   = (*Document)(nil)
)

func (d *Document) Title() string { return d.title }

func (d *Document) Paragraphs() []contract.Paragraph {
	out := make([]contract.Paragraph, len(d.paras))
	for i, p := range d.paras {
		out[i] = p
	}
	return out
}

// Clone 以当前 document.xml 的渲染结果重新解析，其余部件共享只读字节。
func (d *Document) Clone() (contract.Document, error) {
	data := d.render()
	return build(d.parts, d.docIdx, d.title, data)
}

func (d *Document) render() []byte {
	var buf bytes.Buffer
	buf.Grow(len(d.parts[d.docIdx].data))
	for _, s := range d.segs {
		if s.para != nil {
			s.para.render(&buf)
			continue
		}
		buf.Write(s.raw)
	}
	return buf.Bytes()
}

func build(parts []part, docIdx int, title string, data []byte) (*Document, error) {
	segs, err := parseBody(data)
	if err != nil {
		return nil, fmt.Errorf("docx: parse %s: %v: %w", parts[docIdx].hdr.Name, err, contract.ErrUnsupportedFormat)
	}
	cp := make([]part, len(parts))
	copy(cp, parts)
	cp[docIdx].data = data
	d := &Document{parts: cp, docIdx: docIdx, title: title, segs: segs}
	for _, s := range segs {
		if s.para != nil {
			d.paras = append(d.paras, s.para)
		}
	}
	return d, nil
}

// Decode 读取完整 docx 包。
func (c *Codec) Decode(ctx context.Context, r io.Reader) (contract.Document, error) {
	if r == nil {
		return nil, fmt.Errorf("docx decode: %w", contract.ErrInvalidArgument)
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("docx read: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("docx: %v: %w", err, contract.ErrUnsupportedFormat)
	}
	parts := make([]part, 0, len(zr.File))
	index := make(map[string]int, len(zr.File))
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := readPart(f)
		if err != nil {
			return nil, err
		}
		index[f.Name] = len(parts)
		parts = append(parts, part{hdr: f.FileHeader, data: data})
	}
	docPath := defaultDocumentPart
	if i, ok := index[relsPart]; ok {
		if p := mainPart(parts[i].data); p != "" {
			docPath = p
		}
	}
	docIdx, ok := index[docPath]
	if !ok {
		return nil, fmt.Errorf("docx: missing main part %s: %w", docPath, contract.ErrUnsupportedFormat)
	}
	title := ""
	if i, ok := index[corePart]; ok {
		title = coreTitle(parts[i].data)
	}
	return build(parts, docIdx, title, parts[docIdx].data)
}

func readPart(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxPartBytes {
		return nil, fmt.Errorf("docx: part %s too large: %w", f.Name, contract.ErrInvalidInput)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("docx: open %s: %v: %w", f.Name, err, contract.ErrUnsupportedFormat)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxPartBytes+1))
	if err != nil {
		return nil, fmt.Errorf("docx: read %s: %v: %w", f.Name, err, contract.ErrUnsupportedFormat)
	}
	if len(data) > maxPartBytes {
		return nil, fmt.Errorf("docx: part %s too large: %w", f.Name, contract.ErrInvalidInput)
	}
	return data, nil
}

// Encode 按原条目顺序写出包；仅主文档部件被重新渲染。
func (c *Codec) Encode(ctx context.Context, w io.Writer, doc contract.Document) error {
	d, ok := doc.(*Document)
	if !ok {
		return fmt.Errorf("docx encode: %T: %w", doc, contract.ErrUnsupportedFormat)
	}
	zw := zip.NewWriter(w)
	for i, p := range d.parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		data := p.data
		if i == d.docIdx {
			data = d.render()
		}
		hdr := &zip.FileHeader{
			Name:     p.hdr.Name,
			Comment:  p.hdr.Comment,
			Method:   p.hdr.Method,
			Modified: p.hdr.Modified,
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("docx encode: %w", err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("docx encode: %w", err)
		}
	}
	return zw.Close()
}

// mainPart 从包关系中取 officeDocument 目标路径。
func mainPart(rels []byte) string {
	var v struct {
		Rels []struct {
			Type   string `xml:"Type,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if err := xml.Unmarshal(rels, &v); err != nil {
		return ""
	}
	for _, r := range v.Rels {
		if strings.HasSuffix(r.Type, relOfficeDocument) && r.Target != "" {
			return strings.TrimPrefix(path.Clean("/"+r.Target), "/")
		}
	}
	return ""
}

// coreTitle 读取 docProps/core.xml 的 dc:title；解析失败返回空串。
func coreTitle(core []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(core))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Space == nsDC && se.Name.Local == "title" {
			var v struct {
				S string `xml:",chardata"`
			}
			if err := dec.DecodeElement(&v, &se); err != nil {
				return ""
			}
			return strings.TrimSpace(v.S)
		}
	}
}
