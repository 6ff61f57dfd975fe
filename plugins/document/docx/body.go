package docx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"toneshift/pkg/contract"
)

// WordprocessingML 命名空间（transitional 与 strict）。
const (
	nsW       = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsWStrict = "http://purl.oclc.org/ooxml/wordprocessingml/main"
)

func isW(n xml.Name, local string) bool {
	return n.Local == local && (n.Space == nsW || n.Space == nsWStrict)
}

// containers: 段落内可直接包含 run 的包裹元素；其中的 run 计入段落文本。
var containers = map[string]bool{"hyperlink": true, "ins": true, "smartTag": true, "fldSimple": true}

// segment: document.xml 的一个切片；para 为 nil 时为原样字节。
type segment struct {
	raw  []byte
	para *Paragraph
}

// element: 一个元素的原始起止标签。自闭合元素在解析时被展开为 open/close 两部分。
type element struct {
	qname string
	open  []byte
	close []byte
}

func (e element) prefix() string {
	if i := strings.IndexByte(e.qname, ':'); i >= 0 {
		return e.qname[:i+1]
	}
	return ""
}

// item: 段落或包裹元素的子项，三者取其一。
type item struct {
	raw []byte
	run *run
	box *box
}

type box struct {
	element
	items []item
}

// run: rPr 与文本之外的子项（w:drawing、w:fldChar、w:instrText、w:sym 等）按原始字节保存，
// 以首个文本节点为界分为 before/after。
type run struct {
	element
	rPr    []byte
	before [][]byte
	after  [][]byte
	text   string
}

// Paragraph 为 body 直属 w:p，实现 contract.Paragraph。
// 未修改时按原始字节输出；ReplaceText 后按模型重建。
type Paragraph struct {
	element
	raw   []byte
	items []item
	dirty bool
}

var _ contract.Paragraph = (*Paragraph)(nil)

func (p *Paragraph) Text() string {
	var b strings.Builder
	for _, it := range p.items {
		switch {
		case it.run != nil:
			b.WriteString(it.run.text)
		case it.box != nil:
			for _, in := range it.box.items {
				if in.run != nil {
					b.WriteString(in.run.text)
				}
			}
		}
	}
	return b.String()
}

// ReplaceText 保留首个 run（含其 rPr、非文本子项及其所在的包裹元素），丢弃其余 run
// 与含 run 的包裹元素；非 run 子项（pPr、书签、不含 run 的包裹元素等）原样保留。
// 无 run 时追加一个无格式 run。
func (p *Paragraph) ReplaceText(text string) {
	kept := make([]item, 0, len(p.items))
	placed := false
	for _, it := range p.items {
		switch {
		case it.raw != nil, it.box != nil && !it.box.hasRun():
			kept = append(kept, it)
		case placed:
			// 其余 run/包裹元素丢弃
		case it.run != nil:
			it.run.text = text
			kept = append(kept, it)
			placed = true
		case it.box != nil:
			first := -1
			for i, in := range it.box.items {
				if in.run != nil {
					first = i
					break
				}
			}
			inner := make([]item, 0, len(it.box.items))
			for i, in := range it.box.items {
				if in.raw != nil || i == first {
					inner = append(inner, in)
				}
			}
			for i := range inner {
				if inner[i].run != nil {
					inner[i].run.text = text
				}
			}
			kept = append(kept, item{box: &box{element: it.box.element, items: inner}})
			placed = true
		}
	}
	if !placed {
		q := p.prefix() + "r"
		kept = append(kept, item{run: &run{
			element: element{qname: q, open: []byte("<" + q + ">"), close: []byte("</" + q + ">")},
			text:    text,
		}})
	}
	p.items = kept
	p.dirty = true
}

func (b *box) hasRun() bool {
	for _, in := range b.items {
		if in.run != nil {
			return true
		}
	}
	return false
}

func (p *Paragraph) render(w *bytes.Buffer) {
	if !p.dirty {
		w.Write(p.raw)
		return
	}
	w.Write(p.open)
	renderItems(w, p.items)
	w.Write(p.close)
}

func renderItems(w *bytes.Buffer, items []item) {
	for _, it := range items {
		switch {
		case it.raw != nil:
			w.Write(it.raw)
		case it.run != nil:
			it.run.render(w)
		case it.box != nil:
			w.Write(it.box.open)
			renderItems(w, it.box.items)
			w.Write(it.box.close)
		}
	}
}

// render 以 rPr + before + w:t/w:br/w:tab + after 重建 run 内容；
// "\n" 映射为换行，"\t" 映射为制表符。
func (r *run) render(w *bytes.Buffer) {
	pfx := r.prefix()
	w.Write(r.open)
	w.Write(r.rPr)
	for _, raw := range r.before {
		w.Write(raw)
	}
	var seg strings.Builder
	flush := func() {
		if seg.Len() == 0 {
			return
		}
		w.WriteString("<" + pfx + `t xml:space="preserve">`)
		_ = xml.EscapeText(w, []byte(seg.String()))
		w.WriteString("</" + pfx + "t>")
		seg.Reset()
	}
	for _, c := range r.text {
		switch c {
		case '\n':
			flush()
			w.WriteString("<" + pfx + "br/>")
		case '\t':
			flush()
			w.WriteString("<" + pfx + "tab/>")
		case '\r':
		default:
			seg.WriteRune(c)
		}
	}
	flush()
	for _, raw := range r.after {
		w.Write(raw)
	}
	w.Write(r.close)
}

// parseBody 将 document.xml 切分为原样片段与 body 直属段落。
func parseBody(data []byte) ([]segment, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		segs     []segment
		stack    []xml.Name
		litStart int64
	)
	for {
		off := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if isW(t.Name, "p") && len(stack) == 2 && isW(stack[1], "body") {
				if off > litStart {
					segs = append(segs, segment{raw: data[litStart:off]})
				}
				p, err := parseParagraph(dec, data, off)
				if err != nil {
					return nil, err
				}
				segs = append(segs, segment{para: p})
				litStart = dec.InputOffset()
				continue
			}
			stack = append(stack, t.Name)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if int64(len(data)) > litStart {
		segs = append(segs, segment{raw: data[litStart:]})
	}
	return segs, nil
}

// openElement 基于刚读取的起始标签构造 element；自闭合时消费合成的结束标记。
func openElement(dec *xml.Decoder, data []byte, off int64) (element, bool, error) {
	end := dec.InputOffset()
	open := data[off:end]
	q := qnameOf(open)
	if !bytes.HasSuffix(open, []byte("/>")) {
		return element{qname: q, open: open}, false, nil
	}
	if _, err := dec.Token(); err != nil {
		return element{}, false, err
	}
	fixed := append(bytes.TrimRight(append([]byte(nil), open[:len(open)-2]...), " \t\r\n"), '>')
	return element{qname: q, open: fixed, close: []byte("</" + q + ">")}, true, nil
}

func qnameOf(open []byte) string {
	s := open[1:]
	if i := bytes.IndexAny(s, " \t\r\n/>"); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

func parseParagraph(dec *xml.Decoder, data []byte, off int64) (*Paragraph, error) {
	el, selfClosed, err := openElement(dec, data, off)
	if err != nil {
		return nil, err
	}
	p := &Paragraph{element: el}
	if !selfClosed {
		items, closeTag, err := parseChildren(dec, data, true)
		if err != nil {
			return nil, err
		}
		p.items = items
		p.close = closeTag
	}
	p.raw = data[off:dec.InputOffset()]
	return p, nil
}

// parseChildren 读取子项直到当前元素结束，返回子项与原始结束标签。
// top 为 true 时识别包裹元素（仅段落直属一层）。
func parseChildren(dec *xml.Decoder, data []byte, top bool) ([]item, []byte, error) {
	var items []item
	for {
		off := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("paragraph: %w", err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return items, data[off:dec.InputOffset()], nil
		case xml.StartElement:
			switch {
			case isW(t.Name, "r"):
				r, err := parseRun(dec, data, off)
				if err != nil {
					return nil, nil, err
				}
				items = append(items, item{run: r})
			case top && (t.Name.Space == nsW || t.Name.Space == nsWStrict) && containers[t.Name.Local]:
				el, selfClosed, err := openElement(dec, data, off)
				if err != nil {
					return nil, nil, err
				}
				b := &box{element: el}
				if !selfClosed {
					if b.items, b.close, err = parseChildren(dec, data, false); err != nil {
						return nil, nil, err
					}
				}
				items = append(items, item{box: b})
			default:
				if err := dec.Skip(); err != nil {
					return nil, nil, err
				}
				items = append(items, item{raw: data[off:dec.InputOffset()]})
			}
		default:
			if raw := data[off:dec.InputOffset()]; len(raw) > 0 {
				items = append(items, item{raw: raw})
			}
		}
	}
}

func parseRun(dec *xml.Decoder, data []byte, off int64) (*run, error) {
	el, selfClosed, err := openElement(dec, data, off)
	if err != nil {
		return nil, err
	}
	r := &run{element: el}
	if selfClosed {
		return r, nil
	}
	var (
		text     strings.Builder
		seenText bool
	)
	for {
		o := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("run: %w", err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			r.close = data[o:dec.InputOffset()]
			r.text = text.String()
			return r, nil
		case xml.StartElement:
			switch {
			case isW(t.Name, "rPr"):
				if err := dec.Skip(); err != nil {
					return nil, err
				}
				r.rPr = data[o:dec.InputOffset()]
			case isW(t.Name, "t"):
				var v struct {
					S string `xml:",chardata"`
				}
				if err := dec.DecodeElement(&v, &t); err != nil {
					return nil, err
				}
				text.WriteString(v.S)
				seenText = true
			case isW(t.Name, "tab"):
				text.WriteByte('\t')
				seenText = true
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			case isW(t.Name, "br"), isW(t.Name, "cr"):
				text.WriteByte('\n')
				seenText = true
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			default:
				if err := dec.Skip(); err != nil {
					return nil, err
				}
				raw := data[o:dec.InputOffset()]
				if seenText {
					r.after = append(r.after, raw)
				} else {
					r.before = append(r.before, raw)
				}
			}
		}
	}
}
