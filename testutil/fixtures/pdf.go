package fixtures

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// 📕 PDF 工厂
// =============================================================================

type pdfBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int
}

func newPDFBuilder(version string) *pdfBuilder {
	b := &pdfBuilder{offsets: map[int]int{}}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n", version)
	return b
}

func (b *pdfBuilder) object(id int, body string) {
	b.offsets[id] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", id, body)
}

func (b *pdfBuilder) stream(id int, dict string, data []byte) {
	b.offsets[id] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", id, dict, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
}

// finishTable 写出传统 xref 表与 trailer
func (b *pdfBuilder) finishTable() []byte {
	ids := make([]int, 0, len(b.offsets))
	for id := range b.offsets {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	size := ids[len(ids)-1] + 1

	start := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n0000000000 65535 f \n", size)
	for id := 1; id < size; id++ {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", b.offsets[id])
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, start)
	return b.buf.Bytes()
}

func escapePDFString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

// TextPDF 每个参数一页，文本以 Helvetica 写入内容流
func TextPDF(pages ...string) []byte {
	b := newPDFBuilder("1.4")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	b.object(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, text := range pages {
		pageID, contentID := 4+2*i, 5+2*i
		b.object(pageID, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentID))

		var content strings.Builder
		content.WriteString("BT /F1 12 Tf 72 720 Td ")
		for j, line := range strings.Split(text, "\n") {
			if j > 0 {
				content.WriteString("0 -14 Td ")
			}
			fmt.Fprintf(&content, "(%s) Tj ", escapePDFString(line))
		}
		content.WriteString("ET")
		b.stream(contentID, "", []byte(content.String()))
	}
	return b.finishTable()
}

// ScannedPDF 只有页面、没有文本层的 PDF，模拟扫描件
func ScannedPDF(pages int) []byte {
	b := newPDFBuilder("1.4")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		b.object(3+i, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}
	return b.finishTable()
}

// ObjectStreamPDF PDF 1.5 布局：页树与页对象位于 FlateDecode 压缩的对象流中，
// 由交叉引用流定位，原始字节里看不到任何 /Type /Page。
func ObjectStreamPDF(pages int) []byte {
	b := newPDFBuilder("1.5")

	// 对象 2 为页树，3..2+pages 为页
	kids := make([]string, pages)
	bodies := []string{""}
	for i := 0; i < pages; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	bodies[0] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages)
	for i := 0; i < pages; i++ {
		bodies = append(bodies, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var header, objects strings.Builder
	for i, body := range bodies {
		fmt.Fprintf(&header, "%d %d ", 2+i, objects.Len())
		objects.WriteString(body)
		objects.WriteString("\n")
	}
	var packed bytes.Buffer
	zw := zlib.NewWriter(&packed)
	_, _ = zw.Write([]byte(header.String() + objects.String()))
	_ = zw.Close()

	objStmID := 3 + pages
	xrefID := objStmID + 1

	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.stream(objStmID,
		fmt.Sprintf("/Type /ObjStm /N %d /First %d /Filter /FlateDecode", len(bodies), header.Len()),
		packed.Bytes())

	// 交叉引用流，W [1 4 2]
	size := xrefID + 1
	xrefOffset := b.buf.Len()
	var entries bytes.Buffer
	entry := func(kind byte, f2 uint32, f3 uint16) {
		entries.WriteByte(kind)
		_ = binary.Write(&entries, binary.BigEndian, f2)
		_ = binary.Write(&entries, binary.BigEndian, f3)
	}
	entry(0, 0, 0xffff)
	entry(1, uint32(b.offsets[1]), 0)
	for i := range bodies {
		entry(2, uint32(objStmID), uint16(i))
	}
	entry(1, uint32(b.offsets[objStmID]), 0)
	entry(1, uint32(xrefOffset), 0)

	b.stream(xrefID, fmt.Sprintf("/Type /XRef /Size %d /W [1 4 2] /Root 1 0 R", size), entries.Bytes())
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.buf.Bytes()
}
