package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 📄 文档加载器
// =============================================================================

// Kind 文件类别
type Kind string

const (
	KindText  Kind = "text"
	KindPDF   Kind = "pdf"
	KindDocx  Kind = "docx"
	KindXLSX  Kind = "xlsx"
	KindImage Kind = "image"
)

// Document 已物化的文件内容
type Document struct {
	Filename  string
	Kind      Kind
	MediaType string
	Content   []byte
	Text      string
	Pages     int
}

// PDFTextExtractor 可插拔的 PDF 文本抽取器
type PDFTextExtractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// Loader 按扩展名加载文件
type Loader struct {
	pdfText PDFTextExtractor
	logger  *zap.Logger
}

// LoaderOption 加载器选项
type LoaderOption func(*Loader)

// WithPDFTextExtractor 替换 PDF 文本抽取器，传 nil 时 PDF 只统计页数
func WithPDFTextExtractor(e PDFTextExtractor) LoaderOption {
	return func(l *Loader) { l.pdfText = e }
}

// NewLoader 创建加载器
func NewLoader(logger *zap.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		pdfText: PDFText{},
		logger:  logger.With(zap.String("component", "document_loader")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var textExts = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
}

var imageExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// Supported 判断扩展名是否受支持
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := textExts[ext]; ok {
		return true
	}
	if _, ok := imageExts[ext]; ok {
		return true
	}
	switch ext {
	case ".pdf", ".docx", ".xlsx":
		return true
	}
	return false
}

// Load 物化文件内容并统计页数。
// 不支持的扩展名返回 ErrUnsupportedFile，无法解析返回 ErrContentUnreadable。
func (l *Loader) Load(ctx context.Context, filename string, content []byte) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	doc := &Document{Filename: filename, Content: content, Pages: 1}

	if mt, ok := textExts[ext]; ok {
		if !utf8.Valid(content) {
			l.logger.Debug("text file is not valid utf-8", zap.String("filename", filename))
		}
		doc.Kind, doc.MediaType = KindText, mt
		doc.Text = strings.ToValidUTF8(string(content), "\uFFFD")
		return doc, nil
	}
	if mt, ok := imageExts[ext]; ok {
		doc.Kind, doc.MediaType = KindImage, mt
		return doc, nil
	}

	switch ext {
	case ".pdf":
		doc.Kind, doc.MediaType = KindPDF, "application/pdf"
		if !bytes.HasPrefix(bytes.TrimLeft(content, "\x00\t\r\n "), []byte("%PDF")) {
			return nil, types.Errorf(types.ErrContentUnreadable, "%s is not a PDF", filename)
		}
		pages, err := CountPDFPages(content)
		if err != nil {
			return nil, types.Errorf(types.ErrContentUnreadable, "cannot read %s", filename).WithCause(err)
		}
		doc.Pages = pages
		if l.pdfText != nil {
			text, err := l.pdfText.ExtractText(ctx, content)
			if err != nil {
				// 无文本层时交给视觉路径
				l.logger.Warn("pdf text extraction failed",
					zap.String("filename", filename),
					zap.Error(err),
				)
			}
			doc.Text = text
		}
		return doc, nil

	case ".docx":
		doc.Kind = KindDocx
		doc.MediaType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		text, err := docxText(content)
		if err != nil {
			return nil, types.Errorf(types.ErrContentUnreadable, "cannot read %s", filename).WithCause(err)
		}
		doc.Text = text
		return doc, nil

	case ".xlsx":
		doc.Kind = KindXLSX
		doc.MediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		text, err := xlsxText(content)
		if err != nil {
			return nil, types.Errorf(types.ErrContentUnreadable, "cannot read %s", filename).WithCause(err)
		}
		doc.Text = text
		return doc, nil
	}

	if ext == "" {
		ext = http.DetectContentType(content)
	}
	return nil, types.Errorf(types.ErrUnsupportedFile, "unsupported file type: %s", ext)
}

// =============================================================================
// 🔧 格式解析
// =============================================================================

// docxText 读取 word/document.xml 中的文本，段落以换行分隔
func docxText(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var body io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("open document.xml: %w", err)
			}
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("docx has no word/document.xml")
	}
	defer body.Close()

	var (
		b      strings.Builder
		inText bool
	)
	dec := xml.NewDecoder(body)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// xlsxText 将每个工作表渲染为制表符分隔的文本
func xlsxText(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		fmt.Fprintf(&b, "## %s\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}
