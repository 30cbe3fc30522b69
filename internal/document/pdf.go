package document

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// =============================================================================
// 📕 PDF 解析
// =============================================================================

// openPDF 打开 PDF；解析器遇到损坏结构会 panic，这里转换为错误
func openPDF(content []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(content), int64(len(content)))
}

// CountPDFPages 读取页树根节点的 /Count。
// 页对象位于压缩对象流（PDF 1.5+）中时同样有效；无法解析时返回错误。
func CountPDFPages(content []byte) (n int, err error) {
	r, err := openPDF(content)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, fmt.Errorf("malformed page tree: %v", rec)
		}
	}()

	n = r.NumPage()
	if n <= 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return n, nil
}

// PDFText 基于 ledongthuc/pdf 的文本抽取器，页间以空行分隔
type PDFText struct {
	// 最多读取的页数，0 表示全部
	MaxPages int
}

var _ PDFTextExtractor = PDFText{}

// ExtractText 实现 PDFTextExtractor。单页解析失败时跳过该页；全部失败时返回错误。
func (p PDFText) ExtractText(ctx context.Context, content []byte) (string, error) {
	r, err := openPDF(content)
	if err != nil {
		return "", err
	}

	total, err := CountPDFPages(content)
	if err != nil {
		return "", err
	}
	if p.MaxPages > 0 && total > p.MaxPages {
		total = p.MaxPages
	}

	var (
		b       strings.Builder
		lastErr error
		read    int
	)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := pageText(r, i, fonts)
		if err != nil {
			lastErr = err
			continue
		}
		read++
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	if read == 0 && lastErr != nil {
		return "", lastErr
	}
	return b.String(), nil
}

func pageText(r *pdf.Reader, num int, fonts map[string]*pdf.Font) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("page %d: %v", num, rec)
		}
	}()

	page := r.Page(num)
	if page.V.IsNull() {
		return "", nil
	}
	for _, name := range page.Fonts() {
		if _, ok := fonts[name]; !ok {
			f := page.Font(name)
			fonts[name] = &f
		}
	}
	text, err = page.GetPlainText(fonts)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", num, err)
	}
	return text, nil
}
