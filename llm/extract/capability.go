package extract

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/BaSui01/docintake/types"
)

// GenericType 无法归类的文档类型
const GenericType = "generic"

// File 交给表示生成阶段的文件
type File struct {
	Filename  string
	MediaType string
	Content   []byte
	Text      string
}

// IsImage 是否为图片
func (f File) IsImage() bool {
	if strings.HasPrefix(f.MediaType, "image/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(f.Filename)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

// IsPDF 是否为 PDF
func (f File) IsPDF() bool {
	return f.MediaType == "application/pdf" || strings.EqualFold(filepath.Ext(f.Filename), ".pdf")
}

// Representation 表示生成阶段的输出
type Representation struct {
	Markdown string         `json:"markdown_content"`
	Hints    StructureHints `json:"structure_hints"`
}

// FieldsRequest 字段抽取请求
type FieldsRequest struct {
	Filename     string
	Content      string
	DocumentType string
	Schema       *types.Schema
	SystemPrompt string
	Hints        *StructureHints
}

// Capability 抽取能力：四个对相同输入幂等的操作
type Capability interface {
	// Classify 返回文本片段的文档类型
	Classify(ctx context.Context, text string) (string, error)

	// GenerateRepresentation 生成文档的 Markdown 表示与结构提示
	GenerateRepresentation(ctx context.Context, file File, schema *types.Schema) (*Representation, error)

	// ExtractFields 按 Schema 抽取字段，返回原始键值
	ExtractFields(ctx context.Context, req FieldsRequest) (map[string]any, error)

	// SynthesizePrompt 为文档类型与 Schema 合成系统提示词
	SynthesizePrompt(ctx context.Context, documentType string, schema *types.Schema) (string, error)
}
