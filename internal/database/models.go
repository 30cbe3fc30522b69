package database

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 📋 表模型
// =============================================================================

// SchemaRow schemas 表。公共模板的 tenant_id 为空。
type SchemaRow struct {
	ID           string  `gorm:"primaryKey;size:64"`
	Name         string  `gorm:"size:255;not null"`
	DocumentType *string `gorm:"size:128"`
	TenantID     *string `gorm:"size:128;index"`
	IsPublic     bool    `gorm:"not null;default:false"`
	Content      string  `gorm:"type:text;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName 表名
func (SchemaRow) TableName() string { return "schemas" }

// Details 转换为领域类型，content 无法解析时返回 SCHEMA_INVALID
func (r *SchemaRow) Details() (*types.SchemaDetails, error) {
	s, err := types.ParseSchema([]byte(r.Content))
	if err != nil {
		return nil, err
	}
	d := &types.SchemaDetails{
		ID:       r.ID,
		Name:     r.Name,
		IsPublic: r.IsPublic,
		Schema:   s,
	}
	if r.DocumentType != nil {
		d.DocumentType = *r.DocumentType
	}
	if r.TenantID != nil {
		d.TenantID = *r.TenantID
	}
	return d, nil
}

// NewSchemaRow 由领域类型构造表行
func NewSchemaRow(d *types.SchemaDetails) (*SchemaRow, error) {
	content, err := json.Marshal(d.Schema)
	if err != nil {
		return nil, err
	}
	return &SchemaRow{
		ID:           d.ID,
		Name:         d.Name,
		DocumentType: Nullable(d.DocumentType),
		TenantID:     Nullable(d.TenantID),
		IsPublic:     d.IsPublic,
		Content:      string(content),
	}, nil
}

// BatchRow batches 表
type BatchRow struct {
	ID            string  `gorm:"primaryKey;size:64"`
	UserID        *string `gorm:"size:128"`
	TenantID      *string `gorm:"size:128"`
	SchemaID      *string `gorm:"size:64"`
	DocumentType  *string `gorm:"size:128"`
	Strategy      string  `gorm:"size:32;not null"`
	Status        string  `gorm:"size:16;not null"`
	Total         int
	Successful    int
	Failed        int
	TotalPages    int
	RefundedPages int
	DurationMS    int64 `gorm:"column:duration_ms"`
	CreatedAt     time.Time
}

// TableName 表名
func (BatchRow) TableName() string { return "batches" }

// DocumentRow documents 表，每个文件一行
type DocumentRow struct {
	ID           string  `gorm:"primaryKey;size:64"`
	BatchID      string  `gorm:"size:64;not null;index"`
	FileIndex    int     `gorm:"not null"`
	UserID       *string `gorm:"size:128"`
	TenantID     *string `gorm:"size:128"`
	Filename     string  `gorm:"size:512;not null"`
	ContentHash  string  `gorm:"size:64;not null;index"`
	DocumentType *string `gorm:"size:128"`
	SchemaID     *string `gorm:"size:64"`
	Workflow     *string `gorm:"size:16"`
	Status       string  `gorm:"size:16;not null"`
	Pages        int     `gorm:"not null;default:1"`
	ErrorCode    *string `gorm:"size:64"`
	Error        *string `gorm:"type:text"`
	CreatedAt    time.Time
}

// TableName 表名
func (DocumentRow) TableName() string { return "documents" }

// ExtractionLogRow extraction_logs 表，仅成功文件写入
type ExtractionLogRow struct {
	ID            string  `gorm:"primaryKey;size:64"`
	DocumentID    string  `gorm:"size:64;not null;index"`
	BatchID       string  `gorm:"size:64;not null"`
	ExtractedData *string `gorm:"type:text"`
	Timings       *string `gorm:"type:text"`
	DurationMS    int64   `gorm:"column:duration_ms"`
	CreatedAt     time.Time
}

// TableName 表名
func (ExtractionLogRow) TableName() string { return "extraction_logs" }

// AllModels 返回全部表模型，测试中用于 AutoMigrate
func AllModels() []any {
	return []any{&SchemaRow{}, &BatchRow{}, &DocumentRow{}, &ExtractionLogRow{}}
}

// Nullable 空字符串映射为 NULL
func Nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
