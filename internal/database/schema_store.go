package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 📚 Schema 存储
// =============================================================================

// SchemaStore 基于 GORM 的 Schema 存储。
// 租户只能读取自己的 Schema 与公共模板。
type SchemaStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSchemaStore 创建 Schema 存储
func NewSchemaStore(db *gorm.DB, logger *zap.Logger) *SchemaStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaStore{db: db, logger: logger.With(zap.String("component", "schema_store"))}
}

// visible 限定租户可见范围
func visible(q *gorm.DB, tenantID string) *gorm.DB {
	if tenantID == "" {
		return q.Where("is_public = ? OR tenant_id IS NULL", true)
	}
	return q.Where("is_public = ? OR tenant_id = ?", true, tenantID)
}

func (s *SchemaStore) find(ctx context.Context, id, tenantID string) (*SchemaRow, error) {
	var row SchemaRow
	err := visible(s.db.WithContext(ctx).Where("id = ?", id), tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrSchemaNotFound, "schema %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", id, err)
	}
	return &row, nil
}

// GetSchemaDetails 返回 Schema 行的完整信息
func (s *SchemaStore) GetSchemaDetails(ctx context.Context, id, tenantID string) (*types.SchemaDetails, error) {
	row, err := s.find(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	return row.Details()
}

// GetSchemaContent 只返回 Schema 内容
func (s *SchemaStore) GetSchemaContent(ctx context.Context, id, tenantID string) (*types.Schema, error) {
	d, err := s.GetSchemaDetails(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	return d.Schema, nil
}

// FindPublicSchema 按文档类型查找公共模板
func (s *SchemaStore) FindPublicSchema(ctx context.Context, documentType string) (*types.SchemaDetails, error) {
	var row SchemaRow
	err := s.db.WithContext(ctx).
		Where("is_public = ? AND document_type = ?", true, documentType).
		Order("id").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrSchemaNotFound, "no public schema for document type %q", documentType)
	}
	if err != nil {
		return nil, fmt.Errorf("find public schema: %w", err)
	}
	return row.Details()
}

// UpdateDocumentType 写回学习到的文档类型，仅对租户自有且尚无类型的 Schema 生效
func (s *SchemaStore) UpdateDocumentType(ctx context.Context, id, tenantID, documentType string) error {
	if tenantID == "" {
		return types.NewError(types.ErrUnauthorized, "tenant required to update schema")
	}
	res := s.db.WithContext(ctx).Model(&SchemaRow{}).
		Where("id = ? AND tenant_id = ? AND (document_type IS NULL OR document_type = '')", id, tenantID).
		Update("document_type", documentType)
	if res.Error != nil {
		return fmt.Errorf("update schema document type: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Debug("schema document type not updated",
			zap.String("schema_id", id),
			zap.String("tenant_id", tenantID),
		)
	}
	return nil
}

// List 列出租户可见的 Schema，公共模板在前
func (s *SchemaStore) List(ctx context.Context, tenantID string) ([]*types.SchemaDetails, error) {
	var rows []SchemaRow
	if err := visible(s.db.WithContext(ctx), tenantID).Order("is_public DESC, name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return s.toDetails(rows), nil
}

// ListTyped 列出所有带文档类型的 Schema，供提示词缓存预热
func (s *SchemaStore) ListTyped(ctx context.Context) ([]*types.SchemaDetails, error) {
	var rows []SchemaRow
	err := s.db.WithContext(ctx).
		Where("document_type IS NOT NULL AND document_type <> ''").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list typed schemas: %w", err)
	}
	return s.toDetails(rows), nil
}

// Create 保存租户 Schema，ID 为空时自动生成
func (s *SchemaStore) Create(ctx context.Context, d *types.SchemaDetails) (*types.SchemaDetails, error) {
	if err := d.Schema.Validate(); err != nil {
		return nil, err
	}
	cp := *d
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Name == "" {
		cp.Name = cp.Schema.Name
	}
	if cp.DocumentType == "" {
		cp.DocumentType = cp.Schema.DocumentType
	}
	row, err := NewSchemaRow(&cp)
	if err != nil {
		return nil, types.NewError(types.ErrSchemaInvalid, "schema is not serializable").WithCause(err)
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &cp, nil
}

// toDetails 跳过内容损坏的行
func (s *SchemaStore) toDetails(rows []SchemaRow) []*types.SchemaDetails {
	out := make([]*types.SchemaDetails, 0, len(rows))
	for i := range rows {
		d, err := rows[i].Details()
		if err != nil {
			s.logger.Warn("skipping schema with invalid content",
				zap.String("schema_id", rows[i].ID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, d)
	}
	return out
}
