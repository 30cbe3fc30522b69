package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/docintake/types"
)

// MockSchemaStore 内存 Schema 存储
type MockSchemaStore struct {
	mu      sync.Mutex
	schemas map[string]*types.SchemaDetails
	err     error

	// 记录 UpdateDocumentType 调用
	Updates []string
}

// NewMockSchemaStore 创建空存储
func NewMockSchemaStore() *MockSchemaStore {
	return &MockSchemaStore{schemas: make(map[string]*types.SchemaDetails)}
}

// Put 添加或替换 Schema
func (m *MockSchemaStore) Put(d *types.SchemaDetails) *MockSchemaStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.schemas[d.ID] = &cp
	return m
}

// WithError 所有读操作返回错误
func (m *MockSchemaStore) WithError(err error) *MockSchemaStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MockSchemaStore) lookup(id, tenantID string) (*types.SchemaDetails, error) {
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.schemas[id]
	if !ok || (d.TenantID != "" && d.TenantID != tenantID && !d.IsPublic) {
		return nil, types.Errorf(types.ErrSchemaNotFound, "schema %s not found", id)
	}
	cp := *d
	return &cp, nil
}

// GetSchemaContent 返回 Schema 内容
func (m *MockSchemaStore) GetSchemaContent(_ context.Context, id, tenantID string) (*types.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.lookup(id, tenantID)
	if err != nil {
		return nil, err
	}
	return d.Schema, nil
}

// GetSchemaDetails 返回完整信息
func (m *MockSchemaStore) GetSchemaDetails(_ context.Context, id, tenantID string) (*types.SchemaDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(id, tenantID)
}

// FindPublicSchema 按类型查找公共 Schema
func (m *MockSchemaStore) FindPublicSchema(_ context.Context, documentType string) (*types.SchemaDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, d := range m.schemas {
		if d.IsPublic && d.DocumentType == documentType {
			cp := *d
			return &cp, nil
		}
	}
	return nil, types.Errorf(types.ErrSchemaNotFound, "no public schema for %s", documentType)
}

// UpdateDocumentType 写回学习到的类型
func (m *MockSchemaStore) UpdateDocumentType(_ context.Context, id, tenantID, documentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(id, tenantID); err != nil {
		return err
	}
	m.schemas[id].DocumentType = documentType
	m.Updates = append(m.Updates, id+"="+documentType)
	return nil
}

// Details 读取当前存储内容，测试断言使用
func (m *MockSchemaStore) Details(id string) *types.SchemaDetails {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.schemas[id]; ok {
		cp := *d
		return &cp
	}
	return nil
}
