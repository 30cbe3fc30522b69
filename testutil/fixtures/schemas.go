// =============================================================================
// 📦 测试数据工厂 - Schema 与上传文件
// =============================================================================
// 提供预定义的 Schema 与文件内容，用于测试
// =============================================================================
package fixtures

import (
	"fmt"
	"strings"

	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 🎯 Schema 工厂
// =============================================================================

// InvoiceSchema 返回三个字段的发票 Schema
func InvoiceSchema() *types.Schema {
	return &types.Schema{
		Name:         "invoice",
		DocumentType: "invoice",
		Fields: []types.FieldDescriptor{
			{Name: "invoice_number", Type: types.FieldString, Description: "Invoice identifier", Required: true},
			{Name: "total", Type: types.FieldNumber, Description: "Grand total"},
			{Name: "vendor", Type: types.FieldString, Description: "Seller name"},
		},
	}
}

// ClaimSchema 返回兜底使用的 claim Schema
func ClaimSchema() *types.Schema {
	return &types.Schema{
		Name:         "claim",
		DocumentType: "claim",
		Fields: []types.FieldDescriptor{
			{Name: "claimant", Type: types.FieldString},
			{Name: "amount", Type: types.FieldNumber},
		},
	}
}

// InvoiceSchemaJSON 键顺序与 InvoiceSchema 序列化结果不同的等价 JSON
func InvoiceSchemaJSON() string {
	return `{"fields":[` +
		`{"required":true,"description":"Invoice identifier","type":"string","name":"invoice_number"},` +
		`{"description":"Grand total","type":"number","name":"total"},` +
		`{"type":"string","name":"vendor","description":"Seller name"}` +
		`],"document_type":"invoice","name":"invoice"}`
}

// PublicDetails 包装为公共 Schema 行
func PublicDetails(id string, s *types.Schema) *types.SchemaDetails {
	return &types.SchemaDetails{ID: id, Name: s.Name, DocumentType: s.DocumentType, IsPublic: true, Schema: s}
}

// TenantDetails 包装为租户自有 Schema 行，documentType 可为空
func TenantDetails(id, tenantID, documentType string, s *types.Schema) *types.SchemaDetails {
	return &types.SchemaDetails{ID: id, Name: s.Name, DocumentType: documentType, TenantID: tenantID, Schema: s}
}

// =============================================================================
// 📄 文件工厂
// =============================================================================

// InvoiceText 返回足够长、可被分类的发票文本
func InvoiceText(number string) string {
	return fmt.Sprintf("INVOICE %s\nVendor: Acme Supplies Ltd.\nDate: 2024-03-01\n"+
		"Item: Office chairs x4 ........ 480.00\nTotal due: 480.00 EUR\n", number)
}

// LongText 返回 n 个字符的填充文本
func LongText(n int) string {
	return strings.Repeat("x", n)
}
