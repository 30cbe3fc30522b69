package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType 字段的原始/复合类型。
type FieldType string

const (
	FieldString     FieldType = "string"
	FieldInteger    FieldType = "integer"
	FieldNumber     FieldType = "number"
	FieldBoolean    FieldType = "boolean"
	FieldStringList FieldType = "list[string]"
	FieldObjectList FieldType = "list[object]"
	FieldObject     FieldType = "object"
)

// NormalizeFieldType maps a free-form type string onto a known FieldType.
// Unknown types fall back to string.
func NormalizeFieldType(s string) FieldType {
	switch t := FieldType(strings.ToLower(strings.TrimSpace(s))); t {
	case FieldString, FieldInteger, FieldNumber, FieldBoolean,
		FieldStringList, FieldObjectList, FieldObject:
		return t
	case "int":
		return FieldInteger
	case "float", "double":
		return FieldNumber
	case "bool":
		return FieldBoolean
	default:
		return FieldString
	}
}

// FieldDescriptor 描述 Schema 中的单个字段。
type FieldDescriptor struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
}

// Schema 是一组有序的字段描述。身份由规范化 JSON 决定。
type Schema struct {
	Name         string            `json:"name,omitempty"`
	DocumentType string            `json:"document_type,omitempty"`
	Fields       []FieldDescriptor `json:"fields"`
}

// ParseSchema decodes and validates a schema body.
func ParseSchema(raw []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, NewError(ErrSchemaInvalid, "schema is not valid JSON").WithCause(err)
	}
	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.DocumentType = strings.TrimSpace(s.DocumentType)
	for i := range s.Fields {
		s.Fields[i].Name = strings.TrimSpace(s.Fields[i].Name)
		s.Fields[i].Type = NormalizeFieldType(string(s.Fields[i].Type))
	}
}

// Validate checks that the schema has at least one field and that field names are unique.
func (s *Schema) Validate() error {
	if s == nil || len(s.Fields) == 0 {
		return NewError(ErrSchemaInvalid, "schema must declare at least one field")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return Errorf(ErrSchemaInvalid, "field %d has no name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return Errorf(ErrSchemaInvalid, "duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Digest 返回 Schema 规范化 JSON 的 sha256，键顺序无关。
func (s *Schema) Digest() string {
	b, err := CanonicalJSON(s)
	if err != nil {
		// Schema 只包含可序列化的字段，此处不会失败
		panic(fmt.Sprintf("schema digest: %v", err))
	}
	return SHA256Hex(b)
}

// FieldNames returns field names in declaration order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// WithDocumentType returns a copy of the schema carrying the given document type.
func (s *Schema) WithDocumentType(documentType string) *Schema {
	cp := *s
	cp.Fields = append([]FieldDescriptor(nil), s.Fields...)
	cp.DocumentType = documentType
	return &cp
}

// SchemaDetails 是 Schema 存储返回的完整行信息。
type SchemaDetails struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	DocumentType string  `json:"document_type,omitempty"`
	TenantID     string  `json:"tenant_id,omitempty"`
	IsPublic     bool    `json:"is_public"`
	Schema       *Schema `json:"content"`
}

// TenantOwned reports whether the schema belongs to a tenant rather than being a global template.
func (d *SchemaDetails) TenantOwned() bool {
	return d != nil && d.TenantID != ""
}
