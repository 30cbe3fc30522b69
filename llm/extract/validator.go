package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/BaSui01/docintake/types"
)

// 内联 Schema 文档的结构约束
const schemaDocumentSchema = `{
	"type": "object",
	"required": ["fields"],
	"properties": {
		"name": {"type": "string"},
		"document_type": {"type": ["string", "null"]},
		"fields": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"type": {"type": "string"},
					"description": {"type": "string"},
					"required": {"type": "boolean"}
				}
			}
		}
	}
}`

// Validator 使用 JSON Schema 校验抽取结果与内联 Schema 文档。
// 编译后的记录 Schema 按摘要缓存。
type Validator struct {
	document *jsonschema.Schema

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator 创建校验器
func NewValidator() (*Validator, error) {
	doc, err := compileSchema("schema-document.json", []byte(schemaDocumentSchema))
	if err != nil {
		return nil, err
	}
	return &Validator{document: doc, compiled: make(map[string]*jsonschema.Schema)}, nil
}

// MustNewValidator 创建校验器，失败时 panic
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

func compileSchema(url string, body []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ParseSchemaDocument 校验并解析内联 Schema 文档
func (v *Validator) ParseSchemaDocument(raw []byte) (*types.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, types.NewError(types.ErrSchemaInvalid, "inline schema is not valid JSON").WithCause(err)
	}
	if err := v.document.Validate(doc); err != nil {
		return nil, types.NewError(types.ErrSchemaInvalid, "inline schema: "+firstLine(err)).WithCause(err)
	}
	return types.ParseSchema(raw)
}

// ValidateRecord 校验记录满足 Schema，必填字段不得为 null
func (v *Validator) ValidateRecord(schema *types.Schema, rec *types.Record) error {
	compiled, err := v.recordSchema(schema)
	if err != nil {
		return types.NewError(types.ErrSchemaInvalid, "cannot compile record schema").WithCause(err)
	}

	// 经由 JSON 往返得到 float64/[]any/map[string]any 形态
	b, err := json.Marshal(rec)
	if err != nil {
		return types.NewError(types.ErrRecordInvalid, "record is not serializable").WithCause(err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return types.NewError(types.ErrRecordInvalid, "record is not serializable").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return types.NewError(types.ErrRecordInvalid, "extracted record does not match schema: "+firstLine(err)).WithCause(err)
	}
	return nil
}

func (v *Validator) recordSchema(schema *types.Schema) (*jsonschema.Schema, error) {
	digest := schema.Digest()

	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[digest]; ok {
		return s, nil
	}
	body, err := json.Marshal(RecordSchema(schema))
	if err != nil {
		return nil, err
	}
	s, err := compileSchema("record-"+digest+".json", body)
	if err != nil {
		return nil, err
	}
	v.compiled[digest] = s
	return s, nil
}

func firstLine(err error) string {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		return strings.TrimSpace(leaf.InstanceLocation + " " + leaf.Message)
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
