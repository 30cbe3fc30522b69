package extract

import "github.com/BaSui01/docintake/types"

// RecordSchema 将字段 Schema 转换为 JSON Schema。
// 必填字段不允许为 null，其余字段可为 null。
func RecordSchema(schema *types.Schema) map[string]any {
	props := make(map[string]any, len(schema.Fields))
	required := make([]string, 0, len(schema.Fields))

	for _, f := range schema.Fields {
		p := fieldSchema(f.Type, !f.Required)
		if f.Description != "" {
			p["description"] = f.Description
		}
		props[f.Name] = p
		required = append(required, f.Name)
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func fieldSchema(t types.FieldType, nullable bool) map[string]any {
	var base string
	out := map[string]any{}

	switch t {
	case types.FieldInteger:
		base = "integer"
	case types.FieldNumber:
		base = "number"
	case types.FieldBoolean:
		base = "boolean"
	case types.FieldStringList:
		base = "array"
		out["items"] = map[string]any{"type": "string"}
	case types.FieldObjectList:
		base = "array"
		out["items"] = map[string]any{"type": "object"}
	case types.FieldObject:
		base = "object"
	default:
		base = "string"
	}

	if nullable {
		out["type"] = []any{base, "null"}
	} else {
		out["type"] = base
	}
	return out
}
