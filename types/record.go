package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record 是字段名到带标签值的有序映射，代替按 Schema 动态生成的结构体。
type Record struct {
	keys   []string
	values map[string]Value
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]Value)}
}

// Set stores v under k. New keys are appended, existing keys keep their position.
func (r *Record) Set(k string, v Value) {
	if _, ok := r.values[k]; !ok {
		r.keys = append(r.keys, k)
	}
	r.values[k] = v
}

// Get returns the value stored under k.
func (r *Record) Get(k string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	v, ok := r.values[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.keys...)
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Map converts the record to a plain map.
func (r *Record) Map() map[string]any {
	if r == nil {
		return nil
	}
	out := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		out[k] = r.values[k].Interface()
	}
	return out
}

// Equal reports deep equality including key order.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r.Len() == 0 && o.Len() == 0
	}
	if len(r.keys) != len(o.keys) {
		return false
	}
	for i, k := range r.keys {
		if o.keys[i] != k {
			return false
		}
		if !r.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the record as a JSON object in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := r.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	if v.Kind() != KindObject {
		return fmt.Errorf("record: expected JSON object, got %s", v.Kind())
	}
	*r = *v.Fields()
	return nil
}

// ConformRecord 按 Schema 字段顺序构建 Record，并把原始值强制转换为声明类型。
// 无法转换的值记为 null，Schema 之外的键被丢弃。
func ConformRecord(schema *Schema, raw map[string]any) *Record {
	rec := NewRecord()
	for _, f := range schema.Fields {
		rec.Set(f.Name, coerce(f.Type, raw[f.Name]))
	}
	return rec
}

func coerce(t FieldType, x any) Value {
	if x == nil {
		return NullValue()
	}
	switch t {
	case FieldString:
		switch v := x.(type) {
		case string:
			return StringValue(v)
		case bool:
			return StringValue(strconv.FormatBool(v))
		case float64:
			return StringValue(strconv.FormatFloat(v, 'f', -1, 64))
		case json.Number:
			return StringValue(v.String())
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return NullValue()
			}
			return StringValue(string(b))
		}
	case FieldInteger, FieldNumber:
		var f float64
		switch v := x.(type) {
		case float64:
			f = v
		case json.Number:
			parsed, err := v.Float64()
			if err != nil {
				return NullValue()
			}
			f = parsed
		case string:
			parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
			if err != nil {
				return NullValue()
			}
			f = parsed
		default:
			return NullValue()
		}
		if t == FieldInteger && f != float64(int64(f)) {
			return NullValue()
		}
		return NumberValue(f)
	case FieldBoolean:
		switch v := x.(type) {
		case bool:
			return BoolValue(v)
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "y", "1":
				return BoolValue(true)
			case "false", "no", "n", "0":
				return BoolValue(false)
			}
		}
		return NullValue()
	case FieldStringList:
		switch v := x.(type) {
		case []any:
			items := make([]Value, 0, len(v))
			for _, item := range v {
				if item == nil {
					continue
				}
				items = append(items, coerce(FieldString, item))
			}
			return ListValue(items...)
		case string:
			return ListValue(StringValue(v))
		}
		return NullValue()
	case FieldObjectList:
		switch v := x.(type) {
		case []any:
			items := make([]Value, 0, len(v))
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					items = append(items, FromAny(m))
				}
			}
			return ListValue(items...)
		case map[string]any:
			return ListValue(FromAny(v))
		}
		return NullValue()
	case FieldObject:
		if m, ok := x.(map[string]any); ok {
			return FromAny(m)
		}
		return NullValue()
	}
	return FromAny(x)
}
