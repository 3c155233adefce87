package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ToNative converts a field value into plain Go values (string, float64, int64,
// bool, []any, map[string]any). It is the representation handed to migration
// scripts and written to YAML. Micronode fields carry their shape as
// {"type", "list", "value"} since micronodes have no schema to decode against.
func ToNative(v FieldValue) any {
	switch x := v.(type) {
	case nil:
		return nil
	case StringValue:
		return string(x)
	case HTMLValue:
		return string(x)
	case NumberValue:
		return float64(x)
	case BooleanValue:
		return bool(x)
	case DateValue:
		return int64(x)
	case BinaryValue:
		return map[string]any{
			"fileName":  x.FileName,
			"mimeType":  x.MimeType,
			"size":      x.Size,
			"sha512sum": x.SHA512,
		}
	case NodeRef:
		return map[string]any{"uuid": x.UUID}
	case MicronodeValue:
		return micronodeToNative(x)
	case StringList:
		return listToNative(x, func(s string) any { return s })
	case HTMLList:
		return listToNative(x, func(s string) any { return s })
	case NumberList:
		return listToNative(x, func(n float64) any { return n })
	case BooleanList:
		return listToNative(x, func(b bool) any { return b })
	case DateList:
		return listToNative(x, func(d int64) any { return d })
	case NodeList:
		return listToNative(x, func(n NodeRef) any { return map[string]any{"uuid": n.UUID} })
	case MicronodeList:
		return listToNative(x, func(m MicronodeValue) any { return micronodeToNative(m) })
	}
	return nil
}

// FieldsToNative converts a whole field map
func FieldsToNative(fields map[string]FieldValue) map[string]any {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		out[name] = ToNative(v)
	}
	return out
}

func listToNative[T any](l []T, conv func(T) any) []any {
	out := make([]any, len(l))
	for i, e := range l {
		out[i] = conv(e)
	}
	return out
}

func micronodeToNative(m MicronodeValue) map[string]any {
	fields := make(map[string]any, len(m.Fields))
	for name, v := range m.Fields {
		if v == nil {
			continue
		}
		shape := v.Shape()
		fields[name] = map[string]any{
			"type":  string(shape.Type),
			"list":  shape.List,
			"value": ToNative(v),
		}
	}
	return map[string]any{
		"microschema": m.Microschema,
		"fields":      fields,
	}
}

// FromNative decodes a plain Go value into a field value of the given shape.
// A nil input decodes to a nil value.
func FromNative(x any, shape FieldShape) (FieldValue, error) {
	if x == nil {
		return nil, nil
	}
	if shape.List {
		items, ok := x.([]any)
		if !ok {
			return nil, fmt.Errorf("expected list for %s, got %T", shape, x)
		}
		return listFromNative(items, shape.Type)
	}
	switch shape.Type {
	case FieldTypeString:
		s, ok := x.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", x)
		}
		return StringValue(s), nil
	case FieldTypeHTML:
		s, ok := x.(string)
		if !ok {
			return nil, fmt.Errorf("expected html string, got %T", x)
		}
		return HTMLValue(s), nil
	case FieldTypeNumber:
		n, ok := toFloat(x)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", x)
		}
		return NumberValue(n), nil
	case FieldTypeBoolean:
		b, ok := x.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", x)
		}
		return BooleanValue(b), nil
	case FieldTypeDate:
		d, ok := toInt64(x)
		if !ok {
			return nil, fmt.Errorf("expected date in whole unix milliseconds, got %T(%v)", x, x)
		}
		return DateValue(d), nil
	case FieldTypeBinary:
		m, ok := x.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected binary object, got %T", x)
		}
		b := BinaryValue{}
		b.FileName, _ = m["fileName"].(string)
		b.MimeType, _ = m["mimeType"].(string)
		b.SHA512, _ = m["sha512sum"].(string)
		b.Size, _ = toInt64(m["size"])
		return b, nil
	case FieldTypeNode:
		return nodeRefFromNative(x)
	case FieldTypeMicronode:
		return micronodeFromNative(x)
	}
	return nil, fmt.Errorf("unsupported shape %s", shape)
}

func listFromNative(items []any, t FieldType) (FieldValue, error) {
	var (
		out FieldValue
		err error
	)
	switch t {
	case FieldTypeString:
		out, err = decodeList[StringList](items, FieldShape{Type: t}, func(v FieldValue) string { return string(v.(StringValue)) })
	case FieldTypeHTML:
		out, err = decodeList[HTMLList](items, FieldShape{Type: t}, func(v FieldValue) string { return string(v.(HTMLValue)) })
	case FieldTypeNumber:
		out, err = decodeList[NumberList](items, FieldShape{Type: t}, func(v FieldValue) float64 { return float64(v.(NumberValue)) })
	case FieldTypeBoolean:
		out, err = decodeList[BooleanList](items, FieldShape{Type: t}, func(v FieldValue) bool { return bool(v.(BooleanValue)) })
	case FieldTypeDate:
		out, err = decodeList[DateList](items, FieldShape{Type: t}, func(v FieldValue) int64 { return int64(v.(DateValue)) })
	case FieldTypeNode:
		out, err = decodeList[NodeList](items, FieldShape{Type: t}, func(v FieldValue) NodeRef { return v.(NodeRef) })
	case FieldTypeMicronode:
		out, err = decodeList[MicronodeList](items, FieldShape{Type: t}, func(v FieldValue) MicronodeValue { return v.(MicronodeValue) })
	default:
		return nil, fmt.Errorf("type %s has no list form", t)
	}
	return out, err
}

func decodeList[L ~[]E, E any](items []any, elem FieldShape, unwrap func(FieldValue) E) (L, error) {
	out := make(L, 0, len(items))
	for i, item := range items {
		v, err := FromNative(item, elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if v == nil {
			return nil, fmt.Errorf("element %d: null list element", i)
		}
		out = append(out, unwrap(v))
	}
	return out, nil
}

func nodeRefFromNative(x any) (FieldValue, error) {
	switch v := x.(type) {
	case string:
		return NodeRef{UUID: v}, nil
	case map[string]any:
		uuid, _ := v["uuid"].(string)
		if uuid == "" {
			return nil, fmt.Errorf("node reference without uuid")
		}
		return NodeRef{UUID: uuid}, nil
	}
	return nil, fmt.Errorf("expected node reference, got %T", x)
}

func micronodeFromNative(x any) (FieldValue, error) {
	m, ok := x.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected micronode object, got %T", x)
	}
	mv := MicronodeValue{Fields: map[string]FieldValue{}}
	mv.Microschema, _ = m["microschema"].(string)
	fields, _ := m["fields"].(map[string]any)
	for name, raw := range fields {
		v, err := micronodeFieldFromNative(raw)
		if err != nil {
			return nil, fmt.Errorf("micronode field %q: %w", name, err)
		}
		if v != nil {
			mv.Fields[name] = v
		}
	}
	return mv, nil
}

// micronodeFieldFromNative decodes one micronode field. Fields tagged with their
// shape decode exactly; untagged content written by hand falls back to inference.
func micronodeFieldFromNative(raw any) (FieldValue, error) {
	tagged, ok := raw.(map[string]any)
	if !ok {
		return inferValue(raw)
	}
	typ, ok := tagged["type"].(string)
	if !ok {
		return inferValue(raw)
	}
	value, ok := tagged["value"]
	if !ok {
		return inferValue(raw)
	}
	t, err := ParseFieldType(typ)
	if err != nil {
		return nil, err
	}
	shape := FieldShape{Type: t}
	shape.List, _ = tagged["list"].(bool)
	if value == nil && shape.List {
		value = []any{}
	}
	return FromNative(value, shape)
}

// inferValue guesses the shape of a schemaless native value
func inferValue(x any) (FieldValue, error) {
	switch v := x.(type) {
	case nil:
		return nil, nil
	case string:
		return StringValue(v), nil
	case bool:
		return BooleanValue(v), nil
	case []any:
		if len(v) == 0 {
			return StringList{}, nil
		}
		first, err := inferValue(v[0])
		if err != nil || first == nil {
			return nil, fmt.Errorf("cannot infer list element type")
		}
		return listFromNative(v, first.Shape().Type)
	case map[string]any:
		if _, ok := v["uuid"]; ok {
			return nodeRefFromNative(v)
		}
		if _, ok := v["microschema"]; ok {
			return micronodeFromNative(v)
		}
		return FromNative(v, FieldShape{Type: FieldTypeBinary})
	}
	if n, ok := toFloat(x); ok {
		return NumberValue(n), nil
	}
	return nil, fmt.Errorf("unsupported value %T", x)
}

func toFloat(x any) (float64, bool) {
	switch n := x.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toInt64(x any) (int64, bool) {
	switch n := x.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	if f, ok := toFloat(x); ok && f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f), true
	}
	return 0, false
}

// valueEnvelope is the storage representation of one field value
type valueEnvelope struct {
	Type  FieldType       `json:"type"`
	List  bool            `json:"list,omitempty"`
	Value json.RawMessage `json:"value"`
}

type micronodeEnvelope struct {
	Microschema string          `json:"microschema"`
	Fields      json.RawMessage `json:"fields"`
}

// MarshalFields encodes a field map into tagged JSON
func MarshalFields(fields map[string]FieldValue) ([]byte, error) {
	out := make(map[string]valueEnvelope, len(fields))
	for name, v := range fields {
		if v == nil {
			continue
		}
		env, err := encodeEnvelope(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %q: %w", name, err)
		}
		out[name] = env
	}
	return json.Marshal(out)
}

func encodeEnvelope(v FieldValue) (valueEnvelope, error) {
	shape := v.Shape()
	var (
		raw []byte
		err error
	)
	switch x := v.(type) {
	case MicronodeValue:
		raw, err = encodeMicronode(x)
	case MicronodeList:
		parts := make([]json.RawMessage, len(x))
		for i, m := range x {
			if parts[i], err = encodeMicronode(m); err != nil {
				return valueEnvelope{}, err
			}
		}
		raw, err = json.Marshal(parts)
	default:
		raw, err = json.Marshal(ToNative(v))
	}
	if err != nil {
		return valueEnvelope{}, err
	}
	return valueEnvelope{Type: shape.Type, List: shape.List, Value: raw}, nil
}

func encodeMicronode(m MicronodeValue) (json.RawMessage, error) {
	fields, err := MarshalFields(m.Fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(micronodeEnvelope{Microschema: m.Microschema, Fields: fields})
}

// UnmarshalFields decodes tagged JSON produced by MarshalFields
func UnmarshalFields(data []byte) (map[string]FieldValue, error) {
	var envs map[string]valueEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	out := make(map[string]FieldValue, len(envs))
	for name, env := range envs {
		v, err := decodeEnvelope(env)
		if err != nil {
			return nil, fmt.Errorf("failed to decode field %q: %w", name, err)
		}
		if v != nil {
			out[name] = v
		}
	}
	return out, nil
}

func decodeEnvelope(env valueEnvelope) (FieldValue, error) {
	shape := FieldShape{Type: env.Type, List: env.List}
	if env.Type == FieldTypeMicronode {
		if shape.List {
			var parts []json.RawMessage
			if err := json.Unmarshal(env.Value, &parts); err != nil {
				return nil, err
			}
			out := make(MicronodeList, len(parts))
			for i, p := range parts {
				m, err := decodeMicronode(p)
				if err != nil {
					return nil, err
				}
				out[i] = m
			}
			return out, nil
		}
		return decodeMicronode(env.Value)
	}

	dec := json.NewDecoder(bytes.NewReader(env.Value))
	dec.UseNumber()
	var native any
	if err := dec.Decode(&native); err != nil {
		return nil, err
	}
	return FromNative(native, shape)
}

func decodeMicronode(raw json.RawMessage) (MicronodeValue, error) {
	var env micronodeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return MicronodeValue{}, err
	}
	fields := map[string]FieldValue{}
	if len(env.Fields) > 0 && string(env.Fields) != "null" {
		var err error
		if fields, err = UnmarshalFields(env.Fields); err != nil {
			return MicronodeValue{}, err
		}
	}
	return MicronodeValue{Microschema: env.Microschema, Fields: fields}, nil
}
