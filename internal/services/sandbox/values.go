package sandbox

import (
	"fmt"
	"maps"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/asakaida/fieldshift/internal/entities"
)

// nodeView is the script's read-only picture of a container
func nodeView(c *entities.NodeFieldContainer) map[string]any {
	return map[string]any{
		"uuid":     c.NodeID.String(),
		"language": c.Language,
		"schema":   c.SchemaName,
		"version":  int64(c.SchemaVersion),
		"fields":   entities.FieldsToNative(c.Fields),
	}
}

// isNodeView reports whether a script result is a (possibly modified) container
func isNodeView(m map[string]any) bool {
	_, hasFields := m["fields"].(map[string]any)
	_, hasSchema := m["schema"]
	return hasFields && hasSchema
}

// celToGo converts a CEL value into plain Go values understood by entities.FromNative
func celToGo(v ref.Val) (any, error) {
	if types.IsError(v) {
		return nil, v.(*types.Err)
	}

	switch x := v.(type) {
	case types.Null:
		return nil, nil
	case types.Bool:
		return bool(x), nil
	case types.Int:
		return int64(x), nil
	case types.Uint:
		return uint64(x), nil
	case types.Double:
		return float64(x), nil
	case types.String:
		return string(x), nil
	case traits.Mapper:
		out := map[string]any{}
		it := x.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			key, ok := k.(types.String)
			if !ok {
				return nil, fmt.Errorf("map key must be a string, got %s", k.Type())
			}
			val, err := celToGo(x.Get(k))
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", string(key), err)
			}
			out[string(key)] = val
		}
		return out, nil
	case traits.Lister:
		var out []any
		it := x.Iterator()
		for it.HasNext() == types.True {
			val, err := celToGo(it.Next())
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", len(out), err)
			}
			out = append(out, val)
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", v.Type())
}

func reverseList(v ref.Val) ref.Val {
	l, ok := v.(traits.Lister)
	if !ok {
		return types.NewErr("reverse() expects a list, got %s", v.Type())
	}
	size, ok := l.Size().(types.Int)
	if !ok {
		return types.NewErr("reverse() could not determine the list size")
	}
	out := make([]ref.Val, size)
	for i := types.Int(0); i < size; i++ {
		out[size-1-i] = l.Get(i)
	}
	return types.NewRefValList(types.DefaultTypeAdapter, out)
}

// setField returns a copy of a node view with one field replaced
func setField(args ...ref.Val) ref.Val {
	if len(args) != 3 {
		return types.NewErr("set() expects (node, name, value)")
	}
	node, err := celToGo(args[0])
	if err != nil {
		return types.NewErr("set(): %v", err)
	}
	m, ok := node.(map[string]any)
	if !ok {
		return types.NewErr("set() expects a node, got %s", args[0].Type())
	}
	name, ok := args[1].(types.String)
	if !ok {
		return types.NewErr("set() expects a field name, got %s", args[1].Type())
	}
	value, err := celToGo(args[2])
	if err != nil {
		return types.NewErr("set(): %v", err)
	}

	fields, _ := m["fields"].(map[string]any)
	fields = maps.Clone(fields)
	if fields == nil {
		fields = map[string]any{}
	}
	fields[string(name)] = value
	m["fields"] = fields
	return types.DefaultTypeAdapter.NativeToValue(m)
}

// convertBinding applies the default conversion for the field being migrated
func convertBinding(from, to entities.FieldShape, convert func(entities.FieldValue) entities.FieldValue) func(ref.Val) ref.Val {
	return func(v ref.Val) ref.Val {
		native, err := celToGo(v)
		if err != nil {
			return types.NewErr("convert(): %v", err)
		}
		fv, err := entities.FromNative(native, from)
		if err != nil {
			return types.NewErr("convert(): value is not a %s: %v", from, err)
		}
		return types.DefaultTypeAdapter.NativeToValue(entities.ToNative(convert(fv)))
	}
}
