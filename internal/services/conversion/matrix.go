// Package conversion implements the default field conversion matrix: a total
// mapping from (source shape, target shape) to a data transformation.
package conversion

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/asakaida/fieldshift/internal/entities"
)

// Strategy is the transformation applied for one shape pair
type Strategy int

const (
	// Unconvertible yields no value. It is a defined outcome, not an error.
	Unconvertible Strategy = iota
	// Copy keeps the value unchanged (identity pair)
	Copy
	// Coerce converts one scalar into another scalar type
	Coerce
	// Wrap turns a scalar into a single element list
	Wrap
	// FirstElement takes the first list element, coerced to the target type
	FirstElement
	// Join stringifies the list elements and joins them with a comma
	Join
	// EachElement converts a list element by element, dropping elements that do not convert
	EachElement
)

func (s Strategy) String() string {
	switch s {
	case Unconvertible:
		return "none"
	case Copy:
		return "copy"
	case Coerce:
		return "coerce"
	case Wrap:
		return "wrap"
	case FirstElement:
		return "first"
	case Join:
		return "join"
	case EachElement:
		return "each"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ConversionPair is a key of the matrix
type ConversionPair struct {
	From, To entities.FieldShape
}

var strategies map[ConversionPair]Strategy

func init() {
	shapes := entities.Shapes()
	strategies = make(map[ConversionPair]Strategy, len(shapes)*len(shapes))
	for _, from := range shapes {
		for _, to := range shapes {
			strategies[ConversionPair{from, to}] = deriveStrategy(from, to)
		}
	}
}

// StrategyFor returns the strategy for a shape pair. Pairs involving invalid
// shapes are unconvertible.
func StrategyFor(from, to entities.FieldShape) Strategy {
	return strategies[ConversionPair{from, to}]
}

// Pairs returns every pair of the matrix together with its strategy
func Pairs() map[ConversionPair]Strategy {
	out := make(map[ConversionPair]Strategy, len(strategies))
	for k, v := range strategies {
		out[k] = v
	}
	return out
}

func deriveStrategy(from, to entities.FieldShape) Strategy {
	if from == to {
		return Copy
	}
	if !elementConvertible(from.Type, to.Type) {
		return Unconvertible
	}
	switch {
	case !from.List && !to.List:
		return Coerce
	case !from.List && to.List:
		return Wrap
	case from.List && !to.List:
		if from.Type != to.Type && isText(to.Type) {
			return Join
		}
		return FirstElement
	default:
		return EachElement
	}
}

// elementConvertible reports whether a single element of type from can be turned into type to
func elementConvertible(from, to entities.FieldType) bool {
	if from == to {
		return true
	}
	switch to {
	case entities.FieldTypeBinary, entities.FieldTypeNode, entities.FieldTypeMicronode, entities.FieldTypeBoolean:
		// these kinds carry no implicit coercion
		return false
	}
	switch from {
	case entities.FieldTypeBinary, entities.FieldTypeNode, entities.FieldTypeMicronode:
		return false
	}
	if to == entities.FieldTypeDate && from == entities.FieldTypeBoolean {
		return false
	}
	return true
}

func isText(t entities.FieldType) bool {
	return t == entities.FieldTypeString || t == entities.FieldTypeHTML
}

// Converter converts a value of a fixed source shape
type Converter func(entities.FieldValue) entities.FieldValue

// For returns the converter for a shape pair
func For(from, to entities.FieldShape) Converter {
	return func(v entities.FieldValue) entities.FieldValue {
		return Convert(v, from, to)
	}
}

// Convert transforms v from shape from into shape to. A nil result means the
// field has no value after conversion. A value whose shape differs from from
// is not converted.
func Convert(v entities.FieldValue, from, to entities.FieldShape) entities.FieldValue {
	if v == nil || v.Shape() != from {
		return nil
	}

	switch StrategyFor(from, to) {
	case Copy:
		return entities.CloneValue(v)
	case Coerce:
		return coerce(v, to.Type)
	case Wrap:
		e := coerce(v, to.Type)
		if e == nil {
			return nil
		}
		return buildList(to.Type, []entities.FieldValue{e})
	case FirstElement:
		elems := elements(v)
		if len(elems) == 0 {
			return nil
		}
		return coerce(elems[0], to.Type)
	case Join:
		elems := elements(v)
		if len(elems) == 0 {
			return nil
		}
		parts := make([]string, 0, len(elems))
		for _, e := range elems {
			s, ok := text(e)
			if !ok {
				return nil
			}
			parts = append(parts, s)
		}
		joined := strings.Join(parts, ",")
		if to.Type == entities.FieldTypeHTML {
			return entities.HTMLValue(joined)
		}
		return entities.StringValue(joined)
	case EachElement:
		elems := elements(v)
		out := make([]entities.FieldValue, 0, len(elems))
		for _, e := range elems {
			if c := coerce(e, to.Type); c != nil {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return buildList(to.Type, out)
	}
	return nil
}

// coerce converts a scalar value into the scalar form of t, or returns nil
func coerce(v entities.FieldValue, t entities.FieldType) entities.FieldValue {
	if v.Shape().Type == t {
		return entities.CloneValue(v)
	}
	if !elementConvertible(v.Shape().Type, t) {
		return nil
	}
	switch t {
	case entities.FieldTypeString:
		if s, ok := text(v); ok {
			return entities.StringValue(s)
		}
	case entities.FieldTypeHTML:
		if s, ok := text(v); ok {
			return entities.HTMLValue(s)
		}
	case entities.FieldTypeNumber:
		if n, ok := number(v); ok {
			return entities.NumberValue(n)
		}
	case entities.FieldTypeDate:
		if d, ok := date(v); ok {
			return entities.DateValue(d)
		}
	}
	return nil
}

func text(v entities.FieldValue) (string, bool) {
	switch x := v.(type) {
	case entities.StringValue:
		return string(x), true
	case entities.HTMLValue:
		return string(x), true
	case entities.NumberValue:
		return strconv.FormatFloat(float64(x), 'f', -1, 64), true
	case entities.DateValue:
		return strconv.FormatInt(int64(x), 10), true
	case entities.BooleanValue:
		return strconv.FormatBool(bool(x)), true
	}
	return "", false
}

func number(v entities.FieldValue) (float64, bool) {
	switch x := v.(type) {
	case entities.NumberValue:
		return float64(x), true
	case entities.DateValue:
		return float64(x), true
	case entities.BooleanValue:
		if x {
			return 1, true
		}
		return 0, true
	case entities.StringValue, entities.HTMLValue:
		s, _ := text(x)
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func date(v entities.FieldValue) (int64, bool) {
	switch x := v.(type) {
	case entities.DateValue:
		return int64(x), true
	case entities.NumberValue:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, false
		}
		return int64(f), true
	case entities.StringValue, entities.HTMLValue:
		s, _ := text(x)
		s = strings.TrimSpace(s)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ms, true
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UnixMilli(), true
		}
	}
	return 0, false
}

// elements returns the elements of a list value as scalar values
func elements(v entities.FieldValue) []entities.FieldValue {
	switch l := v.(type) {
	case entities.StringList:
		return wrapEach(l, func(s string) entities.FieldValue { return entities.StringValue(s) })
	case entities.HTMLList:
		return wrapEach(l, func(s string) entities.FieldValue { return entities.HTMLValue(s) })
	case entities.NumberList:
		return wrapEach(l, func(n float64) entities.FieldValue { return entities.NumberValue(n) })
	case entities.BooleanList:
		return wrapEach(l, func(b bool) entities.FieldValue { return entities.BooleanValue(b) })
	case entities.DateList:
		return wrapEach(l, func(d int64) entities.FieldValue { return entities.DateValue(d) })
	case entities.NodeList:
		return wrapEach(l, func(n entities.NodeRef) entities.FieldValue { return n })
	case entities.MicronodeList:
		return wrapEach(l, func(m entities.MicronodeValue) entities.FieldValue { return entities.CloneValue(m) })
	}
	return nil
}

func wrapEach[T any](l []T, wrap func(T) entities.FieldValue) []entities.FieldValue {
	out := make([]entities.FieldValue, len(l))
	for i, e := range l {
		out[i] = wrap(e)
	}
	return out
}

// buildList assembles scalar elements of type t into the list form of t
func buildList(t entities.FieldType, elems []entities.FieldValue) entities.FieldValue {
	switch t {
	case entities.FieldTypeString:
		return unwrapEach[entities.StringList](elems, func(v entities.FieldValue) string { return string(v.(entities.StringValue)) })
	case entities.FieldTypeHTML:
		return unwrapEach[entities.HTMLList](elems, func(v entities.FieldValue) string { return string(v.(entities.HTMLValue)) })
	case entities.FieldTypeNumber:
		return unwrapEach[entities.NumberList](elems, func(v entities.FieldValue) float64 { return float64(v.(entities.NumberValue)) })
	case entities.FieldTypeBoolean:
		return unwrapEach[entities.BooleanList](elems, func(v entities.FieldValue) bool { return bool(v.(entities.BooleanValue)) })
	case entities.FieldTypeDate:
		return unwrapEach[entities.DateList](elems, func(v entities.FieldValue) int64 { return int64(v.(entities.DateValue)) })
	case entities.FieldTypeNode:
		return unwrapEach[entities.NodeList](elems, func(v entities.FieldValue) entities.NodeRef { return v.(entities.NodeRef) })
	case entities.FieldTypeMicronode:
		return unwrapEach[entities.MicronodeList](elems, func(v entities.FieldValue) entities.MicronodeValue { return v.(entities.MicronodeValue) })
	}
	return nil
}

func unwrapEach[L ~[]E, E any](elems []entities.FieldValue, unwrap func(entities.FieldValue) E) L {
	out := make(L, len(elems))
	for i, e := range elems {
		out[i] = unwrap(e)
	}
	return out
}

// Table renders the strategy of every pair as a text grid, rows are source shapes
func Table() string {
	shapes := entities.Shapes()
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s", "from \\ to")
	for _, to := range shapes {
		fmt.Fprintf(&b, " %-15s", to)
	}
	b.WriteString("\n")
	for _, from := range shapes {
		fmt.Fprintf(&b, "%-16s", from)
		for _, to := range shapes {
			fmt.Fprintf(&b, " %-15s", StrategyFor(from, to))
		}
		b.WriteString("\n")
	}
	return b.String()
}
