package entities

import (
	"maps"
	"slices"
)

// FieldValue is a stored field value. The set of implementations is closed:
// one type per FieldShape.
type FieldValue interface {
	Shape() FieldShape
	fieldValue()
}

type (
	StringValue  string
	HTMLValue    string
	NumberValue  float64
	BooleanValue bool
	// DateValue is a point in time in unix milliseconds
	DateValue int64
)

// BinaryValue describes an uploaded binary
type BinaryValue struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	SHA512   string `json:"sha512sum,omitempty"`
}

// NodeRef references another content node
type NodeRef struct {
	UUID string `json:"uuid"`
}

// MicronodeValue is an embedded micro-document
type MicronodeValue struct {
	Microschema string                `json:"microschema"`
	Fields      map[string]FieldValue `json:"-"`
}

type (
	StringList    []string
	HTMLList      []string
	NumberList    []float64
	BooleanList   []bool
	DateList      []int64
	NodeList      []NodeRef
	MicronodeList []MicronodeValue
)

func (StringValue) Shape() FieldShape    { return FieldShape{Type: FieldTypeString} }
func (HTMLValue) Shape() FieldShape      { return FieldShape{Type: FieldTypeHTML} }
func (NumberValue) Shape() FieldShape    { return FieldShape{Type: FieldTypeNumber} }
func (BooleanValue) Shape() FieldShape   { return FieldShape{Type: FieldTypeBoolean} }
func (DateValue) Shape() FieldShape      { return FieldShape{Type: FieldTypeDate} }
func (BinaryValue) Shape() FieldShape    { return FieldShape{Type: FieldTypeBinary} }
func (NodeRef) Shape() FieldShape        { return FieldShape{Type: FieldTypeNode} }
func (MicronodeValue) Shape() FieldShape { return FieldShape{Type: FieldTypeMicronode} }
func (StringList) Shape() FieldShape     { return FieldShape{Type: FieldTypeString, List: true} }
func (HTMLList) Shape() FieldShape       { return FieldShape{Type: FieldTypeHTML, List: true} }
func (NumberList) Shape() FieldShape     { return FieldShape{Type: FieldTypeNumber, List: true} }
func (BooleanList) Shape() FieldShape    { return FieldShape{Type: FieldTypeBoolean, List: true} }
func (DateList) Shape() FieldShape       { return FieldShape{Type: FieldTypeDate, List: true} }
func (NodeList) Shape() FieldShape       { return FieldShape{Type: FieldTypeNode, List: true} }
func (MicronodeList) Shape() FieldShape  { return FieldShape{Type: FieldTypeMicronode, List: true} }

func (StringValue) fieldValue()    {}
func (HTMLValue) fieldValue()      {}
func (NumberValue) fieldValue()    {}
func (BooleanValue) fieldValue()   {}
func (DateValue) fieldValue()      {}
func (BinaryValue) fieldValue()    {}
func (NodeRef) fieldValue()        {}
func (MicronodeValue) fieldValue() {}
func (StringList) fieldValue()     {}
func (HTMLList) fieldValue()       {}
func (NumberList) fieldValue()     {}
func (BooleanList) fieldValue()    {}
func (DateList) fieldValue()       {}
func (NodeList) fieldValue()       {}
func (MicronodeList) fieldValue()  {}

// Len returns the number of elements of a list value, or -1 for scalars
func Len(v FieldValue) int {
	switch l := v.(type) {
	case StringList:
		return len(l)
	case HTMLList:
		return len(l)
	case NumberList:
		return len(l)
	case BooleanList:
		return len(l)
	case DateList:
		return len(l)
	case NodeList:
		return len(l)
	case MicronodeList:
		return len(l)
	}
	return -1
}

// CloneValue returns a deep copy of v. nil stays nil.
func CloneValue(v FieldValue) FieldValue {
	switch x := v.(type) {
	case nil:
		return nil
	case MicronodeValue:
		return x.clone()
	case StringList:
		return slices.Clone(x)
	case HTMLList:
		return slices.Clone(x)
	case NumberList:
		return slices.Clone(x)
	case BooleanList:
		return slices.Clone(x)
	case DateList:
		return slices.Clone(x)
	case NodeList:
		return slices.Clone(x)
	case MicronodeList:
		out := make(MicronodeList, len(x))
		for i, m := range x {
			out[i] = m.clone()
		}
		return out
	default:
		// remaining scalars are plain values
		return v
	}
}

func (m MicronodeValue) clone() MicronodeValue {
	c := MicronodeValue{Microschema: m.Microschema}
	if m.Fields != nil {
		c.Fields = make(map[string]FieldValue, len(m.Fields))
		for k, fv := range m.Fields {
			c.Fields[k] = CloneValue(fv)
		}
	}
	return c
}

// EqualValues reports deep equality of two field values
func EqualValues(a, b FieldValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Shape() != b.Shape() {
		return false
	}
	switch x := a.(type) {
	case MicronodeValue:
		return x.equal(b.(MicronodeValue))
	case StringList:
		return slices.Equal(x, b.(StringList))
	case HTMLList:
		return slices.Equal(x, b.(HTMLList))
	case NumberList:
		return slices.Equal(x, b.(NumberList))
	case BooleanList:
		return slices.Equal(x, b.(BooleanList))
	case DateList:
		return slices.Equal(x, b.(DateList))
	case NodeList:
		return slices.Equal(x, b.(NodeList))
	case MicronodeList:
		y := b.(MicronodeList)
		return slices.EqualFunc(x, y, MicronodeValue.equal)
	default:
		return a == b
	}
}

func (m MicronodeValue) equal(o MicronodeValue) bool {
	if m.Microschema != o.Microschema {
		return false
	}
	return maps.EqualFunc(m.Fields, o.Fields, EqualValues)
}
