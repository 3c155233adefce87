package entities

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// ChangeKind discriminates the atomic schema edits
type ChangeKind string

const (
	KindUpdateContainer ChangeKind = "updateschema"
	KindAddField        ChangeKind = "addfield"
	KindRemoveField     ChangeKind = "removefield"
	KindUpdateField     ChangeKind = "updatefield"
	KindChangeFieldType ChangeKind = "changefieldtype"
)

// Property keys recognized in change property bags
const (
	KeyName                = "name"
	KeyDescription         = "description"
	KeyOrder               = "order"
	KeyDisplayField        = "displayField"
	KeySegmentField        = "segmentField"
	KeyContainer           = "container"
	KeyType                = "type"
	KeyListType            = "listType"
	KeyLabel               = "label"
	KeyRequired            = "required"
	KeyAllowedValues       = "allowedValues"
	KeyAllowedSchemas      = "allowedSchemas"
	KeyAllowedMicroSchemas = "allowedMicroSchemas"
	KeyAllowedMimeTypes    = "allowedMimeTypes"
	KeyMin                 = "min"
	KeyMax                 = "max"
	KeyAfter               = "after"
)

// Opt is an optional attribute. Set distinguishes an explicit null (Set with
// zero Value) from an omitted key.
type Opt[T any] struct {
	Set   bool
	Value T
}

// Some returns a set option
func Some[T any](v T) Opt[T] {
	return Opt[T]{Set: true, Value: v}
}

// Properties is the statically typed attribute set of one change kind
type Properties interface {
	Kind() ChangeKind
	// Bag re-emits the attributes as a property bag; only set attributes appear
	Bag() map[string]any
}

// ContainerUpdate edits container level attributes
type ContainerUpdate struct {
	Name         Opt[string]
	Description  Opt[string]
	Order        Opt[[]string]
	DisplayField Opt[*string]
	SegmentField Opt[*string]
	Container    Opt[bool]
}

// FieldAddition inserts a new field, after the named field when After is set
type FieldAddition struct {
	Field *FieldSchema
	After string
}

// FieldRemoval deletes the target field
type FieldRemoval struct{}

// FieldUpdate overwrites attributes of an existing field. Name renames it.
type FieldUpdate struct {
	Name                Opt[string]
	Label               Opt[*string]
	Required            Opt[bool]
	AllowedValues       Opt[[]string]
	AllowedSchemas      Opt[[]string]
	AllowedMicroSchemas Opt[[]string]
	AllowedMimeTypes    Opt[[]string]
	Min                 Opt[*float64]
	Max                 Opt[*float64]
}

// FieldTypeChange replaces the type and list-ness of a field
type FieldTypeChange struct {
	Type FieldType
	List bool
}

func (ContainerUpdate) Kind() ChangeKind { return KindUpdateContainer }
func (FieldAddition) Kind() ChangeKind   { return KindAddField }
func (FieldRemoval) Kind() ChangeKind    { return KindRemoveField }
func (FieldUpdate) Kind() ChangeKind     { return KindUpdateField }
func (FieldTypeChange) Kind() ChangeKind { return KindChangeFieldType }

func (p ContainerUpdate) Bag() map[string]any {
	bag := map[string]any{}
	putOpt(bag, KeyName, p.Name)
	putOpt(bag, KeyDescription, p.Description)
	putOpt(bag, KeyOrder, p.Order)
	putOptPtr(bag, KeyDisplayField, p.DisplayField)
	putOptPtr(bag, KeySegmentField, p.SegmentField)
	putOpt(bag, KeyContainer, p.Container)
	return bag
}

func (p FieldAddition) Bag() map[string]any {
	bag := map[string]any{}
	f := p.Field
	if f == nil {
		return bag
	}
	putShape(bag, f.Type, f.IsList)
	if f.Required {
		bag[KeyRequired] = true
	}
	if f.Label != nil {
		bag[KeyLabel] = *f.Label
	}
	if f.AllowedValues != nil {
		bag[KeyAllowedValues] = f.AllowedValues
	}
	if f.AllowedSchemas != nil {
		bag[KeyAllowedSchemas] = f.AllowedSchemas
	}
	if f.AllowedMicroSchemas != nil {
		bag[KeyAllowedMicroSchemas] = f.AllowedMicroSchemas
	}
	if f.AllowedMimeTypes != nil {
		bag[KeyAllowedMimeTypes] = f.AllowedMimeTypes
	}
	if f.Min != nil {
		bag[KeyMin] = *f.Min
	}
	if f.Max != nil {
		bag[KeyMax] = *f.Max
	}
	if p.After != "" {
		bag[KeyAfter] = p.After
	}
	return bag
}

func (FieldRemoval) Bag() map[string]any { return map[string]any{} }

func (p FieldUpdate) Bag() map[string]any {
	bag := map[string]any{}
	putOpt(bag, KeyName, p.Name)
	putOptPtr(bag, KeyLabel, p.Label)
	putOpt(bag, KeyRequired, p.Required)
	putOpt(bag, KeyAllowedValues, p.AllowedValues)
	putOpt(bag, KeyAllowedSchemas, p.AllowedSchemas)
	putOpt(bag, KeyAllowedMicroSchemas, p.AllowedMicroSchemas)
	putOpt(bag, KeyAllowedMimeTypes, p.AllowedMimeTypes)
	putOptPtr(bag, KeyMin, p.Min)
	putOptPtr(bag, KeyMax, p.Max)
	return bag
}

func (p FieldTypeChange) Bag() map[string]any {
	bag := map[string]any{}
	putShape(bag, p.Type, p.List)
	return bag
}

func putOpt[T any](bag map[string]any, key string, o Opt[T]) {
	if o.Set {
		bag[key] = o.Value
	}
}

func putOptPtr[T any](bag map[string]any, key string, o Opt[*T]) {
	if !o.Set {
		return
	}
	if o.Value == nil {
		bag[key] = nil
		return
	}
	bag[key] = *o.Value
}

func putShape(bag map[string]any, t FieldType, list bool) {
	if list {
		bag[KeyType] = "list"
		bag[KeyListType] = string(t)
		return
	}
	bag[KeyType] = string(t)
}

// Change is one atomic edit in a change chain
type Change struct {
	// Seq is the position in the chain, assigned by Chain.Append
	Seq       int
	FieldName string
	Props     Properties
	// MigrationScript replaces the default conversion for the target field
	MigrationScript string
}

// Kind returns the change kind
func (c *Change) Kind() ChangeKind {
	return c.Props.Kind()
}

// WithScript attaches a migration script and returns the change
func (c *Change) WithScript(script string) *Change {
	c.MigrationScript = script
	return c
}

// UpdateContainerChange creates a container level change
func UpdateContainerChange(p ContainerUpdate) *Change {
	return &Change{Props: p}
}

// AddFieldChange creates a change adding field f
func AddFieldChange(f *FieldSchema, after string) *Change {
	return &Change{FieldName: f.Name, Props: FieldAddition{Field: f.Clone(), After: after}}
}

// RemoveFieldChange creates a change removing the named field
func RemoveFieldChange(name string) *Change {
	return &Change{FieldName: name, Props: FieldRemoval{}}
}

// UpdateFieldChange creates a change updating attributes of the named field
func UpdateFieldChange(name string, p FieldUpdate) *Change {
	return &Change{FieldName: name, Props: p}
}

// ChangeFieldTypeChange creates a change of the named field's type
func ChangeFieldTypeChange(name string, t FieldType, list bool) *Change {
	return &Change{FieldName: name, Props: FieldTypeChange{Type: t, List: list}}
}

var allowedKeys = map[ChangeKind][]string{
	KindUpdateContainer: {KeyName, KeyDescription, KeyOrder, KeyDisplayField, KeySegmentField, KeyContainer},
	KindAddField: {KeyType, KeyListType, KeyLabel, KeyRequired, KeyAllowedValues, KeyAllowedSchemas,
		KeyAllowedMicroSchemas, KeyAllowedMimeTypes, KeyMin, KeyMax, KeyAfter},
	KindRemoveField: {},
	KindUpdateField: {KeyName, KeyLabel, KeyRequired, KeyAllowedValues, KeyAllowedSchemas,
		KeyAllowedMicroSchemas, KeyAllowedMimeTypes, KeyMin, KeyMax},
	KindChangeFieldType: {KeyType, KeyListType},
}

// NewChange builds a change from a property bag. Unknown keys and ill typed
// values are rejected here, not when the change is applied.
func NewChange(kind ChangeKind, fieldName string, props map[string]any, script string) (*Change, error) {
	keys, ok := allowedKeys[kind]
	if !ok {
		return nil, fmt.Errorf("unknown change kind: %q", kind)
	}
	for _, k := range sortedKeys(props) {
		if !slices.Contains(keys, k) {
			return nil, &PropertyError{Kind: kind, Key: k, Reason: "unknown property"}
		}
	}
	if kind != KindUpdateContainer && fieldName == "" {
		return nil, fmt.Errorf("%s change requires a field name", kind)
	}

	r := propReader{kind: kind, bag: props}
	var p Properties
	switch kind {
	case KindUpdateContainer:
		p = ContainerUpdate{
			Name:         r.str(KeyName),
			Description:  r.str(KeyDescription),
			Order:        r.strs(KeyOrder),
			DisplayField: r.strPtr(KeyDisplayField),
			SegmentField: r.strPtr(KeySegmentField),
			Container:    r.boolean(KeyContainer),
		}
	case KindAddField:
		t, list := r.shape()
		f := &FieldSchema{
			Name:                fieldName,
			Type:                t,
			IsList:              list,
			Required:            r.boolean(KeyRequired).Value,
			Label:               r.strPtr(KeyLabel).Value,
			AllowedValues:       r.strs(KeyAllowedValues).Value,
			AllowedSchemas:      r.strs(KeyAllowedSchemas).Value,
			AllowedMicroSchemas: r.strs(KeyAllowedMicroSchemas).Value,
			AllowedMimeTypes:    r.strs(KeyAllowedMimeTypes).Value,
			Min:                 r.num(KeyMin).Value,
			Max:                 r.num(KeyMax).Value,
		}
		p = FieldAddition{Field: f, After: r.str(KeyAfter).Value}
	case KindRemoveField:
		p = FieldRemoval{}
	case KindUpdateField:
		p = FieldUpdate{
			Name:                r.str(KeyName),
			Label:               r.strPtr(KeyLabel),
			Required:            r.boolean(KeyRequired),
			AllowedValues:       r.strs(KeyAllowedValues),
			AllowedSchemas:      r.strs(KeyAllowedSchemas),
			AllowedMicroSchemas: r.strs(KeyAllowedMicroSchemas),
			AllowedMimeTypes:    r.strs(KeyAllowedMimeTypes),
			Min:                 r.num(KeyMin),
			Max:                 r.num(KeyMax),
		}
	case KindChangeFieldType:
		t, list := r.shape()
		p = FieldTypeChange{Type: t, List: list}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Change{FieldName: fieldName, Props: p, MigrationScript: script}, nil
}

// ChangeRecord is the language neutral representation of a change
type ChangeRecord struct {
	Kind            ChangeKind     `json:"kind" yaml:"kind"`
	FieldName       string         `json:"fieldName,omitempty" yaml:"fieldName,omitempty"`
	Properties      map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	MigrationScript string         `json:"migrationScript,omitempty" yaml:"migrationScript,omitempty"`
}

// Record returns the property bag representation of the change
func (c *Change) Record() ChangeRecord {
	return ChangeRecord{
		Kind:            c.Kind(),
		FieldName:       c.FieldName,
		Properties:      c.Props.Bag(),
		MigrationScript: c.MigrationScript,
	}
}

// Change parses the record
func (r ChangeRecord) Change() (*Change, error) {
	return NewChange(r.Kind, r.FieldName, r.Properties, r.MigrationScript)
}

// MarshalJSON encodes the change as a ChangeRecord
func (c *Change) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Record())
}

// UnmarshalJSON decodes and validates a ChangeRecord
func (c *Change) UnmarshalJSON(data []byte) error {
	var rec ChangeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	parsed, err := rec.Change()
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

// propReader reads typed values out of a property bag, keeping the first error
type propReader struct {
	kind ChangeKind
	bag  map[string]any
	err  error
}

func (r *propReader) fail(key, reason string) {
	if r.err == nil {
		r.err = &PropertyError{Kind: r.kind, Key: key, Reason: reason}
	}
}

func (r *propReader) str(key string) Opt[string] {
	v, ok := r.bag[key]
	if !ok {
		return Opt[string]{}
	}
	if v == nil {
		return Some("")
	}
	s, ok := v.(string)
	if !ok {
		r.fail(key, fmt.Sprintf("expected string, got %T", v))
	}
	return Some(s)
}

func (r *propReader) strPtr(key string) Opt[*string] {
	v, ok := r.bag[key]
	if !ok {
		return Opt[*string]{}
	}
	if v == nil {
		return Some[*string](nil)
	}
	s, ok := v.(string)
	if !ok {
		r.fail(key, fmt.Sprintf("expected string, got %T", v))
		return Opt[*string]{}
	}
	return Some(&s)
}

func (r *propReader) strs(key string) Opt[[]string] {
	v, ok := r.bag[key]
	if !ok {
		return Opt[[]string]{}
	}
	switch l := v.(type) {
	case nil:
		return Some[[]string](nil)
	case []string:
		return Some(slices.Clone(l))
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			s, ok := e.(string)
			if !ok {
				r.fail(key, fmt.Sprintf("expected string elements, got %T", e))
				return Opt[[]string]{}
			}
			out = append(out, s)
		}
		return Some(out)
	case string:
		return Some([]string{l})
	}
	r.fail(key, fmt.Sprintf("expected string list, got %T", v))
	return Opt[[]string]{}
}

func (r *propReader) boolean(key string) Opt[bool] {
	v, ok := r.bag[key]
	if !ok {
		return Opt[bool]{}
	}
	if v == nil {
		return Some(false)
	}
	b, ok := v.(bool)
	if !ok {
		r.fail(key, fmt.Sprintf("expected boolean, got %T", v))
	}
	return Some(b)
}

func (r *propReader) num(key string) Opt[*float64] {
	v, ok := r.bag[key]
	if !ok {
		return Opt[*float64]{}
	}
	if v == nil {
		return Some[*float64](nil)
	}
	f, ok := toFloat(v)
	if !ok {
		r.fail(key, fmt.Sprintf("expected number, got %T", v))
		return Opt[*float64]{}
	}
	return Some(&f)
}

func (r *propReader) shape() (FieldType, bool) {
	typ := r.str(KeyType)
	if !typ.Set || typ.Value == "" {
		r.fail(KeyType, "field type is required")
		return "", false
	}
	if typ.Value == "list" {
		lt := r.str(KeyListType)
		t, err := ParseFieldType(lt.Value)
		if err != nil {
			r.fail(KeyListType, err.Error())
			return "", true
		}
		return t, true
	}
	if _, ok := r.bag[KeyListType]; ok {
		r.fail(KeyListType, "listType is only valid for list fields")
	}
	t, err := ParseFieldType(typ.Value)
	if err != nil {
		r.fail(KeyType, err.Error())
	}
	return t, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
