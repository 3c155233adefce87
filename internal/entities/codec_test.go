package entities

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFields() map[string]FieldValue {
	return map[string]FieldValue{
		"title":  StringValue("Hello"),
		"body":   HTMLValue("<p>hi</p>"),
		"rating": NumberValue(4.5),
		"public": BooleanValue(true),
		"posted": DateValue(1700000000000),
		"image":  BinaryValue{FileName: "a.png", MimeType: "image/png", Size: 42},
		"parent": NodeRef{UUID: "a1b2"},
		"dates":  DateList{1700000000000, 4711},
		"links":  NodeList{{UUID: "x"}, {UUID: "y"}},
		"teaser": MicronodeValue{
			Microschema: "vcard",
			Fields: map[string]FieldValue{
				"first": StringValue("Ada"),
				"tags":  StringList{"a", "b"},
			},
		},
		"gallery": MicronodeList{
			{Microschema: "image", Fields: map[string]FieldValue{"caption": StringValue("one")}},
		},
	}
}

func TestMarshalFields_PreservesShapes(t *testing.T) {
	fields := sampleFields()

	data, err := MarshalFields(fields)
	require.NoError(t, err)

	decoded, err := UnmarshalFields(data)
	require.NoError(t, err)
	require.Len(t, decoded, len(fields))

	for name, want := range fields {
		got := decoded[name]
		assert.True(t, EqualValues(want, got), "field %s: got %#v, want %#v", name, got, want)
	}
}

func TestFromNative_RejectsShapeMismatch(t *testing.T) {
	tests := []struct {
		name  string
		value any
		shape FieldShape
	}{
		{name: "number into string", value: 1.0, shape: FieldShape{Type: FieldTypeString}},
		{name: "scalar into list", value: "a", shape: FieldShape{Type: FieldTypeString, List: true}},
		{name: "mixed list", value: []any{"a", 1.0}, shape: FieldShape{Type: FieldTypeString, List: true}},
		{name: "string into boolean", value: "true", shape: FieldShape{Type: FieldTypeBoolean}},
		{name: "node without uuid", value: map[string]any{}, shape: FieldShape{Type: FieldTypeNode}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromNative(tt.value, tt.shape)
			assert.Error(t, err)
		})
	}
}

func TestFromNative_Numbers(t *testing.T) {
	v, err := FromNative(int64(4711), FieldShape{Type: FieldTypeDate})
	require.NoError(t, err)
	assert.Equal(t, DateValue(4711), v)

	v, err = FromNative([]any{1, 2.5}, FieldShape{Type: FieldTypeNumber, List: true})
	require.NoError(t, err)
	assert.Equal(t, NumberList{1, 2.5}, v)
}

func TestToNative_MicronodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value FieldValue
	}{
		{name: "typed fields", value: MicronodeValue{Microschema: "person", Fields: map[string]FieldValue{
			"born":   DateValue(4711),
			"bio":    HTMLValue("<p>hi</p>"),
			"rating": NumberValue(4),
			"tags":   StringList{},
			"dates":  DateList{1, 2},
			"photo":  BinaryValue{FileName: "a.png", MimeType: "image/png", Size: 42},
			"friend": NodeRef{UUID: "a1b2"},
		}}},
		{name: "nested list", value: MicronodeList{
			{Microschema: "slide", Fields: map[string]FieldValue{"at": DateValue(1)}},
			{Microschema: "slide", Fields: map[string]FieldValue{"inner": MicronodeValue{
				Microschema: "caption",
				Fields:      map[string]FieldValue{"text": HTMLValue("<b>x</b>")},
			}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromNative(ToNative(tt.value), tt.value.Shape())
			require.NoError(t, err)
			assert.True(t, EqualValues(tt.value, got), "got %#v, want %#v", got, tt.value)
		})
	}
}

func TestFromNative_UntaggedMicronodeFields(t *testing.T) {
	v, err := FromNative(map[string]any{
		"microschema": "vcard",
		"fields":      map[string]any{"first": "Ada", "age": 36},
	}, FieldShape{Type: FieldTypeMicronode})
	require.NoError(t, err)
	m := v.(MicronodeValue)
	assert.Equal(t, StringValue("Ada"), m.Fields["first"])
	assert.Equal(t, NumberValue(36), m.Fields["age"])
}

func TestFromNative_Dates(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    FieldValue
		wantErr bool
	}{
		{name: "int", value: 4711, want: DateValue(4711)},
		{name: "integral float", value: 2.0, want: DateValue(2)},
		{name: "fractional float", value: 1.5, wantErr: true},
		{name: "fractional json number", value: json.Number("1.5"), wantErr: true},
		{name: "out of range", value: 1e19, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromNative(tt.value, FieldShape{Type: FieldTypeDate})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCloneValue_IsDeep(t *testing.T) {
	orig := sampleFields()["teaser"].(MicronodeValue)
	clone := CloneValue(orig).(MicronodeValue)

	clone.Fields["tags"].(StringList)[0] = "changed"
	clone.Fields["first"] = StringValue("Grace")

	assert.Equal(t, StringList{"a", "b"}, orig.Fields["tags"])
	assert.Equal(t, StringValue("Ada"), orig.Fields["first"])
}

func TestLen(t *testing.T) {
	assert.Equal(t, 2, Len(DateList{1, 2}))
	assert.Equal(t, 0, Len(NodeList{}))
	assert.Equal(t, -1, Len(StringValue("x")))
}
