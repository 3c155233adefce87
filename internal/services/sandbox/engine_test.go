package sandbox

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/fieldshift/internal/entities"
)

var (
	dateList   = entities.FieldShape{Type: entities.FieldTypeDate, List: true}
	stringType = entities.FieldShape{Type: entities.FieldTypeString}
	numberType = entities.FieldShape{Type: entities.FieldTypeNumber}
	dateType   = entities.FieldShape{Type: entities.FieldTypeDate}
	microList  = entities.FieldShape{Type: entities.FieldTypeMicronode, List: true}
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, log.New(io.Discard))
	require.NoError(t, err)
	return e
}

func container(fields map[string]entities.FieldValue) *entities.NodeFieldContainer {
	return &entities.NodeFieldContainer{
		ID:            uuid.New(),
		NodeID:        uuid.New(),
		Language:      "en",
		SchemaName:    "content",
		SchemaVersion: 1,
		Fields:        fields,
	}
}

func bigNumbers(n int) entities.NumberList {
	l := make(entities.NumberList, n)
	for i := range l {
		l[i] = float64(i)
	}
	return l
}

const explosiveScript = `size(node.fields.big.map(a, node.fields.big.map(b, node.fields.big.map(c, a + b + c))))`

func TestRun_ReverseList(t *testing.T) {
	e := newEngine(t, Config{})
	c := container(map[string]entities.FieldValue{
		"dates": entities.DateList{1, 2, 3},
		"title": entities.StringValue("kept"),
	})

	got, err := e.Run(context.Background(), Invocation{
		Script:    `set(node, fieldname, node.fields[fieldname].reverse())`,
		Container: c,
		FieldName: "dates",
		From:      dateList,
		To:        dateList,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.DateList{3, 2, 1}, got)
	assert.Equal(t, entities.DateList{1, 2, 3}, c.Fields["dates"], "script must not modify the input container")
}

func TestRun_ReverseMicronodeListKeepsInnerTypes(t *testing.T) {
	e := newEngine(t, Config{})
	people := entities.MicronodeList{
		{Microschema: "person", Fields: map[string]entities.FieldValue{
			"born": entities.DateValue(4711),
			"bio":  entities.HTMLValue("<p>first</p>"),
			"tags": entities.StringList{},
		}},
		{Microschema: "person", Fields: map[string]entities.FieldValue{
			"born": entities.DateValue(1700000000000),
			"bio":  entities.HTMLValue("<p>second</p>"),
		}},
	}

	got, err := e.Run(context.Background(), Invocation{
		Script:    `set(node, fieldname, node.fields[fieldname].reverse())`,
		Container: container(map[string]entities.FieldValue{"people": people}),
		FieldName: "people",
		From:      microList,
		To:        microList,
	})
	require.NoError(t, err)

	want := entities.MicronodeList{people[1], people[0]}
	assert.True(t, entities.EqualValues(want, got), "got %#v", got)
	list := got.(entities.MicronodeList)
	assert.Equal(t, entities.DateValue(4711), list[1].Fields["born"])
	assert.Equal(t, entities.HTMLValue("<p>first</p>"), list[1].Fields["bio"])
	assert.Equal(t, entities.StringList{}, list[1].Fields["tags"])
}

func TestRun_BareValueResult(t *testing.T) {
	e := newEngine(t, Config{})

	got, err := e.Run(context.Background(), Invocation{
		Script:    `node.fields[fieldname].reverse()`,
		Container: container(map[string]entities.FieldValue{"dates": entities.DateList{1, 2}}),
		FieldName: "dates",
		From:      dateList,
		To:        dateList,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.DateList{2, 1}, got)
}

func TestRun_ConvertUsesDefaultMatrix(t *testing.T) {
	e := newEngine(t, Config{})

	got, err := e.Run(context.Background(), Invocation{
		Script:    `set(node, fieldname, convert(node.fields[fieldname]))`,
		Container: container(map[string]entities.FieldValue{"dates": entities.DateList{1700000000000, 4711}}),
		FieldName: "dates",
		From:      dateList,
		To:        stringType,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StringValue("1700000000000,4711"), got)
}

func TestRun_ReadsContainerMetadata(t *testing.T) {
	e := newEngine(t, Config{})

	got, err := e.Run(context.Background(), Invocation{
		Script:    `node.schema + "/" + node.language + "/" + string(node.version)`,
		Container: container(map[string]entities.FieldValue{}),
		FieldName: "label",
		To:        stringType,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StringValue("content/en/1"), got)
}

func TestRun_MissingFieldYieldsNoValue(t *testing.T) {
	e := newEngine(t, Config{})

	got, err := e.Run(context.Background(), Invocation{
		Script:    `set(node, "other", 1)`,
		Container: container(map[string]entities.FieldValue{}),
		FieldName: "absent",
		To:        numberType,
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		script     string
		fields     map[string]entities.FieldValue
		to         entities.FieldShape
		wantReason Reason
	}{
		{name: "syntax error", script: `node.fields[`, to: stringType, wantReason: ReasonCompile},
		{name: "undeclared host access", script: `System.exit(0)`, to: stringType, wantReason: ReasonCompile},
		{name: "empty script", script: `  `, to: stringType, wantReason: ReasonCompile},
		{name: "exit", script: `exit(1)`, to: stringType, wantReason: ReasonPolicy},
		{name: "quit", script: `quit()`, to: stringType, wantReason: ReasonPolicy},
		{name: "exit in container update", script: `set(node, fieldname, exit(0))`, to: stringType, wantReason: ReasonPolicy},
		{name: "missing key", script: `node.fields.nothing`, to: stringType, wantReason: ReasonRuntime},
		{name: "wrong result type", script: `"abc"`, to: numberType, wantReason: ReasonResult},
		{name: "fractional date", script: `1.5`, to: dateType, wantReason: ReasonResult},
		{
			name:       "timeout",
			cfg:        Config{Timeout: 20 * time.Millisecond},
			script:     explosiveScript,
			fields:     map[string]entities.FieldValue{"big": bigNumbers(400)},
			to:         numberType,
			wantReason: ReasonTimeout,
		},
		{
			name:       "cost limit",
			cfg:        Config{CostLimit: 10000},
			script:     explosiveScript,
			fields:     map[string]entities.FieldValue{"big": bigNumbers(400)},
			to:         numberType,
			wantReason: ReasonPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.cfg)
			fields := tt.fields
			if fields == nil {
				fields = map[string]entities.FieldValue{}
			}

			got, err := e.Run(context.Background(), Invocation{
				Script:    tt.script,
				Container: container(fields),
				FieldName: "target",
				To:        tt.to,
			})
			assert.Nil(t, got)
			var serr *ScriptError
			require.True(t, errors.As(err, &serr), "expected ScriptError, got %v", err)
			assert.Equal(t, tt.wantReason, serr.Reason, "error: %v", serr)
		})
	}
}

func TestRun_TimeoutIsDeadlineExceeded(t *testing.T) {
	e := newEngine(t, Config{})

	_, err := e.Run(context.Background(), Invocation{
		Script:    explosiveScript,
		Container: container(map[string]entities.FieldValue{"big": bigNumbers(400)}),
		FieldName: "big",
		To:        numberType,
		Timeout:   10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidate(t *testing.T) {
	e := newEngine(t, Config{})

	assert.NoError(t, e.Validate(`node.fields[fieldname]`, stringType, stringType))
	assert.Error(t, e.Validate(`node.fields[`, stringType, stringType))
}

func TestRun_ProgramsAreReused(t *testing.T) {
	e := newEngine(t, Config{})
	inv := Invocation{
		Script:    `node.fields[fieldname]`,
		Container: container(map[string]entities.FieldValue{"title": entities.StringValue("x")}),
		FieldName: "title",
		From:      stringType,
		To:        stringType,
	}

	for i := 0; i < 3; i++ {
		_, err := e.Run(context.Background(), inv)
		require.NoError(t, err)
	}
	m := e.programs.Metrics()
	assert.Equal(t, uint64(1), m.KeysAdded)
}
