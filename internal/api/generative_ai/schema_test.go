package generativeAI

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const testSchemaDoc = `{
  "type": "object",
  "required": ["label"],
  "properties": {
    "label": {"type": "string", "enum": ["A", "B"]},
    "count": {"type": "integer"}
  }
}`

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain object", in: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose around object", in: "Sure! {\"a\":{\"b\":2}} hope this helps", want: `{"a":{"b":2}}`},
		{name: "no object", in: "nothing here", want: "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSONResponse(tt.in))
		})
	}
}

func TestSchema_Validate(t *testing.T) {
	schema, err := NewSchema("test", &genai.Schema{Type: genai.TypeObject}, testSchemaDoc)
	require.NoError(t, err)

	t.Run("valid document", func(t *testing.T) {
		assert.NoError(t, schema.Validate([]byte(`{"label":"A","count":2}`)))
	})

	t.Run("enum violation", func(t *testing.T) {
		err := schema.Validate([]byte(`{"label":"C"}`))
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrInvalidSchema)
	})

	t.Run("missing required field", func(t *testing.T) {
		err := schema.Validate([]byte(`{"count":1}`))
		assert.ErrorIs(t, err, types.ErrInvalidSchema)
	})

	t.Run("not json", func(t *testing.T) {
		err := schema.Validate([]byte(`label: A`))
		assert.ErrorIs(t, err, types.ErrInvalidSchema)
	})
}

func TestNewSchema_InvalidDocument(t *testing.T) {
	_, err := NewSchema("broken", nil, `{"type": 12}`)
	assert.Error(t, err)
	assert.Panics(t, func() { MustSchema("broken", nil, `{"type": 12}`) })
}
