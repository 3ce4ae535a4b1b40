package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	data := map[string]any{
		"State": map[string]any{"topic": "go", "tags": []any{"a", "b"}},
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain text", "no actions here", "no actions here"},
		{"lookup", "topic={{.State.topic}}", "topic=go"},
		{"missing key", "{{.State.nope}}", "<no value>"},
		{"default", `{{default "none" .State.nope}}`, "none"},
		{"join", `{{join "," .State.tags}}`, "a,b"},
		{"json", `{{json .State.tags}}`, `["a","b"]`},
		{"upper", `{{upper .State.topic}}`, "GO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderTemplate(tt.text, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := RenderTemplate(tt.text, data)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestRenderTemplate_SyntaxError(t *testing.T) {
	_, err := RenderTemplate("{{.State.topic", nil)
	require.Error(t, err)
}
