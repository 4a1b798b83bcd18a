package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderBasic(t *testing.T) {
	ns := Namespaces{Resource: map[string]any{"name": "reviewer"}}
	out, err := Render("f.md", "Hello {{ .Resource.name }}", ns)
	require.NoError(t, err)
	require.Equal(t, "Hello reviewer", out)
}

func TestRenderMissingKeyIsError(t *testing.T) {
	ns := Namespaces{Resource: map[string]any{}}
	_, err := Render("f.md", "{{ .Resource.missing }}", ns)
	require.Error(t, err, "expected an error for an undefined variable")
}

func TestRenderDefaultFilter(t *testing.T) {
	ns := Namespaces{Resource: map[string]any{"title": ""}}
	out, err := Render("f.md", `{{ .Resource.title | default "untitled" }}`, ns)
	require.NoError(t, err)
	require.Equal(t, "untitled", out)
}

func TestSniff(t *testing.T) {
	require.False(t, Sniff("no templates here"))
	require.True(t, Sniff("has {{ .x }} markers"))
}
