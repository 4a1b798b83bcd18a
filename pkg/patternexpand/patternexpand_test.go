package patternexpand

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateDependencyName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"agents/helper.md", "helper"},
		{"agents/nested/helper.md", "nested/helper"},
		{"helper.md", "helper"},
		{"/abs/path/file.md", "abs/path/file"},
		{"../outside/file.md", "../outside/file"},
		{"a/b/c.md", "b/c"},
		{"skills/reviewer/SKILL.md", "reviewer/SKILL"},
		{"file", "file"},
		{"", "unnamed"},
		{".md", "unnamed"},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			require.Equal(t, c.want, GenerateDependencyName(c.in))
		})
	}
}

func TestGenerateDependencyNameWindowsPath(t *testing.T) {
	require.Equal(t, "nested/helper", GenerateDependencyName(`agents\nested\helper.md`))
}
