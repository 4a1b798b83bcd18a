package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractMarkdownNoFrontmatter(t *testing.T) {
	ex, err := ExtractMarkdown("file.md", []byte("just a body\n"), nil)
	require.NoError(t, err)
	require.Nil(t, ex.Frontmatter)
	require.Equal(t, "just a body\n", ex.Body)
}

func TestExtractMarkdownWithFrontmatter(t *testing.T) {
	content := "---\nname: reviewer\ndescription: reviews code\ndependencies:\n  - helper.md\n---\nbody text\n"
	ex, err := ExtractMarkdown("file.md", []byte(content), nil)
	require.NoError(t, err)
	require.Equal(t, "reviewer", ex.Frontmatter["name"])
	require.Equal(t, "body text\n", ex.Body)

	deps, ok := ex.Dependencies.([]any)
	require.True(t, ok)
	require.Len(t, deps, 1)
}

func TestExtractMarkdownUnterminatedFence(t *testing.T) {
	_, err := ExtractMarkdown("file.md", []byte("---\nname: x\n"), nil)
	require.Error(t, err, "expected an error for unterminated frontmatter fence")
}

func TestTemplatingOptOut(t *testing.T) {
	content := "---\nagpm:\n  templating: false\n---\n{{ .resource.name }}\n"
	ex, err := ExtractMarkdown("file.md", []byte(content), nil)
	require.NoError(t, err)
	require.False(t, ex.NeedsTemplating, "agpm.templating: false should disable templating")
}

func TestFrontmatterTemplateRendersBeforeParse(t *testing.T) {
	content := "---\npath: \"{{ .Project.language }}/linter.md\"\ndependencies:\n  snippets:\n    - path: helper.md\n---\nbody\n"
	ex, err := ExtractMarkdown("file.md", []byte(content), map[string]any{"language": "rust"})
	require.NoError(t, err)
	require.Equal(t, "rust/linter.md", ex.Frontmatter["path"])
}

func TestFrontmatterTemplateOptOutSkipsRendering(t *testing.T) {
	content := "---\nagpm:\n  templating: false\npath: \"{{ .project.language }}/linter.md\"\n---\nbody\n"
	ex, err := ExtractMarkdown("file.md", []byte(content), map[string]any{"language": "rust"})
	require.NoError(t, err)
	require.Equal(t, "{{ .project.language }}/linter.md", ex.Frontmatter["path"])
}

func TestParseSkill(t *testing.T) {
	dir := t.TempDir()
	skillPath := filepath.Join(dir, "SKILL.md")
	content := "---\nname: reviewer\ndescription: reviews code\n---\nbody\n"
	require.NoError(t, os.WriteFile(skillPath, []byte(content), 0o644))

	s, err := ParseSkill(dir)
	require.NoError(t, err)
	require.True(t, s.Valid)
	require.Equal(t, "reviewer", s.Name)
}
