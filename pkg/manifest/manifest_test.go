package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agpm.toml", `
[sources]
community = { git = "https://example.com/community.git" }

[agents]
reviewer = { path = "agents/reviewer.md", source = "community", version = "^1.0.0" }
local_agent = "local/agent.md"
`)
	m, err := Load(path, "")
	require.NoError(t, err)
	require.Len(t, m.Sources, 1)
	require.Len(t, m.Agents, 2)
	require.Equal(t, "local/agent.md", m.Agents["local_agent"].Path())
	require.Equal(t, "community", m.Agents["reviewer"].Source())
}

func TestValidateRejectsUndefinedSource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agpm.toml", `
[agents]
reviewer = { path = "agents/reviewer.md", source = "missing" }
`)
	_, err := Load(path, "")
	require.Error(t, err, "expected an error for undefined source reference")
}

func TestPrivateOverlayWins(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agpm.toml", `
[sources]
community = { git = "https://example.com/community.git" }

[agents]
reviewer = { path = "agents/reviewer.md", source = "community" }
`)
	privatePath := writeFile(t, dir, "agpm.private.toml", `
[agents]
reviewer = { path = "agents/reviewer-fork.md", source = "community" }
`)
	m, err := Load(path, privatePath)
	require.NoError(t, err)
	require.Equal(t, "agents/reviewer-fork.md", m.Agents["reviewer"].Path(), "private overlay should win")
}

func TestFingerprintStableUnderKeyReordering(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.toml", `
[sources]
community = { git = "https://example.com/community.git" }

[agents]
reviewer = { path = "agents/reviewer.md", source = "community", version = "^1.0.0" }
helper = "local/helper.md"
`)
	b := writeFile(t, dir, "b.toml", `
[agents]
helper = "local/helper.md"
reviewer = { version = "^1.0.0", source = "community", path = "agents/reviewer.md" }

[sources]
community = { git = "https://example.com/community.git" }
`)
	ma, err := Load(a, "")
	require.NoError(t, err)
	mb, err := Load(b, "")
	require.NoError(t, err)
	require.Equal(t, ma.Fingerprint(), mb.Fingerprint(), "fingerprint should be stable under key reordering")
}

func TestFingerprintChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.toml", `
[agents]
helper = "local/helper.md"
`)
	b := writeFile(t, dir, "b.toml", `
[agents]
helper = "local/helper-v2.md"
`)
	ma, err := Load(a, "")
	require.NoError(t, err)
	mb, err := Load(b, "")
	require.NoError(t, err)
	require.NotEqual(t, ma.Fingerprint(), mb.Fingerprint())
}
