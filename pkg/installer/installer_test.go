package installer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstallWritesPlainFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, ".agpm", "agents", "helper.md")

	sum := Install(context.Background(), []FileInstall{
		{DestPath: dest, Content: []byte("# helper\n")},
	}, nil, nil)

	require.Empty(t, sum.Errors)
	require.Equal(t, []string{dest}, sum.Installed)
	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "# helper\n", string(content))
}

func TestInstallMergesJSONEntry(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, ".mcp.json")

	sum := Install(context.Background(), []FileInstall{
		{
			DestPath:  dest,
			Content:   []byte(`{"type":"stdio","command":"npx"}`),
			MergeKey:  "mcpServers",
			EntryName: "filesystem",
			Marker:    ManagedMarker{Source: "upstream", Version: "v1.0.0", DependencyName: "filesystem"},
		},
	}, nil, nil)

	require.Empty(t, sum.Errors)
	require.Equal(t, []string{dest}, sum.Installed)

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	var root map[string]any
	require.NoError(t, json.Unmarshal(raw, &root))

	servers := root["mcpServers"].(map[string]any)
	entry := servers["filesystem"].(map[string]any)
	require.Equal(t, "npx", entry["command"])
	marker := entry["agpm_metadata"].(map[string]any)
	require.Equal(t, true, marker["managed"])
	require.Equal(t, "upstream", marker["source"])
}

func TestInstallMergePreservesUnrelatedEntries(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, ".mcp.json")
	require.NoError(t, os.WriteFile(dest, []byte(`{"mcpServers":{"manual":{"command":"manual-server"}}}`), 0o644))

	sum := Install(context.Background(), []FileInstall{
		{
			DestPath:  dest,
			Content:   []byte(`{"type":"stdio","command":"npx"}`),
			MergeKey:  "mcpServers",
			EntryName: "filesystem",
			Marker:    ManagedMarker{Source: "upstream"},
		},
	}, nil, nil)
	require.Empty(t, sum.Errors)

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	var root map[string]any
	require.NoError(t, json.Unmarshal(raw, &root))
	servers := root["mcpServers"].(map[string]any)
	require.Contains(t, servers, "manual")
	require.Contains(t, servers, "filesystem")
}

func TestInstallPrunesStalePlainFile(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, ".agpm", "agents", "old.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	sum := Install(context.Background(), nil, []string{stale}, nil)
	require.Empty(t, sum.Errors)
	require.Equal(t, []string{stale}, sum.Pruned)
	require.NoFileExists(t, stale)
}

func TestInstallPrunesOnlyManagedMergedEntry(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, ".mcp.json")
	require.NoError(t, os.WriteFile(dest, []byte(`{
		"mcpServers": {
			"managed-one": {"command": "npx", "agpm_metadata": {"managed": true}},
			"manual": {"command": "manual-server"}
		}
	}`), 0o644))

	stalePath := dest + "::mcpServers::managed-one"
	sum := Install(context.Background(), nil, []string{stalePath}, nil)
	require.Empty(t, sum.Errors)
	require.Equal(t, []string{stalePath}, sum.Pruned)

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	var root map[string]any
	require.NoError(t, json.Unmarshal(raw, &root))
	servers := root["mcpServers"].(map[string]any)
	require.NotContains(t, servers, "managed-one")
	require.Contains(t, servers, "manual", "an entry never stamped with the managed marker must never be pruned")
}

func TestInstallRejectsPathEscapingRoot(t *testing.T) {
	sum := Install(context.Background(), []FileInstall{
		{DestPath: "../escaped.md", Content: []byte("x")},
	}, nil, nil)
	require.Len(t, sum.Errors, 1)
	require.Empty(t, sum.Installed)
}

func TestInstallAggregatesErrorsWithoutAbortingOthers(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.md")
	bad := "../bad.md"

	sum := Install(context.Background(), []FileInstall{
		{DestPath: good, Content: []byte("ok")},
		{DestPath: bad, Content: []byte("nope")},
	}, nil, nil)

	require.Equal(t, []string{good}, sum.Installed)
	require.Len(t, sum.Errors, 1)
}
