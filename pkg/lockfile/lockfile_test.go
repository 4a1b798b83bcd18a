package lockfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agpm-dev/agpm/pkg/graph"
	"github.com/agpm-dev/agpm/pkg/resource"
)

func TestBuildDeterministicOrder(t *testing.T) {
	simpleA := "b.md"
	simpleB := "a.md"
	g := &graph.Graph{
		Index: map[graph.Identity]int{},
		Nodes: []graph.ResolvedNode{
			{Identity: graph.Identity{Type: resource.Agent, Path: "b.md"}, Name: "b", Dep: resource.Dependency{Simple: &simpleA}},
			{Identity: graph.Identity{Type: resource.Agent, Path: "a.md"}, Name: "a", Dep: resource.Dependency{Simple: &simpleB}},
		},
	}
	lf, err := Build("deadbeef", g, nil, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, lf.Agents, 2)
	require.Equal(t, "a.md", lf.Agents[0].Path)
	require.Equal(t, "b.md", lf.Agents[1].Path)
	require.Equal(t, 2, lf.ResourceCount)
}

func TestBuildRejectsDuplicateIdentity(t *testing.T) {
	simple := "a.md"
	id := graph.Identity{Type: resource.Agent, Path: "a.md"}
	g := &graph.Graph{
		Index: map[graph.Identity]int{},
		Nodes: []graph.ResolvedNode{
			{Identity: id, Name: "a", Dep: resource.Dependency{Simple: &simple}},
			{Identity: id, Name: "a", Dep: resource.Dependency{Simple: &simple}},
		},
	}
	_, err := Build("deadbeef", g, nil, nil, nil, nil)
	require.Error(t, err, "two nodes sharing an identity must be rejected as a fatal lockfile error")
}

func TestBuildRecordsSources(t *testing.T) {
	simple := "a.md"
	g := &graph.Graph{
		Index: map[graph.Identity]int{},
		Nodes: []graph.ResolvedNode{
			{Identity: graph.Identity{Type: resource.Agent, Source: "upstream", Path: "a.md"}, Name: "a", SHA: "abc123", Dep: resource.Dependency{Simple: &simple}},
		},
	}
	lf, err := Build("deadbeef", g, nil, nil, nil, map[string]string{"upstream": "https://example.com/repo.git"})
	require.NoError(t, err)
	require.Len(t, lf.Sources, 1)
	require.Equal(t, "upstream", lf.Sources[0].Name)
	require.Equal(t, "https://example.com/repo.git", lf.Sources[0].URL)
	require.Equal(t, "abc123", lf.Sources[0].FetchedCommit)
}

func TestHasMutableDeps(t *testing.T) {
	lf := &LockFile{Agents: []Entry{{Mutable: false}, {Mutable: true}}}
	require.True(t, lf.anyMutable())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agpm.lock")
	lf := &LockFile{Version: 1, ManifestHash: "abc123", ResourceCount: 1, Agents: []Entry{
		{Type: "agent", Name: "a", Path: "a.md", Checksum: "sum", InstallPath: ".agpm/agents/a.md"},
	}}
	require.NoError(t, Save(path, lf))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "abc123", loaded.ManifestHash)
	require.Len(t, loaded.Agents, 1)
	require.Len(t, loaded.AllEntries(), 1)
}

func TestChecksumDeterministic(t *testing.T) {
	a := Checksum([]byte("hello"))
	b := Checksum([]byte("hello"))
	c := Checksum([]byte("world"))
	require.Equal(t, a, b, "identical content should hash identically")
	require.NotEqual(t, a, c, "different content should hash differently")
}
