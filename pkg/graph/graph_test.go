package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agpm-dev/agpm/pkg/manifest"
	"github.com/agpm-dev/agpm/pkg/patternexpand"
	"github.com/agpm-dev/agpm/pkg/resource"
)

type fakeVersions struct{}

func (fakeVersions) ResolveSHA(ctx context.Context, dep resource.Dependency, sourceName string) (string, bool, error) {
	return "", false, nil
}

type fakeMetadata struct {
	transitive map[string][]TransitiveDep
}

func (f fakeMetadata) TransitiveDeps(ctx context.Context, id Identity, dep resource.Dependency, sha string) ([]TransitiveDep, error) {
	return f.transitive[id.Path], nil
}

type fakePatterns struct{}

func (fakePatterns) ExpandPattern(ctx context.Context, source string, dep resource.Dependency) ([]patternexpand.Concrete, error) {
	return nil, nil
}

type fakePaths struct {
	keys map[Identity]string
}

func (f fakePaths) ConflictKey(n ResolvedNode) string {
	if f.keys == nil {
		return ""
	}
	return f.keys[n.Identity]
}

func loadManifest(t *testing.T, content string) *manifest.Manifest {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agpm.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	m, err := manifest.Load(path, "")
	require.NoError(t, err)
	return m
}

func agentDep(path string) TransitiveDep {
	p := path
	return TransitiveDep{Type: resource.Agent, Dep: resource.Dependency{Simple: &p}}
}

func TestResolveFlattensTransitiveDeps(t *testing.T) {
	m := loadManifest(t, "[agents]\nmain = \"main.md\"\n")
	r := &Resolver{
		Versions: fakeVersions{},
		Metadata: fakeMetadata{transitive: map[string][]TransitiveDep{
			"main.md": {agentDep("helper.md")},
		}},
		Patterns: fakePatterns{},
	}
	g, err := r.Resolve(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)

	mainIdx, ok := g.Index[Identity{Type: resource.Agent, Path: "main.md"}]
	require.True(t, ok, "expected main.md to be resolved")
	require.Len(t, g.Nodes[mainIdx].Dependencies, 1)
}

func TestResolveTaggedTransitiveDepUsesDeclaredType(t *testing.T) {
	m := loadManifest(t, "[agents]\nmain = \"main.md\"\n")
	snippetPath := "shared.md"
	r := &Resolver{
		Versions: fakeVersions{},
		Metadata: fakeMetadata{transitive: map[string][]TransitiveDep{
			"main.md": {{Type: resource.Snippet, Dep: resource.Dependency{Simple: &snippetPath}}},
		}},
		Patterns: fakePatterns{},
	}
	g, err := r.Resolve(context.Background(), m)
	require.NoError(t, err)

	_, ok := g.Index[Identity{Type: resource.Snippet, Path: "shared.md"}]
	require.True(t, ok, "a transitive dependency must be keyed under its own declared type, not its parent's")
	_, ok = g.Index[Identity{Type: resource.Agent, Path: "shared.md"}]
	require.False(t, ok)
}

func TestResolveDetectsCycle(t *testing.T) {
	m := loadManifest(t, "[agents]\nmain = \"main.md\"\n")
	r := &Resolver{
		Versions: fakeVersions{},
		Metadata: fakeMetadata{transitive: map[string][]TransitiveDep{
			"main.md": {agentDep("main.md")},
		}},
		Patterns: fakePatterns{},
	}
	_, err := r.Resolve(context.Background(), m)
	require.Error(t, err, "expected a cycle error")
}

func TestResolveDedupsSharedDependency(t *testing.T) {
	m := loadManifest(t, "[agents]\na = \"a.md\"\nb = \"b.md\"\n")
	r := &Resolver{
		Versions: fakeVersions{},
		Metadata: fakeMetadata{transitive: map[string][]TransitiveDep{
			"a.md": {agentDep("shared.md")},
			"b.md": {agentDep("shared.md")},
		}},
		Patterns: fakePatterns{},
	}
	g, err := r.Resolve(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 3, "expected 3 distinct nodes (a, b, shared)")
}

func TestResolveRejectsInstallPathConflict(t *testing.T) {
	m := loadManifest(t, "[agents]\na = \"a.md\"\nb = \"b.md\"\n")
	r := &Resolver{
		Versions: fakeVersions{},
		Metadata: fakeMetadata{},
		Patterns: fakePatterns{},
		Paths: fakePaths{keys: map[Identity]string{
			{Type: resource.Agent, Path: "a.md"}: "same/dest.md",
			{Type: resource.Agent, Path: "b.md"}: "same/dest.md",
		}},
	}
	_, err := r.Resolve(context.Background(), m)
	require.Error(t, err, "two distinct identities resolving to the same install path must be rejected")
}

func TestResolveAllowsSharedConflictKeyForSameIdentity(t *testing.T) {
	m := loadManifest(t, "[agents]\na = \"a.md\"\n")
	r := &Resolver{
		Versions: fakeVersions{},
		Metadata: fakeMetadata{},
		Patterns: fakePatterns{},
		Paths: fakePaths{keys: map[Identity]string{
			{Type: resource.Agent, Path: "a.md"}: "same/dest.md",
		}},
	}
	g, err := r.Resolve(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
}

func TestResolvePreSyncsTopLevelItemsOnce(t *testing.T) {
	m := loadManifest(t, "[agents]\na = \"a.md\"\nb = \"b.md\"\n")
	ps := &recordingPreSyncer{}
	r := &Resolver{
		Versions: fakeVersions{},
		Metadata: fakeMetadata{},
		Patterns: fakePatterns{},
		PreSync:  ps,
	}
	_, err := r.Resolve(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, 1, ps.calls)
	require.Len(t, ps.lastItems, 2)
}

type recordingPreSyncer struct {
	calls     int
	lastItems []PreSyncItem
}

func (p *recordingPreSyncer) PreSync(ctx context.Context, items []PreSyncItem) error {
	p.calls++
	p.lastItems = items
	return nil
}

func TestResolveReusesPreviousNodeWithoutReResolving(t *testing.T) {
	m := loadManifest(t, "[agents]\na = \"a.md\"\n")
	id := Identity{Type: resource.Agent, Path: "a.md"}
	r := &Resolver{
		Versions: explodingVersions{},
		Metadata: fakeMetadata{},
		Patterns: fakePatterns{},
		Previous: map[Identity]ResolvedNode{
			id: {Identity: id, Name: "a", SHA: "cached-sha"},
		},
	}
	g, err := r.Resolve(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	require.Equal(t, "cached-sha", g.Nodes[0].SHA)
}

type explodingVersions struct{}

func (explodingVersions) ResolveSHA(ctx context.Context, dep resource.Dependency, sourceName string) (string, bool, error) {
	panic("ResolveSHA must not be called for a node served from Previous")
}

func TestDependencyRefFormat(t *testing.T) {
	n := ResolvedNode{Identity: Identity{Type: resource.Agent, Path: "a.md"}, Name: "a", SHA: "abc123"}
	require.Equal(t, "agents/a@abc123", n.DependencyRef())

	version := "^1.0"
	n.Dep = resource.Dependency{Detailed: &resource.DetailedDependency{Version: version}}
	require.Equal(t, "agents/a@^1.0", n.DependencyRef())
}
