// Package graph resolves a manifest's dependency declarations (plus their
// transitive, metadata-declared dependencies) into a flat, deduplicated
// list of ResolvedNode values.
//
// Representation follows the arena-plus-index design: nodes live in a
// single []ResolvedNode arena, addressed by integer index; a
// map[Identity]int gives O(1) dedup lookup. Edges are recorded as
// Identity values, not pointers, so nothing outside this package ever
// holds a live reference into the arena — the same "no pointers across
// package boundaries" shape the teacher's own ImportLockFile uses for its
// flat entry list.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/agpm-dev/agpm/pkg/engineerr"
	"github.com/agpm-dev/agpm/pkg/logger"
	"github.com/agpm-dev/agpm/pkg/manifest"
	"github.com/agpm-dev/agpm/pkg/patternexpand"
	"github.com/agpm-dev/agpm/pkg/resource"
)

var log = logger.New("graph")

// Identity uniquely addresses a resolved node: the tuple the spec's §3
// Identity type names, reused verbatim as a Go struct so it can be a map key.
type Identity struct {
	Type   resource.Type
	Source string
	Path   string
	Tool   string
}

// ResolvedNode is one fully-resolved dependency: its identity, the concrete
// commit/content it resolved to, and the identities of its dependencies.
type ResolvedNode struct {
	Identity     Identity
	Name         string // canonical dependency name (see patternexpand.GenerateDependencyName)
	SHA          string // empty for local/url sources
	Mutable      bool
	Dependencies []Identity
	Dep          resource.Dependency
}

// VersionLabel returns the version component of a dependency reference:
// rev, then branch, then version constraint, then the resolved SHA, falling
// back to "HEAD" when none apply (§4.7 precedence).
func (n ResolvedNode) VersionLabel() string {
	if n.Dep.Detailed != nil {
		switch {
		case n.Dep.Detailed.Rev != "":
			return n.Dep.Detailed.Rev
		case n.Dep.Detailed.Branch != "":
			return n.Dep.Detailed.Branch
		case n.Dep.Detailed.Version != "":
			return n.Dep.Detailed.Version
		}
	}
	if n.SHA != "" {
		return n.SHA
	}
	return "HEAD"
}

// DependencyRef formats the node as a lockfile dependency reference:
// "<plural-type>/<canonical-name>@<version>".
func (n ResolvedNode) DependencyRef() string {
	return fmt.Sprintf("%s/%s@%s", n.Identity.Type.Plural(), n.Name, n.VersionLabel())
}

// Graph is the arena-plus-index result of a resolve: Nodes is addressed by
// the integer values stored in Index.
type Graph struct {
	Nodes []ResolvedNode
	Index map[Identity]int
}

// VersionResolver resolves a dependency's declared version constraint
// against its source to a concrete commit, satisfied by pkg/version+pkg/sourcecache.
type VersionResolver interface {
	ResolveSHA(ctx context.Context, source resource.Dependency, sourceName string) (sha string, mutable bool, err error)
}

// PreSyncer optionally pre-resolves a batch of top-level dependency version
// groups in parallel before the sequential worklist walk begins, so
// dependencies that share a (source, version_key) group (§4.6 step 2) are
// fetched once rather than once per dependency. Resolve calls it at most
// once, with every top-level (post pattern-expansion) dependency; a nil
// Resolver.PreSync skips pre-sync entirely and resolves lazily per item.
type PreSyncer interface {
	PreSync(ctx context.Context, items []PreSyncItem) error
}

// PreSyncItem is one dependency offered to a PreSyncer.
type PreSyncItem struct {
	Dep        resource.Dependency
	SourceName string
}

// TransitiveDep is one dependency declared in a resolved file's own
// metadata, tagged with the resource type its plural key in the
// `dependencies` table declared (§4.5), which may differ from its parent's
// type (e.g. an agent pulling in a snippet).
type TransitiveDep struct {
	Type resource.Type
	Dep  resource.Dependency
}

// MetadataResolver extracts a resolved file's transitive dependency
// declarations, satisfied by pkg/metadata plus a path-to-content reader.
// sha is the parent's resolved commit, needed to read remote content from
// the matching worktree rather than the local project root.
type MetadataResolver interface {
	TransitiveDeps(ctx context.Context, node Identity, dep resource.Dependency, sha string) ([]TransitiveDep, error)
}

// PatternResolver expands a glob-pattern dependency into concrete file paths.
type PatternResolver interface {
	ExpandPattern(ctx context.Context, source string, dep resource.Dependency) ([]patternexpand.Concrete, error)
}

// PathResolver computes a node's install-path conflict key, used by Resolve
// to reject two distinct identities that would write the same destination
// (§4.6 step 4, testable property #3).
type PathResolver interface {
	ConflictKey(n ResolvedNode) string
}

// Resolver walks a manifest's declared dependencies (and their transitive
// metadata-declared dependencies) to a complete Graph.
type Resolver struct {
	Versions VersionResolver
	Metadata MetadataResolver
	Patterns PatternResolver
	// PreSync, if set, is invoked once with every top-level dependency
	// before the worklist walk starts.
	PreSync PreSyncer
	// Paths, if set, enables install-path conflict detection after the
	// graph is built.
	Paths PathResolver
	// Previous, if set, lets a node whose Identity appears in it reuse the
	// recorded SHA and mutability instead of re-running version resolution
	// (incremental update, see SPEC_FULL.md §10); its declaration and
	// transitive dependencies are still read afresh.
	Previous map[Identity]ResolvedNode
}

type workItem struct {
	id   Identity
	name string
	dep  resource.Dependency
}

// Resolve walks every declared dependency in m (and their transitive
// metadata-declared dependencies) to a complete, deduplicated Graph.
//
// Each top-level declaration starts a depth-first walk with its own
// ancestor set: a node still "in progress" (on the current ancestor
// chain) that reappears as one of its own descendants is a genuine
// cycle (A depending, directly or transitively, on itself) and is
// rejected, per the cycle invariant names in the spec. A node that is
// merely shared between two independent branches (the common case —
// two resources both pulling in the same snippet) is not an ancestor of
// itself and dedups cleanly via g.Index instead.
func (r *Resolver) Resolve(ctx context.Context, m *manifest.Manifest) (*Graph, error) {
	g := &Graph{Index: map[Identity]int{}}

	var allItems []workItem
	for _, t := range resource.AllTypes() {
		names := sortedSectionNames(m.Section(t))
		for _, name := range names {
			dep := m.Section(t)[name]
			items, err := r.expandToWorkItems(ctx, t, name, dep)
			if err != nil {
				return nil, err
			}
			allItems = append(allItems, items...)
		}
	}

	if r.PreSync != nil {
		psItems := make([]PreSyncItem, 0, len(allItems))
		for _, it := range allItems {
			psItems = append(psItems, PreSyncItem{Dep: it.dep, SourceName: it.id.Source})
		}
		if err := r.PreSync.PreSync(ctx, psItems); err != nil {
			return nil, err
		}
	}

	for _, item := range allItems {
		if err := r.resolveDFS(ctx, g, item, map[Identity]bool{}); err != nil {
			return nil, err
		}
	}

	// A node that is also a direct manifest entry takes that entry's key as
	// its name, even when a transitive reference reached it first.
	for _, item := range allItems {
		if idx, ok := g.Index[item.id]; ok {
			g.Nodes[idx].Name = item.name
		}
	}

	sortGraph(g)

	if r.Paths != nil {
		if err := checkInstallPathConflicts(g, r.Paths); err != nil {
			return nil, err
		}
	}

	log.Printf("resolved %d nodes", len(g.Nodes))
	return g, nil
}

func (r *Resolver) resolveDFS(ctx context.Context, g *Graph, item workItem, ancestors map[Identity]bool) error {
	if _, ok := g.Index[item.id]; ok {
		return nil // already fully resolved via another branch
	}
	if ancestors[item.id] {
		return engineerr.New(engineerr.KindCycle, item.id.Path, fmt.Sprintf("dependency cycle detected at %s", item.id.Path))
	}
	ancestors[item.id] = true
	defer delete(ancestors, item.id)

	node, children, err := r.resolveOne(ctx, item)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := r.resolveDFS(ctx, g, child, ancestors); err != nil {
			return err
		}
	}

	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, *node)
	g.Index[item.id] = idx
	return nil
}

func (r *Resolver) expandToWorkItems(ctx context.Context, t resource.Type, name string, dep resource.Dependency) ([]workItem, error) {
	if !isPattern(dep.Path()) {
		id := Identity{Type: t, Source: dep.Source(), Path: dep.Path(), Tool: toolOf(dep)}
		return []workItem{{id: id, name: name, dep: dep}}, nil
	}
	concretes, err := r.Patterns.ExpandPattern(ctx, dep.Source(), dep)
	if err != nil {
		return nil, engineerr.New(engineerr.KindPatternExpand, dep.Path(), err.Error())
	}
	items := make([]workItem, 0, len(concretes))
	for _, c := range concretes {
		d := dep
		if d.Detailed != nil {
			cp := *d.Detailed
			cp.Path = c.Path
			d.Detailed = &cp
		} else {
			p := c.Path
			d.Simple = &p
		}
		id := Identity{Type: t, Source: dep.Source(), Path: c.Path, Tool: toolOf(dep)}
		items = append(items, workItem{id: id, name: c.Name, dep: d})
	}
	return items, nil
}

func (r *Resolver) resolveOne(ctx context.Context, item workItem) (*ResolvedNode, []workItem, error) {
	var sha string
	var mutable bool
	if prev, ok := r.previousFor(item); ok {
		sha, mutable = prev.SHA, prev.Mutable
	} else {
		var err error
		sha, mutable, err = r.Versions.ResolveSHA(ctx, item.dep, item.id.Source)
		if err != nil {
			return nil, nil, err
		}
	}

	transitiveDeps, err := r.Metadata.TransitiveDeps(ctx, item.id, item.dep, sha)
	if err != nil {
		return nil, nil, engineerr.New(engineerr.KindMetadata, item.id.Path, err.Error())
	}

	node := &ResolvedNode{
		Identity: item.id,
		Name:     item.name,
		SHA:      sha,
		Mutable:  mutable,
		Dep:      item.dep,
	}

	var work []workItem
	for _, td := range transitiveDeps {
		source := td.Dep.Source()
		if source == "" {
			source = item.id.Source // inherit the parent's source when undeclared
		}
		tid := Identity{Type: td.Type, Source: source, Path: td.Dep.Path(), Tool: toolOf(td.Dep)}
		tname := patternexpand.GenerateDependencyName(td.Dep.Path())
		node.Dependencies = append(node.Dependencies, tid)
		work = append(work, workItem{id: tid, name: tname, dep: td.Dep})
	}
	return node, work, nil
}

func (r *Resolver) previousFor(item workItem) (ResolvedNode, bool) {
	if r.Previous == nil {
		return ResolvedNode{}, false
	}
	prev, ok := r.Previous[item.id]
	return prev, ok
}

// checkInstallPathConflicts rejects a graph in which two distinct identities
// would resolve to the same ConflictKey (§4.6 step 4, testable property #3).
// Nodes that merge into a shared target file by design (hooks, mcp servers)
// are expected to collide on destination path alone, so PathResolver
// implementations fold the merge-entry name into the key for those types.
func checkInstallPathConflicts(g *Graph, paths PathResolver) error {
	seen := map[string]Identity{}
	for _, n := range g.Nodes {
		key := paths.ConflictKey(n)
		if key == "" {
			continue
		}
		if other, ok := seen[key]; ok && other != n.Identity {
			return engineerr.New(engineerr.KindConflict, key,
				fmt.Sprintf("%s and %s both install to %s", other.Path, n.Identity.Path, key))
		}
		seen[key] = n.Identity
	}
	return nil
}

func toolOf(dep resource.Dependency) string {
	if dep.Detailed != nil {
		return dep.Detailed.Tool
	}
	return ""
}

func isPattern(path string) bool {
	for _, c := range path {
		if c == '*' || c == '?' || c == '[' {
			return true
		}
	}
	return false
}

func sortedSectionNames(section map[string]resource.Dependency) []string {
	names := make([]string, 0, len(section))
	for name := range section {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortGraph(g *Graph) {
	sort.Slice(g.Nodes, func(i, j int) bool {
		a, b := g.Nodes[i].Identity, g.Nodes[j].Identity
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Path < b.Path
	})
	for i, n := range g.Nodes {
		g.Index[n.Identity] = i
	}
}
