// Package engine is the public orchestration facade: it wires the
// manifest, source cache, version resolver, pattern expander, metadata
// extractor, graph resolver, patch engine, template renderer, lockfile
// builder, installer, and fast-path detector into a small set of
// operations (Resolve, Install, Validate).
//
// Grounded on other_examples/129fd906_bianoble-agent-sync's
// pkg/agentsync.Client: a facade loading config+lockfile once per
// operation and delegating to an internal engine struct per concern.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/agpm-dev/agpm/pkg/constants"
	"github.com/agpm-dev/agpm/pkg/engineerr"
	"github.com/agpm-dev/agpm/pkg/fastpath"
	"github.com/agpm-dev/agpm/pkg/graph"
	"github.com/agpm-dev/agpm/pkg/installer"
	"github.com/agpm-dev/agpm/pkg/lockfile"
	"github.com/agpm-dev/agpm/pkg/logger"
	"github.com/agpm-dev/agpm/pkg/manifest"
	"github.com/agpm-dev/agpm/pkg/mcpconfig"
	"github.com/agpm-dev/agpm/pkg/metadata"
	"github.com/agpm-dev/agpm/pkg/patch"
	"github.com/agpm-dev/agpm/pkg/patternexpand"
	"github.com/agpm-dev/agpm/pkg/resource"
	"github.com/agpm-dev/agpm/pkg/sourcecache"
	tmpl "github.com/agpm-dev/agpm/pkg/template"
	"github.com/agpm-dev/agpm/pkg/version"
)

var log = logger.New("engine")

// Options configures a Client.
type Options struct {
	ProjectRoot     string
	ManifestPath    string // default: <ProjectRoot>/agpm.toml
	PrivateManifest string // default: <ProjectRoot>/agpm.private.toml
	LockfilePath    string // default: <ProjectRoot>/agpm.lock
	CacheDir        string // default: sourcecache.DefaultDir()
	Credentials     sourcecache.CredentialProvider
}

// Client is the main entry point for the agpm engine library.
type Client struct {
	root         string
	manifestPath string
	privatePath  string
	lockPath     string
	cache        *sourcecache.Cache
}

// New creates a Client rooted at opts.ProjectRoot.
func New(opts Options) (*Client, error) {
	root := opts.ProjectRoot
	if root == "" {
		root = "."
	}
	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(root, constants.ManifestFileName)
	}
	privatePath := opts.PrivateManifest
	if privatePath == "" {
		privatePath = filepath.Join(root, constants.PrivateManifestFileName)
	}
	lockPath := opts.LockfilePath
	if lockPath == "" {
		lockPath = filepath.Join(root, constants.LockFileName)
	}
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = sourcecache.DefaultDir()
	}

	cache, err := sourcecache.New(cacheDir, opts.Credentials)
	if err != nil {
		return nil, err
	}

	return &Client{root: root, manifestPath: manifestPath, privatePath: privatePath, lockPath: lockPath, cache: cache}, nil
}

func (c *Client) loadManifest() (*manifest.Manifest, error) {
	return manifest.Load(c.manifestPath, c.privatePath)
}

func (c *Client) loadLockfile() *lockfile.LockFile {
	lf, err := lockfile.Load(c.lockPath)
	if err != nil {
		return nil
	}
	return lf
}

// ResolveOptions configures a Resolve (or Install) call.
type ResolveOptions struct {
	// Frozen disables re-resolution on a fingerprint mismatch: the fast
	// path is still taken whenever the manifest is unchanged, but a real
	// mismatch is a hard error instead of triggering a fresh resolve.
	Frozen bool
}

// ResolveResult is the outcome of a resolve.
type ResolveResult struct {
	Lockfile *lockfile.LockFile
	Graph    *graph.Graph
	Manifest *manifest.Manifest
	FastPath bool
}

// Resolve loads the manifest, applies the fast-path check, and otherwise
// runs the full graph resolution, returning a freshly-built lockfile.
func (c *Client) Resolve(ctx context.Context, opts ResolveOptions) (*ResolveResult, error) {
	m, err := c.loadManifest()
	if err != nil {
		return nil, err
	}
	existing := c.loadLockfile()

	if fastpath.Eligible(m, existing) {
		log.Print("fast path: manifest unchanged, reusing lockfile")
		return &ResolveResult{Lockfile: existing, Manifest: m, FastPath: true}, nil
	}
	if opts.Frozen {
		return nil, engineerr.New(engineerr.KindLockfile, c.lockPath, "manifest changed but --frozen forbids re-resolution")
	}

	resolver := c.newResolver(m)
	if existing != nil {
		resolver.Previous = previousNodesOf(existing)
	}
	g, err := resolver.Resolve(ctx, m)
	if err != nil {
		return nil, err
	}

	lf, err := lockfile.Build(m.Fingerprint(), g, nil, nil, nil, sourceURLsOf(m))
	if err != nil {
		return nil, err
	}
	return &ResolveResult{Lockfile: lf, Graph: g, Manifest: m}, nil
}

// Install resolves (or reuses the fast path) and writes every resolved
// dependency to the project tree, returning an install Summary.
func (c *Client) Install(ctx context.Context, opts ResolveOptions) (*installer.Summary, error) {
	res, err := c.Resolve(ctx, opts)
	if err != nil {
		return nil, err
	}

	if res.FastPath {
		installs, err := c.installsFromLockfile(ctx, res.Manifest, res.Lockfile)
		if err != nil {
			return nil, err
		}
		sum := installer.Install(ctx, installs, previousInstallPaths(c.root, res.Lockfile), nil)
		return sum, nil
	}

	installs, checksums, installPaths, err := c.installsFromGraph(ctx, res.Manifest, res.Graph)
	if err != nil {
		return nil, err
	}
	previous := c.loadLockfile()
	sum := installer.Install(ctx, installs, previousInstallPaths(c.root, previous), nil)

	lf, err := lockfile.Build(res.Lockfile.ManifestHash, res.Graph, installPaths, checksums, nil, sourceURLsOf(res.Manifest))
	if err != nil {
		return nil, err
	}
	if err := lockfile.Save(c.lockPath, lf); err != nil {
		return nil, err
	}
	return sum, nil
}

// ValidationReport is the structured output of Validate, per
// SPEC_FULL.md §10's supplemented `validate` diagnostics mode.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate checks manifest and lockfile consistency without resolving or
// installing anything: malformed TOML, dangling source references, and a
// manifest/lockfile fingerprint mismatch (reported as a warning, not an error).
func (c *Client) Validate(ctx context.Context) *ValidationReport {
	report := &ValidationReport{Valid: true}
	m, err := c.loadManifest()
	if err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	if lf := c.loadLockfile(); lf != nil {
		if lf.ManifestHash != m.Fingerprint() {
			report.Warnings = append(report.Warnings, "lockfile is stale relative to the manifest")
		}
	} else {
		report.Warnings = append(report.Warnings, "no lockfile present")
	}
	return report
}

// sourceURLsOf maps every declared source name to its remote, for the
// lockfile's `[[sources]]` array.
func sourceURLsOf(m *manifest.Manifest) map[string]string {
	out := make(map[string]string, len(m.Sources))
	for name, s := range m.Sources {
		switch {
		case s.Git != "":
			out[name] = s.Git
		case s.URL != "":
			out[name] = s.URL
		default:
			out[name] = s.Path
		}
	}
	return out
}

// previousNodesOf turns a stale lockfile's entries into the resolver's
// incremental-update seed: only pinned (non-mutable) entries are offered,
// since those resolve to the same SHA deterministically on every run, so
// reusing them skips redundant version resolution without risking a
// stale result for anything that could actually have moved (a branch head).
func previousNodesOf(lf *lockfile.LockFile) map[graph.Identity]graph.ResolvedNode {
	out := map[graph.Identity]graph.ResolvedNode{}
	for _, e := range lf.AllEntries() {
		if e.Mutable {
			continue
		}
		id := graph.Identity{Type: resource.Type(e.Type), Source: e.Source, Path: e.Path, Tool: e.Tool}
		// Dependencies are left empty here: the resolver takes only the SHA
		// and mutability from a reused node, and still re-reads its
		// declaration and transitive dependencies, so nothing is dropped
		// from the graph.
		out[id] = graph.ResolvedNode{Identity: id, Name: e.Name, SHA: e.SHA, Mutable: e.Mutable}
	}
	return out
}

// previousInstallPaths returns a lockfile's recorded install paths joined
// onto root, the same form installer.Install records for what it installs.
func previousInstallPaths(root string, lf *lockfile.LockFile) []string {
	if lf == nil {
		return nil
	}
	entries := lf.AllEntries()
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(root, e.InstallPath))
	}
	return paths
}

// installsFromLockfile re-reads already-resolved content straight from the
// source cache worktrees recorded in the lockfile (fast path: no
// re-resolution, just re-materializing files) and re-runs it through the
// same patch+template pipeline installsFromGraph uses, so a fast-path
// install never regresses to writing unpatched/unrendered content. Since a
// lockfile Entry doesn't retain the original dependency declaration, only
// manifest-level patches (ProjectPatchFor/PrivatePatchFor) apply here; a
// dependency's own inline `patch` table only takes effect on a full resolve.
func (c *Client) installsFromLockfile(ctx context.Context, m *manifest.Manifest, lf *lockfile.LockFile) ([]installer.FileInstall, error) {
	var out []installer.FileInstall
	for _, e := range lf.AllEntries() {
		raw, err := c.readEntryContent(ctx, e)
		if err != nil {
			return nil, engineerr.New(engineerr.KindInstall, e.Path, err.Error())
		}

		t := resource.Type(e.Type)
		mergeKey := mergeKeyFor(t)
		node := graph.ResolvedNode{Identity: graph.Identity{Type: t, Source: e.Source, Path: e.Path}, Name: e.Name}
		content, err := contentFor(node, m, raw, mergeKey)
		if err != nil {
			return nil, err
		}

		idx := strings.Index(e.InstallPath, "::")
		if idx < 0 || mergeKey == "" {
			dest := e.InstallPath
			if idx >= 0 {
				dest = e.InstallPath[:idx]
			}
			out = append(out, installer.FileInstall{DestPath: filepath.Join(c.root, dest), Content: content})
			continue
		}

		parts := strings.SplitN(e.InstallPath[idx+2:], "::", 2)
		if len(parts) != 2 {
			out = append(out, installer.FileInstall{DestPath: filepath.Join(c.root, e.InstallPath[:idx]), Content: content})
			continue
		}
		out = append(out, installer.FileInstall{
			DestPath:  filepath.Join(c.root, e.InstallPath[:idx]),
			Content:   content,
			MergeKey:  parts[0],
			EntryName: parts[1],
			Marker:    markerFor(e, m),
		})
	}
	return out, nil
}

func (c *Client) readEntryContent(ctx context.Context, e lockfile.Entry) ([]byte, error) {
	if e.Source == "" {
		return os.ReadFile(filepath.Join(c.root, e.Path))
	}
	wtDir, err := c.cache.EnsureWorktree(ctx, e.Source, e.SHA)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(wtDir, e.Path))
}

func markerFor(e lockfile.Entry, m *manifest.Manifest) installer.ManagedMarker {
	version := e.SHA
	if version == "" {
		version = "HEAD"
	}
	return installer.ManagedMarker{
		Managed:        true,
		Source:         e.Source,
		Version:        version,
		InstalledAt:    time.Now().UTC().Format(time.RFC3339),
		DependencyName: e.Name,
	}
}

// installsFromGraph resolves each node's content (reading from the
// worktree, applying patches, then rendering templates or, for merge-routed
// types, marshaling the merged frontmatter into the JSON a hook/MCP-server
// merge target expects) into a FileInstall.
func (c *Client) installsFromGraph(ctx context.Context, m *manifest.Manifest, g *graph.Graph) ([]installer.FileInstall, map[graph.Identity]string, map[graph.Identity]string, error) {
	installs := make([]installer.FileInstall, 0, len(g.Nodes))
	checksums := map[graph.Identity]string{}
	installPaths := map[graph.Identity]string{}

	for _, n := range g.Nodes {
		raw, err := c.readNodeContent(ctx, n)
		if err != nil {
			return nil, nil, nil, err
		}

		dest, mergeKey, entryName := installDestination(c.root, m, n)

		content, err := contentFor(n, m, raw, mergeKey)
		if err != nil {
			return nil, nil, nil, err
		}

		checksums[n.Identity] = lockfile.Checksum(content)
		if mergeKey == "" {
			installPaths[n.Identity] = relPath(c.root, dest)
		} else {
			installPaths[n.Identity] = relPath(c.root, dest) + "::" + mergeKey + "::" + entryName
		}

		installs = append(installs, installer.FileInstall{
			DestPath:  dest,
			Content:   content,
			MergeKey:  mergeKey,
			EntryName: entryName,
			Marker: installer.ManagedMarker{
				Source:         n.Identity.Source,
				Version:        n.VersionLabel(),
				InstalledAt:    time.Now().UTC().Format(time.RFC3339),
				DependencyName: n.Name,
			},
		})
	}
	return installs, checksums, installPaths, nil
}

// contentFor produces a node's final installed bytes: a patched+rendered
// Markdown body for a plain file install, or a patched JSON object for a
// merge-routed install (mergeKey != ""), which must never be the raw
// Markdown body mergeJSON expects to json.Unmarshal. Any other plain file
// (neither .md nor .json, e.g. a script) is returned as raw, unpatched bytes.
func contentFor(n graph.ResolvedNode, m *manifest.Manifest, raw []byte, mergeKey string) ([]byte, error) {
	isMarkdown := filepath.Ext(n.Identity.Path) == ".md"
	if !isMarkdown && mergeKey == "" && filepath.Ext(n.Identity.Path) != ".json" {
		return raw, nil
	}

	var merged map[string]any
	var body string
	if isMarkdown {
		ex, err := metadata.ExtractMarkdown(n.Identity.Path, raw, projectVarsFor(m, n.Dep))
		if err != nil {
			return nil, err
		}
		merged = patch.Apply(ex.Frontmatter, patchDataOf(n.Dep), nil)
		merged = patch.Apply(merged, m.ProjectPatchFor(n.Identity.Type, n.Name), m.PrivatePatchFor(n.Identity.Type, n.Name))
		body = ex.Body
	} else {
		ex, err := metadata.ExtractJSON(n.Identity.Path, raw, projectVarsFor(m, n.Dep))
		if err != nil {
			return nil, err
		}
		merged = patch.Apply(ex.Frontmatter, patchDataOf(n.Dep), nil)
		merged = patch.Apply(merged, m.ProjectPatchFor(n.Identity.Type, n.Name), m.PrivatePatchFor(n.Identity.Type, n.Name))
	}

	if mergeKey != "" {
		return mergeEntryContent(n, merged)
	}
	if !isMarkdown {
		return json.Marshal(merged)
	}
	if tmpl.Sniff(body) {
		rendered, err := tmpl.Render(n.Identity.Path, body, tmpl.Namespaces{Project: m.Project, Resource: merged})
		if err != nil {
			return nil, err
		}
		return []byte(rendered), nil
	}
	return []byte(body), nil
}

// mergeEntryContent marshals a merge-routed node's merged frontmatter into
// the JSON entry its merge target expects; an mcp_server is additionally
// validated/normalized through mcpconfig.Parse first.
func mergeEntryContent(n graph.ResolvedNode, merged map[string]any) ([]byte, error) {
	if n.Identity.Type == resource.MCPServer {
		cfg, err := mcpconfig.Parse(n.Name, merged)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cfg)
	}
	return json.Marshal(merged)
}

// mergeKeyFor reports the JSON merge-target array/object key a resource
// type's entries are routed under, or "" for a plain file install.
func mergeKeyFor(t resource.Type) string {
	switch t {
	case resource.Hook:
		return "hooks"
	case resource.MCPServer:
		return "mcpServers"
	default:
		return ""
	}
}

func defaultMergeTarget(t resource.Type) string {
	switch t {
	case resource.Hook:
		return filepath.Join(".claude", "settings.local.json")
	case resource.MCPServer:
		return ".mcp.json"
	default:
		return ""
	}
}

func (c *Client) readNodeContent(ctx context.Context, n graph.ResolvedNode) ([]byte, error) {
	if n.Identity.Source == "" {
		return os.ReadFile(filepath.Join(c.root, n.Identity.Path))
	}
	wtDir, err := c.cache.EnsureWorktree(ctx, n.Identity.Source, n.SHA)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(wtDir, n.Identity.Path))
}

// toolNameForNode resolves which tool's ToolConfig governs a node: its own
// declared tool, or the manifest's per-type default_tools entry.
func toolNameForNode(m *manifest.Manifest, n graph.ResolvedNode) string {
	if n.Dep.Detailed != nil && n.Dep.Detailed.Tool != "" {
		return n.Dep.Detailed.Tool
	}
	return m.DefaultTools[n.Identity.Type.Plural()]
}

func toolConfigFor(m *manifest.Manifest, name string) (resource.ToolConfig, bool) {
	if name == "" {
		return resource.ToolConfig{}, false
	}
	for key, tc := range m.Tools {
		if strings.EqualFold(key, name) {
			return tc, true
		}
	}
	return resource.ToolConfig{}, false
}

// installDestination computes a node's install target (§4.10 steps 1-2,
// §3 ToolConfig): a plain file path for most resource types, or a JSON
// merge target + entry name for hooks and mcp servers.
func installDestination(root string, m *manifest.Manifest, n graph.ResolvedNode) (dest, mergeKey, entryName string) {
	det := n.Dep.Detailed
	rtc, _ := toolConfigFor(m, toolNameForNode(m, n))
	resTC := rtc.For(n.Identity.Type)

	if key := mergeKeyFor(n.Identity.Type); key != "" {
		target := resTC.MergeTarget
		if det != nil && det.Target != "" {
			target = det.Target
		}
		if target == "" {
			target = defaultMergeTarget(n.Identity.Type)
		}
		return filepath.Join(root, target), key, n.Name
	}

	if det != nil && det.Target != "" {
		return filepath.Join(root, det.Target), "", ""
	}

	dir := resTC.Path
	if dir == "" {
		dir = filepath.Join(".agpm", n.Identity.Type.Plural())
	}

	flatten := resTC.Flatten
	if det != nil && det.Flatten {
		flatten = true
	}

	filename := ""
	if det != nil {
		filename = det.Filename
	}
	if filename == "" {
		if flatten {
			filename = filepath.Base(n.Identity.Path)
		} else {
			filename = n.Identity.Path
		}
	}

	return filepath.Join(root, dir, filename), "", ""
}

func relPath(root, dest string) string {
	rel, err := filepath.Rel(root, dest)
	if err != nil {
		return dest
	}
	return rel
}

func patchDataOf(dep resource.Dependency) resource.PatchData {
	if dep.Detailed != nil {
		return dep.Detailed.Patch
	}
	return nil
}

// projectVarsFor merges the manifest's [project] table with a dependency's
// own template_vars overrides (later wins), the namespace a frontmatter
// template render or metadata extraction is evaluated against.
func projectVarsFor(m *manifest.Manifest, dep resource.Dependency) map[string]any {
	if m == nil {
		return nil
	}
	out := map[string]any{}
	for k, v := range m.Project {
		out[k] = v
	}
	if dep.Detailed != nil {
		for k, v := range dep.Detailed.TemplateVars {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// installPathResolver implements graph.PathResolver over a manifest's tool
// configuration, so two distinct identities landing on the same
// destination (or the same merge-target entry name) is caught as a
// resolve-time conflict rather than a silent overwrite at install time.
type installPathResolver struct {
	root string
	m    *manifest.Manifest
}

func (p *installPathResolver) ConflictKey(n graph.ResolvedNode) string {
	dest, mergeKey, entryName := installDestination(p.root, p.m, n)
	if mergeKey == "" {
		return dest
	}
	return dest + "::" + mergeKey + "::" + entryName
}

// newResolver wires a graph.Resolver backed by this Client's source cache.
func (c *Client) newResolver(m *manifest.Manifest) *graph.Resolver {
	versions := &cacheVersionResolver{cache: c.cache, manifest: m, prepared: map[version.GroupKey]*version.Prepared{}}
	return &graph.Resolver{
		Versions: versions,
		PreSync:  versions,
		Metadata: &cacheMetadataResolver{cache: c.cache, root: c.root, manifest: m},
		Patterns: &cachePatternResolver{cache: c.cache, root: c.root, versions: versions},
		Paths:    &installPathResolver{root: c.root, m: m},
	}
}

// cacheVersionResolver resolves a dependency's version constraint to a
// concrete commit, memoizing one Prepared result per (source, version_key)
// group so dependencies sharing a group never repeat the same clone/fetch/
// tag-list work (§4.6 step 2).
type cacheVersionResolver struct {
	cache    *sourcecache.Cache
	manifest *manifest.Manifest

	mu       sync.Mutex
	prepared map[version.GroupKey]*version.Prepared
}

func (r *cacheVersionResolver) ResolveSHA(ctx context.Context, dep resource.Dependency, sourceName string) (string, bool, error) {
	if sourceName == "" {
		return "", false, nil // local source: no commit to pin
	}
	src, ok := r.manifest.Sources[sourceName]
	if !ok {
		return "", false, fmt.Errorf("undefined source %q", sourceName)
	}
	if _, err := r.cache.EnsureCloned(ctx, sourceName, src.Git); err != nil {
		return "", false, err
	}

	req := requirementOf(dep)
	req.Source = sourceName
	key := req.Key(sourceName)

	if prepared, ok := r.cached(key); ok {
		return prepared.SHA, prepared.Mutable, nil
	}

	prepared, err := version.Resolve(ctx, r.cache, key, req)
	if err != nil {
		return "", false, err
	}
	r.store(key, prepared)
	return prepared.SHA, prepared.Mutable, nil
}

// PreSync resolves every distinct (source, version_key) group among items
// in parallel (bounded by conc/pool), ahead of the sequential DFS walk, so
// the later per-dependency ResolveSHA calls hit a warm cache instead of
// re-issuing the same clone/fetch/tag-list work per dependency in the group.
func (r *cacheVersionResolver) PreSync(ctx context.Context, items []graph.PreSyncItem) error {
	var reqs []version.Requirement
	for _, it := range items {
		if it.SourceName == "" {
			continue // local: nothing to pre-sync
		}
		req := requirementOf(it.Dep)
		req.Source = it.SourceName
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return nil
	}
	groups := version.GroupRequirements(reqs)

	p := pool.New().WithContext(ctx).WithMaxGoroutines(8)
	for key, idxs := range groups {
		key, req := key, reqs[idxs[0]]
		p.Go(func(ctx context.Context) error {
			src, ok := r.manifest.Sources[key.Source]
			if !ok {
				return fmt.Errorf("undefined source %q", key.Source)
			}
			if _, err := r.cache.EnsureCloned(ctx, key.Source, src.Git); err != nil {
				return err
			}
			prepared, err := version.Resolve(ctx, r.cache, key, req)
			if err != nil {
				return err
			}
			r.store(key, prepared)
			return nil
		})
	}
	return p.Wait()
}

func (r *cacheVersionResolver) cached(key version.GroupKey) (*version.Prepared, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prepared[key]
	return p, ok
}

func (r *cacheVersionResolver) store(key version.GroupKey, prepared *version.Prepared) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prepared[key] = prepared
}

func requirementOf(dep resource.Dependency) version.Requirement {
	if dep.Detailed == nil {
		return version.Requirement{}
	}
	return version.Requirement{Constraint: dep.Detailed.Version, Branch: dep.Detailed.Branch, Rev: dep.Detailed.Rev}
}

type cacheMetadataResolver struct {
	cache    *sourcecache.Cache
	root     string
	manifest *manifest.Manifest
}

func (r *cacheMetadataResolver) TransitiveDeps(ctx context.Context, id graph.Identity, dep resource.Dependency, sha string) ([]graph.TransitiveDep, error) {
	var content []byte
	var err error
	if id.Source == "" {
		content, err = os.ReadFile(filepath.Join(r.root, id.Path))
	} else {
		var wtDir string
		wtDir, err = r.cache.EnsureWorktree(ctx, id.Source, sha)
		if err == nil {
			content, err = os.ReadFile(filepath.Join(wtDir, id.Path))
		}
	}
	if err != nil {
		return nil, nil
	}
	if filepath.Ext(id.Path) != ".md" {
		return nil, nil
	}
	ex, err := metadata.ExtractMarkdown(id.Path, content, projectVarsFor(r.manifest, dep))
	if err != nil {
		return nil, err
	}
	return depsFromRaw(ex.Dependencies), nil
}

// depsFromRaw parses the documented `dependencies` frontmatter schema
// (§4.5): a map keyed by resource-type plural, each holding a list of bare
// path strings or detailed dependency tables. The type a transitive
// dependency is tagged with comes from its plural key, never from the
// parent node's own type.
func depsFromRaw(raw any) []graph.TransitiveDep {
	table, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	var out []graph.TransitiveDep
	for plural, v := range table {
		t, err := resource.ParseType(plural)
		if err != nil {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			dep, ok := dependencyFromAny(item)
			if !ok {
				continue
			}
			out = append(out, graph.TransitiveDep{Type: t, Dep: dep})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Dep.Path() < out[j].Dep.Path()
	})
	return out
}

func dependencyFromAny(item any) (resource.Dependency, bool) {
	switch v := item.(type) {
	case string:
		s := v
		return resource.Dependency{Simple: &s}, true
	case map[string]any:
		var d resource.Dependency
		if err := d.UnmarshalTOML(v); err != nil {
			return resource.Dependency{}, false
		}
		return d, true
	default:
		return resource.Dependency{}, false
	}
}

type cachePatternResolver struct {
	cache    *sourcecache.Cache
	root     string
	versions *cacheVersionResolver
}

func (r *cachePatternResolver) ExpandPattern(ctx context.Context, source string, dep resource.Dependency) ([]patternexpand.Concrete, error) {
	if source == "" {
		dirFS := os.DirFS(r.root)
		adapter := dirFSStat{FS: dirFS, root: r.root}
		return patternexpand.ExpandGlob(ctx, adapter, dep.Path())
	}

	sha, _, err := r.versions.ResolveSHA(ctx, dep, source)
	if err != nil {
		return nil, err
	}
	wtDir, err := r.cache.EnsureWorktree(ctx, source, sha)
	if err != nil {
		return nil, err
	}
	dirFS := os.DirFS(wtDir)
	adapter := dirFSStat{FS: dirFS, root: wtDir}
	return patternexpand.ExpandGlob(ctx, adapter, dep.Path())
}

type dirFSStat struct {
	fs.FS
	root string
}

func (d dirFSStat) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(filepath.Join(d.root, name))
}
