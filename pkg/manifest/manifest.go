// Package manifest loads and validates agpm.toml (and its private overlay),
// and computes the manifest fingerprint used by the fast-path detector.
//
// Grounded on emergent-company-specmcp's internal/config/config.go: a
// decode-then-validate layering over BurntSushi/toml. No environment
// overrides are applied.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/agpm-dev/agpm/pkg/engineerr"
	"github.com/agpm-dev/agpm/pkg/logger"
	"github.com/agpm-dev/agpm/pkg/resource"
	"github.com/agpm-dev/agpm/pkg/sliceutil"
)

var log = logger.New("manifest")

// Source describes a named dependency source: a git remote, a local path,
// or a bare URL for single-file fetches.
type Source struct {
	Name string `toml:"-"`
	Git  string `toml:"git,omitempty"`
	Path string `toml:"path,omitempty"`
	URL  string `toml:"url,omitempty"`
}

// Kind reports which of git/path/url this source carries.
func (s Source) Kind() string {
	switch {
	case s.Git != "":
		return "git"
	case s.Path != "":
		return "path"
	case s.URL != "":
		return "url"
	default:
		return ""
	}
}

// Manifest is the decoded form of agpm.toml, optionally layered with a
// private overlay (agpm.private.toml) of the same shape.
type Manifest struct {
	Sources map[string]Source               `toml:"sources"`
	Agents      map[string]resource.Dependency `toml:"agents"`
	Snippets    map[string]resource.Dependency `toml:"snippets"`
	Commands    map[string]resource.Dependency `toml:"commands"`
	Scripts     map[string]resource.Dependency `toml:"scripts"`
	Hooks       map[string]resource.Dependency `toml:"hooks"`
	MCPServers  map[string]resource.Dependency `toml:"mcp_servers"`
	Skills      map[string]resource.Dependency `toml:"skills"`
	Tools       map[string]resource.ToolConfig `toml:"tools"`

	// Project is the free-form `[project]` table exposed to template
	// rendering as the `.Project` namespace (e.g. {{ .Project.language }}).
	Project map[string]any `toml:"project,omitempty"`

	// DefaultTools maps a resource type plural to the tool name used when a
	// dependency doesn't declare its own `tool`.
	DefaultTools map[string]string `toml:"default_tools,omitempty"`

	// Patch holds the raw decoded `[patch]` table: `[patch.<type>.<name>]`
	// project overlays, plus a reserved `[patch.private.<type>.<name>]`
	// sub-table that wins on collision. Kept untyped since BurntSushi/toml
	// can't statically express "private" sharing a level with the seven
	// resource-type keys; ProjectPatchFor/PrivatePatchFor index into it.
	Patch map[string]any `toml:"patch,omitempty"`

	// dir is the directory containing the manifest, used to resolve
	// relative path sources. Not serialized.
	dir string
}

// ProjectPatchFor returns the `[patch.<type>.<name>]` overlay declared for a
// dependency, or nil if none was declared.
func (m *Manifest) ProjectPatchFor(t resource.Type, name string) resource.PatchData {
	return patchLookup(m.Patch, t.Plural(), name)
}

// PrivatePatchFor returns the `[patch.private.<type>.<name>]` overlay
// declared for a dependency, or nil if none was declared. Callers apply
// this after ProjectPatchFor so the private overlay wins on collision.
func (m *Manifest) PrivatePatchFor(t resource.Type, name string) resource.PatchData {
	priv, ok := m.Patch["private"].(map[string]any)
	if !ok {
		return nil
	}
	return patchLookup(priv, t.Plural(), name)
}

func patchLookup(table map[string]any, typ, name string) resource.PatchData {
	byType, ok := table[typ].(map[string]any)
	if !ok {
		return nil
	}
	data, ok := byType[name].(map[string]any)
	if !ok {
		return nil
	}
	return resource.PatchData(data)
}

// Dir returns the directory the manifest was loaded from.
func (m *Manifest) Dir() string { return m.dir }

// Section returns the dependency map for a resource type, in the shape
// every downstream package (pattern expander, graph resolver) iterates.
func (m *Manifest) Section(t resource.Type) map[string]resource.Dependency {
	switch t {
	case resource.Agent:
		return m.Agents
	case resource.Snippet:
		return m.Snippets
	case resource.Command:
		return m.Commands
	case resource.Script:
		return m.Scripts
	case resource.Hook:
		return m.Hooks
	case resource.MCPServer:
		return m.MCPServers
	case resource.Skill:
		return m.Skills
	default:
		return nil
	}
}

// Load reads and decodes the manifest at path, then merges in a private
// overlay if privatePath exists alongside it.
func Load(path string, privatePath string) (*Manifest, error) {
	m := &Manifest{}
	if _, err := toml.DecodeFile(path, m); err != nil {
		return nil, engineerr.New(engineerr.KindManifestParse, path, fmt.Sprintf("parsing manifest: %s", err))
	}
	m.dir = filepath.Dir(path)
	assignNames(m)
	log.Printf("loaded manifest %s: %d sources", path, len(m.Sources))

	if privatePath != "" {
		if _, err := os.Stat(privatePath); err == nil {
			priv := &Manifest{}
			if _, err := toml.DecodeFile(privatePath, priv); err != nil {
				return nil, engineerr.New(engineerr.KindManifestParse, privatePath, fmt.Sprintf("parsing private overlay: %s", err))
			}
			assignNames(priv)
			mergeOverlay(m, priv)
			log.Printf("merged private overlay %s", privatePath)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func assignNames(m *Manifest) {
	for name, s := range m.Sources {
		s.Name = name
		m.Sources[name] = s
	}
	for name, t := range m.Tools {
		t.Name = name
		m.Tools[name] = t
	}
}

// mergeOverlay merges source and tool definitions, and every resource
// section, from priv into m (priv entries win on key collision).
func mergeOverlay(m, priv *Manifest) {
	for name, s := range priv.Sources {
		if m.Sources == nil {
			m.Sources = map[string]Source{}
		}
		m.Sources[name] = s
	}
	for name, t := range priv.Tools {
		if m.Tools == nil {
			m.Tools = map[string]resource.ToolConfig{}
		}
		m.Tools[name] = t
	}
	for name, v := range priv.Project {
		if m.Project == nil {
			m.Project = map[string]any{}
		}
		m.Project[name] = v
	}
	for name, tool := range priv.DefaultTools {
		if m.DefaultTools == nil {
			m.DefaultTools = map[string]string{}
		}
		m.DefaultTools[name] = tool
	}
	for key, v := range priv.Patch {
		if m.Patch == nil {
			m.Patch = map[string]any{}
		}
		m.Patch[key] = v
	}
	for _, t := range resource.AllTypes() {
		src := priv.Section(t)
		if len(src) == 0 {
			continue
		}
		dst := m.Section(t)
		if dst == nil {
			dst = map[string]resource.Dependency{}
			setSection(m, t, dst)
		}
		for name, dep := range src {
			dst[name] = dep
		}
	}
}

func setSection(m *Manifest, t resource.Type, v map[string]resource.Dependency) {
	switch t {
	case resource.Agent:
		m.Agents = v
	case resource.Snippet:
		m.Snippets = v
	case resource.Command:
		m.Commands = v
	case resource.Script:
		m.Scripts = v
	case resource.Hook:
		m.Hooks = v
	case resource.MCPServer:
		m.MCPServers = v
	case resource.Skill:
		m.Skills = v
	}
}

// Validate checks referential integrity: every dependency must have a path
// containing neither ".." nor ".git/", its declared source must exist, and
// its declared tool must be defined whenever the manifest has a [tools]
// table (with no [tools] table, tool names are not checked).
func (m *Manifest) Validate() error {
	for _, t := range resource.AllTypes() {
		names := make([]string, 0, len(m.Section(t)))
		for name := range m.Section(t) {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			dep := m.Section(t)[name]
			if src := dep.Source(); src != "" {
				if _, ok := m.Sources[src]; !ok {
					return engineerr.New(engineerr.KindValidation, "", fmt.Sprintf("%s %q references undefined source %q", t.Plural(), name, src))
				}
			}
			if dep.Path() == "" {
				return engineerr.New(engineerr.KindValidation, "", fmt.Sprintf("%s %q has no path", t.Plural(), name))
			}
			// Reject traversal attempts and VCS-internal paths at manifest-load
			// time, ahead of the installer's own within-root guard.
			if sliceutil.ContainsAny(dep.Path(), "..", ".git"+string(filepath.Separator)) {
				return engineerr.New(engineerr.KindValidation, "", fmt.Sprintf("%s %q has an unsafe path %q", t.Plural(), name, dep.Path()))
			}
			if tool := toolOf(dep); tool != "" && len(m.Tools) > 0 && !toolDefined(m.Tools, tool) {
				return engineerr.New(engineerr.KindValidation, "", fmt.Sprintf("%s %q references undefined tool %q", t.Plural(), name, tool))
			}
		}
	}
	return nil
}

func toolOf(dep resource.Dependency) string {
	if dep.Detailed != nil {
		return dep.Detailed.Tool
	}
	return ""
}

// toolDefined reports whether name matches a configured tool, ignoring case
// since tool identifiers are sourced from several downstream ecosystems with
// inconsistent casing conventions (e.g. "Claude" vs. "claude").
func toolDefined(tools map[string]resource.ToolConfig, name string) bool {
	for key := range tools {
		if sliceutil.ContainsIgnoreCase(key, name) && len(key) == len(name) {
			return true
		}
	}
	return false
}
