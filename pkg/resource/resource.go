// Package resource defines the resource-kind vocabulary and the dependency
// value shared by the manifest, graph resolver, and lockfile builder.
package resource

import "fmt"

// Type is one of the seven closed resource kinds a manifest can declare.
type Type string

const (
	Agent      Type = "agent"
	Snippet    Type = "snippet"
	Command    Type = "command"
	Script     Type = "script"
	Hook       Type = "hook"
	MCPServer  Type = "mcp_server"
	Skill      Type = "skill"
)

// allTypes is ordered canonically: it is the order used when iterating a
// manifest's resource sections for fingerprinting and lockfile output.
var allTypes = []Type{Agent, Snippet, Command, Script, Hook, MCPServer, Skill}

// Plural returns the manifest TOML section name for the type (e.g. "agents").
func (t Type) Plural() string {
	switch t {
	case Agent:
		return "agents"
	case Snippet:
		return "snippets"
	case Command:
		return "commands"
	case Script:
		return "scripts"
	case Hook:
		return "hooks"
	case MCPServer:
		return "mcp_servers"
	case Skill:
		return "skills"
	default:
		return string(t) + "s"
	}
}

// ParseType resolves a manifest section name (e.g. "agents") to a Type.
func ParseType(plural string) (Type, error) {
	for _, t := range allTypes {
		if t.Plural() == plural {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown resource type section %q", plural)
}

// AllTypes returns the seven types in canonical iteration order.
func AllTypes() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// ToolConfig names a downstream AI-coding-assistant tool (e.g. "claude",
// "cursor", "copilot") and how it wants each resource type laid out on disk.
// Declared as `[tools.<name>.resources.<type>]` in the manifest.
type ToolConfig struct {
	Name      string                        `toml:"-"`
	Resources map[string]ResourceToolConfig `toml:"resources,omitempty"`
}

// ResourceToolConfig is one (tool, resource type) pair's install layout: the
// directory its files land in, whether subdirectory structure is flattened
// away, which extensions it accepts, and, for merge-routed types (hooks,
// mcp_servers), the JSON file their entries are merged into.
type ResourceToolConfig struct {
	Path        string   `toml:"path,omitempty"`
	Flatten     bool     `toml:"flatten,omitempty"`
	Extensions  []string `toml:"extensions,omitempty"`
	MergeTarget string   `toml:"merge_target,omitempty"`
}

// For looks up this tool's layout for a resource type, returning the zero
// value if the tool leaves that type unconfigured.
func (c ToolConfig) For(t Type) ResourceToolConfig {
	return c.Resources[t.Plural()]
}

// PatchData is a shallow, later-wins overlay applied to a dependency's
// extracted frontmatter or JSON root: project patches first, then private.
type PatchData map[string]any

// DetailedDependency is the "Detailed" variant of ResourceDependency: every
// field a dependency declaration can carry beyond a bare path string.
type DetailedDependency struct {
	Path         string            `toml:"path,omitempty"`
	Source       string            `toml:"source,omitempty"`
	Version      string            `toml:"version,omitempty"`
	Branch       string            `toml:"branch,omitempty"`
	Rev          string            `toml:"rev,omitempty"`
	Filename     string            `toml:"filename,omitempty"`
	Target       string            `toml:"target,omitempty"`
	Tool         string            `toml:"tool,omitempty"`
	Flatten      bool              `toml:"flatten,omitempty"`
	Templating   *bool             `toml:"templating,omitempty"`
	TemplateVars map[string]any    `toml:"template_vars,omitempty"`
	Patch        PatchData         `toml:"patch,omitempty"`
	Dependencies []string          `toml:"dependencies,omitempty"`
	Install      *string           `toml:"install,omitempty"`
}

// Dependency is the Go expression of the spec's "tagged variant" design:
// a manifest entry is either a bare path string (Simple) or a detailed
// table (Detailed), never both. Go has no closed sum types, so this mirrors
// the variant with two nil-checked pointer fields instead of an interface,
// matching how the reference agent-sync style repos model the same choice.
type Dependency struct {
	Simple   *string
	Detailed *DetailedDependency
}

// IsSimple reports whether the dependency was declared as a bare path string.
func (d Dependency) IsSimple() bool {
	return d.Simple != nil
}

// Path returns the dependency's path regardless of which variant was used.
func (d Dependency) Path() string {
	if d.Simple != nil {
		return *d.Simple
	}
	if d.Detailed != nil {
		return d.Detailed.Path
	}
	return ""
}

// Source returns the declared source name, or "" for the implicit local source.
func (d Dependency) Source() string {
	if d.Detailed != nil {
		return d.Detailed.Source
	}
	return ""
}

// UnmarshalTOML implements toml.Unmarshaler-style decoding by hand since a
// manifest entry's shape (string vs. table) is only known at decode time.
func (d *Dependency) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		s := v
		d.Simple = &s
		return nil
	case map[string]any:
		det, err := detailedFromMap(v)
		if err != nil {
			return err
		}
		d.Detailed = det
		return nil
	default:
		return fmt.Errorf("dependency entry must be a string or table, got %T", data)
	}
}

func detailedFromMap(m map[string]any) (*DetailedDependency, error) {
	det := &DetailedDependency{}
	if s, ok := m["path"].(string); ok {
		det.Path = s
	}
	if s, ok := m["source"].(string); ok {
		det.Source = s
	}
	if s, ok := m["version"].(string); ok {
		det.Version = s
	}
	if s, ok := m["branch"].(string); ok {
		det.Branch = s
	}
	if s, ok := m["rev"].(string); ok {
		det.Rev = s
	}
	if s, ok := m["filename"].(string); ok {
		det.Filename = s
	}
	if s, ok := m["target"].(string); ok {
		det.Target = s
	}
	if s, ok := m["tool"].(string); ok {
		det.Tool = s
	}
	if b, ok := m["flatten"].(bool); ok {
		det.Flatten = b
	}
	if b, ok := m["templating"].(bool); ok {
		det.Templating = &b
	}
	if tv, ok := m["template_vars"].(map[string]any); ok {
		det.TemplateVars = tv
	}
	if p, ok := m["patch"].(map[string]any); ok {
		det.Patch = PatchData(p)
	}
	if deps, ok := m["dependencies"].([]any); ok {
		for _, dep := range deps {
			if s, ok := dep.(string); ok {
				det.Dependencies = append(det.Dependencies, s)
			}
		}
	}
	if s, ok := m["install"].(string); ok {
		det.Install = &s
	}
	return det, nil
}
