// Package mcpconfig parses an mcp_server dependency's extracted frontmatter
// into a typed server configuration (stdio, http, or docker transport),
// using the modelcontextprotocol/go-sdk's descriptor types for the
// tool/resource/root shapes a server advertises.
//
// Adapted from the teacher's pkg/parser/mcp.go MCPServerConfig/ParseMCPConfig,
// trimmed to the fields a dependency declaration (rather than a full
// workflow frontmatter block) actually carries, and re-pointed at
// installing a server registration rather than inspecting a live
// connection — agpm never starts an MCP server itself, it only installs
// its declared configuration into the target tool's merge-target file.
package mcpconfig

import (
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agpm-dev/agpm/pkg/engineerr"
	"github.com/agpm-dev/agpm/pkg/sliceutil"
)

var serverTypes = []string{"stdio", "http", "docker"}

// ServerConfig is one mcp_server dependency's resolved connection config.
type ServerConfig struct {
	Name      string            `json:"name"`
	Type      string            `json:"type"` // "stdio", "http", or "docker"
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Container string            `json:"container,omitempty"`
	Version   string            `json:"version,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Allowed   []string          `json:"allowed,omitempty"`
}

// Descriptor pairs a parsed ServerConfig with the MCP SDK's own descriptor
// types, describing what a server advertises without connecting to it. No
// agpm command builds or prints one.
type Descriptor struct {
	Config    ServerConfig
	Tools     []*mcp.Tool
	Resources []*mcp.Resource
	Roots     []*mcp.Root
}

// Parse extracts a ServerConfig from an mcp_server dependency's merged
// frontmatter (patched, but not yet template-rendered).
func Parse(name string, section map[string]any) (*ServerConfig, error) {
	cfg := &ServerConfig{Name: name}

	typ, _ := section["type"].(string)
	switch {
	case typ != "":
		cfg.Type = typ
	case section["command"] != nil:
		cfg.Type = "stdio"
	case section["url"] != nil:
		cfg.Type = "http"
	case section["container"] != nil:
		cfg.Type = "docker"
	default:
		return nil, engineerr.New(engineerr.KindMetadata, name, "mcp server config has no type/command/url/container field")
	}

	if s, ok := section["command"].(string); ok {
		cfg.Command = s
	}
	cfg.Args = stringSlice(section["args"])
	if s, ok := section["container"].(string); ok {
		cfg.Container = s
	}
	if s, ok := section["version"].(string); ok {
		cfg.Version = s
	}
	if s, ok := section["url"].(string); ok {
		cfg.URL = s
	}
	cfg.Headers = stringMap(section["headers"])
	cfg.Env = stringMap(section["env"])
	cfg.Allowed = stringSlice(section["allowed"])

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *ServerConfig) error {
	if !sliceutil.Contains(serverTypes, cfg.Type) {
		return engineerr.New(engineerr.KindMetadata, cfg.Name, fmt.Sprintf("unknown mcp server type %q", cfg.Type))
	}
	switch cfg.Type {
	case "stdio":
		if cfg.Command == "" {
			return engineerr.New(engineerr.KindMetadata, cfg.Name, "stdio mcp server requires a command")
		}
	case "http":
		if cfg.URL == "" {
			return engineerr.New(engineerr.KindMetadata, cfg.Name, "http mcp server requires a url")
		}
	case "docker":
		if cfg.Container == "" {
			return engineerr.New(engineerr.KindMetadata, cfg.Name, "docker mcp server requires a container")
		}
	}
	return nil
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
