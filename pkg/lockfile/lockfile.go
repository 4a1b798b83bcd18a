// Package lockfile builds and loads agpm.lock: a deterministic, canonically
// ordered, checksummed record of every resolved dependency, written via
// BurntSushi/toml after sorting every slice so the output is byte-stable
// across resolution runs given the same inputs.
package lockfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/agpm-dev/agpm/pkg/engineerr"
	"github.com/agpm-dev/agpm/pkg/graph"
	"github.com/agpm-dev/agpm/pkg/resource"
)

// Entry is one resolved dependency's lockfile record, stored in the array
// matching its resource type (`[[agents]]`, `[[snippets]]`, ...).
type Entry struct {
	Type            string   `toml:"type"`
	Name            string   `toml:"name"`
	Source          string   `toml:"source,omitempty"`
	Path            string   `toml:"path"`
	Tool            string   `toml:"tool,omitempty"`
	SHA             string   `toml:"sha,omitempty"`
	Mutable         bool     `toml:"mutable,omitempty"`
	Checksum        string   `toml:"checksum"`
	ContextChecksum string   `toml:"context_checksum,omitempty"`
	InstallPath     string   `toml:"install_path"`
	Dependencies    []string `toml:"dependencies,omitempty"`
}

// SourceEntry is one `[[sources]]` record: the source's declared remote and
// the exact commit the resolve actually fetched.
type SourceEntry struct {
	Name          string `toml:"name"`
	URL           string `toml:"url"`
	FetchedCommit string `toml:"fetched_commit"`
}

// LockFile is the top-level decoded/encoded form of agpm.lock (§6): one
// array per resource type plus a `[[sources]]` array, rather than a single
// flat entry list, so a reader can load exactly the section it needs.
type LockFile struct {
	Version        int           `toml:"version"`
	ManifestHash   string        `toml:"manifest_hash"`
	ResourceCount  int           `toml:"resource_count"`
	HasMutableDeps bool          `toml:"has_mutable_deps"`
	Sources        []SourceEntry `toml:"sources,omitempty"`
	Agents         []Entry       `toml:"agents,omitempty"`
	Snippets       []Entry       `toml:"snippets,omitempty"`
	Commands       []Entry       `toml:"commands,omitempty"`
	Scripts        []Entry       `toml:"scripts,omitempty"`
	Hooks          []Entry       `toml:"hooks,omitempty"`
	MCPServers     []Entry       `toml:"mcp_servers,omitempty"`
	Skills         []Entry       `toml:"skills,omitempty"`
}

const currentVersion = 1

// AllEntries concatenates every resource-type array in canonical type order.
func (l *LockFile) AllEntries() []Entry {
	var all []Entry
	all = append(all, l.Agents...)
	all = append(all, l.Snippets...)
	all = append(all, l.Commands...)
	all = append(all, l.Scripts...)
	all = append(all, l.Hooks...)
	all = append(all, l.MCPServers...)
	all = append(all, l.Skills...)
	return all
}

func (l *LockFile) sectionFor(t resource.Type) *[]Entry {
	switch t {
	case resource.Agent:
		return &l.Agents
	case resource.Snippet:
		return &l.Snippets
	case resource.Command:
		return &l.Commands
	case resource.Script:
		return &l.Scripts
	case resource.Hook:
		return &l.Hooks
	case resource.MCPServer:
		return &l.MCPServers
	case resource.Skill:
		return &l.Skills
	default:
		return nil
	}
}

// Build constructs a canonically-ordered LockFile from a resolved graph.
// installPaths and checksums are supplied by the caller (pkg/engine computes
// them while planning the install, since they need the rendered/patched
// content, not just the resolved identity). sourceURLs maps
// every declared source name to its remote, used to populate `[[sources]]`
// for the sources actually exercised by the graph. Build fails fatally
// (§4.7) if the graph somehow carries two nodes with the same Identity —
// the resolver already guarantees this can't happen, but Build enforces it
// independently rather than trusting that invariant silently.
func Build(manifestHash string, g *graph.Graph, installPaths, checksums, contextChecksums map[graph.Identity]string, sourceURLs map[string]string) (*LockFile, error) {
	lf := &LockFile{Version: currentVersion, ManifestHash: manifestHash, ResourceCount: len(g.Nodes)}

	seen := map[graph.Identity]bool{}
	commitBySource := map[string]string{}
	for _, n := range g.Nodes {
		if seen[n.Identity] {
			return nil, engineerr.New(engineerr.KindLockfile, n.Identity.Path,
				fmt.Sprintf("duplicate resolved identity %s|%s|%s|%s", n.Identity.Type, n.Identity.Source, n.Identity.Path, n.Identity.Tool))
		}
		seen[n.Identity] = true

		if n.Identity.Source != "" && n.SHA != "" {
			commitBySource[n.Identity.Source] = n.SHA
		}

		deps := make([]string, 0, len(n.Dependencies))
		for _, d := range n.Dependencies {
			if childIdx, ok := g.Index[d]; ok {
				deps = append(deps, g.Nodes[childIdx].DependencyRef())
			}
		}
		sort.Strings(deps)

		section := lf.sectionFor(n.Identity.Type)
		if section == nil {
			continue
		}
		*section = append(*section, Entry{
			Type:            string(n.Identity.Type),
			Name:            n.Name,
			Source:          n.Identity.Source,
			Path:            n.Identity.Path,
			Tool:            n.Identity.Tool,
			SHA:             n.SHA,
			Mutable:         n.Mutable,
			Checksum:        checksums[n.Identity],
			ContextChecksum: contextChecksums[n.Identity],
			InstallPath:     installPaths[n.Identity],
			Dependencies:    deps,
		})
	}

	for _, t := range resource.AllTypes() {
		section := lf.sectionFor(t)
		sort.Slice(*section, func(i, j int) bool {
			a, b := (*section)[i], (*section)[j]
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			if a.Source != b.Source {
				return a.Source < b.Source
			}
			return a.Path < b.Path
		})
	}

	names := make([]string, 0, len(commitBySource))
	for name := range commitBySource {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lf.Sources = append(lf.Sources, SourceEntry{Name: name, URL: sourceURLs[name], FetchedCommit: commitBySource[name]})
	}

	lf.HasMutableDeps = lf.anyMutable()
	return lf, nil
}

func (l *LockFile) anyMutable() bool {
	for _, e := range l.AllEntries() {
		if e.Mutable {
			return true
		}
	}
	return false
}

// Checksum returns the hex SHA-256 of content, used for each entry's
// "checksum" field (the content actually installed, after patch+render).
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Load reads and decodes a lockfile at path.
func Load(path string) (*LockFile, error) {
	lf := &LockFile{}
	if _, err := toml.DecodeFile(path, lf); err != nil {
		return nil, engineerr.New(engineerr.KindLockfile, path, err.Error())
	}
	return lf, nil
}

// Save atomically writes lf to path: the whole file is written once, never
// incrementally, so a crash mid-write never leaves a partial lockfile.
func Save(path string, lf *LockFile) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(lf); err != nil {
		return engineerr.New(engineerr.KindLockfile, path, err.Error())
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return engineerr.New(engineerr.KindLockfile, path, err.Error())
	}
	if err := os.Rename(tmp, path); err != nil {
		return engineerr.New(engineerr.KindLockfile, path, err.Error())
	}
	return nil
}
