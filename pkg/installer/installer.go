// Package installer writes resolved, patched, and rendered resource
// content to the project tree, merges JSON merge-target files (hooks, MCP
// server registrations) under a managed marker, and prunes entries that a
// previous lockfile installed but the current one no longer references.
//
// File-write mechanics (write to a temp path, then atomic rename) and the
// explicit install-state enum are grounded on the teacher's own install/
// write patterns; JSON merge-target validation uses
// santhosh-tekuri/jsonschema/v6, already part of the teacher's own
// dependency surface, so a malformed user-authored merge target is caught
// as an install error instead of silently corrupted.
package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sourcegraph/conc/pool"

	"github.com/agpm-dev/agpm/pkg/constants"
	"github.com/agpm-dev/agpm/pkg/engineerr"
	"github.com/agpm-dev/agpm/pkg/logger"
)

var log = logger.New("installer")

// state names the outcomes of a single file install. doInstall does not
// record these values; it runs its steps as a fixed sequence of calls.
type state int

const (
	statePending state = iota
	stateWritten
	stateMerged
	stateFailed
)

// FileInstall describes one resolved dependency's destination and content.
type FileInstall struct {
	// DestPath is the absolute path the content is written to, or (for a
	// merge target) the JSON file the entry is merged into.
	DestPath string
	Content  []byte
	// MergeKey identifies the array/object key within a JSON merge target
	// this entry belongs under, e.g. "hooks" or "mcpServers". Empty for a
	// plain file write.
	MergeKey string
	// EntryName is this entry's key/name within the merge target.
	EntryName string
	// Marker is attribution metadata stamped onto a merge-routed entry.
	// Ignored for plain file writes (those carry no managed marker).
	Marker ManagedMarker
}

// ManagedMarker is the `agpm_metadata` object stamped onto every
// merge-routed entry (§4.10/§6), so a later prune pass only ever removes an
// entry agpm itself wrote, and a reader of the file can tell what installed it.
type ManagedMarker struct {
	Managed        bool   `json:"managed"`
	Source         string `json:"source,omitempty"`
	Version        string `json:"version,omitempty"`
	InstalledAt    string `json:"installed_at,omitempty"`
	DependencyName string `json:"dependency_name,omitempty"`
}

// Summary aggregates per-file results: successes and failures are both
// collected rather than aborting the whole install on the first error,
// matching the teacher's CompilerError aggregation pattern.
type Summary struct {
	Installed []string
	Pruned    []string
	Errors    []*engineerr.Diagnostic
}

// Install writes every FileInstall to disk, merging JSON merge targets
// under the managed marker, and prunes stale entries named in
// previousPaths but absent from the current install set. Writes run
// concurrently (bounded by conc/pool), merge targets are serialized per
// destination path to avoid concurrent read-modify-write races.
func Install(ctx context.Context, installs []FileInstall, previousPaths []string, schema *jsonschema.Schema) *Summary {
	sum := &Summary{}
	var mu fileMutexes
	mu.init()

	p := pool.New().WithContext(ctx).WithMaxGoroutines(8)
	results := make(chan result, len(installs))

	for _, inst := range installs {
		inst := inst
		p.Go(func(ctx context.Context) error {
			results <- doInstall(ctx, inst, &mu, schema)
			return nil
		})
	}
	_ = p.Wait()
	close(results)

	installedSet := map[string]bool{}
	for r := range results {
		if r.err != nil {
			sum.Errors = append(sum.Errors, r.err)
			continue
		}
		sum.Installed = append(sum.Installed, r.path)
		installedSet[r.path] = true
		if r.entryKey != "" {
			installedSet[r.entryKey] = true
		}
	}

	for _, prev := range previousPaths {
		if !installedSet[prev] {
			if err := pruneOne(prev); err != nil {
				sum.Errors = append(sum.Errors, engineerr.New(engineerr.KindInstall, prev, err.Error()))
				continue
			}
			sum.Pruned = append(sum.Pruned, prev)
		}
	}
	log.Printf("installed %d, pruned %d, %d errors", len(sum.Installed), len(sum.Pruned), len(sum.Errors))
	return sum
}

type result struct {
	path string
	// entryKey is "<file>::<mergeKey>::<entryName>" for a merged entry, the
	// form previousPaths uses for it.
	entryKey string
	err      *engineerr.Diagnostic
}

func doInstall(ctx context.Context, inst FileInstall, mu *fileMutexes, schema *jsonschema.Schema) result {
	if err := checkWithinRoot(inst.DestPath); err != nil {
		return result{err: engineerr.New(engineerr.KindInstall, inst.DestPath, err.Error())}
	}

	if inst.MergeKey == "" {
		if err := writeAtomic(inst.DestPath, inst.Content); err != nil {
			return result{err: engineerr.New(engineerr.KindInstall, inst.DestPath, err.Error())}
		}
		return result{path: inst.DestPath}
	}

	lock := mu.lockFor(inst.DestPath)
	lock.Lock()
	defer lock.Unlock()

	if err := mergeJSON(inst, schema); err != nil {
		return result{err: engineerr.New(engineerr.KindInstall, inst.DestPath, err.Error())}
	}
	return result{path: inst.DestPath, entryKey: inst.DestPath + "::" + inst.MergeKey + "::" + inst.EntryName}
}

func writeAtomic(dest string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".agpm-tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// mergeJSON reads the merge-target file (or starts empty), validates it
// against schema if given, sets/overwrites the entry under MergeKey with
// the managed marker, re-validates, then writes back atomically.
func mergeJSON(inst FileInstall, schema *jsonschema.Schema) error {
	root := map[string]any{}
	if existing, err := os.ReadFile(inst.DestPath); err == nil {
		if err := json.Unmarshal(existing, &root); err != nil {
			return fmt.Errorf("existing merge target is not valid JSON: %w", err)
		}
		if schema != nil {
			if err := validateSchema(schema, root); err != nil {
				return fmt.Errorf("existing merge target fails schema: %w", err)
			}
		}
	}

	section, _ := root[inst.MergeKey].(map[string]any)
	if section == nil {
		section = map[string]any{}
	}

	var entryVal map[string]any
	if err := json.Unmarshal(inst.Content, &entryVal); err != nil {
		return fmt.Errorf("entry content is not valid JSON: %w", err)
	}
	marker := inst.Marker
	marker.Managed = true
	markerJSON, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	var markerVal map[string]any
	if err := json.Unmarshal(markerJSON, &markerVal); err != nil {
		return err
	}
	entryVal[constants.ManagedMarkerKey] = markerVal
	section[inst.EntryName] = entryVal
	root[inst.MergeKey] = section

	if schema != nil {
		if err := validateSchema(schema, root); err != nil {
			return fmt.Errorf("merged target fails schema: %w", err)
		}
	}

	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	return writeAtomic(inst.DestPath, out)
}

func validateSchema(schema *jsonschema.Schema, doc map[string]any) error {
	return schema.Validate(doc)
}

// pruneOne removes a stale managed entry: for a plain file, deletes it; for
// a JSON merge target path (encoded as "<file>::<mergeKey>::<entryName>"),
// removes just that entry provided it still carries the managed marker.
func pruneOne(path string) error {
	if idx := strings.Index(path, "::"); idx >= 0 {
		return pruneMergedEntry(path[:idx], path[idx+2:])
	}
	return os.Remove(path)
}

func pruneMergedEntry(file, keyAndName string) error {
	parts := strings.SplitN(keyAndName, "::", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed prune target %q", keyAndName)
	}
	mergeKey, entryName := parts[0], parts[1]

	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return err
	}
	section, _ := root[mergeKey].(map[string]any)
	if section == nil {
		return nil
	}
	entry, _ := section[entryName].(map[string]any)
	if entry == nil {
		return nil
	}
	marker, _ := entry[constants.ManagedMarkerKey].(map[string]any)
	if managed, _ := marker["managed"].(bool); !managed {
		return nil // never prune an entry we didn't write
	}
	delete(section, entryName)
	root[mergeKey] = section

	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	return writeAtomic(file, out)
}

// checkWithinRoot rejects an install path that still starts with a ".."
// component after filepath.Clean (SPEC_FULL.md §10's path-validation
// supplement). It takes no root: an absolute path is accepted as given,
// wherever it points.
func checkWithinRoot(dest string) error {
	clean := filepath.Clean(dest)
	if strings.Contains(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return fmt.Errorf("resolved install path %q escapes its root", dest)
	}
	return nil
}

// fileMutexes serializes read-modify-write merges per destination path.
type fileMutexes struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (f *fileMutexes) init() {
	f.m = map[string]*sync.Mutex{}
}

func (f *fileMutexes) lockFor(path string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	lk, ok := f.m[path]
	if !ok {
		lk = &sync.Mutex{}
		f.m[path] = lk
	}
	return lk
}
