// Package patternexpand expands glob-pattern dependency declarations
// (including skill-directory patterns) into concrete per-file dependencies,
// using doublestar for glob matching (already an indirect dependency of the
// teacher, promoted to direct here).
//
// GenerateDependencyName is a direct Go port of the Rust original's
// generate_dependency_name (original_source/src/resolver/pattern_expander.rs),
// pinned exactly including its test cases, since the pattern expander and
// the graph resolver (see pkg/graph) both depend on its precise behavior
// for canonical, collision-resistant naming.
package patternexpand

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/agpm-dev/agpm/pkg/constants"
	"github.com/agpm-dev/agpm/pkg/logger"
)

var log = logger.New("patternexpand")

// FS is the minimal filesystem surface needed to expand a pattern: a glob
// matcher plus file-existence checks for skill-marker detection. Satisfied
// by a worktree root via os.DirFS-style adapters.
type FS interface {
	fs.FS
	Stat(name string) (fs.FileInfo, error)
}

// Concrete is one file (or skill directory) a pattern expanded to.
type Concrete struct {
	Name string // canonical dependency name, from GenerateDependencyName
	Path string // path relative to the source root
}

// ExpandGlob expands a glob pattern rooted at root into concrete file deps.
// Paths under a directory containing a SKILL.md marker are collapsed to a
// single Concrete pointing at that directory, matching the teacher's
// skills_parser.go directory-is-a-skill detection.
func ExpandGlob(ctx context.Context, fsys FS, pattern string) ([]Concrete, error) {
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}

	seenSkillDirs := map[string]bool{}
	var out []Concrete
	for _, m := range matches {
		info, statErr := fsys.Stat(m)
		if statErr == nil && info.IsDir() {
			continue
		}
		if dir, ok := skillDirOf(fsys, m); ok {
			if seenSkillDirs[dir] {
				continue
			}
			seenSkillDirs[dir] = true
			out = append(out, Concrete{Name: GenerateDependencyName(dir), Path: dir})
			continue
		}
		out = append(out, Concrete{Name: GenerateDependencyName(m), Path: m})
	}
	log.Printf("expanded %q -> %d concrete dependencies", pattern, len(out))
	return out, nil
}

// skillDirOf walks up from file m looking for a directory containing
// SKILL.md; if found, returns that directory (the whole directory becomes
// one dependency, per the skill resource type's directory-marker semantics).
func skillDirOf(fsys FS, m string) (string, bool) {
	dir := path.Dir(m)
	for {
		if _, err := fsys.Stat(path.Join(dir, constants.SkillMarkerFile)); err == nil {
			return dir, true
		}
		if dir == "." || dir == "/" {
			return "", false
		}
		parent := path.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// GenerateDependencyName ports the Rust original's generate_dependency_name
// verbatim: strip the extension, normalize backslashes to forward slashes,
// and drop the first path component UNLESS the path is absolute or begins
// with "../" (those keep every component, to stay unique across directories
// that would otherwise collapse to the same name). An empty result becomes
// "unnamed".
func GenerateDependencyName(p string) string {
	noExt := strings.TrimSuffix(p, filepath.Ext(p))
	normalized := strings.ReplaceAll(noExt, "\\", "/")

	isAbsolute := strings.HasPrefix(normalized, "/")
	startsWithParent := strings.HasPrefix(normalized, "../")

	parts := strings.Split(normalized, "/")
	var nonEmpty []string
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}

	var result string
	if len(nonEmpty) > 1 && !isAbsolute && !startsWithParent {
		result = strings.Join(nonEmpty[1:], "/")
	} else {
		result = strings.Join(nonEmpty, "/")
	}

	if result == "" {
		return "unnamed"
	}
	return result
}
