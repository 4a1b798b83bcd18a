// Package constants centralizes names and defaults shared across agpm's
// packages: manifest/lockfile filenames, the cache layout, and the resource
// type vocabulary.
package constants

// ManifestFileName is the default name of the project manifest.
const ManifestFileName = "agpm.toml"

// PrivateManifestFileName is the default name of the untracked local overlay.
const PrivateManifestFileName = "agpm.private.toml"

// LockFileName is the default name of the generated lockfile.
const LockFileName = "agpm.lock"

// CacheDirEnvVar overrides the default cache directory location.
const CacheDirEnvVar = "AGPM_CACHE_DIR"

// DefaultCacheDirName is the cache directory name under the user cache home.
const DefaultCacheDirName = "agpm"

// SourcesSubdir is the subdirectory of the cache holding bare source clones.
const SourcesSubdir = "sources"

// WorktreesSubdir is the subdirectory of a source's cache holding per-commit worktrees.
const WorktreesSubdir = "worktrees"

// SkillMarkerFile is the file marking a directory as a skill dependency.
const SkillMarkerFile = "SKILL.md"

// ManagedMarkerKey is the key written into merge-target JSON files to mark
// entries as owned by agpm, so installs can tell managed entries from
// user-authored ones when pruning stale entries.
const ManagedMarkerKey = "agpm_metadata"

// ResourceTypes lists the seven closed resource kinds a manifest can declare,
// in the canonical order used for deterministic lockfile and fingerprint output.
var ResourceTypes = []string{
	"agents",
	"snippets",
	"commands",
	"scripts",
	"hooks",
	"mcp_servers",
	"skills",
}

// FrontmatterFence delimits YAML frontmatter in Markdown resource files.
const FrontmatterFence = "---"
