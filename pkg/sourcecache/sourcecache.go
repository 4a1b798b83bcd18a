// Package sourcecache manages on-disk bare clones of declared sources and
// the per-commit worktrees checked out from them.
//
// The on-disk layout (content-addressed manifest describing cached entries,
// loaded/saved as sorted JSON) is grounded on the teacher's
// pkg/parser/import_cache.go. The actual clone/checkout mechanics shell out
// to the system git binary via os/exec, grounded on
// coreos-coreos-assembler/entrypoint/spec/clone.go's exec.Command("git", ...)
// pattern, since the spec requires arbitrary git remotes (not just GitHub,
// which is the only transport the teacher's own remote_fetch.go supports).
package sourcecache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	"github.com/agpm-dev/agpm/pkg/constants"
	"github.com/agpm-dev/agpm/pkg/engineerr"
	"github.com/agpm-dev/agpm/pkg/gitutil"
	"github.com/agpm-dev/agpm/pkg/logger"
	"github.com/agpm-dev/agpm/pkg/stringutil"
)

var log = logger.New("sourcecache")

// CredentialProvider injects auth into a clone/fetch URL, e.g. by embedding
// a token. It is consulted at clone time only; credentials are never cached.
type CredentialProvider func(sourceName, rawURL string) string

// Cache manages bare clones of declared sources under a base directory, and
// the per-commit worktrees checked out from them.
type Cache struct {
	baseDir string
	creds   CredentialProvider

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Cache rooted at baseDir, creating it if necessary.
func New(baseDir string, creds CredentialProvider) (*Cache, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Cache{baseDir: baseDir, creds: creds, locks: map[string]*sync.Mutex{}}, nil
}

// DefaultDir returns the default cache directory: $AGPM_CACHE_DIR, or
// <user cache dir>/agpm otherwise.
func DefaultDir() string {
	if v := os.Getenv(constants.CacheDirEnvVar); v != "" {
		return v
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, constants.DefaultCacheDirName)
}

func (c *Cache) lockFor(name string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	m, ok := c.locks[name]
	if !ok {
		m = &sync.Mutex{}
		c.locks[name] = m
	}
	return m
}

func (c *Cache) bareRepoDir(sourceName string) string {
	return filepath.Join(c.baseDir, constants.SourcesSubdir, sourceName, "repo.git")
}

func (c *Cache) worktreeDir(sourceName, sha string) string {
	return filepath.Join(c.baseDir, constants.SourcesSubdir, sourceName, constants.WorktreesSubdir, sha)
}

// EnsureCloned makes sure a bare clone of remoteURL exists for sourceName,
// cloning it if absent and fetching otherwise. Serialized per source name.
func (c *Cache) EnsureCloned(ctx context.Context, sourceName, remoteURL string) (string, error) {
	lock := c.lockFor(sourceName)
	lock.Lock()
	defer lock.Unlock()

	dir := c.bareRepoDir(sourceName)
	url := remoteURL
	if c.creds != nil {
		url = c.creds(sourceName, remoteURL)
	}

	if _, err := os.Stat(dir); err == nil {
		log.Printf("fetching existing clone for %s", sourceName)
		if err := runGit(ctx, dir, "fetch", "--tags", "--force", "origin"); err != nil {
			return "", cloneErr(sourceName, err)
		}
		return dir, nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", fmt.Errorf("creating source cache dir: %w", err)
	}
	log.Printf("cloning %s -> %s", sourceName, dir)
	if err := runGit(ctx, "", "clone", "--bare", url, dir); err != nil {
		return "", cloneErr(sourceName, err)
	}
	return dir, nil
}

// cloneErr wraps a failing git invocation as a Diagnostic. git embeds the
// remote URL (and any credentials EnsureCloned injected into it) verbatim in
// its own error output, so the message is sanitized before it can reach a
// log line or a terminal.
func cloneErr(sourceName string, err error) error {
	msg := stringutil.SanitizeErrorMessage(err.Error())
	if gitutil.IsAuthError(msg) {
		return engineerr.New(engineerr.KindAuthFailed, sourceName, msg).
			WithHint("check credentials for source " + sourceName)
	}
	return engineerr.New(engineerr.KindCloneFailed, sourceName, msg)
}

// ResolveRef resolves a ref (tag, branch, or commit) to a full SHA within
// the bare clone for sourceName.
func (c *Cache) ResolveRef(ctx context.Context, sourceName, ref string) (string, error) {
	dir := c.bareRepoDir(sourceName)
	candidates := []string{ref, "refs/tags/" + ref, "refs/heads/" + ref, "origin/" + ref}
	var lastErr error
	for _, cand := range candidates {
		out, err := runGitOutput(ctx, dir, "rev-parse", "--verify", cand+"^{commit}")
		if err == nil {
			return trimSHA(out), nil
		}
		lastErr = err
	}
	return "", engineerr.New(engineerr.KindVersionResolve, sourceName, fmt.Sprintf("ref %q not found: %v", ref, lastErr))
}

// Tags lists all tags in the bare clone for sourceName.
func (c *Cache) Tags(ctx context.Context, sourceName string) ([]string, error) {
	dir := c.bareRepoDir(sourceName)
	out, err := runGitOutput(ctx, dir, "tag", "--list")
	if err != nil {
		return nil, engineerr.New(engineerr.KindVersionResolve, sourceName, err.Error())
	}
	return splitNonEmptyLines(out), nil
}

// EnsureWorktree checks out sha into a dedicated worktree directory,
// creating it if absent. Returns the worktree's root path.
func (c *Cache) EnsureWorktree(ctx context.Context, sourceName, sha string) (string, error) {
	lock := c.lockFor(sourceName)
	lock.Lock()
	defer lock.Unlock()

	wtDir := c.worktreeDir(sourceName, sha)
	if _, err := os.Stat(wtDir); err == nil {
		return wtDir, nil
	}

	bareDir := c.bareRepoDir(sourceName)
	if err := os.MkdirAll(filepath.Dir(wtDir), 0o755); err != nil {
		return "", fmt.Errorf("creating worktree parent dir: %w", err)
	}
	log.Printf("adding worktree for %s@%s", sourceName, sha)
	if err := runGit(ctx, bareDir, "worktree", "add", "--detach", wtDir, sha); err != nil {
		return "", engineerr.New(engineerr.KindCloneFailed, sourceName, fmt.Sprintf("checking out %s: %v", sha, err))
	}
	return wtDir, nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	_, err := runGitOutput(ctx, dir, args...)
	return err
}

func runGitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %v: %w: %s", args, err, string(out))
	}
	return string(out), nil
}

func trimSHA(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

func splitNonEmptyLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := s[start:i]
			line = trimSHA(line)
			if line != "" {
				lines = append(lines, line)
			}
			start = i + 1
		}
	}
	sort.Strings(lines)
	return lines
}

// Manifest is a sorted, JSON-serialized record of what has been cached,
// written next to the cache root for diagnostics.
// Mirrors the teacher's ImportCache manifest.json shape.
type Manifest struct {
	Entries map[string]Entry `json:"entries"`
	path    string
}

// Entry records a single resolved (source, sha) pairing that has been cloned/checked out.
type Entry struct {
	Source string `json:"source"`
	SHA    string `json:"sha"`
}

// LoadManifest reads the cache manifest, returning an empty one if absent.
func LoadManifest(baseDir string) (*Manifest, error) {
	path := filepath.Join(baseDir, "manifest.json")
	m := &Manifest{Entries: map[string]Entry{}, path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes the manifest back with entries in sorted-key order.
func (m *Manifest) Save() error {
	keys := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 256)
	ordered = append(ordered, []byte("{\n  \"entries\": {\n")...)
	for i, k := range keys {
		entryJSON, err := json.MarshalIndent(m.Entries[k], "    ", "  ")
		if err != nil {
			return err
		}
		ordered = append(ordered, []byte(fmt.Sprintf("    %q: ", k))...)
		ordered = append(ordered, entryJSON...)
		if i < len(keys)-1 {
			ordered = append(ordered, ',')
		}
		ordered = append(ordered, '\n')
	}
	ordered = append(ordered, []byte("  }\n}\n")...)

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.path, ordered, 0o644)
}
