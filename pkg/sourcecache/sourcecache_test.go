package sourcecache

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agpm-dev/agpm/pkg/engineerr"
)

// newTestRemote creates a local bare-able git repo with one commit and one
// tag, usable as a clone source without any network access.
func newTestRemote(t *testing.T) (dir, tag, sha string) {
	t.Helper()
	dir = t.TempDir()

	run := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
		return string(out)
	}

	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "initial commit")
	run("tag", "v1.0.0")

	out := run("rev-parse", "HEAD")
	sha = trimSHA(out)
	return dir, "v1.0.0", sha
}

func TestEnsureClonedThenFetchIsIdempotent(t *testing.T) {
	remote, _, _ := newTestRemote(t)
	cache, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	dir1, err := cache.EnsureCloned(context.Background(), "origin", remote)
	require.NoError(t, err)
	require.DirExists(t, dir1)

	dir2, err := cache.EnsureCloned(context.Background(), "origin", remote)
	require.NoError(t, err)
	require.Equal(t, dir1, dir2, "a second EnsureCloned should fetch into the same bare repo, not re-clone")
}

func TestResolveRefTag(t *testing.T) {
	remote, tag, sha := newTestRemote(t)
	cache, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = cache.EnsureCloned(context.Background(), "origin", remote)
	require.NoError(t, err)

	resolved, err := cache.ResolveRef(context.Background(), "origin", tag)
	require.NoError(t, err)
	require.Equal(t, sha, resolved)
}

func TestResolveRefUnknown(t *testing.T) {
	remote, _, _ := newTestRemote(t)
	cache, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = cache.EnsureCloned(context.Background(), "origin", remote)
	require.NoError(t, err)

	_, err = cache.ResolveRef(context.Background(), "origin", "does-not-exist")
	require.Error(t, err)
}

func TestTagsListsAllTags(t *testing.T) {
	remote, tag, _ := newTestRemote(t)
	cache, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = cache.EnsureCloned(context.Background(), "origin", remote)
	require.NoError(t, err)

	tags, err := cache.Tags(context.Background(), "origin")
	require.NoError(t, err)
	require.Contains(t, tags, tag)
}

func TestEnsureWorktreeChecksOutContent(t *testing.T) {
	remote, _, sha := newTestRemote(t)
	cache, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = cache.EnsureCloned(context.Background(), "origin", remote)
	require.NoError(t, err)

	wt, err := cache.EnsureWorktree(context.Background(), "origin", sha)
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(wt, "README.md"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(content))
}

func TestEnsureWorktreeReusesExisting(t *testing.T) {
	remote, _, sha := newTestRemote(t)
	cache, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = cache.EnsureCloned(context.Background(), "origin", remote)
	require.NoError(t, err)

	wt1, err := cache.EnsureWorktree(context.Background(), "origin", sha)
	require.NoError(t, err)
	wt2, err := cache.EnsureWorktree(context.Background(), "origin", sha)
	require.NoError(t, err)
	require.Equal(t, wt1, wt2)
}

func TestEnsureClonedBadRemoteReturnsCloneFailedDiagnostic(t *testing.T) {
	cache, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = cache.EnsureCloned(context.Background(), "origin", filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	kind, ok := engineerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, engineerr.KindCloneFailed, kind)
}

func TestManifestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadManifest(dir)
	require.NoError(t, err)
	require.Empty(t, m.Entries)

	m.Entries["origin@abc123"] = Entry{Source: "origin", SHA: "abc123"}
	require.NoError(t, m.Save())

	reloaded, err := LoadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, Entry{Source: "origin", SHA: "abc123"}, reloaded.Entries["origin@abc123"])
}

func TestDefaultDirHonorsEnvVar(t *testing.T) {
	t.Setenv("AGPM_CACHE_DIR", "/tmp/custom-agpm-cache")
	require.Equal(t, "/tmp/custom-agpm-cache", DefaultDir())
}
