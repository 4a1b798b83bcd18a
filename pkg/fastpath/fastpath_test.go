package fastpath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agpm-dev/agpm/pkg/lockfile"
	"github.com/agpm-dev/agpm/pkg/manifest"
)

func loadManifest(t *testing.T, content string) *manifest.Manifest {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agpm.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	m, err := manifest.Load(path, "")
	require.NoError(t, err)
	return m
}

func TestEligibleOnMatchingHash(t *testing.T) {
	m := loadManifest(t, "[agents]\nhelper = \"local/helper.md\"\n")
	lf := &lockfile.LockFile{ManifestHash: m.Fingerprint()}
	require.True(t, Eligible(m, lf))
}

func TestNotEligibleOnMismatch(t *testing.T) {
	m := loadManifest(t, "[agents]\nhelper = \"local/helper.md\"\n")
	lf := &lockfile.LockFile{ManifestHash: "stale"}
	require.False(t, Eligible(m, lf))
}

func TestNotEligibleWithMutableDeps(t *testing.T) {
	m := loadManifest(t, "[agents]\nhelper = \"local/helper.md\"\n")
	lf := &lockfile.LockFile{ManifestHash: m.Fingerprint(), HasMutableDeps: true}
	require.False(t, Eligible(m, lf))
}

func TestEligibleWhenFrozenAndUnchanged(t *testing.T) {
	m := loadManifest(t, "[agents]\nhelper = \"local/helper.md\"\n")
	lf := &lockfile.LockFile{ManifestHash: m.Fingerprint()}
	require.True(t, Eligible(m, lf), "--frozen should still take the fast path when the fingerprint matches")
}

func TestNotEligibleWithNoLockfile(t *testing.T) {
	m := loadManifest(t, "[agents]\nhelper = \"local/helper.md\"\n")
	require.False(t, Eligible(m, nil))
}
