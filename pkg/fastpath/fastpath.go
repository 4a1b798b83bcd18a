// Package fastpath implements the manifest-fingerprint/lockfile-match
// short-circuit: when the manifest hasn't changed since the lockfile was
// written and nothing in it tracks a mutable branch ref, resolution can be
// skipped entirely and the lockfile installed as-is.
package fastpath

import (
	"github.com/agpm-dev/agpm/pkg/lockfile"
	"github.com/agpm-dev/agpm/pkg/manifest"
)

// Eligible reports whether m's current fingerprint matches lf's recorded
// manifest hash and lf has no mutable (branch-tracking) entries. This is
// independent of --frozen: frozen mode always prefers the lockfile when
// eligible, and only fails loudly on an actual fingerprint mismatch — that
// distinction is the caller's, not this function's (§4.11).
func Eligible(m *manifest.Manifest, lf *lockfile.LockFile) bool {
	if lf == nil {
		return false
	}
	return lf.ManifestHash == m.Fingerprint() && !lf.HasMutableDeps
}
