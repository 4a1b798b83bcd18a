// Package patch shallow-merges project and private patch overlays into a
// resource's parsed frontmatter (or JSON root), private patches winning
// over project patches on key collision.
//
// Grounded on the shallow-merge-with-later-wins shape of
// other_examples/53319ab9_enthus-appdev-dependabot-config-manager's
// internal/merger, adapted to operate over frontmatter/JSON
// map[string]any trees instead of a config-manager's settings tree, and
// extended with the allowed-tools array-union rule SKILL.md patches need.
package patch

import "github.com/agpm-dev/agpm/pkg/resource"

// Apply merges project then private patch data into base, returning a new
// map; base itself is left untouched.
func Apply(base map[string]any, project, private resource.PatchData) map[string]any {
	out := shallowCopy(base)
	out = mergeInto(out, map[string]any(project))
	out = mergeInto(out, map[string]any(private))
	return out
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeInto overlays patch onto dst, one level deep: patch values replace
// dst values outright except for the "allowed-tools" key, whose string-slice
// values are unioned rather than replaced (so a patch can grant additional
// tools without dropping the base set).
func mergeInto(dst map[string]any, patch map[string]any) map[string]any {
	for k, v := range patch {
		if k == "allowed-tools" {
			dst[k] = unionStringSlices(dst[k], v)
			continue
		}
		dst[k] = v
	}
	return dst
}

func unionStringSlices(a, b any) []string {
	seen := map[string]bool{}
	var out []string
	add := func(v any) {
		items, ok := toStringSlice(v)
		if !ok {
			return
		}
		for _, s := range items {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	add(a)
	add(b)
	return out
}

func toStringSlice(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
