package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/agpm-dev/agpm/pkg/resource"
)

// Fingerprint computes a stable SHA-256 hash over the manifest's sources and
// resource sections. Every map is walked in sorted-key order so that the
// result is identical regardless of the on-disk TOML key ordering (the
// property the fast-path detector's fingerprint comparison depends on).
func (m *Manifest) Fingerprint() string {
	h := sha256.New()
	write := func(s string) { h.Write([]byte(s)); h.Write([]byte{0}) }

	sourceNames := sortedKeys(m.Sources)
	for _, name := range sourceNames {
		s := m.Sources[name]
		write("source")
		write(name)
		write(s.Kind())
		write(s.Git + s.Path + s.URL)
	}

	for _, t := range resource.AllTypes() {
		section := m.Section(t)
		names := sortedKeys(section)
		for _, name := range names {
			dep := section[name]
			write("dep")
			write(t.Plural())
			write(name)
			write(dependencyFingerprint(dep))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func dependencyFingerprint(dep resource.Dependency) string {
	if dep.Simple != nil {
		return "simple:" + *dep.Simple
	}
	if dep.Detailed == nil {
		return ""
	}
	d := dep.Detailed
	var sb strings.Builder
	fmt.Fprintf(&sb, "path=%s|source=%s|version=%s|branch=%s|rev=%s|filename=%s|target=%s|tool=%s|flatten=%t",
		d.Path, d.Source, d.Version, d.Branch, d.Rev, d.Filename, d.Target, d.Tool, d.Flatten)
	if d.Templating != nil {
		fmt.Fprintf(&sb, "|templating=%t", *d.Templating)
	}
	for _, k := range sortedAnyKeys(d.TemplateVars) {
		fmt.Fprintf(&sb, "|tv.%s=%v", k, d.TemplateVars[k])
	}
	for _, k := range sortedAnyKeys(map[string]any(d.Patch)) {
		fmt.Fprintf(&sb, "|patch.%s=%v", k, d.Patch[k])
	}
	deps := append([]string(nil), d.Dependencies...)
	sort.Strings(deps)
	for _, dd := range deps {
		fmt.Fprintf(&sb, "|dep=%s", dd)
	}
	if d.Install != nil {
		fmt.Fprintf(&sb, "|install=%s", *d.Install)
	}
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedAnyKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
