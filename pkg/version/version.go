// Package version groups dependencies by (source, version key) and resolves
// each group's constraint against the tag list of its source, using
// Masterminds/semver/v3 — already part of the teacher's own dependency
// surface — for constraint matching.
package version

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/agpm-dev/agpm/pkg/engineerr"
	"github.com/agpm-dev/agpm/pkg/logger"
)

var log = logger.New("version")

// Requirement is one dependency's version-selection input.
type Requirement struct {
	Source     string
	Constraint string // semver constraint, e.g. "^1.2.0"; empty if Branch/Rev set
	Branch     string
	Rev        string
}

// GroupKey identifies a (source, version_key) group: dependencies sharing a
// GroupKey are resolved together and share a single checked-out worktree.
type GroupKey struct {
	Source     string
	VersionKey string // the rev, branch or constraint string, prefixed with "rev:", "branch:" or "constraint:"
}

// Prepared is the outcome of resolving one group: a concrete commit SHA and
// whether that SHA can move (branch tracking) across re-resolutions.
type Prepared struct {
	SHA     string
	Mutable bool
}

// Key returns the GroupKey a Requirement belongs to.
func (r Requirement) Key(source string) GroupKey {
	switch {
	case r.Rev != "":
		return GroupKey{Source: source, VersionKey: "rev:" + r.Rev}
	case r.Branch != "":
		return GroupKey{Source: source, VersionKey: "branch:" + r.Branch}
	default:
		return GroupKey{Source: source, VersionKey: "constraint:" + r.Constraint}
	}
}

// TagLister resolves the tags available for a source, and ref resolution;
// satisfied by *sourcecache.Cache without importing it here (avoiding a
// package cycle — sourcecache has no business knowing about semver).
type TagLister interface {
	Tags(ctx context.Context, sourceName string) ([]string, error)
	ResolveRef(ctx context.Context, sourceName, ref string) (string, error)
}

// Resolve resolves a single group against its source's tags/refs.
func Resolve(ctx context.Context, tl TagLister, key GroupKey, req Requirement) (*Prepared, error) {
	switch {
	case req.Rev != "":
		sha, err := tl.ResolveRef(ctx, key.Source, req.Rev)
		if err != nil {
			return nil, err
		}
		return &Prepared{SHA: sha, Mutable: false}, nil

	case req.Branch != "":
		sha, err := tl.ResolveRef(ctx, key.Source, req.Branch)
		if err != nil {
			return nil, err
		}
		return &Prepared{SHA: sha, Mutable: true}, nil

	default:
		return resolveConstraint(ctx, tl, key.Source, req.Constraint)
	}
}

func resolveConstraint(ctx context.Context, tl TagLister, source, constraintStr string) (*Prepared, error) {
	tags, err := tl.Tags(ctx, source)
	if err != nil {
		return nil, err
	}
	if constraintStr == "" {
		constraintStr = "*"
	}
	c, err := semver.NewConstraint(constraintStr)
	if err != nil {
		return nil, engineerr.New(engineerr.KindVersionResolve, source, fmt.Sprintf("invalid constraint %q: %v", constraintStr, err))
	}

	type candidate struct {
		tag string
		v   *semver.Version
	}
	var matches []candidate
	for _, tag := range tags {
		v, err := semver.NewVersion(tag)
		if err != nil {
			continue // non-semver tags are ignored for constraint matching
		}
		if c.Check(v) {
			matches = append(matches, candidate{tag: tag, v: v})
		}
	}
	if len(matches) == 0 {
		return nil, engineerr.New(engineerr.KindVersionResolve, source, fmt.Sprintf("no tag satisfies constraint %q", constraintStr))
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].v.LessThan(matches[j].v) })
	best := matches[len(matches)-1]
	log.Printf("%s: constraint %q -> tag %s", source, constraintStr, best.tag)

	sha, err := tl.ResolveRef(ctx, source, best.tag)
	if err != nil {
		return nil, err
	}
	return &Prepared{SHA: sha, Mutable: false}, nil
}

// GroupRequirements buckets requirements by their GroupKey, deduplicating
// identical (source, version_key) pairs so each group is resolved once.
func GroupRequirements(reqs []Requirement) map[GroupKey][]int {
	groups := map[GroupKey][]int{}
	for i, req := range reqs {
		key := req.Key(req.Source)
		groups[key] = append(groups[key], i)
	}
	return groups
}
