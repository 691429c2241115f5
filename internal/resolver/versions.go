package resolver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// errNoVersions marks a registry reference with no available versions at
// all: offline and nothing cached.
var errNoVersions = errors.New("no versions available from any source")

// errNoMatch marks an availability set in which nothing satisfies the
// constraint.
var errNoMatch = errors.New("no available version satisfies the constraint")

// parseConstraint parses a version constraint, treating the empty string
// as "any version".
func parseConstraint(input string) (*semver.Constraints, error) {
	if input == "" {
		input = "*"
	}
	c, err := semver.NewConstraint(input)
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint %q: %w", input, err)
	}
	return c, nil
}

// selectVersion picks the version to resolve: the highest version in the
// union of cached and remote availability that satisfies the constraint.
// fromCache reports whether the winning version is already cached; when a
// version is available from both sources the cached copy wins, which only
// changes where the bytes come from, never which version is chosen.
func selectVersion(constraint *semver.Constraints, cached, remote []*semver.Version) (chosen *semver.Version, fromCache bool, err error) {
	if len(cached) == 0 && len(remote) == 0 {
		return nil, false, errNoVersions
	}

	inCache := make(map[string]bool, len(cached))
	union := make([]*semver.Version, 0, len(cached)+len(remote))
	for _, v := range cached {
		inCache[v.String()] = true
		union = append(union, v)
	}
	for _, v := range remote {
		if !inCache[v.String()] {
			union = append(union, v)
		}
	}

	sort.Sort(sort.Reverse(semver.Collection(union)))
	for _, v := range union {
		if constraint.Check(v) {
			return v, inCache[v.String()], nil
		}
	}
	return nil, false, errNoMatch
}

// versionStrings renders a version list for error messages, highest first.
func versionStrings(versions []*semver.Version) []string {
	sorted := make([]*semver.Version, len(versions))
	copy(sorted, versions)
	sort.Sort(sort.Reverse(semver.Collection(sorted)))

	out := make([]string, len(sorted))
	for i, v := range sorted {
		out[i] = v.String()
	}
	return out
}
