package repository

import (
	"slices"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// isExactVersion reports whether v pins a single version rather than a
// range such as "^2.7", ">=1.7, <2" or "2.x".
func isExactVersion(v string) bool {
	if strings.ContainsAny(v, " ^~<>=*,|") {
		return false
	}
	for part := range strings.SplitSeq(v, ".") {
		if part == "x" || part == "X" {
			return false
		}
	}
	return true
}

// highestMatching returns the highest of available that satisfies the
// constraint. Entries that are not versions are ignored.
func highestMatching(available []string, constraint *semver.Constraints) (string, bool) {
	parsed := make(semver.Collection, 0, len(available))
	for _, raw := range slices.Compact(slices.Sorted(slices.Values(available))) {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		parsed = append(parsed, v)
	}

	sort.Sort(parsed)
	for i := len(parsed) - 1; i >= 0; i-- {
		if constraint.Check(parsed[i]) {
			return parsed[i].Original(), true
		}
	}
	return "", false
}
