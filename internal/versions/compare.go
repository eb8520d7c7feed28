package versions

import "github.com/Masterminds/semver/v3"

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion.
// It uses semantic versioning for comparison when both strings are valid semver,
// and falls back to lexicographic string comparison otherwise.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)

	if errNew != nil || errOld != nil {
		return newVersion > oldVersion
	}

	return newSemver.GreaterThan(oldSemver)
}

// Latest returns the highest stable version in the list. Prereleases are only
// considered when no stable version parses. Returns "" for an empty list.
func Latest(candidates []string) string {
	var best, bestPre *semver.Version
	for _, c := range candidates {
		v, err := semver.NewVersion(c)
		if err != nil {
			continue
		}
		if v.Prerelease() != "" {
			if bestPre == nil || v.GreaterThan(bestPre) {
				bestPre = v
			}
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}

	switch {
	case best != nil:
		return best.Original()
	case bestPre != nil:
		return bestPre.Original()
	}

	// Nothing parsed; pick the lexicographically greatest
	latest := ""
	for _, c := range candidates {
		if IsNewerVersion(c, latest) {
			latest = c
		}
	}
	return latest
}
