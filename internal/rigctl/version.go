package rigctl

import (
	"regexp"

	"golang.org/x/mod/semver"
)

// MinimumHamlibVersion is the oldest Hamlib whose rigctld answers every
// command the session issues in extended mode.
const MinimumHamlibVersion = "v4.0.0"

var hamlibVersionRe = regexp.MustCompile(`Hamlib\s+v?(\d+(?:\.\d+){0,2})`)

// ParseHamlibVersion extracts the version from `rigctld -V` output and
// returns it in canonical semver form ("v4.5.5"). It returns "" when the
// output names no Hamlib version.
func ParseHamlibVersion(output string) string {
	m := hamlibVersionRe.FindStringSubmatch(output)
	if m == nil {
		return ""
	}

	return semver.Canonical("v" + m[1])
}

// HamlibOutdated reports whether version is valid and older than
// MinimumHamlibVersion.
func HamlibOutdated(version string) bool {
	if !semver.IsValid(version) {
		return false
	}

	return semver.Compare(version, MinimumHamlibVersion) < 0
}
