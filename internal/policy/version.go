package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// InitialVersion is assigned to a registry entry on creation.
const InitialVersion = "1.0"

// NextVersion bumps the minor component of a "major.minor" version string. Versions
// must strictly increase on every registry update; unparseable input restarts the
// sequence at the initial version.
func NextVersion(version string) string {
	major, minor, ok := parseVersion(version)
	if !ok {
		return InitialVersion
	}
	return fmt.Sprintf("%d.%d", major, minor+1)
}

// CompareVersions orders two version strings by (major, minor). Returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	aMajor, aMinor, aOK := parseVersion(a)
	bMajor, bMinor, bOK := parseVersion(b)
	if !aOK || !bOK {
		return strings.Compare(a, b)
	}
	switch {
	case aMajor != bMajor:
		return compareInt(aMajor, bMajor)
	default:
		return compareInt(aMinor, bMinor)
	}
}

func parseVersion(version string) (major, minor int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(version), ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
