package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the service version.
// Overridden at build time via -ldflags "-X github.com/hrygo/pandemonium/internal/version.Version=...".
var Version = "0.3.0"

// SchemaVersion is the durable schema version written by the migrator.
const SchemaVersion = "0.3.0"

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > -1
}

// IsVersionGreaterThan returns true if version is greater than target.
func IsVersionGreaterThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > 0
}

// IsValid reports whether v is a valid semantic version, with or without the "v" prefix.
func IsValid(v string) bool {
	return semver.IsValid(canonical(v))
}
