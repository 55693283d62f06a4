// Package release resolves the package version from a release tag and
// stamps it into the package identity file before building.
package release

import (
	"fmt"
	"os"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

var versionAssign = regexp.MustCompile(`(?m)^__version__\s*=\s*["'][^"']*["']`)

// VersionFromTag parses a release tag into a bare semantic version,
// dropping any leading "v" ("v2.3.0" becomes "2.3.0").
func VersionFromTag(tag string) (string, error) {
	v, err := semver.NewVersion(tag)
	if err != nil {
		return "", fmt.Errorf("parse release tag %q: %w", tag, err)
	}
	return v.String(), nil
}

// Stamp rewrites the __version__ assignment in the identity file at path
// to the given version. It fails if the file carries no assignment, so a
// renamed identity file is caught at release time rather than publishing
// a package with a stale version.
func Stamp(path, version string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read version file: %w", err)
	}

	if !versionAssign.Match(data) {
		return fmt.Errorf("no __version__ assignment in %s", path)
	}

	out := versionAssign.ReplaceAll(data, []byte(fmt.Sprintf("__version__ = %q", version)))
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("write version file: %w", err)
	}
	return nil
}
