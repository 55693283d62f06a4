package registry

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Metadata describes the source a built image came from. It is recorded as
// standard OCI annotations on the image manifest.
type Metadata struct {
	// Repository is the source repository URL.
	Repository string

	// Revision is the commit the image was built from.
	Revision string

	// Version is the bare semantic version ("2.3.0").
	Version string

	// RefName is the tag or branch that triggered the build.
	RefName string

	// Created is the build time.
	Created time.Time
}

// Annotations returns the org.opencontainers.image.* annotation set.
func (m Metadata) Annotations() map[string]string {
	a := map[string]string{}
	if m.Repository != "" {
		a["org.opencontainers.image.source"] = m.Repository
	}
	if m.Revision != "" {
		a["org.opencontainers.image.revision"] = m.Revision
	}
	if m.Version != "" {
		a["org.opencontainers.image.version"] = m.Version
	}
	if m.RefName != "" {
		a["org.opencontainers.image.ref.name"] = m.RefName
	}
	if !m.Created.IsZero() {
		a["org.opencontainers.image.created"] = m.Created.UTC().Format(time.RFC3339)
	}
	return a
}

// Tags derives the registry tags for a released version: the full version,
// the major.minor alias, and latest.
func Tags(version string) ([]string, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", version, err)
	}
	return []string{
		v.String(),
		fmt.Sprintf("%d.%d", v.Major(), v.Minor()),
		"latest",
	}, nil
}
