package models

// Artifact is a file produced by a stage and attached to the run bundle,
// such as a built wheel or source distribution.
type Artifact struct {
	// Name is the artifact's file name within the bundle.
	Name string `json:"name" yaml:"name"`
	// Path is the absolute path of the stored copy.
	Path string `json:"path" yaml:"path"`
	// Digest is the sha256 content digest, e.g. "sha256:ab12…".
	Digest string `json:"digest" yaml:"digest"`
	// Size is the file size in bytes.
	Size int64 `json:"size" yaml:"size"`
}
