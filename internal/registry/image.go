package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	oras "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/memory"
)

// DefaultPlatforms are the platforms a release image is assembled for.
var DefaultPlatforms = []ocispec.Platform{
	{OS: "linux", Architecture: "amd64"},
	{OS: "linux", Architecture: "arm64"},
}

// HostPlatform returns the platform of the machine running the build.
// Validation builds assemble for the host only.
func HostPlatform() ocispec.Platform {
	return ocispec.Platform{OS: "linux", Architecture: runtime.GOARCH}
}

// Image is an assembled multi-platform image held in memory, ready to be
// pushed or discarded after a validation build.
type Image struct {
	store *memory.Store

	// IndexDigest identifies the image index in the store.
	IndexDigest digest.Digest

	// indexTag is the store-local tag the index was staged under.
	indexTag string
}

// Assemble builds an image from the working tree at dir for each platform
// and stages it in memory. No registry traffic happens here, so a validation
// build is Assemble without Push.
func Assemble(ctx context.Context, dir string, meta Metadata, platforms []ocispec.Platform) (*Image, error) {
	if len(platforms) == 0 {
		platforms = DefaultPlatforms
	}

	layerData, diffID, err := layerFromDir(dir)
	if err != nil {
		return nil, err
	}

	store := memory.New()
	annotations := meta.Annotations()

	layerDesc, err := oras.PushBytes(ctx, store, ocispec.MediaTypeImageLayerGzip, layerData)
	if err != nil {
		return nil, fmt.Errorf("stage layer: %w", err)
	}

	manifests := make([]ocispec.Descriptor, 0, len(platforms))
	for _, platform := range platforms {
		desc, err := assembleManifest(ctx, store, layerDesc, diffID, platform, annotations)
		if err != nil {
			return nil, err
		}
		p := platform
		desc.Platform = &p
		manifests = append(manifests, desc)
	}

	index := ocispec.Index{
		Versioned:   specs.Versioned{SchemaVersion: 2},
		MediaType:   ocispec.MediaTypeImageIndex,
		Manifests:   manifests,
		Annotations: annotations,
	}
	indexJSON, err := json.Marshal(index)
	if err != nil {
		return nil, fmt.Errorf("marshal index: %w", err)
	}

	const stagingTag = "staged"
	indexDesc, err := oras.TagBytes(ctx, store, ocispec.MediaTypeImageIndex, indexJSON, stagingTag)
	if err != nil {
		return nil, fmt.Errorf("stage index: %w", err)
	}

	return &Image{store: store, IndexDigest: indexDesc.Digest, indexTag: stagingTag}, nil
}

func assembleManifest(ctx context.Context, store *memory.Store, layer ocispec.Descriptor, diffID digest.Digest, platform ocispec.Platform, annotations map[string]string) (ocispec.Descriptor, error) {
	cfg := ocispec.Image{
		Platform: platform,
		Config:   ocispec.ImageConfig{Labels: annotations},
		RootFS: ocispec.RootFS{
			Type:    "layers",
			DiffIDs: []digest.Digest{diffID},
		},
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("marshal image config: %w", err)
	}
	cfgDesc, err := oras.PushBytes(ctx, store, ocispec.MediaTypeImageConfig, cfgJSON)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("stage image config: %w", err)
	}

	manifest := ocispec.Manifest{
		Versioned:   specs.Versioned{SchemaVersion: 2},
		MediaType:   ocispec.MediaTypeImageManifest,
		Config:      cfgDesc,
		Layers:      []ocispec.Descriptor{layer},
		Annotations: annotations,
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("marshal manifest: %w", err)
	}
	desc, err := oras.PushBytes(ctx, store, ocispec.MediaTypeImageManifest, manifestJSON)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("stage manifest: %w", err)
	}
	return desc, nil
}

// Push copies the staged image to the named repository under each tag.
func (c *Client) Push(ctx context.Context, img *Image, repoName string, tags []string) error {
	if len(tags) == 0 {
		return fmt.Errorf("no tags to push")
	}
	repo, err := c.repository(repoName)
	if err != nil {
		return err
	}

	for _, tag := range tags {
		if _, err := oras.Copy(ctx, img.store, img.indexTag, repo, tag, oras.DefaultCopyOptions); err != nil {
			return fmt.Errorf("push %s: %w", Reference(c.host, repoName, tag), err)
		}
	}
	return nil
}

// layerFromDir packs the working tree into a gzipped tarball and returns it
// with the digest of the uncompressed stream (the layer diff ID). VCS
// metadata is left out of the image.
func layerFromDir(dir string) ([]byte, digest.Digest, error) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	digester := digest.SHA256.Digester()
	tw := tar.NewWriter(io.MultiWriter(gz, digester.Hash()))

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("pack layer from %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return nil, "", fmt.Errorf("close layer tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, "", fmt.Errorf("close layer gzip: %w", err)
	}
	return compressed.Bytes(), digester.Digest(), nil
}

// Reference renders a full image reference for display.
func Reference(host, repoName, tag string) string {
	return strings.Join([]string{host + "/" + repoName, tag}, ":")
}
