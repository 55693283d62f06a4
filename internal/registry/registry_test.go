package registry

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTags(t *testing.T) {
	tags, err := Tags("2.3.0")
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	want := []string{"2.3.0", "2.3", "latest"}
	if len(tags) != len(want) {
		t.Fatalf("Tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("Tags[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestTagsRejectsGarbage(t *testing.T) {
	if _, err := Tags("not-a-version"); err == nil {
		t.Fatal("expected error for invalid version")
	}
}

func TestMetadataAnnotations(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Metadata{
		Repository: "https://github.com/org/app",
		Revision:   "abc123",
		Version:    "2.3.0",
		RefName:    "v2.3.0",
		Created:    created,
	}

	a := m.Annotations()
	if a["org.opencontainers.image.version"] != "2.3.0" {
		t.Errorf("version annotation = %q", a["org.opencontainers.image.version"])
	}
	if a["org.opencontainers.image.revision"] != "abc123" {
		t.Errorf("revision annotation = %q", a["org.opencontainers.image.revision"])
	}
	if a["org.opencontainers.image.created"] != "2026-03-01T12:00:00Z" {
		t.Errorf("created annotation = %q", a["org.opencontainers.image.created"])
	}

	empty := Metadata{}
	if len(empty.Annotations()) != 0 {
		t.Errorf("empty metadata produced annotations: %v", empty.Annotations())
	}
}

func TestLayerFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "app.py"), []byte("print('hi')\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref"), 0644); err != nil {
		t.Fatalf("write .git file: %v", err)
	}

	data, diffID, err := layerFromDir(dir)
	if err != nil {
		t.Fatalf("layerFromDir: %v", err)
	}
	if diffID == "" {
		t.Error("empty diff ID")
	}

	gz, err := gzip.NewReader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("layer is not gzip: %v", err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}
		names = append(names, hdr.Name)
	}

	joined := strings.Join(names, " ")
	if !strings.Contains(joined, "src/app.py") {
		t.Errorf("layer missing source file: %v", names)
	}
	if strings.Contains(joined, ".git") {
		t.Errorf("layer leaked VCS metadata: %v", names)
	}
}

func TestAssembleMultiPlatform(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.py"), []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	img, err := Assemble(context.Background(), dir, Metadata{Version: "2.3.0"}, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if img.IndexDigest == "" {
		t.Error("assembled image has no index digest")
	}
}

func TestReference(t *testing.T) {
	if got := Reference("ghcr.io", "org/app", "2.3.0"); got != "ghcr.io/org/app:2.3.0" {
		t.Errorf("Reference = %q", got)
	}
}
