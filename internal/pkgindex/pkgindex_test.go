package pkgindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := "include README.rst\ninclude LICENSE\nrecursive-include src *.py\ninclude src/*.cfg\n"
	if err := os.WriteFile(filepath.Join(dir, "MANIFEST.in"), []byte(manifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.rst"), []byte("x"), 0644); err != nil {
		t.Fatalf("write readme: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "LICENSE"), []byte("x"), 0644); err != nil {
		t.Fatalf("write license: %v", err)
	}

	if err := CheckManifest(dir); err != nil {
		t.Errorf("CheckManifest: %v", err)
	}

	os.Remove(filepath.Join(dir, "LICENSE"))
	if err := CheckManifest(dir); err == nil {
		t.Error("expected error for missing LICENSE")
	}
}

func TestCheckManifestAbsent(t *testing.T) {
	if err := CheckManifest(t.TempDir()); err != nil {
		t.Errorf("missing MANIFEST.in should not fail: %v", err)
	}
}

func TestCheckDistributions(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app-2.3.0-py3-none-any.whl"), []byte("w"), 0644); err != nil {
		t.Fatalf("write wheel: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app-2.3.0.tar.gz"), []byte("s"), 0644); err != nil {
		t.Fatalf("write sdist: %v", err)
	}

	wheel, sdist, err := CheckDistributions(dir)
	if err != nil {
		t.Fatalf("CheckDistributions: %v", err)
	}
	if filepath.Base(wheel) != "app-2.3.0-py3-none-any.whl" {
		t.Errorf("wheel = %q", wheel)
	}
	if filepath.Base(sdist) != "app-2.3.0.tar.gz" {
		t.Errorf("sdist = %q", sdist)
	}
}

func TestCheckDistributionsMissingWheel(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app-2.3.0.tar.gz"), []byte("s"), 0644); err != nil {
		t.Fatalf("write sdist: %v", err)
	}
	if _, _, err := CheckDistributions(dir); err == nil {
		t.Error("expected error for missing wheel")
	}
}

func TestMintToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_/oidc/mint-token" {
			t.Errorf("mint path = %q", r.URL.Path)
		}
		var in struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Token != "oidc-token" {
			t.Errorf("mint request body: token = %q, err = %v", in.Token, err)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "upload-token"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	token, err := client.MintToken(context.Background(), "oidc-token")
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if token != "upload-token" {
		t.Errorf("token = %q", token)
	}
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	wheel := filepath.Join(dir, "app-2.3.0-py3-none-any.whl")
	if err := os.WriteFile(wheel, []byte("wheel bytes"), 0644); err != nil {
		t.Fatalf("write wheel: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "__token__" || pass != "upload-token" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue(":action"); got != "file_upload" {
			t.Errorf(":action = %q", got)
		}
		if got := r.FormValue("filetype"); got != "bdist_wheel" {
			t.Errorf("filetype = %q", got)
		}
		if got := r.FormValue("sha256_digest"); len(got) != 64 {
			t.Errorf("sha256_digest = %q", got)
		}
		if _, hdr, err := r.FormFile("content"); err != nil || hdr.Filename != filepath.Base(wheel) {
			t.Errorf("content file = %v, err = %v", hdr, err)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if err := client.Upload(context.Background(), "upload-token", "app", "2.3.0", wheel); err != nil {
		t.Fatalf("Upload: %v", err)
	}
}

func TestUploadRejected(t *testing.T) {
	dir := t.TempDir()
	sdist := filepath.Join(dir, "app-2.3.0.tar.gz")
	if err := os.WriteFile(sdist, []byte("x"), 0644); err != nil {
		t.Fatalf("write sdist: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "file already exists", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if err := client.Upload(context.Background(), "t", "app", "2.3.0", sdist); err == nil {
		t.Fatal("expected error for rejected upload")
	}
}

func TestValidateIndexURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://upload.pypi.org/legacy/", false},
		{"http://localhost:8080/", false},
		{"ftp://example.com/", true},
		{"https://", true},
	}
	for _, tt := range tests {
		if err := ValidateIndexURL(tt.url); (err != nil) != tt.wantErr {
			t.Errorf("ValidateIndexURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}
