package pkgindex

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client uploads distributions to a package index.
type Client struct {
	indexURL string
	http     *http.Client
}

// NewClient creates a client for the index at indexURL
// (e.g. "https://upload.pypi.org/legacy/").
func NewClient(indexURL string) *Client {
	return &Client{
		indexURL: strings.TrimRight(indexURL, "/"),
		http:     &http.Client{Timeout: 2 * time.Minute},
	}
}

// MintToken exchanges an OIDC identity token for a short-lived upload token
// via the index's trusted publishing endpoint.
func (c *Client) MintToken(ctx context.Context, identityToken string) (string, error) {
	body, err := json.Marshal(map[string]string{"token": identityToken})
	if err != nil {
		return "", fmt.Errorf("encode mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.indexURL+"/_/oidc/mint-token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("mint upload token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("mint upload token: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode mint response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("mint response carried no token")
	}
	return out.Token, nil
}

// Upload publishes one distribution file using the legacy upload API. The
// token authenticates as the __token__ user.
func (c *Client) Upload(ctx context.Context, token, name, version, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open distribution: %w", err)
	}
	defer f.Close()

	hash := sha256.New()
	var content bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(&content, hash), f); err != nil {
		return fmt.Errorf("read distribution: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		":action":          "file_upload",
		"protocol_version": "1",
		"name":             name,
		"version":          version,
		"filetype":         filetypeOf(path),
		"sha256_digest":    hex.EncodeToString(hash.Sum(nil)),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("write upload field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("content", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create upload part: %w", err)
	}
	if _, err := part.Write(content.Bytes()); err != nil {
		return fmt.Errorf("write upload part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.indexURL+"/", &body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.SetBasicAuth("__token__", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload %s: %s: %s", filepath.Base(path), resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

func filetypeOf(path string) string {
	if strings.HasSuffix(path, ".whl") {
		return "bdist_wheel"
	}
	return "sdist"
}

// ValidateIndexURL rejects obviously broken index URLs before any network
// traffic happens.
func ValidateIndexURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse index URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("index URL %q must be http(s)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("index URL %q has no host", raw)
	}
	return nil
}
