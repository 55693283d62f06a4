// Package registry builds OCI images from a working tree and pushes them
// to a container registry.
package registry

import (
	"fmt"
	"net/http"

	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// Client talks to one container registry.
type Client struct {
	host      string
	plainHTTP bool
	username  string
	password  string
}

// Option configures a Client.
type Option func(*Client)

// WithStaticAuth sets static credentials for the registry.
func WithStaticAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithPlainHTTP uses HTTP instead of HTTPS. Intended for local registries.
func WithPlainHTTP() Option {
	return func(c *Client) {
		c.plainHTTP = true
	}
}

// NewClient creates a client for the registry at host (e.g. "ghcr.io").
func NewClient(host string, opts ...Option) *Client {
	c := &Client{host: host}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// repository opens the named repository ("org/name") with auth configured.
func (c *Client) repository(name string) (*remote.Repository, error) {
	repo, err := remote.NewRepository(c.host + "/" + name)
	if err != nil {
		return nil, fmt.Errorf("open repository %s/%s: %w", c.host, name, err)
	}
	repo.PlainHTTP = c.plainHTTP

	authClient := &auth.Client{
		Client: &http.Client{Transport: retry.NewTransport(http.DefaultTransport)},
		Cache:  auth.NewCache(),
	}
	if c.username != "" {
		authClient.Credential = auth.StaticCredential(c.host, auth.Credential{
			Username: c.username,
			Password: c.password,
		})
	}
	repo.Client = authClient

	return repo, nil
}
