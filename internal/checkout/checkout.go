// Package checkout materializes a repository working tree for a run.
package checkout

import (
	"context"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Checkout is a working tree cloned for a single run. The directory is
// removed when the run finishes.
type Checkout struct {
	// Dir is the root of the working tree.
	Dir string

	// Ref is the commit the tree was checked out at.
	Ref string
}

// Create clones repoURL into a fresh temporary directory and, when ref is
// non-empty, checks the working tree out at that commit. Each run gets its
// own clone so concurrent runs never share a tree.
func Create(ctx context.Context, repoURL, ref string) (*Checkout, error) {
	dir, err := os.MkdirTemp("", "conveyor-run-*")
	if err != nil {
		return nil, fmt.Errorf("create checkout dir: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL: repoURL,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("clone %s: %w", repoURL, err)
	}

	if ref != "" {
		wt, err := repo.Worktree()
		if err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("open worktree: %w", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(ref)}); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("checkout %s: %w", ref, err)
		}
	}

	return &Checkout{Dir: dir, Ref: ref}, nil
}

// Local wraps an existing directory as a checkout without cloning. Used when
// the orchestrator runs against a working tree that is already on disk.
func Local(dir string) *Checkout {
	return &Checkout{Dir: dir}
}

// Remove deletes the working tree. Safe to call on a Local checkout only if
// the caller owns the directory.
func (c *Checkout) Remove() error {
	if c == nil || c.Dir == "" {
		return nil
	}
	return os.RemoveAll(c.Dir)
}
