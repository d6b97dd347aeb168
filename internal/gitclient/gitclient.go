// Package gitclient reads catalog snapshots from any revision of a remote
// Git repository, without checking out a worktree.
package gitclient

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Auth holds Basic Auth credentials.
// For token-based access, most hosts accept any non-empty Username
// together with the token as Password.
type Auth struct {
	Username string
	Password string
}

func (a *Auth) method() transport.AuthMethod {
	if a == nil {
		return nil
	}
	return &http.BasicAuth{Username: a.Username, Password: a.Password}
}

// Client holds a bare clone of a repository in memory.
// It is safe for concurrent use.
type Client struct {
	url  string
	auth *Auth

	mu   sync.RWMutex
	repo *git.Repository
}

// New clones the repository at url into memory.
func New(url string, auth *Auth) (*Client, error) {
	repo, err := git.Clone(memory.NewStorage(), nil, &git.CloneOptions{
		URL:        url,
		Auth:       auth.method(),
		NoCheckout: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return &Client{url: url, auth: auth, repo: repo}, nil
}

// URL returns the remote URL the client was created with.
func (c *Client) URL() string {
	return c.url
}

// Update fetches new commits, branches and tags from the remote.
func (c *Client) Update() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.repo.Fetch(&git.FetchOptions{
		Auth: c.auth.method(),
		RefSpecs: []config.RefSpec{
			"+refs/heads/*:refs/remotes/origin/*",
			"+refs/tags/*:refs/tags/*",
		},
		Force: true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to fetch %s: %w", c.url, err)
	}
	return nil
}

// ListReferences returns the short names of all branches and tags.
// Remote branches are listed without their remote prefix.
func (c *Client) ListReferences() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	refs, err := c.repo.References()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		switch {
		case name.IsTag(), name.IsBranch():
			seen[name.Short()] = true
		case name.IsRemote():
			// origin/main -> main
			if _, branch, ok := strings.Cut(name.Short(), "/"); ok && branch != "HEAD" {
				seen[branch] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(seen))
	for r := range seen {
		result = append(result, r)
	}
	return result, nil
}

func (c *Client) resolve(revision string) (*plumbing.Hash, error) {
	hash, err := c.repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil && !strings.HasPrefix(revision, "refs/") {
		// Branches of a clone only exist as remote branches.
		hash, err = c.repo.ResolveRevision(plumbing.Revision("origin/" + revision))
	}
	if err != nil {
		return nil, fmt.Errorf("revision %q not found: %w", revision, err)
	}
	return hash, nil
}

func (c *Client) tree(revision string) (*object.Tree, error) {
	hash, err := c.resolve(revision)
	if err != nil {
		return nil, err
	}
	commit, err := c.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("commit lookup for %q failed: %w", revision, err)
	}
	return commit.Tree()
}

// Commit returns the commit hash that revision currently resolves to.
func (c *Client) Commit(revision string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hash, err := c.resolve(revision)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// ReadFile reads filePath as of revision (a branch, tag or commit hash).
func (c *Client) ReadFile(revision, filePath string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tree, err := c.tree(revision)
	if err != nil {
		return nil, err
	}
	file, err := tree.File(filePath)
	if err != nil {
		return nil, fmt.Errorf("%s@%s: %w", filePath, revision, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// ListFilesRecursive lists all files below dirPath as of revision.
// The returned paths are relative to dirPath.
func (c *Client) ListFilesRecursive(revision, dirPath string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tree, err := c.tree(revision)
	if err != nil {
		return nil, err
	}
	if dirPath != "" && dirPath != "." && dirPath != "/" {
		tree, err = tree.Tree(strings.Trim(dirPath, "/"))
		if err != nil {
			return nil, fmt.Errorf("directory %q not found: %w", dirPath, err)
		}
	}

	var files []string
	iter := tree.Files()
	defer iter.Close()
	err = iter.ForEach(func(f *object.File) error {
		files = append(files, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s@%s: %w", dirPath, revision, err)
	}
	return files, nil
}
