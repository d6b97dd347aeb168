// Package store provides the storage layers catalog snapshots and
// configuration files are read from and written to: local disk, a Git
// repository (read-only) and an embedded Badger database.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Cdaprod/cda.data-lake/internal/gitclient"
)

var (
	ErrReadOnly  = errors.New("store is read-only")
	ErrNoSuchRef = errors.New("no such ref")
)

// Source is the abstraction over different types of storage layers,
// in particular local disk (non-versioned) and a Git repo (read-only).
type Source interface {
	// Refresh updates the internal state of the source (e.g., via git fetch).
	// For a disk store, this is a no-op.
	Refresh() error
	// Store returns a handle to a store at the given ref.
	// For non-versioned stores, ref must be "".
	Store(ref string) (Store, error)
}

// Store is a minimal abstraction to list, read, and write files.
type Store interface {
	// ListFiles lists all files in dir (recursively).
	// The resulting paths are relative to the store's root directory,
	// so they can be passed to ReadFile and WriteFile unmodified.
	ListFiles(dir string) ([]string, error)
	// ReadFile reads the contents of path from the store.
	// path should be a relative path (e.g., "snapshots/catalog.json").
	ReadFile(path string) ([]byte, error)
	// WriteFile writes the given contents to path in the store.
	// Stores that do not support writing return ErrReadOnly.
	WriteFile(path string, contents []byte) error
}

// DiskStore is an implementation of Source and Store that reads files from the local file system.
type DiskStore struct {
	rootDir string
}

var _ Source = (*DiskStore)(nil)
var _ Store = (*DiskStore)(nil)

func NewDiskStore(rootDir string) *DiskStore {
	return &DiskStore{
		rootDir: rootDir,
	}
}

func (d *DiskStore) Refresh() error {
	return nil
}

func (d *DiskStore) Store(ref string) (Store, error) {
	if ref != "" {
		return nil, fmt.Errorf("invalid ref %q: %w", ref, ErrNoSuchRef)
	}
	return d, nil
}

func (d *DiskStore) ListFiles(dir string) ([]string, error) {
	return listFilesRecursively(d.rootDir, dir)
}

func resolveRelPath(root, subpath string) (string, error) {
	fullPath := filepath.Join(root, subpath)

	rel, err := filepath.Rel(root, fullPath)
	if err != nil {
		return "", fmt.Errorf("not a relative path: %v", err)
	}
	// A relative path escaping the root starts with ".."
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes root directory", subpath)
	}
	return fullPath, nil
}

func (d *DiskStore) ReadFile(path string) ([]byte, error) {
	fullPath, err := resolveRelPath(d.rootDir, path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(fullPath)
}

// WriteFile writes path atomically: contents go to a temporary file in the
// target directory first, which is then renamed. Missing parent directories
// are created.
func (d *DiskStore) WriteFile(path string, contents []byte) error {
	fullPath, err := resolveRelPath(d.rootDir, path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fullPath)
}

// GitSource is an implementation of Source that reads from a remote Git repository.
type GitSource struct {
	client     *gitclient.Client
	defaultRef string   // ref to use if the empty ref ("") is requested
	rootDir    string   // directory inside the repository that stores are rooted at
	refs       []string // cached list of available references
}

// gitStore is a view over a single revision in a GitSource.
type gitStore struct {
	client  *gitclient.Client
	ref     string
	rootDir string
}

var _ Source = (*GitSource)(nil)
var _ Store = (*gitStore)(nil)

func NewGitSource(client *gitclient.Client, defaultRef, rootDir string) *GitSource {
	return &GitSource{
		client:     client,
		defaultRef: defaultRef,
		rootDir:    rootDir,
	}
}

func (g *GitSource) DefaultRef() string {
	return g.defaultRef
}

func (g *GitSource) Refresh() error {
	g.refs = nil
	return g.client.Update()
}

func (g *GitSource) Store(ref string) (Store, error) {
	if ref == "" {
		ref = g.defaultRef
	}
	refs, err := g.ListReferences()
	if err != nil {
		return nil, fmt.Errorf("cannot list references: %v", err)
	}
	if !slices.Contains(refs, ref) {
		return nil, ErrNoSuchRef
	}
	return &gitStore{
		client:  g.client,
		ref:     ref,
		rootDir: g.rootDir,
	}, nil
}

// Commit returns the commit hash ref currently points to.
func (g *GitSource) Commit(ref string) (string, error) {
	if ref == "" {
		ref = g.defaultRef
	}
	return g.client.Commit(ref)
}

func (g *GitSource) ListReferences() ([]string, error) {
	if g.refs != nil {
		return g.refs, nil
	}
	refs, err := g.client.ListReferences()
	if err != nil {
		return nil, err
	}
	slices.Sort(refs)
	g.refs = refs
	return refs, nil
}

// Git paths always use "/", so path is used instead of filepath.
func (g *gitStore) resolve(p string) string {
	if g.rootDir == "" {
		return p
	}
	return path.Join(g.rootDir, p)
}

func (g *gitStore) ListFiles(dir string) ([]string, error) {
	files, err := g.client.ListFilesRecursive(g.ref, g.resolve(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %v", err)
	}
	result := make([]string, len(files))
	for i, f := range files {
		result[i] = path.Join(dir, f)
	}
	return result, nil
}

func (g *gitStore) ReadFile(p string) ([]byte, error) {
	return g.client.ReadFile(g.ref, g.resolve(p))
}

func (g *gitStore) WriteFile(path string, contents []byte) error {
	return ErrReadOnly
}

// listFilesRecursively lists all files in subDir, which must
// be a relative path specifying a sub-directory of rootDir.
// The resulting paths are all relative to rootDir.
//
// Example:
// with rootDir "/srv/lake" and subDir "snapshots/2024", all files under
// "/srv/lake/snapshots/2024" are returned relative to "/srv/lake", such as
// ["snapshots/2024/catalog.json"].
func listFilesRecursively(rootDir, subDir string) ([]string, error) {
	var files []string

	startDir := filepath.Join(rootDir, subDir)
	err := filepath.WalkDir(startDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// SnapshotFiles lists all catalog documents (*.json, *.jsonc, *.yaml, *.yml)
// under dir, which must be a path relative to the store's root.
func SnapshotFiles(st Store, dir string) ([]string, error) {
	allFiles, err := st.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, f := range allFiles {
		if _, err := FormatOf(f); err == nil {
			result = append(result, f)
		}
	}
	slices.Sort(result)
	return result, nil
}
