package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/Cdaprod/cda.data-lake/internal/store"
)

// FileStore is an ObjectStore for "file://" locations that keeps objects
// below a root directory: "file://lake/raw/events" is stored in
// <rootDir>/lake/raw/events.
type FileStore struct {
	files *store.DiskStore
}

var _ ObjectStore = (*FileStore)(nil)

func NewFileStore(rootDir string) *FileStore {
	return &FileStore{files: store.NewDiskStore(rootDir)}
}

func (f *FileStore) filePath(location string) (Location, string, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return Location{}, "", err
	}
	if loc.Scheme != "file" {
		return Location{}, "", fmt.Errorf("%w: %q is not a file:// location", ErrInvalidLocation, location)
	}
	return loc, path.Join(loc.Bucket, loc.Key), nil
}

func (f *FileStore) Put(ctx context.Context, location string, data []byte) (string, error) {
	loc, p, err := f.filePath(location)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := f.files.WriteFile(p, data); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", location, err)
	}
	return loc.String(), nil
}

func (f *FileStore) Get(ctx context.Context, location string) ([]byte, error) {
	_, p, err := f.filePath(location)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := f.files.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", location, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	return data, nil
}
