// Package objstore contains the object and vector store clients the catalog
// hands bytes and embeddings to. The catalog itself only stores locations.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNotFound        = errors.New("object not found")
	ErrInvalidLocation = errors.New("invalid object location")
)

// ObjectStore stores opaque blobs under a location URL such as
// "s3://bucket/path/to/key".
type ObjectStore interface {
	// Put stores data at location and returns the canonical location of
	// the stored object, which is what callers should record.
	Put(ctx context.Context, location string, data []byte) (string, error)
	// Get returns the object stored at location, or ErrNotFound.
	Get(ctx context.Context, location string) ([]byte, error)
}

// VectorIndex stores one embedding per entity ID and finds the IDs of the
// entries most similar to a query vector.
type VectorIndex interface {
	Upsert(id string, vector []float32) error
	Delete(id string)
	Search(ctx context.Context, vector []float32, k int) ([]string, error)
}

// Location is a parsed object location.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

func (l Location) String() string {
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// ParseLocation splits a location URL into scheme, bucket and key.
func ParseLocation(loc string) (Location, error) {
	u, err := url.Parse(loc)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme == "" || u.Host == "" || key == "" {
		return Location{}, fmt.Errorf("%w: %q (want scheme://bucket/key)", ErrInvalidLocation, loc)
	}
	return Location{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
}
