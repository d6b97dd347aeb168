// Package ingest uploads asset content to an object store and registers
// the resulting assets in the catalog.
package ingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/objstore"
	"github.com/Cdaprod/cda.data-lake/internal/repo"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultParallelism = 4
)

// Job describes one asset to ingest.
type Job struct {
	MetastoreID string
	// Asset to register. If Location is empty, the content is stored under
	// a content-addressed key below the ingester's base location.
	Asset     *catalog.Asset
	Content   []byte
	Embedding []float32
}

// VectorWriter receives the embeddings of ingested assets.
type VectorWriter interface {
	Upsert(id string, vector []float32) error
	Delete(id string)
}

// Ingester writes content to Objects and then registers assets in Catalog.
// Object store calls happen outside of any catalog lock.
type Ingester struct {
	Catalog *repo.Repository
	Objects objstore.ObjectStore
	// Index is optional.
	Index VectorWriter
	// BaseLocation is the location prefix for content-addressed objects, e.g. "s3://lake".
	BaseLocation string
	// Timeout bounds each upload. Zero means DefaultTimeout.
	Timeout time.Duration
	// Parallelism bounds concurrent uploads in RunAll. Zero means DefaultParallelism.
	Parallelism int
}

// ContentKey returns the object key for content: the metastore and asset
// ID followed by a BLAKE3 digest prefix of the content.
func ContentKey(metastoreID, assetID string, content []byte) string {
	sum := blake3.Sum256(content)
	return metastoreID + "/" + assetID + "/" + hex.EncodeToString(sum[:16])
}

func (in *Ingester) location(job *Job) string {
	if job.Asset.Location != "" {
		return job.Asset.Location
	}
	return strings.TrimSuffix(in.BaseLocation, "/") + "/" + ContentKey(job.MetastoreID, job.Asset.ID, job.Content)
}

// check rejects jobs that would certainly fail to register, before any
// content is uploaded.
func (in *Ingester) check(job *Job) error {
	if job.Asset == nil {
		return fmt.Errorf("ingest job for metastore %s has no asset", job.MetastoreID)
	}
	if kind, ok := in.Catalog.KindOf(job.MetastoreID); !ok || kind != catalog.KindMetastore {
		return fmt.Errorf("asset %s: metastore %q: %w", job.Asset.ID, job.MetastoreID, repo.ErrUnknownMetastore)
	}
	if kind, ok := in.Catalog.KindOf(job.Asset.ID); ok {
		return fmt.Errorf("asset %s (already used by %s): %w", job.Asset.ID, kind, repo.ErrDuplicateIdentifier)
	}
	return nil
}

func (in *Ingester) upload(ctx context.Context, job *Job) (string, error) {
	timeout := in.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	loc, err := in.Objects.Put(ctx, in.location(job), job.Content)
	if err != nil {
		return "", fmt.Errorf("failed to upload asset %s: %w", job.Asset.ID, err)
	}
	return loc, nil
}

// register writes the job's embedding, if any, and then registers the asset.
// An asset is only registered once its embedding is indexed.
func (in *Ingester) register(job *Job, location string) (*catalog.Asset, error) {
	a := job.Asset.Clone()
	a.Location = location
	indexed := false
	if in.Index != nil && len(job.Embedding) > 0 {
		if err := in.Index.Upsert(a.ID, job.Embedding); err != nil {
			return nil, fmt.Errorf("failed to index embedding of asset %s: %w", a.ID, err)
		}
		indexed = true
	}
	if err := in.Catalog.PutAsset(job.MetastoreID, a); err != nil {
		if indexed {
			in.Index.Delete(a.ID)
		}
		return nil, err
	}
	log.Printf("Ingested asset %s into metastore %s (%d bytes at %s)", a.ID, job.MetastoreID, len(job.Content), location)
	return in.Catalog.GetAsset(job.MetastoreID, a.ID)
}

// Run ingests a single job and returns the registered asset.
// If registration fails after the upload, the uploaded object is left in place.
func (in *Ingester) Run(ctx context.Context, job Job) (*catalog.Asset, error) {
	if err := in.check(&job); err != nil {
		return nil, err
	}
	loc, err := in.upload(ctx, &job)
	if err != nil {
		return nil, err
	}
	return in.register(&job, loc)
}

// RunAll uploads the content of all jobs concurrently and then registers
// the assets in the given order, so predecessors must come before the assets
// that list them in their lineage. Nothing is registered if any upload fails.
func (in *Ingester) RunAll(ctx context.Context, jobs []Job) ([]*catalog.Asset, error) {
	seen := make(map[string]bool, len(jobs))
	for i := range jobs {
		if err := in.check(&jobs[i]); err != nil {
			return nil, err
		}
		id := jobs[i].Asset.ID
		if seen[id] {
			return nil, fmt.Errorf("asset %s: ingested twice: %w", id, repo.ErrDuplicateIdentifier)
		}
		seen[id] = true
	}

	parallelism := in.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	locations := make([]string, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := range jobs {
		g.Go(func() error {
			loc, err := in.upload(gctx, &jobs[i])
			if err != nil {
				return err
			}
			locations[i] = loc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	assets := make([]*catalog.Asset, 0, len(jobs))
	for i := range jobs {
		a, err := in.register(&jobs[i], locations[i])
		if err != nil {
			return assets, err
		}
		assets = append(assets, a)
	}
	return assets, nil
}
