package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
)

var invalidIDChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// AssetIDFromPath derives an asset ID from a file name,
// e.g. "Raw Events.parquet" -> "raw-events".
func AssetIDFromPath(p string) string {
	base := filepath.Base(p)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	id := invalidIDChars.ReplaceAllString(strings.ToLower(base), "-")
	return strings.Trim(id, "-_.")
}

// JobsFromFiles reads the given files and returns one job per file.
// Each file becomes an asset of assetType in the given metastore.
func JobsFromFiles(metastoreID, assetType string, paths []string) ([]Job, error) {
	jobs := make([]Job, 0, len(paths))
	for _, p := range paths {
		id := AssetIDFromPath(p)
		if !catalog.IsValidID(id) {
			return nil, fmt.Errorf("cannot derive an asset ID from file name %q", p)
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, Job{
			MetastoreID: metastoreID,
			Asset: &catalog.Asset{
				ID:          id,
				Type:        assetType,
				Description: fmt.Sprintf("Ingested from `%s`.", filepath.Base(p)),
			},
			Content: content,
		})
	}
	return jobs, nil
}
