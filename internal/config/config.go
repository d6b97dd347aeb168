// Package config loads the application configuration bundle.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"time"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/objstore"
	"github.com/Cdaprod/cda.data-lake/internal/repo"
	"github.com/Cdaprod/cda.data-lake/internal/store"
	"gopkg.in/yaml.v3"
)

// ObjectStoreConfig selects where asset content is written.
// Without S3 settings, objects are written to files below Dir.
type ObjectStoreConfig struct {
	S3 *objstore.S3Config `yaml:"s3"`
	// Root directory of "file://" objects. A relative path is resolved
	// against the directory passed to NewObjectStore.
	Dir string `yaml:"dir"`
	// Keeps objects in process memory only. They are lost on exit.
	InMemory bool `yaml:"inMemory"`
	// Number of objects kept in the read cache. Zero disables the cache.
	CacheSize int `yaml:"cacheSize"`
	// Location prefix for content-addressed objects, e.g. "s3://lake".
	// Defaults to "s3://lake" with S3 and "file://lake" otherwise.
	BaseLocation string `yaml:"baseLocation"`
}

// Durable reports whether stored objects outlive the process.
func (c *ObjectStoreConfig) Durable() bool {
	return !c.InMemory
}

// scheme returns the location scheme the configured backend accepts,
// or "" if it accepts any.
func (c *ObjectStoreConfig) scheme() string {
	switch {
	case c.S3 != nil:
		return "s3"
	case c.InMemory:
		return ""
	}
	return "file"
}

type IngestConfig struct {
	Parallelism int           `yaml:"parallelism"`
	Timeout     time.Duration `yaml:"timeout"`
}

// HelpLink is a custom link returned with the API index.
type HelpLink struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

// Bundle is the umbrella struct for the serialized application configuration YAML.
// It bundles the package-specific configurations.
type Bundle struct {
	Catalog     repo.Config       `yaml:"catalog"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	Ingest      IngestConfig      `yaml:"ingest"`
	HelpLink    *HelpLink         `yaml:"helpLink"`
}

// Default returns the configuration used if no configuration file is given.
func Default() *Bundle {
	b := defaults()
	b.complete()
	return b
}

// defaults returns the settings a configuration file is decoded onto.
func defaults() *Bundle {
	return &Bundle{
		ObjectStore: ObjectStoreConfig{
			Dir: "objects",
		},
	}
}

// complete fills in defaults that depend on other settings.
func (b *Bundle) complete() {
	if b.ObjectStore.BaseLocation == "" {
		scheme := b.ObjectStore.scheme()
		if scheme == "" {
			scheme = "file"
		}
		b.ObjectStore.BaseLocation = scheme + "://lake"
	}
}

func (b *Bundle) validate() error {
	if b.ObjectStore.CacheSize < 0 {
		return fmt.Errorf("objectStore.cacheSize must not be negative")
	}
	if !catalog.IsValidLocation(b.ObjectStore.BaseLocation) {
		return fmt.Errorf("invalid objectStore.baseLocation %q", b.ObjectStore.BaseLocation)
	}
	if b.ObjectStore.S3 != nil && b.ObjectStore.InMemory {
		return fmt.Errorf("objectStore.s3 and objectStore.inMemory are mutually exclusive")
	}
	if scheme := b.ObjectStore.scheme(); scheme != "" {
		if u, _ := url.Parse(b.ObjectStore.BaseLocation); u.Scheme != scheme {
			return fmt.Errorf("objectStore.baseLocation %q must be a %s:// location", b.ObjectStore.BaseLocation, scheme)
		}
	}
	if b.ObjectStore.scheme() == "file" && b.ObjectStore.Dir == "" {
		return fmt.Errorf("objectStore.dir must be set unless s3 or inMemory is configured")
	}
	if b.Ingest.Parallelism < 0 {
		return fmt.Errorf("ingest.parallelism must not be negative")
	}
	if b.Ingest.Timeout < 0 {
		return fmt.Errorf("ingest.timeout must not be negative")
	}
	return nil
}

// NewObjectStore creates the object store described by the configuration.
// A relative objectStore.dir is resolved against baseDir.
func (b *Bundle) NewObjectStore(baseDir string) (objstore.ObjectStore, error) {
	var st objstore.ObjectStore
	switch c := b.ObjectStore; {
	case c.S3 != nil:
		st = objstore.NewS3Store(*c.S3)
	case c.InMemory:
		st = objstore.NewMemoryStore()
	default:
		dir := c.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(baseDir, dir)
		}
		st = objstore.NewFileStore(dir)
	}
	if b.ObjectStore.CacheSize > 0 {
		return objstore.NewCachingStore(st, b.ObjectStore.CacheSize)
	}
	return st, nil
}

func Load(st store.Store, configPath string) (*Bundle, error) {
	bs, err := st.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("could not read config %q: %w", configPath, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(bs))
	dec.KnownFields(true)
	bundle := defaults()
	if err := dec.Decode(bundle); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid configuration YAML in %q: %v", configPath, err)
	}
	bundle.complete()
	if err := bundle.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %q: %v", configPath, err)
	}
	return bundle, nil
}
