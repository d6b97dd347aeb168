// Package repo implements the metadata catalog: a single namespace of
// metastores, assets, ETL processes and client connections with
// identifier, lineage and dependency integrity checks.
package repo

import (
	"cmp"
	"fmt"
	"log"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/ident"
	"github.com/Cdaprod/cda.data-lake/internal/store"
	"github.com/google/uuid"
)

// Repository is the catalog facade. It is safe for concurrent use.
//
// All mutations run under a single write lock, which covers the identifier
// registry and every entity map, so that checking invariants and committing
// a change is atomic. Reads share a read lock and return copies.
type Repository struct {
	mu sync.RWMutex

	ids         *ident.Registry
	metastores  map[string]*catalog.Metastore
	processes   map[string]*catalog.Process
	connections map[string]*catalog.ClientConnection
	// Maps asset IDs to the ID of the metastore holding them.
	assetIndex map[string]string
	// Maps asset IDs to the set of assets that list them in their lineage.
	dependents map[string]map[string]bool

	config Config
	now    func() time.Time
	newID  func() string
}

func NewRepositoryWithConfig(config Config) *Repository {
	return &Repository{
		ids:         ident.NewRegistry(),
		metastores:  make(map[string]*catalog.Metastore),
		processes:   make(map[string]*catalog.Process),
		connections: make(map[string]*catalog.ClientConnection),
		assetIndex:  make(map[string]string),
		dependents:  make(map[string]map[string]bool),
		config:      config,
		now: func() time.Time {
			return time.Now().UTC()
		},
		newID: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
	}
}

func NewRepository() *Repository {
	return NewRepositoryWithConfig(Config{})
}

// Size returns the number of registered identifiers (all kinds).
func (r *Repository) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids.Size()
}

// advance returns the current time, but strictly after prev.
// This guarantees that updated_at advances on every mutation even with a coarse clock.
func (r *Repository) advance(prev time.Time) time.Time {
	t := r.now()
	if !t.After(prev) {
		t = prev.Add(time.Nanosecond)
	}
	return t
}

// Metastores

// CreateMetastore adds a new metastore. If m contains assets, they are
// inserted as well (in lineage order); the operation is all-or-nothing.
func (r *Repository) CreateMetastore(m *catalog.Metastore) error {
	if err := catalog.ValidateMetastore(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for id, a := range m.Assets {
		if a == nil || id != a.ID {
			return fmt.Errorf("%w: metastore %s: bad asset entry %q", ErrInvalid, m.ID, id)
		}
	}
	m = m.Clone()
	initial := m.SortedAssets()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ids.Reserve(m.ID, ident.KindMetastore); err != nil {
		return err
	}
	m.Assets = make(map[string]*catalog.Asset, len(initial))
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = r.now()
	}
	r.metastores[m.ID] = m

	if err := r.insertAssetsLocked(m, initial); err != nil {
		delete(r.metastores, m.ID)
		r.ids.Release(m.ID)
		return err
	}
	return nil
}

// GetMetastore returns a copy of the metastore, including all its assets.
func (r *Repository) GetMetastore(id string) (*catalog.Metastore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metastores[id]
	if !ok {
		return nil, fmt.Errorf("metastore %q: %w", id, ErrNotFound)
	}
	return m.Clone(), nil
}

// ListMetastores returns copies of all metastores ordered by ID.
func (r *Repository) ListMetastores() []*catalog.Metastore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*catalog.Metastore, 0, len(r.metastores))
	for _, id := range slices.Sorted(maps.Keys(r.metastores)) {
		result = append(result, r.metastores[id].Clone())
	}
	return result
}

// RemoveMetastore removes an empty metastore.
func (r *Repository) RemoveMetastore(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metastores[id]
	if !ok {
		return fmt.Errorf("metastore %q: %w", id, ErrNotFound)
	}
	if n := len(m.Assets); n > 0 {
		return fmt.Errorf("metastore %q holds %d assets: %w", id, n, ErrMetastoreNotEmpty)
	}
	delete(r.metastores, id)
	r.ids.Release(id)
	return nil
}

// KindOf reports the kind of entity registered under id without copying it.
func (r *Repository) KindOf(id string) (catalog.Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids.Lookup(id)
}

// FindByID resolves any identifier regardless of its kind.
// The result is a copy of a *catalog.Metastore, *catalog.Asset,
// *catalog.Process or *catalog.ClientConnection.
func (r *Repository) FindByID(id string) (catalog.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.ids.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	switch kind {
	case ident.KindMetastore:
		return r.metastores[id].Clone(), nil
	case ident.KindAsset:
		return r.metastores[r.assetIndex[id]].Assets[id].Clone(), nil
	case ident.KindProcess:
		return r.processes[id].Clone(), nil
	case ident.KindConnection:
		return r.connections[id].Clone(), nil
	}
	// Unreachable as long as every Reserve call uses one of the kinds above.
	panic(fmt.Sprintf("identifier %q registered with unknown kind %q", id, kind))
}

// Snapshot

// Snapshot returns a consistent copy of the whole catalog.
func (r *Repository) Snapshot() *catalog.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc := &catalog.Document{}
	for _, id := range slices.Sorted(maps.Keys(r.metastores)) {
		doc.Metastores = append(doc.Metastores, r.metastores[id].Clone())
	}
	for _, id := range slices.Sorted(maps.Keys(r.processes)) {
		doc.Processes = append(doc.Processes, r.processes[id].Clone())
	}
	for _, id := range slices.Sorted(maps.Keys(r.connections)) {
		doc.Connections = append(doc.Connections, r.connections[id].Clone())
	}
	return doc
}

// FromDocument builds a validated repository from a catalog document.
// Timestamps stored in the document are preserved.
func FromDocument(doc *catalog.Document, config Config) (*Repository, error) {
	r := NewRepositoryWithConfig(config)

	// Assets may reference assets in other metastores, so all metastores
	// are created first and their assets inserted afterwards, in lineage order.
	// Inserting assets leaves the metastores' UpdatedAt as stored, or as set
	// by CreateMetastore if the document has none.
	var assets []*catalog.Asset
	owner := make(map[string]string)
	for _, m := range doc.Metastores {
		if m == nil {
			return nil, fmt.Errorf("%w: nil metastore in document", ErrInvalid)
		}
		for key, a := range m.Assets {
			if a == nil || key != a.ID {
				return nil, fmt.Errorf("%w: metastore %s: bad asset entry %q", ErrInvalid, m.ID, key)
			}
			if prev, dup := owner[a.ID]; dup {
				return nil, fmt.Errorf("asset %q in metastores %s and %s: %w", a.ID, prev, m.ID, ErrDuplicateIdentifier)
			}
			owner[a.ID] = m.ID
			assets = append(assets, a)
		}
		header := &catalog.Metastore{ID: m.ID, Repository: m.Repository, UpdatedAt: m.UpdatedAt}
		if err := r.CreateMetastore(header); err != nil {
			return nil, fmt.Errorf("metastore %s: %w", m.ID, err)
		}
	}

	ordered, err := orderByLineage(assets, func(string) bool { return false })
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, a := range ordered {
		if err := r.insertAssetLocked(r.metastores[owner[a.ID]], a.Clone()); err != nil {
			r.mu.Unlock()
			return nil, err
		}
	}
	r.mu.Unlock()

	for _, p := range doc.Processes {
		if p == nil || p.ID == "" {
			return nil, fmt.Errorf("%w: process without process_id in document", ErrInvalid)
		}
		if _, err := r.RegisterProcess(p); err != nil {
			return nil, fmt.Errorf("process %s: %w", p.ID, err)
		}
	}
	for _, c := range doc.Connections {
		if err := r.RegisterConnection(c); err != nil {
			return nil, fmt.Errorf("connection %s: %w", c.GetID(), err)
		}
	}
	return r, nil
}

// Load reads a catalog document from path in st and returns a validated repository.
func Load(st store.Store, config Config, path string) (*Repository, error) {
	log.Printf("Reading catalog snapshot %s", path)
	doc, err := store.ReadDocument(st, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog snapshot %s: %w", path, err)
	}
	r, err := FromDocument(doc, config)
	if err != nil {
		return nil, fmt.Errorf("catalog snapshot %s is invalid: %w", path, err)
	}
	return r, nil
}

// Save writes a snapshot of r to path in st.
// The snapshot is taken under the read lock; writing happens outside of it.
func (r *Repository) Save(st store.Store, path string) error {
	doc := r.Snapshot()
	if err := store.WriteDocument(st, path, doc); err != nil {
		return fmt.Errorf("failed to write catalog snapshot %s: %w", path, err)
	}
	return nil
}

func compareEntityByID[T catalog.Entity](a, b T) int {
	return cmp.Compare(a.GetID(), b.GetID())
}
