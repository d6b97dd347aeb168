package repo

import (
	"fmt"
	"maps"
	"slices"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/ident"
)

// PutAsset adds a new asset to the given metastore.
//
// The asset ID must not be used by any entity in the catalog, and every
// lineage entry must refer to an asset that is already committed.
// Timestamps that are unset are initialized to the current time.
func (r *Repository) PutAsset(metastoreID string, a *catalog.Asset) error {
	if a == nil {
		return fmt.Errorf("%w: asset is nil", ErrInvalid)
	}
	a = a.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.metastores[metastoreID]
	if !ok {
		return fmt.Errorf("metastore %q: %w", metastoreID, ErrUnknownMetastore)
	}
	if err := r.insertAssetLocked(m, a); err != nil {
		return err
	}
	m.UpdatedAt = r.advance(m.UpdatedAt)
	return nil
}

// GetAsset returns a copy of the asset.
func (r *Repository) GetAsset(metastoreID, assetID string) (*catalog.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, err := r.assetLocked(metastoreID, assetID)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// ListAssets returns copies of all assets of a metastore, ordered by ID.
func (r *Repository) ListAssets(metastoreID string) ([]*catalog.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metastores[metastoreID]
	if !ok {
		return nil, fmt.Errorf("metastore %q: %w", metastoreID, ErrNotFound)
	}
	result := make([]*catalog.Asset, 0, len(m.Assets))
	for _, a := range m.Assets {
		result = append(result, a.Clone())
	}
	slices.SortFunc(result, compareEntityByID)
	return result, nil
}

// UpdateAsset replaces the descriptive fields of an existing asset
// (type, description, location, schema).
//
// Lineage is fixed at insertion time: a non-nil lineage in a must equal the
// stored one. This keeps lineage edges pointing backwards in insertion order.
func (r *Repository) UpdateAsset(metastoreID string, a *catalog.Asset) error {
	if a == nil {
		return fmt.Errorf("%w: asset is nil", ErrInvalid)
	}
	a = a.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	old, err := r.assetLocked(metastoreID, a.ID)
	if err != nil {
		return err
	}
	if a.Lineage == nil {
		a.Lineage = slices.Clone(old.Lineage)
	} else if !slices.Equal(a.Lineage, old.Lineage) {
		return fmt.Errorf("%w: lineage of asset %q cannot be changed", ErrInvalid, a.ID)
	}
	if err := catalog.ValidateAsset(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := r.config.AcceptAsset(a); err != nil {
		return fmt.Errorf("%w: asset %s: %v", ErrInvalid, a.ID, err)
	}

	m := r.metastores[metastoreID]
	a.CreatedAt = old.CreatedAt
	a.UpdatedAt = r.advance(old.UpdatedAt)
	m.Assets[a.ID] = a
	m.UpdatedAt = r.advance(m.UpdatedAt)
	return nil
}

// RemoveAsset deletes an asset and frees its identifier.
// Assets that other assets list in their lineage cannot be removed.
func (r *Repository) RemoveAsset(metastoreID, assetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.assetLocked(metastoreID, assetID); err != nil {
		return err
	}
	if deps := r.dependents[assetID]; len(deps) > 0 {
		return fmt.Errorf("asset %q is referenced by %v: %w", assetID, slices.Sorted(maps.Keys(deps)), ErrDependentAssetsExist)
	}
	m := r.metastores[metastoreID]
	r.deleteAssetLocked(m, assetID)
	m.UpdatedAt = r.advance(m.UpdatedAt)
	return nil
}

func (r *Repository) assetLocked(metastoreID, assetID string) (*catalog.Asset, error) {
	m, ok := r.metastores[metastoreID]
	if !ok {
		return nil, fmt.Errorf("metastore %q: %w", metastoreID, ErrNotFound)
	}
	a, ok := m.Assets[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %q in metastore %q: %w", assetID, metastoreID, ErrNotFound)
	}
	return a, nil
}

func (r *Repository) isAsset(id string) bool {
	_, ok := r.assetIndex[id]
	return ok
}

// insertAssetLocked validates a and commits it to m.
// A used identifier is reported before any other problem with a.
// It does not touch m.UpdatedAt. a must not be shared with the caller.
func (r *Repository) insertAssetLocked(m *catalog.Metastore, a *catalog.Asset) error {
	if kind, ok := r.ids.Lookup(a.ID); ok {
		return fmt.Errorf("asset %q (already used by %s): %w", a.ID, kind, ErrDuplicateIdentifier)
	}
	if err := catalog.ValidateAsset(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := r.config.AcceptAsset(a); err != nil {
		return fmt.Errorf("%w: asset %s: %v", ErrInvalid, a.ID, err)
	}
	if err := r.validateLineageLocked(a); err != nil {
		return err
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	if err := r.ids.Reserve(a.ID, ident.KindAsset); err != nil {
		return err
	}
	m.Assets[a.ID] = a
	r.assetIndex[a.ID] = m.ID
	for _, pred := range a.Lineage {
		deps := r.dependents[pred]
		if deps == nil {
			deps = make(map[string]bool)
			r.dependents[pred] = deps
		}
		deps[a.ID] = true
	}
	return nil
}

// insertAssetsLocked inserts assets into m in lineage order.
// If any asset is rejected, the assets inserted so far are removed again.
func (r *Repository) insertAssetsLocked(m *catalog.Metastore, assets []*catalog.Asset) error {
	ordered, err := orderByLineage(assets, r.isAsset)
	if err != nil {
		return err
	}
	var inserted []string
	for _, a := range ordered {
		if err := r.insertAssetLocked(m, a); err != nil {
			for _, id := range slices.Backward(inserted) {
				r.deleteAssetLocked(m, id)
			}
			return err
		}
		inserted = append(inserted, a.ID)
	}
	return nil
}

func (r *Repository) deleteAssetLocked(m *catalog.Metastore, id string) {
	a := m.Assets[id]
	for _, pred := range a.Lineage {
		if deps := r.dependents[pred]; deps != nil {
			delete(deps, id)
			if len(deps) == 0 {
				delete(r.dependents, pred)
			}
		}
	}
	delete(m.Assets, id)
	delete(r.assetIndex, id)
	r.ids.Release(id)
}
