package repo

import (
	"fmt"
	"maps"
	"slices"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
)

// validateLineageLocked checks the lineage of a candidate asset.
//
// Predecessors must be committed before their dependents, so lineage edges
// always point backwards in insertion order and the lineage graph cannot
// contain a cycle. Apart from a self-reference, no traversal is needed.
func (r *Repository) validateLineageLocked(a *catalog.Asset) error {
	if slices.Contains(a.Lineage, a.ID) {
		return fmt.Errorf("asset %q lists itself as predecessor: %w", a.ID, ErrCyclicLineage)
	}
	for _, pred := range a.Lineage {
		if r.isAsset(pred) {
			continue
		}
		if kind, ok := r.ids.Lookup(pred); ok {
			return fmt.Errorf("asset %q: predecessor %q is a %s, not an asset: %w", a.ID, pred, kind, ErrUnknownLineageReference)
		}
		return fmt.Errorf("asset %q: predecessor %q: %w", a.ID, pred, ErrUnknownLineageReference)
	}
	return nil
}

// Lineage returns the IDs of all transitive predecessors of an asset, ordered by ID.
func (r *Repository) Lineage(assetID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.isAsset(assetID) {
		return nil, fmt.Errorf("asset %q: %w", assetID, ErrNotFound)
	}
	seen := map[string]bool{}
	queue := []string{assetID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		a := r.metastores[r.assetIndex[id]].Assets[id]
		for _, pred := range a.Lineage {
			if !seen[pred] {
				seen[pred] = true
				queue = append(queue, pred)
			}
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// Dependents returns the IDs of the assets that directly list assetID in
// their lineage, ordered by ID.
func (r *Repository) Dependents(assetID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.isAsset(assetID) {
		return nil, fmt.Errorf("asset %q: %w", assetID, ErrNotFound)
	}
	return slices.Sorted(maps.Keys(r.dependents[assetID])), nil
}

// orderByLineage sorts a batch of assets so that every asset comes after all
// of its predecessors within the batch (Kahn's algorithm, ties broken by ID).
// Predecessors outside the batch must satisfy known.
func orderByLineage(assets []*catalog.Asset, known func(id string) bool) ([]*catalog.Asset, error) {
	batch := make(map[string]*catalog.Asset, len(assets))
	inDegree := make(map[string]int, len(assets))
	for _, a := range assets {
		if _, dup := batch[a.ID]; dup {
			return nil, fmt.Errorf("asset %q: %w", a.ID, ErrDuplicateIdentifier)
		}
		batch[a.ID] = a
		inDegree[a.ID] = 0
	}

	children := make(map[string][]string)
	for _, id := range slices.Sorted(maps.Keys(batch)) {
		a := batch[id]
		for _, pred := range a.Lineage {
			if pred == id {
				return nil, fmt.Errorf("asset %q lists itself as predecessor: %w", id, ErrCyclicLineage)
			}
			if _, ok := batch[pred]; ok {
				children[pred] = append(children[pred], id)
				inDegree[id]++
			} else if !known(pred) {
				return nil, fmt.Errorf("asset %q: predecessor %q: %w", id, pred, ErrUnknownLineageReference)
			}
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	slices.Sort(queue)

	result := make([]*catalog.Asset, 0, len(batch))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, batch[id])
		var ready []string
		for _, c := range children[id] {
			inDegree[c]--
			if inDegree[c] == 0 {
				ready = append(ready, c)
			}
		}
		queue = append(queue, ready...)
		slices.Sort(queue)
	}

	if len(result) != len(batch) {
		var cyclic []string
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		slices.Sort(cyclic)
		return nil, fmt.Errorf("assets %v form a lineage cycle: %w", cyclic, ErrCyclicLineage)
	}
	return result, nil
}
