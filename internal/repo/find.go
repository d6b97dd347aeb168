package repo

import (
	"fmt"
	"slices"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/query"
)

// Find returns copies of all entities matching the query q, ordered by ID.
// An empty query matches all entities.
func (r *Repository) Find(q string) ([]catalog.Entity, error) {
	var ev *query.Evaluator
	if q != "" {
		var err error
		if ev, err = query.Compile(q); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	r.mu.RLock()
	all := make([]catalog.Entity, 0, r.ids.Size())
	for _, m := range r.metastores {
		all = append(all, m.Clone())
		for _, a := range m.Assets {
			all = append(all, a.Clone())
		}
	}
	for _, p := range r.processes {
		all = append(all, p.Clone())
	}
	for _, c := range r.connections {
		all = append(all, c.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(all, compareEntityByID)
	if ev == nil {
		return all, nil
	}
	result := make([]catalog.Entity, 0, len(all))
	for _, e := range all {
		ok, err := ev.Matches(e)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if ok {
			result = append(result, e)
		}
	}
	return result, nil
}
