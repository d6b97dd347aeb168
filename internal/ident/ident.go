// Package ident implements the single identifier namespace shared by all
// entity kinds of the catalog.
package ident

import (
	"errors"
	"fmt"
	"slices"
)

// Kind identifies the entity collection an identifier belongs to.
type Kind string

const (
	KindMetastore  Kind = "metastore"
	KindAsset      Kind = "asset"
	KindProcess    Kind = "process"
	KindConnection Kind = "connection"
)

var ErrDuplicate = errors.New("identifier already in use")

// Registry tracks all identifiers currently in use.
//
// A Registry is not safe for concurrent use. Callers must hold the same
// lock that guards the entity maps backed by the registry, so that
// reservation and insertion become visible together.
type Registry struct {
	ids map[string]Kind
}

func NewRegistry() *Registry {
	return &Registry{
		ids: make(map[string]Kind),
	}
}

// Reserve marks id as used by an entity of the given kind.
func (r *Registry) Reserve(id string, kind Kind) error {
	if existing, ok := r.ids[id]; ok {
		return fmt.Errorf("%w: %q (used by %s)", ErrDuplicate, id, existing)
	}
	r.ids[id] = kind
	return nil
}

// Release frees id. Releasing an unknown id is a no-op.
func (r *Registry) Release(id string) {
	delete(r.ids, id)
}

// Lookup returns the kind of the entity registered under id.
func (r *Registry) Lookup(id string) (Kind, bool) {
	k, ok := r.ids[id]
	return k, ok
}

func (r *Registry) Contains(id string) bool {
	_, ok := r.ids[id]
	return ok
}

func (r *Registry) Size() int {
	return len(r.ids)
}

// IDs returns all registered identifiers of the given kind in sorted order.
// An empty kind returns identifiers of all kinds.
func (r *Registry) IDs(kind Kind) []string {
	var result []string
	for id, k := range r.ids {
		if kind == "" || k == kind {
			result = append(result, id)
		}
	}
	slices.Sort(result)
	return result
}
