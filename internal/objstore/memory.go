package objstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sync"
)

// MemoryStore is an ObjectStore that keeps objects in memory.
// It accepts any location scheme.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ ObjectStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
	}
}

func (m *MemoryStore) Put(ctx context.Context, location string, data []byte) (string, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[loc.String()] = slices.Clone(data)
	return loc.String(), nil
}

func (m *MemoryStore) Get(ctx context.Context, location string) ([]byte, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[loc.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", location, ErrNotFound)
	}
	return slices.Clone(data), nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// MemoryIndex is a brute-force VectorIndex using cosine similarity.
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

var _ VectorIndex = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		vectors: make(map[string][]float32),
	}
}

// Upsert stores or replaces the vector for id.
func (x *MemoryIndex) Upsert(id string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for %q", id)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors[id] = slices.Clone(vector)
	return nil
}

// Delete removes the vector for id, if any.
func (x *MemoryIndex) Delete(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.vectors, id)
}

// Search returns up to k IDs ordered by decreasing similarity to vector.
// Vectors of a different dimension are skipped. Ties are broken by ID.
func (x *MemoryIndex) Search(ctx context.Context, vector []float32, k int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	type hit struct {
		id    string
		score float64
	}
	x.mu.RLock()
	hits := make([]hit, 0, len(x.vectors))
	for id, v := range x.vectors {
		if len(v) != len(vector) {
			continue
		}
		hits = append(hits, hit{id, cosine(vector, v)})
	}
	x.mu.RUnlock()

	slices.SortFunc(hits, func(a, b hit) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		if a.id < b.id {
			return -1
		}
		if a.id > b.id {
			return 1
		}
		return 0
	})
	ids := make([]string, 0, min(k, len(hits)))
	for _, h := range hits[:min(k, len(hits))] {
		ids = append(ids, h.id)
	}
	return ids, nil
}

// Len returns the number of indexed vectors.
func (x *MemoryIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// MarshalJSON encodes the index as an object mapping IDs to vectors.
func (x *MemoryIndex) MarshalJSON() ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return json.Marshal(x.vectors)
}

// UnmarshalJSON replaces the contents of the index.
func (x *MemoryIndex) UnmarshalJSON(data []byte) error {
	var vectors map[string][]float32
	if err := json.Unmarshal(data, &vectors); err != nil {
		return err
	}
	for id, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("empty vector for %q", id)
		}
	}
	if vectors == nil {
		vectors = make(map[string][]float32)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = vectors
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
