package repo

import (
	"fmt"
	"slices"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/ident"
)

// RegisterConnection adds a client connection. Its service name shares the
// catalog-wide identifier namespace.
func (r *Repository) RegisterConnection(c *catalog.ClientConnection) error {
	if err := catalog.ValidateConnection(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := r.config.AcceptConnection(c); err != nil {
		return fmt.Errorf("%w: connection %s: %v", ErrInvalid, c.ID, err)
	}
	c = c.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ids.Reserve(c.ID, ident.KindConnection); err != nil {
		return fmt.Errorf("connection: %w", err)
	}
	r.connections[c.ID] = c
	return nil
}

// GetConnection returns a copy of the connection, including its secrets.
func (r *Repository) GetConnection(id string) (*catalog.ClientConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %q: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

// ListConnections returns copies of all connections ordered by service name.
func (r *Repository) ListConnections() []*catalog.ClientConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*catalog.ClientConnection, 0, len(r.connections))
	for _, c := range r.connections {
		result = append(result, c.Clone())
	}
	slices.SortFunc(result, compareEntityByID)
	return result
}

func (r *Repository) RemoveConnection(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[id]; !ok {
		return fmt.Errorf("connection %q: %w", id, ErrNotFound)
	}
	delete(r.connections, id)
	r.ids.Release(id)
	return nil
}
