package repo

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/ident"
)

// RegisterProcess validates p and adds it to the catalog.
//
// Transformation dependencies must refer to other transformations of the
// same process and must not form a cycle. If p has no ID, a fresh one is
// assigned. The registered ID is returned. On failure nothing is stored.
func (r *Repository) RegisterProcess(p *catalog.Process) (string, error) {
	if err := catalog.ValidateProcess(p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := r.config.AcceptProcess(p); err != nil {
		return "", fmt.Errorf("%w: process %s: %v", ErrInvalid, p.ID, err)
	}
	if _, err := p.JobControl.NextRun(r.now()); err != nil {
		return "", fmt.Errorf("%w: process %s: %v", ErrInvalid, p.ID, err)
	}
	if err := validateTransformations(p.Transformations); err != nil {
		return "", err
	}
	p = p.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = r.newID()
	}
	if err := r.ids.Reserve(p.ID, ident.KindProcess); err != nil {
		return "", fmt.Errorf("process: %w", err)
	}
	r.processes[p.ID] = p
	return p.ID, nil
}

// GetProcess returns a copy of the process.
func (r *Repository) GetProcess(id string) (*catalog.Process, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processes[id]
	if !ok {
		return nil, fmt.Errorf("process %q: %w", id, ErrNotFound)
	}
	return p.Clone(), nil
}

// ListProcesses returns copies of all processes ordered by ID.
func (r *Repository) ListProcesses() []*catalog.Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*catalog.Process, 0, len(r.processes))
	for _, p := range r.processes {
		result = append(result, p.Clone())
	}
	slices.SortFunc(result, compareEntityByID)
	return result
}

// RemoveProcess removes a process and releases its identifier.
func (r *Repository) RemoveProcess(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processes[id]; !ok {
		return fmt.Errorf("process %q: %w", id, ErrNotFound)
	}
	delete(r.processes, id)
	r.ids.Release(id)
	return nil
}

// ExecutionOrder groups the transformations of a process into stages.
// All transformations of a stage only depend on transformations of earlier
// stages, so the members of one stage can run in parallel.
// IDs within a stage are sorted.
func (r *Repository) ExecutionOrder(processID string) ([][]string, error) {
	p, err := r.GetProcess(processID)
	if err != nil {
		return nil, err
	}
	return ExecutionStages(p.Transformations)
}

// validateTransformations checks the dependency references of ts.
// Transformation IDs are assumed to be unique.
func validateTransformations(ts []catalog.Transformation) error {
	declared := make(map[string]bool, len(ts))
	for _, t := range ts {
		declared[t.ID] = true
	}
	for _, t := range ts {
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return fmt.Errorf("transformation %q: %w", t.ID, ErrSelfDependency)
			}
			if !declared[dep] {
				return fmt.Errorf("transformation %q depends on %q: %w", t.ID, dep, ErrUnknownTransformationDependency)
			}
		}
	}
	if cycle := findDependencyCycle(ts); cycle != nil {
		return fmt.Errorf("%s: %w", strings.Join(cycle, " -> "), ErrCyclicTransformationDependency)
	}
	return nil
}

// findDependencyCycle runs a depth-first search over the dependency graph
// and returns the first cycle found as a path whose first and last element
// are equal, or nil if the graph is acyclic.
func findDependencyCycle(ts []catalog.Transformation) []string {
	deps := make(map[string][]string, len(ts))
	for _, t := range ts {
		deps[t.ID] = t.Dependencies
	}

	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(ts))
	var path []string
	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = onStack
		path = append(path, id)
		for _, dep := range deps[id] {
			switch state[dep] {
			case onStack:
				start := slices.Index(path, dep)
				return append(slices.Clone(path[start:]), dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	for _, t := range ts {
		if state[t.ID] == unvisited {
			if cycle := visit(t.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// ExecutionStages groups ts into stages the same way ExecutionOrder does,
// for a process the caller already holds (Kahn's algorithm).
func ExecutionStages(ts []catalog.Transformation) ([][]string, error) {
	inDegree := make(map[string]int, len(ts))
	children := make(map[string][]string)
	for _, t := range ts {
		inDegree[t.ID] += len(t.Dependencies)
		for _, dep := range t.Dependencies {
			children[dep] = append(children[dep], t.ID)
		}
	}

	var stages [][]string
	var current []string
	for id, deg := range inDegree {
		if deg == 0 {
			current = append(current, id)
		}
	}
	processed := 0
	for len(current) > 0 {
		slices.Sort(current)
		stages = append(stages, current)
		processed += len(current)
		var next []string
		for _, id := range current {
			for _, c := range children[id] {
				inDegree[c]--
				if inDegree[c] == 0 {
					next = append(next, c)
				}
			}
		}
		current = next
	}
	if processed != len(inDegree) {
		var rest []string
		for id, deg := range inDegree {
			if deg > 0 {
				rest = append(rest, id)
			}
		}
		slices.Sort(rest)
		return nil, fmt.Errorf("transformations %v: %w", rest, ErrCyclicTransformationDependency)
	}
	return stages, nil
}
