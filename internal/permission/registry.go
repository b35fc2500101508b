// Package permission evaluates required permissions against an actor's
// effective set. The prerequisite graph is flattened once at startup so
// request-time checks are set lookups, not graph walks.
package permission

import (
	"fmt"
	"sort"
)

// Graph maps a permission to its direct prerequisites, e.g.
// "item.update" -> ["item.read"]. Supplied by the external permission
// registry; must be acyclic.
type Graph map[string][]string

// Registry holds the precomputed transitive closure of the prerequisite
// graph. Immutable after construction.
type Registry struct {
	closure map[string][]string
}

// NewRegistry flattens the graph. A cycle is a configuration error and fails
// construction rather than being discovered per request.
func NewRegistry(g Graph) (*Registry, error) {
	r := &Registry{closure: make(map[string][]string, len(g))}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g))
	memo := make(map[string]map[string]struct{}, len(g))

	var walk func(perm string) (map[string]struct{}, error)
	walk = func(perm string) (map[string]struct{}, error) {
		switch state[perm] {
		case visiting:
			return nil, fmt.Errorf("permission graph cycle through %q", perm)
		case done:
			return memo[perm], nil
		}
		state[perm] = visiting

		set := map[string]struct{}{perm: {}}
		for _, dep := range g[perm] {
			depSet, err := walk(dep)
			if err != nil {
				return nil, err
			}
			for p := range depSet {
				set[p] = struct{}{}
			}
		}

		state[perm] = done
		memo[perm] = set
		return set, nil
	}

	for perm := range g {
		set, err := walk(perm)
		if err != nil {
			return nil, err
		}
		flat := make([]string, 0, len(set))
		for p := range set {
			flat = append(flat, p)
		}
		sort.Strings(flat)
		r.closure[perm] = flat
	}
	return r, nil
}

// Required returns the full permission set an actor must hold for perm: the
// permission itself plus all transitive prerequisites. Permissions absent
// from the graph require only themselves.
func (r *Registry) Required(perm string) []string {
	if set, ok := r.closure[perm]; ok {
		return set
	}
	return []string{perm}
}
