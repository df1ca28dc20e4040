package manifest

import "fmt"

// TopologicalSort orders ids so that every id appears after all of its
// dependencies. The sort is stable: among ids whose dependencies are already
// emitted, the one earliest in the input wins.
//
// It fails if depsOf references an id missing from ids or if the dependency
// graph contains a cycle.
func TopologicalSort(ids []string, depsOf func(string) []string) ([]string, error) {
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	for _, id := range ids {
		for _, dep := range depsOf(id) {
			if !present[dep] {
				return nil, fmt.Errorf("%w: module %q depends on unknown module %q", ErrMalformedManifest, id, dep)
			}
		}
	}

	sorted := make([]string, 0, len(ids))
	emitted := make(map[string]bool, len(ids))
	for len(sorted) < len(ids) {
		progressed := false
		for _, id := range ids {
			if emitted[id] {
				continue
			}
			ready := true
			for _, dep := range depsOf(id) {
				if !emitted[dep] {
					ready = false
					break
				}
			}
			if ready {
				sorted = append(sorted, id)
				emitted[id] = true
				progressed = true
				break
			}
		}
		if !progressed {
			return nil, fmt.Errorf("%w: dependency cycle involving %v", ErrMalformedManifest, unemitted(ids, emitted))
		}
	}
	return sorted, nil
}

// IsTopologicallySorted reports whether ids is already in an order where
// every id follows all of its dependencies and no dependency is missing.
func IsTopologicallySorted(ids []string, depsOf func(string) []string) bool {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		for _, dep := range depsOf(id) {
			if !seen[dep] {
				return false
			}
		}
		seen[id] = true
	}
	return true
}

func unemitted(ids []string, emitted map[string]bool) []string {
	var rest []string
	for _, id := range ids {
		if !emitted[id] {
			rest = append(rest, id)
		}
	}
	return rest
}
