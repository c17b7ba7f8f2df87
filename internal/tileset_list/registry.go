package tileset_list

import "sort"

// Registry maps tileset ids to archive paths. It is never modified after
// construction; a re-scan produces a new Registry.
type Registry struct {
	paths map[string]string
	ids   []string
}

// NewRegistry copies paths into a new Registry.
func NewRegistry(paths map[string]string) *Registry {
	r := &Registry{
		paths: make(map[string]string, len(paths)),
		ids:   make([]string, 0, len(paths)),
	}
	for id, path := range paths {
		r.paths[id] = path
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r
}

func (r *Registry) Lookup(id string) (string, bool) {
	path, ok := r.paths[id]
	return path, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Registry) Len() int {
	return len(r.ids)
}
