package registry

import "sort"

// Registry is the sparse entity store: a generational index pool plus a set
// of named component stores. Destroying an entity clears it from every
// registered store. Single-goroutine access only, not locked.
type Registry struct {
	generations []uint32
	alive       []bool
	freeList    []uint32

	stores     map[string]Store
	storeNames []string // registration order, for deterministic bulk ops
}

func New() *Registry {
	return &Registry{
		generations: make([]uint32, 0, 1024),
		freeList:    make([]uint32, 0, 256),
		stores:      make(map[string]Store, 16),
	}
}

// AddStore registers a component store under a unique name. Stores must be
// registered before entities start flowing through the registry.
func (r *Registry) AddStore(name string, s Store) {
	if _, ok := r.stores[name]; !ok {
		r.storeNames = append(r.storeNames, name)
	}
	r.stores[name] = s
}

func (r *Registry) StoreByName(name string) (Store, bool) {
	s, ok := r.stores[name]
	return s, ok
}

// Create allocates a fresh entity, recycling a freed index if available.
func (r *Registry) Create() Entity {
	if n := len(r.freeList); n > 0 {
		idx := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		r.alive[idx] = true
		return NewEntity(idx, r.generations[idx])
	}
	idx := uint32(len(r.generations))
	r.generations = append(r.generations, 0)
	r.alive = append(r.alive, true)
	return NewEntity(idx, 0)
}

// CreateHint allocates an entity seeded from the hint: if the hint's index
// is unused, the entity is created with exactly the hint's raw value
// (generation included). Otherwise it falls back to Create. Used to restore
// persisted handles and to honor externally-chosen raw values.
func (r *Registry) CreateHint(hint Entity) Entity {
	if hint.IsNil() {
		return r.Create()
	}
	idx := hint.Index()
	if int(idx) >= len(r.generations) {
		for uint32(len(r.generations)) < idx {
			r.freeList = append(r.freeList, uint32(len(r.generations)))
			r.generations = append(r.generations, 0)
			r.alive = append(r.alive, false)
		}
		r.generations = append(r.generations, hint.Generation())
		r.alive = append(r.alive, true)
		return hint
	}
	if !r.alive[idx] {
		for i, free := range r.freeList {
			if free == idx {
				r.freeList = append(r.freeList[:i], r.freeList[i+1:]...)
				r.generations[idx] = hint.Generation()
				r.alive[idx] = true
				return hint
			}
		}
	}
	return r.Create()
}

// Valid reports whether the handle refers to a live entity.
func (r *Registry) Valid(e Entity) bool {
	if e.IsNil() {
		return false
	}
	idx := e.Index()
	if int(idx) >= len(r.generations) {
		return false
	}
	return r.alive[idx] && r.generations[idx] == e.Generation()
}

// Destroy invalidates the handle and drops the entity's components from
// every registered store. Returns ErrInvalidEntity for stale or null
// handles, including a second destroy of the same handle.
func (r *Registry) Destroy(e Entity) error {
	if !r.Valid(e) {
		return ErrInvalidEntity
	}
	for _, name := range r.storeNames {
		r.stores[name].Remove(e)
	}
	idx := e.Index()
	r.alive[idx] = false
	r.generations[idx]++
	r.freeList = append(r.freeList, idx)
	return nil
}

// Each visits every live entity in ascending index order. The order is
// stable within one pass.
func (r *Registry) Each(fn func(Entity)) {
	for idx, ok := range r.alive {
		if ok {
			fn(NewEntity(uint32(idx), r.generations[idx]))
		}
	}
}

// Entities returns all live handles sorted by index.
func (r *Registry) Entities() []Entity {
	out := make([]Entity, 0, r.Len())
	r.Each(func(e Entity) { out = append(out, e) })
	return out
}

func (r *Registry) Len() int {
	n := 0
	for _, ok := range r.alive {
		if ok {
			n++
		}
	}
	return n
}

// Clear destroys all entities and empties every store. Generations are
// reset: a cleared registry restores persisted raw handles exactly.
func (r *Registry) Clear() {
	r.generations = r.generations[:0]
	r.alive = r.alive[:0]
	r.freeList = r.freeList[:0]
	for _, name := range r.storeNames {
		r.stores[name].Clear()
	}
}

// SortByIndex sorts handles in place by entity index. Both serialization
// surfaces rely on this for deterministic output.
func SortByIndex(entities []Entity) {
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].Index() < entities[j].Index()
	})
}
