package registry

// Store is implemented by all component stores so the Registry can
// bulk-remove an entity's data from every store on destroy.
type Store interface {
	Contains(e Entity) bool
	Remove(e Entity) bool
	Clear()
	Len() int
}

// TypedStore is a generic map-backed component store.
type TypedStore[T any] struct {
	data map[Entity]T
}

// NewStore creates a TypedStore and registers it with the registry under
// the given name.
func NewStore[T any](r *Registry, name string) *TypedStore[T] {
	s := &TypedStore[T]{data: make(map[Entity]T, 256)}
	r.AddStore(name, s)
	return s
}

func (s *TypedStore[T]) Set(e Entity, v T) {
	s.data[e] = v
}

func (s *TypedStore[T]) Get(e Entity) (T, bool) {
	v, ok := s.data[e]
	return v, ok
}

func (s *TypedStore[T]) Contains(e Entity) bool {
	_, ok := s.data[e]
	return ok
}

func (s *TypedStore[T]) Remove(e Entity) bool {
	if _, ok := s.data[e]; !ok {
		return false
	}
	delete(s.data, e)
	return true
}

func (s *TypedStore[T]) Len() int {
	return len(s.data)
}

func (s *TypedStore[T]) Clear() {
	clear(s.data)
}

func (s *TypedStore[T]) Each(fn func(Entity, T)) {
	for e, v := range s.data {
		fn(e, v)
	}
}

// SortedEntities returns the holders of this component sorted by index.
func (s *TypedStore[T]) SortedEntities() []Entity {
	out := make([]Entity, 0, len(s.data))
	for e := range s.data {
		out = append(out, e)
	}
	SortByIndex(out)
	return out
}
