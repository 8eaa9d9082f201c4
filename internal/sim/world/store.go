package world

// Store is a sparse set of components of one type, indexed by entity slot. Iteration walks a
// dense slice. Stores carry no lock: the tick scheduler only lets a system touch a store it
// declared, and never two writers at once.
type Store[T any] struct {
	sparse   map[uint32]int
	dense    []T
	entities []Entity
}

func NewStore[T any]() *Store[T] {
	return &Store[T]{sparse: make(map[uint32]int)}
}

// Set inserts or replaces the component of e.
func (s *Store[T]) Set(e Entity, v T) {
	if i, ok := s.sparse[e.Index()]; ok {
		s.dense[i] = v
		s.entities[i] = e
		return
	}
	s.sparse[e.Index()] = len(s.dense)
	s.dense = append(s.dense, v)
	s.entities = append(s.entities, e)
}

// Get returns a pointer to e's component, valid until the next Set or Remove on this store.
func (s *Store[T]) Get(e Entity) (*T, bool) {
	i, ok := s.sparse[e.Index()]
	if !ok || s.entities[i] != e {
		return nil, false
	}
	return &s.dense[i], true
}

func (s *Store[T]) Has(e Entity) bool {
	_, ok := s.Get(e)
	return ok
}

// Remove deletes e's component by swapping the last element into its place.
func (s *Store[T]) Remove(e Entity) bool {
	i, ok := s.sparse[e.Index()]
	if !ok || s.entities[i] != e {
		return false
	}
	last := len(s.dense) - 1
	if i != last {
		s.dense[i] = s.dense[last]
		s.entities[i] = s.entities[last]
		s.sparse[s.entities[i].Index()] = i
	}
	var zero T
	s.dense[last] = zero
	s.dense = s.dense[:last]
	s.entities = s.entities[:last]
	delete(s.sparse, e.Index())
	return true
}

func (s *Store[T]) Len() int { return len(s.dense) }

// Each visits every component in dense order. fn must not add or remove components.
func (s *Store[T]) Each(fn func(e Entity, v *T)) {
	for i := range s.dense {
		fn(s.entities[i], &s.dense[i])
	}
}

// Entities returns a copy of the entity list.
func (s *Store[T]) Entities() []Entity {
	out := make([]Entity, len(s.entities))
	copy(out, s.entities)
	return out
}
