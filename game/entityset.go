package game

import "github.com/mlange-42/ark/ecs"

// EntitySet is an unordered set of entities with constant-time add and remove.
type EntitySet struct {
	items []ecs.Entity
	index map[ecs.Entity]int
}

// NewEntitySet creates an empty set.
func NewEntitySet() *EntitySet {
	return &EntitySet{index: make(map[ecs.Entity]int)}
}

// Add inserts e and reports whether it was absent.
func (s *EntitySet) Add(e ecs.Entity) bool {
	if _, ok := s.index[e]; ok {
		return false
	}
	s.index[e] = len(s.items)
	s.items = append(s.items, e)
	return true
}

// Remove deletes e and reports whether it was present.
func (s *EntitySet) Remove(e ecs.Entity) bool {
	i, ok := s.index[e]
	if !ok {
		return false
	}
	last := len(s.items) - 1
	if i != last {
		moved := s.items[last]
		s.items[i] = moved
		s.index[moved] = i
	}
	s.items = s.items[:last]
	delete(s.index, e)
	return true
}

// Contains reports whether e is in the set.
func (s *EntitySet) Contains(e ecs.Entity) bool {
	_, ok := s.index[e]
	return ok
}

// Len returns the number of entities.
func (s *EntitySet) Len() int {
	return len(s.items)
}

// Entities returns a copy of the members.
func (s *EntitySet) Entities() []ecs.Entity {
	return append([]ecs.Entity(nil), s.items...)
}
