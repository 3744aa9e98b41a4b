package shape

import (
	"cmp"
	"encoding/json"
	"iter"
	"reflect"
	"slices"
)

// Set is an unordered collection of unique elements.
type Set[T comparable] map[T]struct{}

// NewSet returns a set holding items.
func NewSet[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, v := range items {
		s[v] = struct{}{}
	}
	return s
}

func (s Set[T]) Add(v T) { s[v] = struct{}{} }

func (s Set[T]) Contains(v T) bool {
	_, ok := s[v]
	return ok
}

func (s Set[T]) Len() int { return len(s) }

// Values returns the elements in unspecified order.
func (s Set[T]) Values() []T {
	out := make([]T, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	return out
}

func (s Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

func (s *Set[T]) UnmarshalJSON(b []byte) error {
	var items []T
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*s = NewSet(items...)
	return nil
}

func (Set[T]) ElemType() reflect.Type {
	return reflect.TypeFor[T]()
}

func (Set[T]) EmptyCollection() any {
	return Set[T]{}
}

// SortedSet is an ordered collection of unique elements with navigation.
type SortedSet[T cmp.Ordered] struct {
	items []T
}

// NewSortedSet returns a sorted set holding items.
func NewSortedSet[T cmp.Ordered](items ...T) SortedSet[T] {
	s := SortedSet[T]{items: slices.Clone(items)}
	slices.Sort(s.items)
	s.items = slices.Compact(s.items)
	return s
}

// Add inserts v, keeping order.
func (s *SortedSet[T]) Add(v T) {
	i, found := slices.BinarySearch(s.items, v)
	if !found {
		s.items = slices.Insert(s.items, i, v)
	}
}

func (s SortedSet[T]) Contains(v T) bool {
	_, found := slices.BinarySearch(s.items, v)
	return found
}

func (s SortedSet[T]) Len() int { return len(s.items) }

// Values returns the elements in ascending order.
func (s SortedSet[T]) Values() []T {
	return slices.Clone(s.items)
}

// All yields the elements in ascending order.
func (s SortedSet[T]) All() iter.Seq[T] {
	return slices.Values(s.items)
}

func (s SortedSet[T]) First() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	return s.items[0], true
}

func (s SortedSet[T]) Last() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

// Floor returns the greatest element less than or equal to v.
func (s SortedSet[T]) Floor(v T) (T, bool) {
	var zero T
	i, found := slices.BinarySearch(s.items, v)
	if found {
		return s.items[i], true
	}
	if i == 0 {
		return zero, false
	}
	return s.items[i-1], true
}

// Ceiling returns the least element greater than or equal to v.
func (s SortedSet[T]) Ceiling(v T) (T, bool) {
	var zero T
	i, _ := slices.BinarySearch(s.items, v)
	if i == len(s.items) {
		return zero, false
	}
	return s.items[i], true
}

func (s SortedSet[T]) MarshalJSON() ([]byte, error) {
	if s.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.items)
}

func (s *SortedSet[T]) UnmarshalJSON(b []byte) error {
	var items []T
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*s = NewSortedSet(items...)
	return nil
}

func (SortedSet[T]) ElemType() reflect.Type {
	return reflect.TypeFor[T]()
}

func (SortedSet[T]) EmptyCollection() any {
	return SortedSet[T]{}
}
