package shape

import (
	"iter"
	"reflect"
	"sync"
)

// Iterator is a one-shot forward cursor over a finite sequence. Copies share
// the same position.
type Iterator[T any] struct {
	c *cursor[T]
}

type cursor[T any] struct {
	mu    sync.Mutex
	items []T
	pos   int
}

// IteratorOf returns an iterator over items.
func IteratorOf[T any](items ...T) Iterator[T] {
	return Iterator[T]{c: &cursor[T]{items: items}}
}

// Next returns the next element, or false once exhausted.
func (it Iterator[T]) Next() (T, bool) {
	var zero T
	if it.c == nil {
		return zero, false
	}
	it.c.mu.Lock()
	defer it.c.mu.Unlock()
	if it.c.pos >= len(it.c.items) {
		return zero, false
	}
	v := it.c.items[it.c.pos]
	it.c.pos++
	return v, true
}

// HasNext reports whether Next would return an element.
func (it Iterator[T]) HasNext() bool {
	if it.c == nil {
		return false
	}
	it.c.mu.Lock()
	defer it.c.mu.Unlock()
	return it.c.pos < len(it.c.items)
}

// All consumes the remaining elements.
func (it Iterator[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := it.Next()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

func (Iterator[T]) ElemType() reflect.Type {
	return reflect.TypeFor[T]()
}

// FromValue wraps a []T; nil yields an exhausted iterator.
func (Iterator[T]) FromValue(v any) any {
	items, _ := v.([]T)
	return IteratorOf(items...)
}

// InnerType is []T: an iterator is fed by a realized slice.
func (Iterator[T]) InnerType() reflect.Type {
	return reflect.TypeFor[[]T]()
}
