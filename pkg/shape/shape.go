// Package shape defines the return shapes an endpoint method may declare
// besides a plain value: optional values, collections, one-shot iterators,
// futures, resilience commands and single-element streams.
//
// The zero value of every parameterized shape reports its element type and
// knows how to build a populated instance from an untyped result, which is
// how the call handler chain constructs them without knowing T.
package shape

import (
	"context"
	"fmt"
	"reflect"
)

// Shape is implemented by the zero value of every parameterized shape.
type Shape interface {
	ElemType() reflect.Type
}

// Wrapper builds a populated shape from the result of its inner handler.
type Wrapper interface {
	Shape
	FromValue(v any) any
}

// Collection is a shape that has a non-nil empty value.
type Collection interface {
	Shape
	EmptyCollection() any
}

// Awaitable is a deferred result that can be resolved synchronously.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Call is an untyped deferred computation.
type Call func(ctx context.Context) (any, error)

// IsNil reports whether v is nil or a typed nil.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

func cast[T any](v any) (T, error) {
	var zero T
	if IsNil(v) {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("shape: result of type %T is not %v", v, reflect.TypeFor[T]())
	}
	return t, nil
}

// Inner is implemented by shapes whose delegate produces something other
// than the bare element type.
type Inner interface {
	InnerType() reflect.Type
}
