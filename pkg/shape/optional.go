package shape

import "reflect"

// Optional holds a value that may be absent.
type Optional[T any] struct {
	value   T
	present bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, present: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.present
}

// IsPresent reports whether a value is present.
func (o Optional[T]) IsPresent() bool {
	return o.present
}

// OrElse returns the value or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if o.present {
		return o.value
	}
	return def
}

func (Optional[T]) ElemType() reflect.Type {
	return reflect.TypeFor[T]()
}

// FromValue wraps v, mapping nil to None.
func (Optional[T]) FromValue(v any) any {
	if IsNil(v) {
		return None[T]()
	}
	t, ok := v.(T)
	if !ok {
		return None[T]()
	}
	return Some(t)
}
