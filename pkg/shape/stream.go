package shape

import (
	"context"
	"fmt"
	"iter"
	"reflect"
)

// Stream is a push stream of at most one element. A nil result completes the
// stream without emitting.
type Stream[T any] struct {
	p *Promise
}

// Observer receives stream signals. Nil callbacks are skipped.
type Observer[T any] struct {
	OnNext     func(T)
	OnError    func(error)
	OnComplete func()
}

// Just returns a stream emitting v.
func Just[T any](v T) Stream[T] {
	return Stream[T]{p: Resolved(v).p}
}

// Empty returns a stream that completes without emitting.
func Empty[T any]() Stream[T] {
	p := NewPromise()
	p.Complete(nil, nil)
	return Stream[T]{p: p}
}

// Subscribe delivers the stream to o from a separate goroutine.
func (s Stream[T]) Subscribe(ctx context.Context, o Observer[T]) {
	go func() {
		for v, err := range s.All(ctx) {
			if err != nil {
				if o.OnError != nil {
					o.OnError(err)
				}
				return
			}
			if o.OnNext != nil {
				o.OnNext(v)
			}
		}
		if o.OnComplete != nil {
			o.OnComplete()
		}
	}()
}

// All blocks until the stream completes and yields its element, or the
// failure as a single (zero, err) pair.
func (s Stream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		v, err := s.Await(ctx)
		var zero T
		if err != nil {
			yield(zero, err)
			return
		}
		if IsNil(v) {
			return
		}
		t, err := cast[T](v)
		yield(t, err)
	}
}

// Collect gathers the emitted elements.
func (s Stream[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for v, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Await implements Awaitable; an empty stream resolves to nil.
func (s Stream[T]) Await(ctx context.Context) (any, error) {
	if s.p == nil {
		return nil, nil
	}
	return s.p.Await(ctx)
}

func (Stream[T]) ElemType() reflect.Type {
	return reflect.TypeFor[T]()
}

// FromValue adapts a Future[T] into a stream.
func (Stream[T]) FromValue(v any) any {
	if f, ok := v.(Future[T]); ok {
		return Stream[T]{p: f.p}
	}
	return Empty[T]()
}

func sprint(v any) string {
	return fmt.Sprint(v)
}

// InnerType is Future[T]: a stream is fed by a future.
func (Stream[T]) InnerType() reflect.Type {
	return reflect.TypeFor[Future[T]]()
}
