package handler

import (
	"context"
	"reflect"

	"github.com/PentesterFlow/OpenClient/internal/resilience"
	"github.com/PentesterFlow/OpenClient/pkg/shape"
)

type optionalShape interface {
	shape.Wrapper
	IsPresent() bool
}

type iteratorShape interface {
	shape.Wrapper
	shape.Inner
	HasNext() bool
}

type streamShape interface {
	shape.Wrapper
	shape.Inner
	shape.Awaitable
}

type futureShape interface {
	shape.Shape
	shape.Awaitable
	FromPromise(p *shape.Promise) any
}

type commandShape interface {
	shape.Shape
	shape.Awaitable
	FromCall(run shape.Call, async func(ctx context.Context) *shape.Promise) any
}

// Optional adapts T to shape.Optional[T]; a nil result is None.
type Optional struct{}

func (Optional) Name() string { return "optional" }

func (Optional) Supports(t reflect.Type) bool {
	_, ok := zeroAs[optionalShape](t)
	return ok
}

func (Optional) ReturnType(t reflect.Type) reflect.Type {
	return mustZero[optionalShape](t).ElemType()
}

func (Optional) Adapt(t reflect.Type, inner Handler, _ *Target) (Handler, error) {
	wrap := mustZero[optionalShape](t)
	return HandlerFunc(func(ctx context.Context, args []any) (any, error) {
		v, err := inner.Handle(ctx, args)
		if err != nil {
			return nil, err
		}
		return wrap.FromValue(v), nil
	}), nil
}

// Collection is terminal for slices, shape.Set and shape.SortedSet. A nil
// result becomes an empty collection of the declared type.
type Collection struct{}

func (Collection) Name() string { return "collection" }

func (Collection) Supports(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Slice {
		return true
	}
	_, ok := zeroAs[shape.Collection](t)
	return ok
}

func (Collection) ReturnType(t reflect.Type) reflect.Type { return t }

func (Collection) Adapt(t reflect.Type, inner Handler, _ *Target) (Handler, error) {
	return HandlerFunc(func(ctx context.Context, args []any) (any, error) {
		v, err := inner.Handle(ctx, args)
		if err != nil {
			return nil, err
		}
		if shape.IsNil(v) {
			return emptyCollection(t), nil
		}
		return v, nil
	}), nil
}

func emptyCollection(t reflect.Type) any {
	if c, ok := zeroAs[shape.Collection](t); ok {
		return c.EmptyCollection()
	}
	return reflect.MakeSlice(t, 0, 0).Interface()
}

// Iterator adapts []T to shape.Iterator[T].
type Iterator struct{}

func (Iterator) Name() string { return "iterator" }

func (Iterator) Supports(t reflect.Type) bool {
	_, ok := zeroAs[iteratorShape](t)
	return ok
}

func (Iterator) ReturnType(t reflect.Type) reflect.Type {
	return mustZero[iteratorShape](t).InnerType()
}

func (Iterator) Adapt(t reflect.Type, inner Handler, _ *Target) (Handler, error) {
	wrap := mustZero[iteratorShape](t)
	return HandlerFunc(func(ctx context.Context, args []any) (any, error) {
		v, err := inner.Handle(ctx, args)
		if err != nil {
			return nil, err
		}
		return wrap.FromValue(v), nil
	}), nil
}

// Future adapts T to shape.Future[T]. Asynchronous delegates complete the
// future from the transport; others run on the target's executor. Failures
// are delivered through the future.
type Future struct{}

func (Future) Name() string { return "future" }

func (Future) Supports(t reflect.Type) bool {
	_, ok := zeroAs[futureShape](t)
	return ok
}

func (Future) ReturnType(t reflect.Type) reflect.Type {
	return mustZero[futureShape](t).ElemType()
}

func (Future) Adapt(t reflect.Type, inner Handler, target *Target) (Handler, error) {
	wrap := mustZero[futureShape](t)
	async, isAsync := inner.(AsyncHandler)
	return HandlerFunc(func(ctx context.Context, args []any) (any, error) {
		if isAsync {
			return wrap.FromPromise(async.HandleAsync(ctx, args)), nil
		}
		return wrap.FromPromise(shape.Go(target.executor(), ctx, bind(inner, args))), nil
	}), nil
}

// Command adapts T to shape.Command[T]. The delegate runs behind the
// endpoint's circuit breaker and falls back on failure.
type Command struct{}

func (Command) Name() string { return "command" }

func (Command) Supports(t reflect.Type) bool {
	_, ok := zeroAs[commandShape](t)
	return ok
}

func (Command) ReturnType(t reflect.Type) reflect.Type {
	return mustZero[commandShape](t).ElemType()
}

func (Command) Adapt(t reflect.Type, inner Handler, target *Target) (Handler, error) {
	wrap := mustZero[commandShape](t)
	runner := target.Runner
	if runner == nil {
		runner = resilience.NewRunner(nil, nil)
	}
	id := target.Method.ID()
	exec := target.executor()

	return HandlerFunc(func(_ context.Context, args []any) (any, error) {
		run := func(ctx context.Context) (any, error) {
			return runner.Run(ctx, id, args, bind(inner, args), target.Fallback)
		}
		queue := func(ctx context.Context) *shape.Promise {
			return shape.Go(exec, ctx, run)
		}
		return wrap.FromCall(run, queue), nil
	}), nil
}

// Stream adapts shape.Future[T] to a single-element shape.Stream[T]. A nil
// value completes the stream empty.
type Stream struct{}

func (Stream) Name() string { return "stream" }

func (Stream) Supports(t reflect.Type) bool {
	_, ok := zeroAs[streamShape](t)
	return ok
}

func (Stream) ReturnType(t reflect.Type) reflect.Type {
	return mustZero[streamShape](t).InnerType()
}

func (Stream) Adapt(t reflect.Type, inner Handler, _ *Target) (Handler, error) {
	wrap := mustZero[streamShape](t)
	source, ok := zeroAs[futureShape](wrap.InnerType())

	return HandlerFunc(func(ctx context.Context, args []any) (any, error) {
		v, err := inner.Handle(ctx, args)
		if err != nil && ok {
			p := shape.NewPromise()
			p.Complete(nil, err)
			return wrap.FromValue(source.FromPromise(p)), nil
		}
		if err != nil {
			return nil, err
		}
		return wrap.FromValue(v), nil
	}), nil
}
