package shape

import (
	"context"
	"reflect"
)

// Command is a resilience-wrapped call. Execute runs it synchronously, Queue
// runs it asynchronously.
type Command[T any] struct {
	run   Call
	async func(ctx context.Context) *Promise
}

// NewCommand wraps fn as a command.
func NewCommand[T any](fn func(ctx context.Context) (T, error)) Command[T] {
	return Command[T]{run: func(ctx context.Context) (any, error) {
		return fn(ctx)
	}}
}

// Execute runs the command and blocks for its result.
func (c Command[T]) Execute(ctx context.Context) (T, error) {
	v, err := c.Await(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](v)
}

// Queue runs the command asynchronously.
func (c Command[T]) Queue(ctx context.Context) Future[T] {
	if c.async != nil {
		return Future[T]{p: c.async(ctx)}
	}
	return Future[T]{p: Go(GoExecutor, ctx, c.Await)}
}

// Await implements Awaitable.
func (c Command[T]) Await(ctx context.Context) (any, error) {
	if c.run == nil {
		return nil, nil
	}
	return c.run(ctx)
}

func (Command[T]) ElemType() reflect.Type {
	return reflect.TypeFor[T]()
}

// FromCall binds a command to a synchronous run function and an optional
// asynchronous one.
func (Command[T]) FromCall(run Call, async func(ctx context.Context) *Promise) any {
	return Command[T]{run: run, async: async}
}
