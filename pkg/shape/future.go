package shape

import (
	"context"
	"reflect"
	"sync"
)

// Executor runs tasks. The runtime owns no scheduler of its own.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func())

func (f ExecutorFunc) Execute(task func()) { f(task) }

// GoExecutor runs every task on a new goroutine.
var GoExecutor Executor = ExecutorFunc(func(task func()) { go task() })

// BoundedExecutor runs tasks on goroutines, at most limit at a time.
type BoundedExecutor struct {
	sem chan struct{}
}

// NewBoundedExecutor creates an executor admitting limit concurrent tasks.
func NewBoundedExecutor(limit int) *BoundedExecutor {
	if limit <= 0 {
		limit = 1
	}
	return &BoundedExecutor{sem: make(chan struct{}, limit)}
}

func (e *BoundedExecutor) Execute(task func()) {
	go func() {
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		task()
	}()
}

// Promise is the untyped completion slot behind futures and streams.
type Promise struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

// NewPromise creates an incomplete promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Complete resolves the promise. Only the first call has an effect.
func (p *Promise) Complete(v any, err error) {
	p.once.Do(func() {
		p.value, p.err = v, err
		close(p.done)
	})
}

// Done is closed once the promise completes.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Await blocks until completion or until ctx ends.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Go schedules call on exec and returns its promise. A panic in call
// completes the promise with an error.
func Go(exec Executor, ctx context.Context, call Call) *Promise {
	if exec == nil {
		exec = GoExecutor
	}
	p := NewPromise()
	exec.Execute(func() {
		defer func() {
			if r := recover(); r != nil {
				p.Complete(nil, &PanicError{Value: r})
			}
		}()
		p.Complete(call(ctx))
	})
	return p
}

// PanicError carries a recovered panic from an asynchronous call.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "shape: asynchronous call panicked: " + sprint(e.Value)
}

// Future is a deferred result of type T.
type Future[T any] struct {
	p *Promise
}

// Resolved returns a completed future.
func Resolved[T any](v T) Future[T] {
	p := NewPromise()
	p.Complete(v, nil)
	return Future[T]{p: p}
}

// Failed returns a future completed with err.
func Failed[T any](err error) Future[T] {
	p := NewPromise()
	p.Complete(nil, err)
	return Future[T]{p: p}
}

// Async runs fn on exec and returns its future.
func Async[T any](exec Executor, ctx context.Context, fn func(ctx context.Context) (T, error)) Future[T] {
	return Future[T]{p: Go(exec, ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})}
}

// Get blocks for the result.
func (f Future[T]) Get(ctx context.Context) (T, error) {
	v, err := f.Await(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](v)
}

// Done is closed once the future completes.
func (f Future[T]) Done() <-chan struct{} {
	if f.p == nil {
		return closed
	}
	return f.p.Done()
}

// Await implements Awaitable.
func (f Future[T]) Await(ctx context.Context) (any, error) {
	if f.p == nil {
		return nil, nil
	}
	return f.p.Await(ctx)
}

func (Future[T]) ElemType() reflect.Type {
	return reflect.TypeFor[T]()
}

// FromPromise binds a future to p.
func (Future[T]) FromPromise(p *Promise) any {
	return Future[T]{p: p}
}

var closed = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()
