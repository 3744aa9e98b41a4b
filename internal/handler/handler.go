// Package handler composes the call handler for an endpoint method from its
// declared return type: zero or more adapters wrapped around one base
// handler that performs the exchange.
package handler

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/request"
	"github.com/PentesterFlow/OpenClient/internal/resilience"
	"github.com/PentesterFlow/OpenClient/internal/response"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
	"github.com/PentesterFlow/OpenClient/pkg/shape"
)

// Target carries what handlers need to call one method.
type Target struct {
	Method   *contract.Method
	Executor *request.Executor
	Reader   *response.Reader
	Runner   *resilience.Runner
	Fallback contract.FallbackFunc
	Exec     shape.Executor
}

func (t *Target) executor() shape.Executor {
	if t.Exec == nil {
		return shape.GoExecutor
	}
	return t.Exec
}

// Handler performs a call and returns a value of the type it was built for.
type Handler interface {
	Handle(ctx context.Context, args []any) (any, error)
}

// AsyncHandler is a handler with a non-blocking path.
type AsyncHandler interface {
	Handler
	HandleAsync(ctx context.Context, args []any) *shape.Promise
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args []any) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, args []any) (any, error) { return f(ctx, args) }

// Adapter decorates the handler of an inner type so that it produces the
// outer type. An adapter whose ReturnType equals its input is terminal.
type Adapter interface {
	Name() string
	Supports(t reflect.Type) bool
	ReturnType(t reflect.Type) reflect.Type
	Adapt(t reflect.Type, inner Handler, target *Target) (Handler, error)
}

// Factory builds a base handler for the types it accepts.
type Factory struct {
	Name    string
	Accepts func(t reflect.Type) bool
	Build   func(t reflect.Type, target *Target) (Handler, error)
}

// Registry holds the adapters and base factories used to resolve chains.
type Registry struct {
	mu        sync.RWMutex
	adapters  []Adapter
	factories []Factory
}

// NewRegistry returns a registry with the built-in adapters and factories.
func NewRegistry() *Registry {
	return &Registry{
		adapters: []Adapter{
			Optional{},
			Collection{},
			Iterator{},
			Future{},
			Command{},
			Stream{},
		},
		factories: []Factory{noneFactory, rawFactory, decodedFactory},
	}
}

// AddAdapter registers an adapter.
func (r *Registry) AddAdapter(a Adapter) {
	r.mu.Lock()
	r.adapters = append(r.adapters, a)
	r.mu.Unlock()
}

// AddFactory registers a base factory ahead of the existing ones.
func (r *Registry) AddFactory(f Factory) {
	r.mu.Lock()
	r.factories = append([]Factory{f}, r.factories...)
	r.mu.Unlock()
}

// Resolve builds the handler chain producing t.
func (r *Registry) Resolve(t reflect.Type, target *Target) (Handler, error) {
	r.mu.RLock()
	adapters := append([]Adapter(nil), r.adapters...)
	factories := append([]Factory(nil), r.factories...)
	r.mu.RUnlock()

	return resolve(t, target, adapters, factories, 0)
}

const maxDepth = 16

func resolve(t reflect.Type, target *Target, adapters []Adapter, factories []Factory, depth int) (Handler, error) {
	id := target.Method.ID()
	if depth > maxDepth {
		return nil, errors.Configurationf(id, "return type %v nests too deeply", t)
	}

	var matched []Adapter
	if t != nil {
		for _, a := range adapters {
			if a.Supports(t) {
				matched = append(matched, a)
			}
		}
	}

	switch len(matched) {
	case 0:
		return base(t, target, factories)
	case 1:
	default:
		names := make([]string, len(matched))
		for i, a := range matched {
			names[i] = a.Name()
		}
		return nil, errors.Configurationf(id, "ambiguous adapters for %v: %s", t, strings.Join(names, ", "))
	}

	a := matched[0]
	inner := a.ReturnType(t)

	var (
		delegate Handler
		err      error
	)
	if inner == t {
		delegate, err = base(t, target, factories)
	} else {
		delegate, err = resolve(inner, target, adapters, factories, depth+1)
	}
	if err != nil {
		return nil, err
	}
	return a.Adapt(t, delegate, target)
}

func base(t reflect.Type, target *Target, factories []Factory) (Handler, error) {
	for _, f := range factories {
		if f.Accepts(t) {
			return f.Build(t, target)
		}
	}
	return nil, errors.Configurationf(target.Method.ID(), "no handler for return type %v", t)
}

type chainKey struct {
	m *contract.Method
	t reflect.Type
}

// Chains caches resolved handlers per method and return type. Methods are
// immutable, so the pointer identifies one; two methods sharing an ID keep
// separate chains.
type Chains struct {
	registry *Registry
	cache    sync.Map
}

// NewChains creates a cache over registry.
func NewChains(registry *Registry) *Chains {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Chains{registry: registry}
}

// Get returns the cached handler for target, resolving it on first use.
func (c *Chains) Get(target *Target) (Handler, error) {
	key := chainKey{m: target.Method, t: target.Method.ReturnType}
	if h, ok := c.cache.Load(key); ok {
		return h.(Handler), nil
	}

	h, err := c.registry.Resolve(target.Method.ReturnType, target)
	if err != nil {
		return nil, err
	}
	actual, _ := c.cache.LoadOrStore(key, h)
	return actual.(Handler), nil
}

// Len returns the number of cached chains.
func (c *Chains) Len() int {
	n := 0
	c.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Resilient runs h through the target's runner with its fallback.
func Resilient(h Handler, target *Target) Handler {
	if target.Runner == nil {
		return h
	}
	id := target.Method.ID()
	return HandlerFunc(func(ctx context.Context, args []any) (any, error) {
		return target.Runner.Run(ctx, id, args, bind(h, args), target.Fallback)
	})
}

// IsDeferred reports whether t delivers its result through its own channel.
func IsDeferred(t reflect.Type) bool {
	return Future{}.Supports(t) || Command{}.Supports(t) || Stream{}.Supports(t)
}

func bind(h Handler, args []any) shape.Call {
	return func(ctx context.Context) (any, error) {
		return h.Handle(ctx, args)
	}
}

func zeroAs[I any](t reflect.Type) (I, bool) {
	var none I
	if t == nil || t.Kind() == reflect.Interface {
		return none, false
	}
	v, ok := reflect.Zero(t).Interface().(I)
	return v, ok
}

func mustZero[I any](t reflect.Type) I {
	v, ok := zeroAs[I](t)
	if !ok {
		panic(fmt.Sprintf("handler: %v is not a %v", t, reflect.TypeFor[I]()))
	}
	return v
}
