package contract

import (
	"net/http"
	"reflect"

	"github.com/PentesterFlow/OpenClient/pkg/form"
)

// Builder assembles a Method. Parameters take positions in the order they
// are added.
type Builder struct {
	m Method
}

// NewBuilder starts a method for httpMethod and path.
func NewBuilder(httpMethod, path string) *Builder {
	return &Builder{m: Method{HTTPMethod: httpMethod, Path: path}}
}

func GET(path string) *Builder    { return NewBuilder(http.MethodGet, path) }
func POST(path string) *Builder   { return NewBuilder(http.MethodPost, path) }
func PUT(path string) *Builder    { return NewBuilder(http.MethodPut, path) }
func PATCH(path string) *Builder  { return NewBuilder(http.MethodPatch, path) }
func DELETE(path string) *Builder { return NewBuilder(http.MethodDelete, path) }
func HEAD(path string) *Builder   { return NewBuilder(http.MethodHead, path) }

// Named sets the method identity.
func (b *Builder) Named(service, name string) *Builder {
	b.m.Service = service
	b.m.Name = name
	return b
}

// Param appends a parameter.
func (b *Builder) Param(kind Kind, name string, t reflect.Type) *Builder {
	b.m.Parameters = append(b.m.Parameters, Parameter{
		Position: len(b.m.Parameters),
		Name:     name,
		Type:     t,
		Kind:     kind,
	})
	return b
}

func (b *Builder) PathParam(name string, t reflect.Type) *Builder {
	return b.Param(Path, name, t)
}

func (b *Builder) HeaderParam(name string, t reflect.Type) *Builder {
	return b.Param(Header, name, t)
}

func (b *Builder) QueryParam(name string, t reflect.Type) *Builder {
	return b.Param(Query, name, t)
}

func (b *Builder) BodyParam(t reflect.Type) *Builder {
	return b.Param(Body, "body", t)
}

// CallbackParam appends a func(T, error) parameter. The call runs
// asynchronously and reports to it.
func (b *Builder) CallbackParam(t reflect.Type) *Builder {
	return b.Param(Callback, "", t)
}

// SerializeWith sets the serializer of the most recently added parameter.
func (b *Builder) SerializeWith(fn form.ValueFunc) *Builder {
	if n := len(b.m.Parameters); n > 0 {
		b.m.Parameters[n-1].Serializer = fn
	}
	return b
}

// Header adds a header template.
func (b *Builder) Header(name, value string) *Builder {
	b.m.Headers = b.m.Headers.With(name, value)
	return b
}

// ContentType is shorthand for the Content-Type header.
func (b *Builder) ContentType(mediaType string) *Builder {
	return b.Header("Content-Type", mediaType)
}

// Returns sets the declared return type. A nil type means no value.
func (b *Builder) Returns(t reflect.Type) *Builder {
	b.m.ReturnType = t
	return b
}

// Fallback sets a method-level fallback.
func (b *Builder) Fallback(fn FallbackFunc) *Builder {
	b.m.Fallback = fn
	return b
}

// Build validates and returns the method.
func (b *Builder) Build() (*Method, error) {
	m := b.m
	m.Parameters = append([]Parameter(nil), b.m.Parameters...)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// MustBuild is Build that panics on error, for package-level contracts.
func (b *Builder) MustBuild() *Method {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}
