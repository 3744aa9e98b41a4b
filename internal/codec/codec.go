// Package codec converts request and response bodies between wire media
// types and Go values.
package codec

import (
	"io"
	"reflect"
	"strings"
	"sync"
)

// Codec reads and writes one family of media types.
type Codec interface {
	Name() string
	CanRead(mediaType string, t reflect.Type) bool
	Read(r io.Reader, t reflect.Type) (any, error)
	CanWrite(mediaType string, t reflect.Type) bool
	Write(v any) ([]byte, error)
}

// Registry selects codecs by media type and Go type. Codecs registered later
// take precedence over earlier ones.
type Registry struct {
	mu     sync.RWMutex
	codecs []Codec
}

// NewRegistry creates a registry holding codecs in increasing precedence.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// NewDefaultRegistry returns a registry with every built-in codec.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewJSON(),
		NewForm(),
		NewYAML(),
		NewHTML(),
		NewText(),
		NewBytes(),
	)
}

// Register adds c ahead of the codecs already present.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs = append([]Codec{c}, r.codecs...)
}

// Reader returns the codec able to decode mediaType into t, or nil.
func (r *Registry) Reader(mediaType string, t reflect.Type) Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.codecs {
		if c.CanRead(mediaType, t) {
			return c
		}
	}
	return nil
}

// Writer returns the codec able to encode t as mediaType, or nil.
func (r *Registry) Writer(mediaType string, t reflect.Type) Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.codecs {
		if c.CanWrite(mediaType, t) {
			return c
		}
	}
	return nil
}

// Names lists the registered codecs in precedence order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.codecs))
	for i, c := range r.codecs {
		names[i] = c.Name()
	}
	return names
}

// mediaMatcher matches exact media types and structured-syntax suffixes such
// as application/problem+json.
type mediaMatcher struct {
	types  []string
	suffix string
}

func (m mediaMatcher) match(mediaType string) bool {
	mediaType = strings.ToLower(mediaType)
	for _, t := range m.types {
		if t == mediaType {
			return true
		}
	}
	return m.suffix != "" && strings.HasSuffix(mediaType, m.suffix)
}

// alloc returns a pointer to a new zero value of t.
func alloc(t reflect.Type) reflect.Value {
	return reflect.New(t)
}

var (
	stringType = reflect.TypeOf("")
	bytesType  = reflect.TypeOf([]byte(nil))
)
