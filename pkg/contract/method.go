// Package contract describes remote endpoints: the path template, HTTP method,
// classified parameters, header templates and declared return type of every
// callable operation.
package contract

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/validation"
	"github.com/PentesterFlow/OpenClient/pkg/form"
)

// Kind classifies where a parameter ends up in the request.
type Kind int

const (
	Path Kind = iota
	Header
	Query
	Body
	Callback
)

func (k Kind) String() string {
	switch k {
	case Path:
		return "path"
	case Header:
		return "header"
	case Query:
		return "query"
	case Body:
		return "body"
	case Callback:
		return "callback"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "path":
		return Path, nil
	case "header":
		return Header, nil
	case "query":
		return Query, nil
	case "body":
		return Body, nil
	case "callback":
		return Callback, nil
	default:
		return 0, fmt.Errorf("unknown parameter kind %q", s)
	}
}

// Parameter is one argument of an endpoint method.
type Parameter struct {
	Position   int
	Name       string
	Type       reflect.Type
	Kind       Kind
	Serializer form.ValueFunc
}

// Serialize renders v with the parameter's serializer, or the default text
// rendering when none is set.
func (p Parameter) Serialize(v any) (string, error) {
	if p.Serializer != nil {
		return p.Serializer(v)
	}
	return form.Text(v)
}

// FallbackFunc produces a substitute result when a resilient call fails.
type FallbackFunc func(ctx context.Context, args []any, cause error) (any, error)

// Method is the immutable description of one endpoint.
type Method struct {
	Name       string `validate:"required"`
	HTTPMethod string `validate:"required,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS TRACE"`

	Service    string
	Path       string
	Parameters []Parameter
	Headers    Headers
	ReturnType reflect.Type
	Fallback   FallbackFunc
}

// ID is the method identity used for caching.
func (m *Method) ID() string {
	if m.Service == "" {
		return m.Name
	}
	return m.Service + "." + m.Name
}

func (m *Method) String() string {
	return fmt.Sprintf("%s %s %s", m.ID(), m.HTTPMethod, m.Path)
}

// Parameter finds a parameter by name at any classification.
func (m *Method) Parameter(name string) (Parameter, bool) {
	for _, p := range m.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ParametersOf returns the parameters of kind k in position order.
func (m *Method) ParametersOf(k Kind) []Parameter {
	var out []Parameter
	for _, p := range m.Parameters {
		if p.Kind == k {
			out = append(out, p)
		}
	}
	return out
}

// Body returns the body parameter, if declared.
func (m *Method) Body() (Parameter, bool) {
	for _, p := range m.Parameters {
		if p.Kind == Body {
			return p, true
		}
	}
	return Parameter{}, false
}

// Callback returns the first callback parameter, if declared.
func (m *Method) Callback() (Parameter, bool) {
	for _, p := range m.Parameters {
		if p.Kind == Callback {
			return p, true
		}
	}
	return Parameter{}, false
}

// ContentType is the value of the first Content-Type header template.
func (m *Method) ContentType() string {
	if v := m.Headers.Get("Content-Type"); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Validate checks the structural invariants of m.
func (m *Method) Validate() error {
	if err := validation.Struct(m.ID(), m); err != nil {
		return err
	}
	for _, h := range m.Headers.All() {
		if h.Name == "" {
			return errors.NewConfigurationError(m.ID(), "header without a name")
		}
	}

	bodies := 0
	callbacks := make(map[reflect.Type]bool)
	for i, p := range m.Parameters {
		if p.Type == nil {
			return errors.Configurationf(m.ID(), "parameter %d has no type", i)
		}
		if p.Position != i {
			return errors.Configurationf(m.ID(), "parameter %d has position %d", i, p.Position)
		}
		switch p.Kind {
		case Path, Header, Query:
			if p.Name == "" {
				return errors.Configurationf(m.ID(), "%s parameter at position %d needs a name", p.Kind, i)
			}
		case Body:
			bodies++
			if bodies > 1 {
				return errors.NewConfigurationError(m.ID(), "more than one body parameter")
			}
		case Callback:
			if !IsCallbackType(p.Type) {
				return errors.Configurationf(m.ID(), "callback parameter at position %d must be func(T, error), got %v", i, p.Type)
			}
			if callbacks[p.Type] {
				return errors.Configurationf(m.ID(), "duplicate callback type %v", p.Type)
			}
			callbacks[p.Type] = true
		default:
			return errors.Configurationf(m.ID(), "parameter %d has unknown kind %v", i, p.Kind)
		}
	}
	if len(callbacks) > 0 && m.ReturnType != nil {
		return errors.NewConfigurationError(m.ID(), "methods with a callback parameter return nothing")
	}
	return nil
}

var errorType = reflect.TypeFor[error]()

// IsCallbackType reports whether t is func(T, error).
func IsCallbackType(t reflect.Type) bool {
	return t != nil &&
		t.Kind() == reflect.Func &&
		t.NumIn() == 2 &&
		t.NumOut() == 0 &&
		!t.IsVariadic() &&
		t.In(1) == errorType
}
