// Package resolve expands endpoint metadata plus call arguments into the
// path, headers and query string of a request.
package resolve

import (
	"encoding"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"time"

	"github.com/PentesterFlow/OpenClient/internal/codec"
	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
	"github.com/PentesterFlow/OpenClient/pkg/form"
)

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// Resolver renders parameter values. The zero value is not usable; use New.
type Resolver struct {
	forms   *form.Serializer
	structs *codec.Form
}

// New creates a resolver. A nil serializer selects form.Default().
func New(forms *form.Serializer) *Resolver {
	if forms == nil {
		forms = form.Default()
	}
	return &Resolver{forms: forms, structs: codec.NewFormWith(forms)}
}

// Arg returns args[i], or nil when the call supplied fewer arguments.
func Arg(args []any, i int) any {
	if i < 0 || i >= len(args) {
		return nil
	}
	return args[i]
}

// Path substitutes {name} tokens with path-escaped PATH parameters. Tokens
// that name no PATH parameter are left as they are.
func (r *Resolver) Path(m *contract.Method, args []any) (string, error) {
	var failure error

	out := placeholder.ReplaceAllStringFunc(m.Path, func(token string) string {
		if failure != nil {
			return token
		}
		name := token[1 : len(token)-1]
		p, ok := m.Parameter(name)
		if !ok || p.Kind != contract.Path {
			return token
		}
		text, err := r.text(p, Arg(args, p.Position))
		if err != nil {
			failure = errors.NewRequestEncodingError(m.ID(), "resolve path parameter "+name, err)
			return token
		}
		return url.PathEscape(text)
	})

	if failure != nil {
		return "", failure
	}
	return out, nil
}

// Headers renders header templates. A placeholder is filled from the
// parameter of that name whatever its kind. A header is omitted when one of
// its placeholders refers to a nil argument. HEADER parameters that no
// template mentions are sent under their own name.
func (r *Resolver) Headers(m *contract.Method, args []any) (http.Header, error) {
	h := http.Header{}
	referenced := make(map[string]bool)

	for _, tmpl := range m.Headers.All() {
		omit := false
		var failure error

		value := placeholder.ReplaceAllStringFunc(tmpl.Value, func(token string) string {
			name := token[1 : len(token)-1]
			p, ok := m.Parameter(name)
			if !ok {
				return token
			}
			referenced[name] = true
			v := Arg(args, p.Position)
			if isNil(v) {
				omit = true
				return ""
			}
			text, err := r.text(p, v)
			if err != nil && failure == nil {
				failure = errors.NewRequestEncodingError(m.ID(), "resolve header "+tmpl.Name, err)
			}
			return text
		})

		if failure != nil {
			return nil, failure
		}
		if !omit {
			h.Add(tmpl.Name, value)
		}
	}

	for _, p := range m.ParametersOf(contract.Header) {
		if referenced[p.Name] {
			continue
		}
		v := Arg(args, p.Position)
		if isNil(v) {
			continue
		}
		texts, err := r.texts(p, v)
		if err != nil {
			return nil, errors.NewRequestEncodingError(m.ID(), "resolve header "+p.Name, err)
		}
		for _, text := range texts {
			h.Add(p.Name, text)
		}
	}

	return h, nil
}

// Query renders QUERY parameters in declaration order. The result is empty
// or starts with '?'.
func (r *Resolver) Query(m *contract.Method, args []any) (string, error) {
	var pairs []form.Pair

	for _, p := range m.ParametersOf(contract.Query) {
		v := Arg(args, p.Position)
		if isNil(v) {
			continue
		}
		more, err := r.queryPairs(p, v)
		if err != nil {
			if errors.GetKind(err) != errors.Unknown {
				return "", err
			}
			return "", errors.NewRequestEncodingError(m.ID(), "resolve query parameter "+p.Name, err)
		}
		pairs = append(pairs, more...)
	}

	if len(pairs) == 0 {
		return "", nil
	}
	return "?" + form.Join(pairs), nil
}

func (r *Resolver) queryPairs(p contract.Parameter, v any) ([]form.Pair, error) {
	if p.Serializer != nil {
		text, err := p.Serializer(v)
		if err != nil {
			return nil, err
		}
		return []form.Pair{{Key: p.Name, Value: text}}, nil
	}

	rv := reflect.Indirect(reflect.ValueOf(v))
	switch {
	case form.IsObject(rv.Type()):
		return r.forms.Pairs(v)

	case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		var out []form.Pair
		for _, k := range keys {
			texts, err := r.elements(rv.Type().Elem(), rv.MapIndex(k))
			if err != nil {
				return nil, err
			}
			for _, text := range texts {
				out = append(out, form.Pair{Key: k.String(), Value: text})
			}
		}
		return out, nil

	case iterable(rv):
		texts, err := r.elements(rv.Type(), rv)
		if err != nil {
			return nil, err
		}
		out := make([]form.Pair, 0, len(texts))
		for _, text := range texts {
			out = append(out, form.Pair{Key: p.Name, Value: text})
		}
		return out, nil

	case plainStruct(rv):
		values, err := r.structs.EncodeValues(rv.Interface())
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []form.Pair
		for _, k := range keys {
			for _, val := range values[k] {
				out = append(out, form.Pair{Key: k, Value: val})
			}
		}
		return out, nil
	}

	text, err := r.forms.Text(p.Type, rv.Interface())
	if err != nil {
		return nil, err
	}
	return []form.Pair{{Key: p.Name, Value: text}}, nil
}

// elements renders an iterable, skipping nil and empty elements, or a single
// value as a one-element list.
func (r *Resolver) elements(declared reflect.Type, v reflect.Value) ([]string, error) {
	v = reflect.Indirect(v)
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, nil
	}
	if !iterable(v) {
		text, err := r.forms.Text(declared, v.Interface())
		if err != nil || text == "" {
			return nil, err
		}
		return []string{text}, nil
	}

	var out []string
	elem := v.Type().Elem()
	for i := 0; i < v.Len(); i++ {
		ev := v.Index(i)
		if isNil(ev.Interface()) {
			continue
		}
		text, err := r.forms.Text(elem, reflect.Indirect(ev).Interface())
		if err != nil {
			return nil, err
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

func (r *Resolver) text(p contract.Parameter, v any) (string, error) {
	if p.Serializer != nil {
		return p.Serializer(v)
	}
	if isNil(v) {
		v = nil
	} else {
		v = reflect.Indirect(reflect.ValueOf(v)).Interface()
	}
	return r.forms.Text(p.Type, v)
}

func (r *Resolver) texts(p contract.Parameter, v any) ([]string, error) {
	rv := reflect.Indirect(reflect.ValueOf(v))
	if p.Serializer == nil && iterable(rv) {
		return r.elements(p.Type, rv)
	}
	text, err := r.text(p, v)
	if err != nil {
		return nil, err
	}
	return []string{text}, nil
}

func iterable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return v.Type().Elem().Kind() != reflect.Uint8
	default:
		return false
	}
}

var (
	textMarshaler = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	stringer      = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

func plainStruct(v reflect.Value) bool {
	t := v.Type()
	if t.Kind() != reflect.Struct || t == reflect.TypeOf(time.Time{}) {
		return false
	}
	pt := reflect.PointerTo(t)
	return !t.Implements(textMarshaler) && !pt.Implements(textMarshaler) && !t.Implements(stringer)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
