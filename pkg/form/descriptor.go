// Package form serializes annotated structs into flat key/value pairs for
// application/x-www-form-urlencoded bodies and query strings.
//
// A struct takes part in structured serialization when it embeds Object. The
// embedded field's tags name the root key and pick a notation:
//
//	type Search struct {
//		form.Object `form:"search" notation:"bracket"`
//		Terms  []string `form:"q,indexed"`
//		Filter *Filter  `form:"filter"`
//	}
//
// Custom notations are spelled out with prefix, suffix and delimiter tags.
package form

import (
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/PentesterFlow/OpenClient/internal/errors"
)

// Object marks a struct as a structured form.
type Object struct{}

var objectType = reflect.TypeOf(Object{})

// Notation controls how nested names and array positions are rendered.
type Notation struct {
	Prefix    string
	Suffix    string
	Delimiter string
}

var (
	// DotNotation renders user.address.city.
	DotNotation = Notation{Prefix: "", Suffix: "", Delimiter: "."}
	// BracketNotation renders user[address][city].
	BracketNotation = Notation{Prefix: "[", Suffix: "]", Delimiter: ""}
)

// Wrap renders name as a nested key segment.
func (n Notation) Wrap(name string) string {
	return n.Prefix + name + n.Suffix
}

// Field is one serializable member of a form.
type Field struct {
	Name    string
	Indexed bool
	Type    reflect.Type

	index   []int
	wrapped string
}

// Key returns the key segment of the field: the notation-wrapped name when
// nested, the bare name otherwise.
func (f Field) Key(nested bool) string {
	if nested {
		return f.wrapped
	}
	return f.Name
}

// Descriptor is the cached schema of a form type. Descriptors are immutable;
// WithNotation derives a new one.
type Descriptor struct {
	Type     reflect.Type
	Name     string
	Notation Notation

	fields []Field
	byName map[string]int
}

// Fields returns the fields in declaration order.
func (d *Descriptor) Fields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Field looks up a field by its resolved name.
func (d *Descriptor) Field(name string) (Field, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}

// WithNotation returns a descriptor bound to n. The receiver is not modified.
func (d *Descriptor) WithNotation(n Notation) *Descriptor {
	if d.Notation == n {
		return d
	}
	out := &Descriptor{
		Type:     d.Type,
		Name:     d.Name,
		Notation: n,
		fields:   make([]Field, len(d.fields)),
		byName:   d.byName,
	}
	for i, f := range d.fields {
		f.wrapped = n.Wrap(f.Name)
		out.fields[i] = f
	}
	return out
}

var descriptors sync.Map // reflect.Type -> *Descriptor

// IsObject reports whether t (or the type t points to) embeds Object.
func IsObject(t reflect.Type) bool {
	_, ok := marker(t)
	return ok
}

func marker(t reflect.Type) (reflect.StructField, bool) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type == objectType {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// For returns the descriptor of T.
func For[T any]() (*Descriptor, error) {
	return Describe(reflect.TypeFor[T]())
}

// Describe returns the cached descriptor for t, deriving it on first use.
func Describe(t reflect.Type) (*Descriptor, error) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if d, ok := descriptors.Load(t); ok {
		return d.(*Descriptor), nil
	}

	d, err := derive(t)
	if err != nil {
		return nil, err
	}
	actual, _ := descriptors.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

func derive(t reflect.Type) (*Descriptor, error) {
	m, ok := marker(t)
	if !ok {
		return nil, errors.Configurationf("", "%v does not embed form.Object", t)
	}

	notation, err := notationOf(t, m.Tag)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		Type:     t,
		Name:     m.Tag.Get("form"),
		Notation: notation,
		byName:   make(map[string]int),
	}

	for _, sf := range reflect.VisibleFields(t) {
		if sf.Anonymous || !sf.IsExported() {
			continue
		}
		name, indexed, skip := parseTag(sf)
		if skip {
			continue
		}
		if _, dup := d.byName[name]; dup {
			return nil, errors.Configurationf("", "duplicate form field %q in %v", name, t)
		}
		d.byName[name] = len(d.fields)
		d.fields = append(d.fields, Field{
			Name:    name,
			Indexed: indexed,
			Type:    sf.Type,
			index:   sf.Index,
			wrapped: notation.Wrap(name),
		})
	}

	return d, nil
}

func notationOf(t reflect.Type, tag reflect.StructTag) (Notation, error) {
	n := DotNotation
	switch tag.Get("notation") {
	case "", "dot":
	case "bracket":
		n = BracketNotation
	default:
		return n, errors.Configurationf("", "unknown notation %q on %v", tag.Get("notation"), t)
	}
	if v, ok := tag.Lookup("prefix"); ok {
		n.Prefix = v
	}
	if v, ok := tag.Lookup("suffix"); ok {
		n.Suffix = v
	}
	if v, ok := tag.Lookup("delimiter"); ok {
		n.Delimiter = v
	}
	return n, nil
}

func parseTag(sf reflect.StructField) (name string, indexed, skip bool) {
	tag := sf.Tag.Get("form")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	for _, opt := range parts[1:] {
		if opt == "indexed" {
			indexed = true
		}
	}
	if name == "" {
		name = lowerCamel(sf.Name)
	}
	return name, indexed, false
}

// lowerCamel lowercases the leading run of upper-case letters, keeping the
// last one when it starts the next word: ID -> id, URLPath -> urlPath.
func lowerCamel(s string) string {
	r := []rune(s)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	switch {
	case n == 0:
		return s
	case n == len(r):
		return strings.ToLower(s)
	case n > 1:
		n--
	}
	for i := 0; i < n; i++ {
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}
