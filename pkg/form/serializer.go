package form

import (
	"encoding"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/OpenClient/internal/errors"
)

// Pair is one flattened key/value.
type Pair struct {
	Key   string
	Value string
}

// ValueFunc renders a single value as text.
type ValueFunc func(v any) (string, error)

// Serializer flattens form objects into pairs. Custom value functions are
// looked up by declared field type before the runtime type.
type Serializer struct {
	mu     sync.RWMutex
	custom map[reflect.Type]ValueFunc
}

// NewSerializer creates a serializer with no custom value functions.
func NewSerializer() *Serializer {
	return &Serializer{custom: make(map[reflect.Type]ValueFunc)}
}

// Register installs fn for values declared as t.
func (s *Serializer) Register(t reflect.Type, fn ValueFunc) {
	s.mu.Lock()
	s.custom[t] = fn
	s.mu.Unlock()
}

// RegisterFunc installs a typed value function for T.
func RegisterFunc[T any](s *Serializer, fn func(T) (string, error)) {
	s.Register(reflect.TypeFor[T](), func(v any) (string, error) {
		return fn(v.(T))
	})
}

func (s *Serializer) lookup(types ...reflect.Type) ValueFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range types {
		if t == nil {
			continue
		}
		if fn, ok := s.custom[t]; ok {
			return fn
		}
	}
	return nil
}

// Text renders v with the value function registered for declared or for the
// runtime type of v, falling back to the package-level Text.
func (s *Serializer) Text(declared reflect.Type, v any) (string, error) {
	var runtime reflect.Type
	if v != nil {
		runtime = reflect.TypeOf(v)
	}
	if fn := s.lookup(declared, runtime); fn != nil {
		return fn(v)
	}
	return Text(v)
}

// Pairs flattens v, which must be a form object or a pointer to one. A nil
// value yields no pairs.
func (s *Serializer) Pairs(v any) ([]Pair, error) {
	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return nil, nil
	}
	d, err := Describe(rv.Type())
	if err != nil {
		return nil, err
	}
	return s.serialize(d, d.Name != "", "", rv, nil)
}

// Encode flattens v and joins the pairs as key=value&key=value.
func (s *Serializer) Encode(v any) (string, error) {
	pairs, err := s.Pairs(v)
	if err != nil {
		return "", err
	}
	return Join(pairs), nil
}

// Join renders pairs in order with form escaping.
func Join(pairs []Pair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

func (s *Serializer) serialize(d *Descriptor, nested bool, external string, v reflect.Value, out []Pair) ([]Pair, error) {
	prefix := external
	if d.Name != "" {
		prefix += d.Name + d.Notation.Delimiter
	}

	for _, f := range d.fields {
		fv, err := v.FieldByIndexErr(f.index)
		if err != nil {
			continue
		}
		out, err = s.field(d, f, prefix, f.Key(nested), f.Type, fv, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Serializer) field(d *Descriptor, f Field, prefix, key string, declared reflect.Type, v reflect.Value, out []Pair) ([]Pair, error) {
	v, ok := indirect(v)
	if !ok {
		return out, nil
	}

	if fn := s.lookup(declared, v.Type()); fn != nil {
		text, err := fn(v.Interface())
		if err != nil {
			return nil, errors.NewRequestEncodingError("", "serialize form field "+f.Name, err)
		}
		return append(out, Pair{Key: prefix + key, Value: text}), nil
	}

	if IsObject(v.Type()) {
		nd, err := Describe(v.Type())
		if err != nil {
			return nil, err
		}
		nd = nd.WithNotation(d.Notation)
		return s.serialize(nd, true, prefix+key+d.Notation.Delimiter, v, out)
	}

	if iterable(v) {
		elem := v.Type().Elem()
		for i := 0; i < v.Len(); i++ {
			name := key
			if f.Indexed {
				name = key + "[" + strconv.Itoa(i) + "]"
			}
			var err error
			out, err = s.field(d, f, prefix, name, elem, v.Index(i), out)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	text, err := Text(v.Interface())
	if err != nil {
		return nil, errors.NewRequestEncodingError("", "serialize form field "+f.Name, err)
	}
	return append(out, Pair{Key: prefix + key, Value: text}), nil
}

func indirect(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

func iterable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return v.Type().Elem().Kind() != reflect.Uint8
	default:
		return false
	}
}

// Text renders a scalar value the default way.
func Text(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.Format(time.RFC3339), nil
	case time.Duration:
		return x.String(), nil
	case encoding.TextMarshaler:
		b, err := x.MarshalText()
		return string(b), err
	case fmt.Stringer:
		return x.String(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	default:
		return fmt.Sprint(v), nil
	}
}

var defaultSerializer = NewSerializer()

// Default returns the process-wide serializer used when no client-specific
// one is configured.
func Default() *Serializer {
	return defaultSerializer
}

// Encode flattens v with the default serializer.
func Encode(v any) (string, error) {
	return defaultSerializer.Encode(v)
}
