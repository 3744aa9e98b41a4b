package codec

import (
	"fmt"
	"io"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/schema"

	"github.com/PentesterFlow/OpenClient/pkg/form"
)

// FormMediaType is the wire format of structured forms.
const FormMediaType = "application/x-www-form-urlencoded"

var (
	valuesType = reflect.TypeOf(url.Values(nil))
	timeType   = reflect.TypeOf(time.Time{})
	keySegment = regexp.MustCompile(`[^.\[\]]+`)
)

// Form handles application/x-www-form-urlencoded bodies. Form objects are
// written with the structured-form serializer; other structs go through
// gorilla/schema, which also decodes every form body.
type Form struct {
	serializer *form.Serializer
	encoder    *schema.Encoder
	decoder    *schema.Decoder
}

// NewForm creates a form codec using the default form serializer.
func NewForm() *Form {
	return NewFormWith(form.Default())
}

// NewFormWith creates a form codec that renders form objects with s.
func NewFormWith(s *form.Serializer) *Form {
	enc := schema.NewEncoder()
	enc.SetAliasTag("form")
	enc.RegisterEncoder(time.Time{}, func(v reflect.Value) string {
		return v.Interface().(time.Time).Format(time.RFC3339)
	})

	dec := schema.NewDecoder()
	dec.SetAliasTag("form")
	dec.IgnoreUnknownKeys(true)
	dec.RegisterConverter(time.Time{}, func(s string) reflect.Value {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return reflect.Value{}
		}
		return reflect.ValueOf(t)
	})

	return &Form{serializer: s, encoder: enc, decoder: dec}
}

func (c *Form) Name() string { return "form" }

func (c *Form) CanRead(mediaType string, t reflect.Type) bool {
	if !strings.EqualFold(mediaType, FormMediaType) || t == nil {
		return false
	}
	if t == valuesType {
		return true
	}
	if t.Kind() == reflect.Map {
		return t.Key().Kind() == reflect.String && t.Elem().Kind() == reflect.String
	}
	return structType(t) != nil
}

// Read decodes a form body. Bracket and dot keys are both accepted, as are
// indexed and repeated list encodings.
func (c *Form) Read(r io.Reader, t reflect.Type) (any, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}

	if t == valuesType {
		return values, nil
	}
	if t.Kind() == reflect.Map {
		m := reflect.MakeMapWithSize(t, len(values))
		for k := range values {
			m.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), reflect.ValueOf(values.Get(k)).Convert(t.Elem()))
		}
		return m.Interface(), nil
	}

	st := structType(t)
	root := ""
	if form.IsObject(st) {
		d, err := form.Describe(st)
		if err != nil {
			return nil, err
		}
		root = d.Name
	}

	ptr := alloc(st)
	if err := c.decoder.Decode(ptr.Interface(), normalizeKeys(values, root)); err != nil {
		return nil, err
	}
	if t.Kind() == reflect.Pointer {
		return ptr.Interface(), nil
	}
	return ptr.Elem().Interface(), nil
}

func (c *Form) CanWrite(mediaType string, t reflect.Type) bool {
	return strings.EqualFold(mediaType, FormMediaType)
}

func (c *Form) Write(v any) ([]byte, error) {
	switch x := v.(type) {
	case url.Values:
		return []byte(x.Encode()), nil
	case map[string]string:
		values := url.Values{}
		for k, val := range x {
			values.Set(k, val)
		}
		return []byte(values.Encode()), nil
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, fmt.Errorf("cannot write nil as a form")
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		values := url.Values{}
		iter := rv.MapRange()
		for iter.Next() {
			text, err := form.Text(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			values.Add(iter.Key().String(), text)
		}
		return []byte(values.Encode()), nil
	}

	st := structType(rv.Type())
	if st == nil {
		return nil, fmt.Errorf("cannot write %T as a form", v)
	}
	if form.IsObject(st) {
		encoded, err := c.serializer.Encode(v)
		return []byte(encoded), err
	}

	values, err := c.EncodeValues(v)
	if err != nil {
		return nil, err
	}
	return []byte(values.Encode()), nil
}

// EncodeValues renders a plain struct as url.Values through gorilla/schema.
func (c *Form) EncodeValues(v any) (url.Values, error) {
	rv := reflect.Indirect(reflect.ValueOf(v))
	values := url.Values{}
	if err := c.encoder.Encode(rv.Interface(), values); err != nil {
		return nil, err
	}
	return values, nil
}

func structType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t == timeType {
		return nil
	}
	return t
}

type indexedValues struct {
	index  int
	values []string
}

// normalizeKeys rewrites serializer keys into the dotted paths gorilla/schema
// expects: the root name is dropped, brackets become dots and trailing list
// indices collapse into repeated values ordered by index.
func normalizeKeys(values url.Values, root string) map[string][]string {
	out := make(map[string][]string, len(values))
	lists := make(map[string][]indexedValues)

	for key, vals := range values {
		segs := keySegment.FindAllString(key, -1)
		if len(segs) == 0 {
			continue
		}
		if root != "" && len(segs) > 1 && segs[0] == root {
			segs = segs[1:]
		}
		if n := len(segs); n > 1 {
			if idx, err := strconv.Atoi(segs[n-1]); err == nil {
				base := strings.Join(segs[:n-1], ".")
				lists[base] = append(lists[base], indexedValues{index: idx, values: vals})
				continue
			}
		}
		k := strings.Join(segs, ".")
		out[k] = append(out[k], vals...)
	}

	for base, items := range lists {
		sort.Slice(items, func(i, j int) bool { return items[i].index < items[j].index })
		for _, it := range items {
			out[base] = append(out[base], it.values...)
		}
	}
	return out
}
