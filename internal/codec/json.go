package codec

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"reflect"
)

// JSON handles application/json and +json media types.
type JSON struct {
	matcher mediaMatcher
}

// NewJSON creates the JSON codec.
func NewJSON() *JSON {
	return &JSON{matcher: mediaMatcher{types: []string{"application/json", "text/json"}, suffix: "+json"}}
}

func (c *JSON) Name() string { return "json" }

func (c *JSON) CanRead(mediaType string, t reflect.Type) bool {
	return t != nil && c.matcher.match(mediaType)
}

// Read decodes one JSON document. An empty body yields the zero value.
func (c *JSON) Read(r io.Reader, t reflect.Type) (any, error) {
	ptr := alloc(t)
	if err := json.NewDecoder(r).Decode(ptr.Interface()); err != nil {
		if stderrors.Is(err, io.EOF) {
			return ptr.Elem().Interface(), nil
		}
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

func (c *JSON) CanWrite(mediaType string, t reflect.Type) bool {
	return c.matcher.match(mediaType)
}

func (c *JSON) Write(v any) ([]byte, error) {
	return json.Marshal(v)
}
