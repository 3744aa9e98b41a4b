package codec

import (
	"encoding"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// Text reads any text/* body into a string and writes strings, byte slices
// and text marshalers.
type Text struct{}

func NewText() *Text { return &Text{} }

func (c *Text) Name() string { return "text" }

// CanRead accepts a string target whatever the media type.
func (c *Text) CanRead(mediaType string, t reflect.Type) bool {
	return t == stringType
}

func (c *Text) Read(r io.Reader, t reflect.Type) (any, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *Text) CanWrite(mediaType string, t reflect.Type) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), "text/")
}

func (c *Text) Write(v any) ([]byte, error) {
	switch x := v.(type) {
	case string:
		return []byte(x), nil
	case []byte:
		return x, nil
	case encoding.TextMarshaler:
		return x.MarshalText()
	case fmt.Stringer:
		return []byte(x.String()), nil
	default:
		return []byte(fmt.Sprint(v)), nil
	}
}

// Bytes passes raw bodies through for []byte targets and octet streams.
type Bytes struct{}

func NewBytes() *Bytes { return &Bytes{} }

func (c *Bytes) Name() string { return "bytes" }

func (c *Bytes) CanRead(mediaType string, t reflect.Type) bool {
	return t == bytesType
}

func (c *Bytes) Read(r io.Reader, t reflect.Type) (any, error) {
	return io.ReadAll(r)
}

func (c *Bytes) CanWrite(mediaType string, t reflect.Type) bool {
	return t == bytesType || t == stringType || strings.EqualFold(mediaType, "application/octet-stream")
}

func (c *Bytes) Write(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case io.Reader:
		return io.ReadAll(x)
	default:
		return nil, fmt.Errorf("cannot write %T as raw bytes", v)
	}
}
