package codec

import (
	stderrors "errors"
	"io"
	"reflect"

	"gopkg.in/yaml.v3"
)

// YAML handles application/yaml and its legacy aliases.
type YAML struct {
	matcher mediaMatcher
}

func NewYAML() *YAML {
	return &YAML{matcher: mediaMatcher{
		types:  []string{"application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml"},
		suffix: "+yaml",
	}}
}

func (c *YAML) Name() string { return "yaml" }

func (c *YAML) CanRead(mediaType string, t reflect.Type) bool {
	return t != nil && c.matcher.match(mediaType)
}

func (c *YAML) Read(r io.Reader, t reflect.Type) (any, error) {
	ptr := alloc(t)
	if err := yaml.NewDecoder(r).Decode(ptr.Interface()); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

func (c *YAML) CanWrite(mediaType string, t reflect.Type) bool {
	return c.matcher.match(mediaType)
}

func (c *YAML) Write(v any) ([]byte, error) {
	return yaml.Marshal(v)
}
