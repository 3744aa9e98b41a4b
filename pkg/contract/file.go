package contract

import (
	"fmt"
	"net/http"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/ysmood/gson"
	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/OpenClient/internal/errors"
)

// File is a contract document listing the methods of one service.
type File struct {
	Service string           `yaml:"service" json:"service"`
	BaseURL string           `yaml:"base_url" json:"base_url"`
	Headers []HeaderTemplate `yaml:"headers" json:"headers"`
	Methods []MethodSpec     `yaml:"methods" json:"methods"`
}

// MethodSpec is the document form of a Method.
type MethodSpec struct {
	Name       string           `yaml:"name" json:"name"`
	Method     string           `yaml:"method" json:"method"`
	Path       string           `yaml:"path" json:"path"`
	Headers    []HeaderTemplate `yaml:"headers" json:"headers"`
	Parameters []ParameterSpec  `yaml:"parameters" json:"parameters"`
	Returns    string           `yaml:"returns" json:"returns"`
}

// ParameterSpec is the document form of a Parameter.
type ParameterSpec struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind" json:"kind"`
	Type string `yaml:"type" json:"type"`
}

var (
	typesMu sync.RWMutex
	types   = map[string]reflect.Type{
		"string":  reflect.TypeFor[string](),
		"int":     reflect.TypeFor[int](),
		"int64":   reflect.TypeFor[int64](),
		"float64": reflect.TypeFor[float64](),
		"bool":    reflect.TypeFor[bool](),
		"bytes":   reflect.TypeFor[[]byte](),
		"strings": reflect.TypeFor[[]string](),
		"object":  reflect.TypeFor[map[string]any](),
		"list":    reflect.TypeFor[[]any](),
		"any":     reflect.TypeFor[any](),
		"json":    reflect.TypeFor[gson.JSON](),
	}
)

// RegisterType makes t available to contract documents under name.
func RegisterType(name string, t reflect.Type) {
	typesMu.Lock()
	types[strings.ToLower(name)] = t
	typesMu.Unlock()
}

// LookupType resolves a document type name. "" and "none" resolve to nil.
func LookupType(name string) (reflect.Type, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "none" {
		return nil, true
	}
	typesMu.RLock()
	defer typesMu.RUnlock()
	t, ok := types[name]
	return t, ok
}

// Load reads a contract document from path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML (or JSON) contract document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Configurationf("", "invalid contract document: %v", err)
	}
	return &f, nil
}

// Build converts every method spec into a validated Method.
func (f *File) Build() ([]*Method, error) {
	out := make([]*Method, 0, len(f.Methods))
	for _, spec := range f.Methods {
		m, err := f.build(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Method builds the named method.
func (f *File) Method(name string) (*Method, error) {
	for _, spec := range f.Methods {
		if spec.Name == name || f.Service+"."+spec.Name == name {
			return f.build(spec)
		}
	}
	return nil, errors.Configurationf(f.Service, "no method %q in contract", name)
}

func (f *File) build(spec MethodSpec) (*Method, error) {
	httpMethod := strings.ToUpper(spec.Method)
	if httpMethod == "" {
		httpMethod = http.MethodGet
	}
	b := NewBuilder(httpMethod, spec.Path).Named(f.Service, spec.Name)
	id := b.m.ID()

	for _, h := range f.Headers {
		b.Header(h.Name, h.Value)
	}
	for _, h := range spec.Headers {
		b.Header(h.Name, h.Value)
	}

	for _, p := range spec.Parameters {
		kind, err := ParseKind(p.Kind)
		if err != nil {
			return nil, errors.NewConfigurationError(id, err.Error())
		}
		typeName := p.Type
		if typeName == "" {
			typeName = "string"
		}
		t, ok := LookupType(typeName)
		if !ok || t == nil {
			return nil, errors.Configurationf(id, "unknown type %q for parameter %q", p.Type, p.Name)
		}
		b.Param(kind, p.Name, t)
	}

	rt, ok := LookupType(spec.Returns)
	if !ok {
		return nil, errors.Configurationf(id, "unknown return type %q", spec.Returns)
	}
	b.Returns(rt)

	return b.Build()
}
