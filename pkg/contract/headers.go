package contract

import "net/textproto"

// HeaderTemplate is a header whose value may embed {parameter} placeholders.
type HeaderTemplate struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Headers is an ordered set of header templates keyed by name and value.
// Several templates may share a name.
type Headers struct {
	list []HeaderTemplate
}

// NewHeaders builds a set from templates, collapsing exact duplicates.
func NewHeaders(templates ...HeaderTemplate) Headers {
	var h Headers
	for _, t := range templates {
		h = h.With(t.Name, t.Value)
	}
	return h
}

// With returns a set that also holds name: value.
func (h Headers) With(name, value string) Headers {
	name = textproto.CanonicalMIMEHeaderKey(name)
	for _, t := range h.list {
		if t.Name == name && t.Value == value {
			return h
		}
	}
	out := make([]HeaderTemplate, len(h.list), len(h.list)+1)
	copy(out, h.list)
	return Headers{list: append(out, HeaderTemplate{Name: name, Value: value})}
}

// All returns the templates in insertion order.
func (h Headers) All() []HeaderTemplate {
	out := make([]HeaderTemplate, len(h.list))
	copy(out, h.list)
	return out
}

// Get returns the value templates registered under name.
func (h Headers) Get(name string) []string {
	name = textproto.CanonicalMIMEHeaderKey(name)
	var out []string
	for _, t := range h.list {
		if t.Name == name {
			out = append(out, t.Value)
		}
	}
	return out
}

func (h Headers) Len() int { return len(h.list) }
