package codec

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	documentType = reflect.TypeOf((*goquery.Document)(nil))
	nodeType     = reflect.TypeOf((*html.Node)(nil))
)

// HTML parses text/html bodies into a goquery document or a raw node tree.
type HTML struct {
	matcher mediaMatcher
}

func NewHTML() *HTML {
	return &HTML{matcher: mediaMatcher{types: []string{"text/html", "application/xhtml+xml"}}}
}

func (c *HTML) Name() string { return "html" }

func (c *HTML) CanRead(mediaType string, t reflect.Type) bool {
	return (t == documentType || t == nodeType) && c.matcher.match(mediaType)
}

func (c *HTML) Read(r io.Reader, t reflect.Type) (any, error) {
	if t == nodeType {
		return html.Parse(r)
	}
	return goquery.NewDocumentFromReader(r)
}

func (c *HTML) CanWrite(mediaType string, t reflect.Type) bool {
	return (t == documentType || t == nodeType) && c.matcher.match(mediaType)
}

func (c *HTML) Write(v any) ([]byte, error) {
	switch x := v.(type) {
	case *goquery.Document:
		s, err := x.Html()
		return []byte(s), err
	case *html.Node:
		var buf bytes.Buffer
		if err := html.Render(&buf, x); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("cannot write %T as html", v)
	}
}
