// Package response turns raw transport responses into decoded values or
// typed remote errors.
package response

import (
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/PentesterFlow/OpenClient/internal/codec"
	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/transport"
)

// MaxErrorBody caps how much of a failed response is kept as error text.
const MaxErrorBody = 1 << 20

// Result is a successfully read response.
type Result struct {
	StatusCode int
	Header     http.Header
	Value      any
	// Present is false when no value was decoded: nothing was expected or
	// the response carried no body.
	Present bool
}

// Reader decodes responses with a codec registry.
type Reader struct {
	codecs *codec.Registry
}

// NewReader creates a reader. A nil registry selects the defaults.
func NewReader(codecs *codec.Registry) *Reader {
	if codecs == nil {
		codecs = codec.NewDefaultRegistry()
	}
	return &Reader{codecs: codecs}
}

// Read consumes and closes resp. A nil t means no value is expected.
//
// Statuses of 400 and above always produce a RemoteResponseError. Otherwise
// nothing is decoded when t is nil or the response is not readable, 2xx
// bodies are decoded by content type, and remaining statuses are remote
// errors.
func (r *Reader) Read(resp *transport.Response, t reflect.Type) (*Result, error) {
	defer resp.Close()

	result := &Result{StatusCode: resp.StatusCode, Header: resp.Header}

	if resp.StatusCode >= 400 {
		return nil, r.remoteError(resp)
	}
	if t == nil || !resp.Readable() {
		return result, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, r.remoteError(resp)
	}

	endpoint, url := origin(resp)
	mediaType := resp.MediaType()

	c := r.codecs.Reader(mediaType, t)
	if c == nil {
		return nil, errors.Configurationf(endpoint, "no codec reads %s into %v", displayType(mediaType), t)
	}

	body, err := decompress(resp)
	if err != nil {
		return nil, errors.NewReadError(endpoint, url, err)
	}
	defer body.Close()

	value, err := c.Read(body, t)
	if err != nil {
		return nil, errors.NewReadError(endpoint, url, err)
	}

	result.Value = value
	result.Present = true
	return result, nil
}

func (r *Reader) remoteError(resp *transport.Response) error {
	endpoint, url := origin(resp)

	text := ""
	if resp.Readable() {
		if body, err := decompress(resp); err == nil {
			b, _ := io.ReadAll(io.LimitReader(body, MaxErrorBody))
			body.Close()
			text = string(b)
		}
	}
	return errors.NewRemoteResponseError(endpoint, url, resp.StatusCode, resp.Header, text)
}

func origin(resp *transport.Response) (endpoint, url string) {
	if resp.Request == nil {
		return "", ""
	}
	return resp.Request.Endpoint, resp.Request.URL
}

func displayType(mediaType string) string {
	if mediaType == "" {
		return "a body without Content-Type"
	}
	return mediaType
}

// decompress wraps the body according to Content-Encoding. Unknown encodings
// are passed through untouched.
func decompress(resp *transport.Response) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip", "x-gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return zlib.NewReader(resp.Body)
	case "zstd":
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(resp.Body), nil
	}
}
