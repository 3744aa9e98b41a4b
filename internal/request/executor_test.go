package request

import (
	"context"
	stderrors "errors"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/transport"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
	"github.com/PentesterFlow/OpenClient/pkg/form"
)

type person struct {
	form.Object
	Name string `form:"name"`
	Age  int    `form:"age"`
}

type profile struct {
	Name string `json:"name"`
}

type recorder struct {
	last  *transport.Request
	calls int
	err   error
}

func (r *recorder) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	r.last = req
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return transport.NewResponse(req, http.StatusOK, nil, nil), nil
}

func newExecutor(rec *recorder, mods ...func(*Config)) *Executor {
	cfg := Config{BaseURL: "http://api.example.com/", Transport: rec}
	for _, mod := range mods {
		mod(&cfg)
	}
	return New(cfg)
}

// =============================================================================
// Build Tests
// =============================================================================

func TestBuild_FormBody(t *testing.T) {
	m := contract.POST("/people").Named("People", "Create").
		BodyParam(reflect.TypeFor[person]()).
		ContentType("application/x-www-form-urlencoded").
		MustBuild()

	req, err := newExecutor(&recorder{}).Build(context.Background(), m, []any{person{Name: "Tiago de Freitas Lima", Age: 31}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := string(req.Body); got != "name=Tiago+de+Freitas+Lima&age=31" {
		t.Errorf("Body = %q, want name=Tiago+de+Freitas+Lima&age=31", got)
	}
	if req.URL != "http://api.example.com/people" {
		t.Errorf("URL = %q", req.URL)
	}
	if req.Charset != DefaultCharset {
		t.Errorf("Charset = %q, want %q", req.Charset, DefaultCharset)
	}
}

func TestBuild_URLAndHeaders(t *testing.T) {
	m := contract.GET("/users/{id}?fields=all").Named("Users", "Get").
		PathParam("id", reflect.TypeFor[int]()).
		QueryParam("expand", reflect.TypeFor[string]()).
		Header("Accept", "application/yaml").
		MustBuild()

	exec := newExecutor(&recorder{}, func(c *Config) {
		c.DefaultHeaders = http.Header{"Accept": {"application/json"}, "X-Client": {"openclient"}}
	})
	req, err := exec.Build(context.Background(), m, []any{9, "roles"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if req.URL != "http://api.example.com/users/9?fields=all&expand=roles" {
		t.Errorf("URL = %q", req.URL)
	}
	if got := req.Header.Values("Accept"); len(got) != 1 || got[0] != "application/yaml" {
		t.Errorf("Accept = %v, want method template to override default", got)
	}
	if got := req.Header.Get("X-Client"); got != "openclient" {
		t.Errorf("X-Client = %q, want default header", got)
	}
	if req.Endpoint != "Users.Get" {
		t.Errorf("Endpoint = %q", req.Endpoint)
	}
}

func TestBuild_AbsolutePath(t *testing.T) {
	m := contract.GET("https://other.example.com/v1/{id}").Named("S", "M").
		PathParam("id", reflect.TypeFor[string]()).
		MustBuild()

	req, err := newExecutor(&recorder{}).Build(context.Background(), m, []any{"x"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if req.URL != "https://other.example.com/v1/x" {
		t.Errorf("URL = %q, want absolute path to bypass base URL", req.URL)
	}
}

func TestBuild_Body(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        any
		want        string
		wantKind    errors.Kind
	}{
		{"json", "application/json; charset=ISO-8859-1", profile{Name: "Sansa"}, `{"name":"Sansa"}`, errors.Unknown},
		{"raw string without content type", "", "raw", "raw", errors.Unknown},
		{"raw bytes without content type", "", []byte{1, 2}, "\x01\x02", errors.Unknown},
		{"struct without content type", "", profile{}, "", errors.Configuration},
		{"no codec", "application/xml", profile{}, "", errors.Configuration},
		{"encoder failure", "application/json", map[string]any{"c": make(chan int)}, "", errors.RequestEncoding},
		{"nil body", "application/json", (*profile)(nil), "", errors.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := contract.POST("/").Named("S", "M").BodyParam(reflect.TypeFor[any]())
			if tt.contentType != "" {
				b = b.ContentType(tt.contentType)
			}
			req, err := newExecutor(&recorder{}).Build(context.Background(), b.MustBuild(), []any{tt.body})

			if tt.wantKind != errors.Unknown {
				if errors.GetKind(err) != tt.wantKind {
					t.Fatalf("error = %v, want kind %v", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if string(req.Body) != tt.want {
				t.Errorf("Body = %q, want %q", req.Body, tt.want)
			}
		})
	}
}

func TestBuild_CharsetFromContentType(t *testing.T) {
	m := contract.POST("/").Named("S", "M").BodyParam(reflect.TypeFor[profile]()).
		ContentType("application/json; charset=ISO-8859-1").MustBuild()

	req, err := newExecutor(&recorder{}).Build(context.Background(), m, []any{profile{}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if req.Charset != "ISO-8859-1" {
		t.Errorf("Charset = %q, want ISO-8859-1", req.Charset)
	}
}

func TestBuild_ArgumentCount(t *testing.T) {
	m := contract.GET("/{id}").Named("S", "M").PathParam("id", reflect.TypeFor[int]()).MustBuild()

	_, err := newExecutor(&recorder{}).Build(context.Background(), m, nil)
	if !errors.IsConfiguration(err) {
		t.Errorf("error = %v, want configuration error", err)
	}
}

func TestBuild_Interceptors(t *testing.T) {
	m := contract.GET("/").Named("S", "M").MustBuild()

	var order []string
	stamp := func(name string) Interceptor {
		return InterceptorFunc(func(ctx context.Context, req *transport.Request) error {
			order = append(order, name)
			req.Header.Set("X-Last", name)
			return nil
		})
	}
	exec := newExecutor(&recorder{}, func(c *Config) { c.Interceptors = []Interceptor{stamp("a"), stamp("b")} })

	req, err := exec.Build(context.Background(), m, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(order) != 2 || req.Header.Get("X-Last") != "b" {
		t.Errorf("order = %v, X-Last = %q", order, req.Header.Get("X-Last"))
	}

	failing := newExecutor(&recorder{}, func(c *Config) {
		c.Interceptors = []Interceptor{InterceptorFunc(func(context.Context, *transport.Request) error {
			return stderrors.New("no credentials")
		})}
	})
	if _, err := failing.Build(context.Background(), m, nil); errors.GetKind(err) != errors.RequestEncoding {
		t.Errorf("error = %v, want request encoding error", err)
	}
}

// =============================================================================
// Exchange Tests
// =============================================================================

func TestExchange(t *testing.T) {
	rec := &recorder{}
	m := contract.DELETE("/items/{id}").Named("Items", "Delete").PathParam("id", reflect.TypeFor[string]()).MustBuild()

	resp, err := newExecutor(rec).Exchange(context.Background(), m, []any{"a1"})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK || rec.last.Method != http.MethodDelete {
		t.Errorf("status = %d method = %s", resp.StatusCode, rec.last.Method)
	}
}

func TestExchange_TransportErrorsAreWrapped(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason errors.TransportReason
	}{
		{"cancelled", context.Canceled, errors.ReasonCancelled},
		{"deadline", context.DeadlineExceeded, errors.ReasonTimeout},
		{"other", stderrors.New("weird"), errors.ReasonUnknown},
	}

	m := contract.GET("/").Named("S", "M").MustBuild()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newExecutor(&recorder{err: tt.err}).Exchange(context.Background(), m, nil)
			if !stderrors.Is(err, errors.ErrTransport) {
				t.Fatalf("error = %v, want transport error", err)
			}
			if errors.GetReason(err) != tt.reason {
				t.Errorf("reason = %v, want %v", errors.GetReason(err), tt.reason)
			}
			var ce *errors.Error
			if stderrors.As(err, &ce) && ce.Endpoint != "S.M" {
				t.Errorf("Endpoint = %q, want S.M", ce.Endpoint)
			}
		})
	}
}

func TestExchange_BuildErrorSkipsTransport(t *testing.T) {
	rec := &recorder{}
	m := contract.POST("/").Named("S", "M").BodyParam(reflect.TypeFor[profile]()).MustBuild()

	if _, err := newExecutor(rec).Exchange(context.Background(), m, []any{profile{}}); err == nil {
		t.Fatal("Exchange() error = nil, want configuration error")
	}
	if rec.calls != 0 {
		t.Errorf("transport calls = %d, want 0", rec.calls)
	}
}

func TestExchangeAsync(t *testing.T) {
	m := contract.GET("/").Named("S", "M").MustBuild()

	out := <-newExecutor(&recorder{}).ExchangeAsync(context.Background(), m, nil)
	if out.Err != nil || out.Response.StatusCode != 200 {
		t.Errorf("ExchangeAsync() = %+v", out)
	}

	out = <-newExecutor(&recorder{}).ExchangeAsync(context.Background(), m, []any{"extra"})
	if !errors.IsConfiguration(out.Err) {
		t.Errorf("ExchangeAsync() error = %v, want configuration error on channel", out.Err)
	}
}

func TestExchangeAsync_Cancelled(t *testing.T) {
	slow := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		time.Sleep(200 * time.Millisecond)
		return transport.NewResponse(req, 200, nil, nil), nil
	})
	exec := New(Config{Transport: slow})
	m := contract.GET("/").Named("S", "M").MustBuild()

	ctx, cancel := context.WithCancel(context.Background())
	ch := exec.ExchangeAsync(ctx, m, nil)
	cancel()

	out := <-ch
	if errors.GetReason(out.Err) != errors.ReasonCancelled {
		t.Errorf("error = %v, want cancelled", out.Err)
	}
}
