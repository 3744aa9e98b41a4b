package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/logger"
	"github.com/PentesterFlow/OpenClient/internal/metrics"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
	"github.com/PentesterFlow/OpenClient/pkg/form"
	"github.com/PentesterFlow/OpenClient/pkg/shape"
)

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type person struct {
	form.Object
	Name string `form:"name"`
	Age  int    `form:"age"`
}

type api struct {
	*httptest.Server
	hits     atomic.Int32
	mu       sync.Mutex
	lastBody string
	lastAuth string
	failures atomic.Int32
}

func newAPI(t *testing.T) *api {
	t.Helper()
	a := &api{}
	mux := http.NewServeMux()

	mux.HandleFunc("/some/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, r.URL.Path)
	})
	mux.HandleFunc("/people", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		a.mu.Lock()
		a.lastBody = string(body)
		a.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.lastAuth = r.Header.Get("Authorization")
		a.mu.Unlock()
		if r.URL.Path == "/users/404" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, "not found")
			return
		}
		if r.URL.Path == "/users/500" {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "boom")
			return
		}
		if r.URL.Path == "/users/flaky" && a.failures.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(user{ID: 7, Name: "Ada"})
	})

	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(a.Close)
	return a
}

func (a *api) body() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastBody
}

func (a *api) authorization() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAuth
}

func newClient(t *testing.T, a *api, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(a.URL),
		WithLogger(logger.Nop()),
		WithRetry(0),
	}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func getUser(returns reflect.Type) *contract.Method {
	return contract.GET("/users/{id}").Named("Users", "Get").
		PathParam("id", reflect.TypeFor[string]()).
		Returns(returns).
		MustBuild()
}

// =============================================================================
// End-to-end Tests
// =============================================================================

func TestE2E_PathParameter(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	m := contract.GET("/some/{path}").Named("Paths", "Echo").
		PathParam("path", reflect.TypeFor[string]()).
		Returns(reflect.TypeFor[string]()).
		MustBuild()

	got, err := Call[string](context.Background(), c, m, "argument")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "/some/argument" {
		t.Errorf("path = %q, want /some/argument", got)
	}
}

func TestE2E_FormBody(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	m := contract.POST("/people").Named("People", "Create").
		BodyParam(reflect.TypeFor[person]()).
		ContentType("application/x-www-form-urlencoded").
		MustBuild()

	v, err := c.Invoke(context.Background(), m, person{Name: "Tiago de Freitas Lima", Age: 31})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if v != nil {
		t.Errorf("Invoke() = %v, want nil", v)
	}
	if got := a.body(); got != "name=Tiago+de+Freitas+Lima&age=31" {
		t.Errorf("body = %q, want name=Tiago+de+Freitas+Lima&age=31", got)
	}
}

func TestE2E_NotFound(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	_, err := Call[user](context.Background(), c, getUser(reflect.TypeFor[user]()), "404")
	remote, ok := AsRemote(err)
	if !ok {
		t.Fatalf("error = %v, want RemoteResponseError", err)
	}
	if remote.Reason() != errors.NotFound {
		t.Errorf("Reason() = %v, want NotFound", remote.Reason())
	}
	if remote.Body != "not found" {
		t.Errorf("Body = %q, want not found", remote.Body)
	}
	if StatusCode(err) != 404 {
		t.Errorf("StatusCode() = %d, want 404", StatusCode(err))
	}
}

// =============================================================================
// Invoke Tests
// =============================================================================

func TestCall_Decoded(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	got, err := Call[user](context.Background(), c, getUser(reflect.TypeFor[user]()), "7")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != (user{ID: 7, Name: "Ada"}) {
		t.Errorf("Call() = %+v", got)
	}
}

func TestCall_TypeMismatch(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	_, err := Call[string](context.Background(), c, getUser(reflect.TypeFor[user]()), "7")
	if KindOf(err) != KindConfiguration {
		t.Errorf("KindOf() = %v, want Configuration", KindOf(err))
	}
	if n := a.hits.Load(); n != 0 {
		t.Errorf("server hits = %d, want 0", n)
	}
}

func TestInvoke_ArgumentCount(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	_, err := c.Invoke(context.Background(), getUser(reflect.TypeFor[user]()))
	if !errors.IsConfiguration(err) {
		t.Errorf("Invoke() error = %v, want configuration error", err)
	}
}

func TestInvoke_Optional(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	got, err := Call[shape.Optional[user]](context.Background(), c, getUser(reflect.TypeFor[shape.Optional[user]]()), "7")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	u, ok := got.Get()
	if !ok || u.Name != "Ada" {
		t.Errorf("Optional = %+v, %v", u, ok)
	}
}

func TestInvoke_Collection(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	m := contract.GET("/people").Named("People", "List").
		Returns(reflect.TypeFor[[]user]()).
		MustBuild()

	got, err := Call[[]user](context.Background(), c, m)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Call() = %#v, want empty non-nil slice", got)
	}
}

func TestInvoke_Future(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a, WithMaxConcurrency(2))

	f, err := Call[shape.Future[user]](context.Background(), c, getUser(reflect.TypeFor[shape.Future[user]]()), "7")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	u, err := f.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if u.ID != 7 {
		t.Errorf("ID = %d, want 7", u.ID)
	}
}

func TestInvoke_ChainResolvedOnce(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)
	m := getUser(reflect.TypeFor[user]())

	for i := 0; i < 3; i++ {
		if _, err := c.Invoke(context.Background(), m, "7"); err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
	}
	if n := c.chains.Len(); n != 1 {
		t.Errorf("chains = %d, want 1", n)
	}
}

func TestInvoke_MethodsSharingAnID(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	first := contract.GET("/some/first").Named("", "Echo").Returns(reflect.TypeFor[string]()).MustBuild()
	second := contract.GET("/some/second").Named("", "Echo").Returns(reflect.TypeFor[string]()).MustBuild()

	for _, tt := range []struct {
		m    *contract.Method
		want string
	}{
		{first, "/some/first"},
		{second, "/some/second"},
		{first, "/some/first"},
	} {
		got, err := Call[string](context.Background(), c, tt.m)
		if err != nil {
			t.Fatalf("Call() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("path = %q, want %q", got, tt.want)
		}
	}
}

// =============================================================================
// Callback Tests
// =============================================================================

type outcome struct {
	u   user
	err error
}

func callbackMethod(path string) *contract.Method {
	return contract.GET(path).Named("Users", "Fetch").
		CallbackParam(reflect.TypeFor[func(user, error)]()).
		MustBuild()
}

func TestInvoke_Callback(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	done := make(chan outcome, 1)
	v, err := c.Invoke(context.Background(), callbackMethod("/users/7"), func(u user, err error) {
		done <- outcome{u, err}
	})
	if err != nil || v != nil {
		t.Fatalf("Invoke() = %v, %v; want nil, nil", v, err)
	}

	select {
	case o := <-done:
		if o.err != nil {
			t.Fatalf("callback error = %v", o.err)
		}
		if o.u.Name != "Ada" {
			t.Errorf("callback user = %+v", o.u)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback not called")
	}
}

func TestInvoke_CallbackError(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	done := make(chan outcome, 1)
	c.Invoke(context.Background(), callbackMethod("/users/500"), func(u user, err error) {
		done <- outcome{u, err}
	})

	select {
	case o := <-done:
		if StatusCode(o.err) != 500 {
			t.Errorf("callback error = %v, want 500", o.err)
		}
		if o.u != (user{}) {
			t.Errorf("callback user = %+v, want zero", o.u)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback not called")
	}
}

func TestInvoke_CallbackNotAFunction(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	_, err := c.Invoke(context.Background(), callbackMethod("/users/7"), "nope")
	if KindOf(err) != KindConfiguration {
		t.Errorf("Invoke() error = %v, want configuration error", err)
	}
}

// =============================================================================
// Resilience Tests
// =============================================================================

type usersFallback struct{}

func (usersFallback) Get(ctx context.Context, id string) (user, error) {
	return user{ID: -1, Name: "cached " + id}, nil
}

func TestResilience_FallbackInstance(t *testing.T) {
	a := newAPI(t)
	collector := metrics.New()
	c := newClient(t, a,
		WithResilience(true),
		WithFallback(usersFallback{}),
		WithMetrics(collector),
	)

	got, err := Call[user](context.Background(), c, getUser(reflect.TypeFor[user]()), "500")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got.Name != "cached 500" {
		t.Errorf("Call() = %+v, want fallback", got)
	}
	if n := collector.Snapshot().FallbacksTotal; n != 1 {
		t.Errorf("FallbacksTotal = %d, want 1", n)
	}
}

func TestResilience_ClientErrorsNotCounted(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a, WithResilience(true), WithBreaker(1, 1, time.Minute))
	m := getUser(reflect.TypeFor[user]())

	for i := 0; i < 3; i++ {
		c.Invoke(context.Background(), m, "404")
	}
	if state := c.Breakers().Get(m.ID()).State(); state.String() != "closed" {
		t.Errorf("breaker = %v, want closed", state)
	}
}

func TestResilience_BreakerOpens(t *testing.T) {
	a := newAPI(t)
	collector := metrics.New()
	c := newClient(t, a, WithResilience(true), WithBreaker(2, 1, time.Minute), WithMetrics(collector))
	m := getUser(reflect.TypeFor[user]())

	c.Invoke(context.Background(), m, "500")
	c.Invoke(context.Background(), m, "500")
	before := a.hits.Load()

	_, err := c.Invoke(context.Background(), m, "7")
	if err == nil {
		t.Fatal("expected open circuit error")
	}
	if a.hits.Load() != before {
		t.Error("open circuit should not reach the server")
	}
	if n := collector.Snapshot().BreakerOpened; n != 1 {
		t.Errorf("BreakerOpened = %d, want 1", n)
	}
}

func TestCommand_MethodFallback(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	m := contract.GET("/users/{id}").Named("Users", "Lookup").
		PathParam("id", reflect.TypeFor[string]()).
		Returns(reflect.TypeFor[shape.Command[user]]()).
		Fallback(func(ctx context.Context, args []any, cause error) (any, error) {
			return user{Name: "fallback"}, nil
		}).
		MustBuild()

	cmd, err := Call[shape.Command[user]](context.Background(), c, m, "500")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if n := a.hits.Load(); n != 0 {
		t.Errorf("command ran before Execute: hits = %d", n)
	}
	u, err := cmd.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if u.Name != "fallback" {
		t.Errorf("Execute() = %+v", u)
	}
}

// =============================================================================
// Transport Stack Tests
// =============================================================================

func TestClient_Cache(t *testing.T) {
	a := newAPI(t)
	collector := metrics.New()
	c := newClient(t, a, WithCache(nil, time.Minute), WithMetrics(collector))
	m := getUser(reflect.TypeFor[user]())

	for i := 0; i < 3; i++ {
		if _, err := c.Invoke(context.Background(), m, "7"); err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
	}
	if n := a.hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
	if n := collector.Snapshot().CacheHits; n != 2 {
		t.Errorf("CacheHits = %d, want 2", n)
	}
}

func TestClient_Retry(t *testing.T) {
	a := newAPI(t)
	a.failures.Store(1)
	c := newClient(t, a, WithRetry(2, http.StatusServiceUnavailable))

	got, err := Call[user](context.Background(), c, getUser(reflect.TypeFor[user]()), "flaky")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got.ID != 7 {
		t.Errorf("ID = %d, want 7", got.ID)
	}
	if n := a.hits.Load(); n != 2 {
		t.Errorf("server hits = %d, want 2", n)
	}
}

func TestClient_Auth(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a, WithBearerToken("s3cret"))

	if _, err := c.Invoke(context.Background(), getUser(reflect.TypeFor[user]()), "7"); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := a.authorization(); got != "Bearer s3cret" {
		t.Errorf("Authorization = %q, want Bearer s3cret", got)
	}
	if !c.Authenticated() {
		t.Error("Authenticated() = false")
	}
}

func TestClient_DefaultHeader(t *testing.T) {
	tenant := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant <- r.Header.Get("X-Tenant")
	}))
	defer server.Close()

	c, err := New(WithBaseURL(server.URL), WithLogger(logger.Nop()), WithHeader("X-Tenant", "acme"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	m := contract.GET("/ping").Named("Health", "Ping").MustBuild()
	if _, err := c.Invoke(context.Background(), m); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := <-tenant; got != "acme" {
		t.Errorf("X-Tenant = %q, want acme", got)
	}
}

func TestClient_FastHTTPBackend(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a, WithBackend(BackendFastHTTP))

	got, err := Call[user](context.Background(), c, getUser(reflect.TypeFor[user]()), "7")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got.Name != "Ada" {
		t.Errorf("Name = %q, want Ada", got.Name)
	}
}

func TestClient_MetricsHandler(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a, WithMetrics(metrics.New()))
	c.Invoke(context.Background(), getUser(reflect.TypeFor[user]()), "7")

	rec := httptest.NewRecorder()
	c.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if body := rec.Body.String(); !strings.Contains(body, `openclient_client_endpoint_requests_total{endpoint="Users.Get"} 1`) {
		t.Errorf("metrics output missing endpoint counter:\n%s", body)
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(WithBackend("grpc"), WithLogger(logger.Nop()))
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if KindOf(err) != KindConfiguration {
		t.Errorf("KindOf() = %v, want Configuration", KindOf(err))
	}
}

func TestClient_Close(t *testing.T) {
	a := newAPI(t)
	c := newClient(t, a)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_, err := c.Invoke(context.Background(), getUser(reflect.TypeFor[user]()), "7")
	if KindOf(err) != KindConfiguration {
		t.Errorf("Invoke() after Close error = %v", err)
	}
}
