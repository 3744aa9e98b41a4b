package resilience

import (
	"context"
	stderrors "errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/logger"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
	"github.com/PentesterFlow/OpenClient/pkg/shape"
)

// ============================================================================
// Breaker
// ============================================================================

func TestBreaker_InitialState(t *testing.T) {
	b := NewBreaker(DefaultBreakerConfig())

	if b.State() != Closed {
		t.Errorf("Initial state = %v, want Closed", b.State())
	}
}

func TestBreaker_OpenAfterFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Timeout: time.Second})

	for i := 0; i < 3; i++ {
		b.Allow()
		b.RecordFailure()
	}

	if b.State() != Open {
		t.Errorf("State after 3 failures = %v, want Open", b.State())
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, Timeout: time.Second})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	if b.State() != Closed {
		t.Errorf("State = %v, want Closed", b.State())
	}
}

func TestBreaker_BlockWhenOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	b.Allow()
	b.RecordFailure()

	if b.Allow() {
		t.Error("Should not allow calls when open")
	}
}

func TestBreaker_HalfOpenCycle(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
		MaxConcurrent:    1,
	})

	b.Allow()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("Should allow a trial call after the timeout")
	}
	if b.State() != HalfOpen {
		t.Fatalf("State = %v, want HalfOpen", b.State())
	}
	if b.Allow() {
		t.Error("Should not allow a second concurrent trial call")
	}

	b.RecordSuccess()
	if !b.Allow() {
		t.Fatal("Should allow the next trial call")
	}
	b.RecordSuccess()

	if b.State() != Closed {
		t.Errorf("State after trial calls = %v, want Closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Timeout: 10 * time.Millisecond})

	b.Allow()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow()
	b.RecordFailure()

	if b.State() != Open {
		t.Errorf("State = %v, want Open", b.State())
	}
}

func TestBreaker_IgnoredReleasesSlot(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Timeout: 10 * time.Millisecond})

	b.Allow()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow()
	b.RecordIgnored()

	if b.State() != HalfOpen {
		t.Fatalf("State = %v, want HalfOpen", b.State())
	}
	if !b.Allow() {
		t.Error("Slot should be free after an ignored outcome")
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	var from, to State
	b.OnStateChange(func(f, n State) { from, to = f, n })
	b.RecordFailure()

	if from != Closed || to != Open {
		t.Errorf("transition = %v -> %v, want closed -> open", from, to)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	b.RecordFailure()
	b.Reset()

	if b.State() != Closed {
		t.Errorf("State after reset = %v, want Closed", b.State())
	}
	if s := b.Stats(); s.Failures != 0 {
		t.Errorf("Failures = %d, want 0", s.Failures)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(9), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// ============================================================================
// Breakers
// ============================================================================

func TestBreakers_PerEndpoint(t *testing.T) {
	set := NewBreakers(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	set.Get("Users.Get").RecordFailure()

	if set.Get("Users.Get").State() != Open {
		t.Error("Users.Get should be open")
	}
	if set.Get("Users.List").State() != Closed {
		t.Error("Users.List should be closed")
	}
	if set.Get("Users.Get") != set.Get("Users.Get") {
		t.Error("Get should return the same breaker")
	}

	stats := set.AllStats()
	if len(stats) != 2 {
		t.Errorf("len(AllStats) = %d, want 2", len(stats))
	}

	set.Reset()
	if set.Get("Users.Get").State() != Closed {
		t.Error("Reset should close every breaker")
	}
}

func TestBreakers_OnStateChange(t *testing.T) {
	set := NewBreakers(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	var mu sync.Mutex
	var seen []string
	set.OnStateChange(func(endpoint string, _, to State) {
		mu.Lock()
		seen = append(seen, endpoint+":"+to.String())
		mu.Unlock()
	})
	set.Get("Orders.Create").RecordFailure()

	if len(seen) != 1 || seen[0] != "Orders.Create:open" {
		t.Errorf("seen = %v", seen)
	}
}

// ============================================================================
// Runner
// ============================================================================

var errDown = errors.NewNetworkError("http://api/users", stderrors.New("connection refused"))

func failing(ctx context.Context) (any, error) { return nil, errDown }

func TestRunner_FallbackOnFailure(t *testing.T) {
	r := NewRunner(nil, logger.Nop())

	fallback := func(ctx context.Context, args []any, cause error) (any, error) {
		if cause != errDown {
			t.Errorf("cause = %v, want errDown", cause)
		}
		return "cached-" + args[0].(string), nil
	}

	v, err := r.Run(context.Background(), "Users.Get", []any{"42"}, failing, fallback)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if v != "cached-42" {
		t.Errorf("Run() = %v, want cached-42", v)
	}
}

func TestRunner_NoFallbackPropagates(t *testing.T) {
	r := NewRunner(nil, logger.Nop())

	_, err := r.Run(context.Background(), "Users.Get", nil, failing, nil)
	if err != errDown {
		t.Errorf("Run() error = %v, want the original failure", err)
	}
}

func TestRunner_SuccessSkipsFallback(t *testing.T) {
	r := NewRunner(nil, logger.Nop())
	called := false

	v, err := r.Run(context.Background(), "Users.Get", nil,
		func(ctx context.Context) (any, error) { return 7, nil },
		func(ctx context.Context, args []any, cause error) (any, error) {
			called = true
			return 0, nil
		})
	if err != nil || v != 7 {
		t.Errorf("Run() = %v, %v; want 7, nil", v, err)
	}
	if called {
		t.Error("fallback should not run on success")
	}
}

func TestRunner_FallbackErrorReturned(t *testing.T) {
	r := NewRunner(nil, logger.Nop())
	fbErr := stderrors.New("fallback down too")

	_, err := r.Run(context.Background(), "Users.Get", nil, failing,
		func(ctx context.Context, args []any, cause error) (any, error) { return nil, fbErr })
	if err != fbErr {
		t.Errorf("Run() error = %v, want fallback error", err)
	}
}

func TestRunner_AwaitsDeferredFallback(t *testing.T) {
	r := NewRunner(nil, logger.Nop())

	tests := []struct {
		name string
		v    any
	}{
		{"future", shape.Resolved("deferred")},
		{"command", shape.NewCommand(func(ctx context.Context) (string, error) { return "deferred", nil })},
		{"stream", shape.Just("deferred")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := r.Run(context.Background(), "Users.Get", nil, failing,
				func(ctx context.Context, args []any, cause error) (any, error) { return tt.v, nil })
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if v != "deferred" {
				t.Errorf("Run() = %v, want deferred", v)
			}
		})
	}
}

func TestRunner_OpenBreakerUsesFallback(t *testing.T) {
	set := NewBreakers(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	r := NewRunner(set, logger.Nop())

	calls := 0
	call := func(ctx context.Context) (any, error) {
		calls++
		return nil, errDown
	}
	var causes []error
	fallback := func(ctx context.Context, args []any, cause error) (any, error) {
		causes = append(causes, cause)
		return "fallback", nil
	}

	for i := 0; i < 2; i++ {
		if v, err := r.Run(context.Background(), "Users.Get", nil, call, fallback); v != "fallback" || err != nil {
			t.Fatalf("Run() = %v, %v", v, err)
		}
	}

	if calls != 1 {
		t.Errorf("delegate calls = %d, want 1", calls)
	}
	var open *OpenError
	if len(causes) != 2 || !stderrors.As(causes[1], &open) {
		t.Fatalf("second cause = %v, want *OpenError", causes)
	}
	if open.Endpoint != "Users.Get" {
		t.Errorf("OpenError.Endpoint = %q", open.Endpoint)
	}
}

func TestCountsAsFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", errDown, true},
		{"cancelled", errors.NewCancelledError("u", context.Canceled), false},
		{"read", errors.NewReadError("S.M", "u", stderrors.New("bad json")), true},
		{"configuration", errors.NewConfigurationError("S.M", "no codec"), false},
		{"encoding", errors.NewRequestEncodingError("S.M", "body", stderrors.New("x")), false},
		{"server error", errors.NewRemoteResponseError("S.M", "u", 503, http.Header{}, ""), true},
		{"client error", errors.NewRemoteResponseError("S.M", "u", 404, http.Header{}, ""), false},
		{"plain", stderrors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountsAsFailure(tt.err); got != tt.want {
				t.Errorf("CountsAsFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ============================================================================
// Fallback resolution
// ============================================================================

type user struct {
	ID   string
	Name string
}

type usersFallback struct{}

func (usersFallback) Get(ctx context.Context, id string) (*user, error) {
	return &user{ID: id, Name: "anonymous"}, nil
}

func (usersFallback) Delete(ctx context.Context, id string) error {
	return nil
}

func (usersFallback) List(ctx context.Context, page int) ([]user, error) {
	return nil, nil
}

type providerFallback struct{}

func (providerFallback) Fallback(ctx context.Context, m *contract.Method, args []any, cause error) (any, error) {
	return m.Name, nil
}

func getMethod() *contract.Method {
	return contract.GET("/users/{id}").
		Named("Users", "Get").
		PathParam("id", reflect.TypeFor[string]()).
		Returns(reflect.TypeFor[*user]()).
		MustBuild()
}

func TestResolveFallback_SameSignatureMethod(t *testing.T) {
	fb, err := ResolveFallback(getMethod(), usersFallback{})
	if err != nil {
		t.Fatalf("ResolveFallback() error = %v", err)
	}
	if fb == nil {
		t.Fatal("ResolveFallback() = nil, want a fallback")
	}

	v, err := fb(context.Background(), []any{"7"}, errDown)
	if err != nil {
		t.Fatalf("fallback error = %v", err)
	}
	u, ok := v.(*user)
	if !ok || u.ID != "7" || u.Name != "anonymous" {
		t.Errorf("fallback = %#v", v)
	}
}

func TestResolveFallback_VoidMethod(t *testing.T) {
	m := contract.DELETE("/users/{id}").
		Named("Users", "Delete").
		PathParam("id", reflect.TypeFor[string]()).
		MustBuild()

	fb, err := ResolveFallback(m, usersFallback{})
	if err != nil || fb == nil {
		t.Fatalf("ResolveFallback() = %v, %v", fb, err)
	}
	v, err := fb(context.Background(), []any{"7"}, errDown)
	if v != nil || err != nil {
		t.Errorf("fallback = %v, %v; want nil, nil", v, err)
	}
}

func TestResolveFallback_MismatchedSignature(t *testing.T) {
	m := contract.GET("/users").
		Named("Users", "List").
		QueryParam("page", reflect.TypeFor[string]()).
		Returns(reflect.TypeFor[[]user]()).
		MustBuild()

	_, err := ResolveFallback(m, usersFallback{})
	if !errors.IsConfiguration(err) {
		t.Errorf("ResolveFallback() error = %v, want ConfigurationError", err)
	}
}

func TestResolveFallback_MissingMethod(t *testing.T) {
	m := contract.GET("/health").Named("Users", "Health").MustBuild()

	fb, err := ResolveFallback(m, usersFallback{})
	if err != nil || fb != nil {
		t.Errorf("ResolveFallback() = %v, %v; want nil, nil", fb, err)
	}
}

func TestResolveFallback_Precedence(t *testing.T) {
	m := getMethod()
	m.Fallback = func(ctx context.Context, args []any, cause error) (any, error) {
		return "method", nil
	}

	fb, _ := ResolveFallback(m, providerFallback{})
	if v, _ := fb(context.Background(), nil, errDown); v != "method" {
		t.Errorf("method fallback should win, got %v", v)
	}

	fb, _ = ResolveFallback(getMethod(), providerFallback{})
	if v, _ := fb(context.Background(), nil, errDown); v != "Get" {
		t.Errorf("provider fallback = %v, want Get", v)
	}

	fb, err := ResolveFallback(getMethod(), nil)
	if fb != nil || err != nil {
		t.Errorf("nil instance = %v, %v; want no fallback", fb, err)
	}
}

// A failing command yields the fallback's value when one is configured
// and the original failure otherwise.
func TestRunner_FallbackResolutionOrder(t *testing.T) {
	r := NewRunner(NewBreakers(DefaultBreakerConfig()), logger.Nop())
	m := getMethod()

	fb, err := ResolveFallback(m, usersFallback{})
	if err != nil {
		t.Fatal(err)
	}

	v, err := r.Run(context.Background(), m.ID(), []any{"1"}, failing, fb)
	if err != nil {
		t.Fatalf("with fallback: error = %v", err)
	}
	if u := v.(*user); u.Name != "anonymous" {
		t.Errorf("with fallback: %#v", u)
	}

	_, err = r.Run(context.Background(), m.ID(), []any{"1"}, failing, nil)
	if err != errDown {
		t.Errorf("without fallback: error = %v, want original failure", err)
	}
}
