package resilience

import (
	"context"
	"reflect"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/logger"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
	"github.com/PentesterFlow/OpenClient/pkg/shape"
)

// Provider is implemented by fallback instances that dispatch on the method
// themselves instead of exposing one Go method per endpoint.
type Provider interface {
	Fallback(ctx context.Context, m *contract.Method, args []any, cause error) (any, error)
}

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// ResolveFallback finds the fallback for m. The method's own Fallback wins,
// then an instance implementing Provider, then an exported method of the
// instance named after m. A method with that name must have the signature
// func(context.Context, <parameter types>...) (<return type>, error), or
// func(context.Context, <parameter types>...) error when m returns nothing.
// A nil result means no fallback is configured.
func ResolveFallback(m *contract.Method, instance any) (contract.FallbackFunc, error) {
	if m.Fallback != nil {
		return m.Fallback, nil
	}
	if shape.IsNil(instance) {
		return nil, nil
	}
	if p, ok := instance.(Provider); ok {
		return func(ctx context.Context, args []any, cause error) (any, error) {
			return p.Fallback(ctx, m, args, cause)
		}, nil
	}

	fn := reflect.ValueOf(instance).MethodByName(m.Name)
	if !fn.IsValid() {
		return nil, nil
	}
	if err := checkSignature(m, fn.Type()); err != nil {
		return nil, err
	}

	return func(ctx context.Context, args []any, _ error) (any, error) {
		in := make([]reflect.Value, 0, len(args)+1)
		in = append(in, reflect.ValueOf(ctx))
		for i, a := range args {
			want := fn.Type().In(i + 1)
			if a == nil {
				in = append(in, reflect.Zero(want))
				continue
			}
			in = append(in, reflect.ValueOf(a))
		}
		out := fn.Call(in)
		last := out[len(out)-1]
		var err error
		if !last.IsNil() {
			err = last.Interface().(error)
		}
		if len(out) == 1 {
			return nil, err
		}
		return out[0].Interface(), err
	}, nil
}

func checkSignature(m *contract.Method, t reflect.Type) error {
	bad := func() error {
		return errors.Configurationf(m.ID(), "fallback method %s has signature %v", m.Name, t)
	}

	if t.IsVariadic() || t.NumIn() != len(m.Parameters)+1 || t.In(0) != contextType {
		return bad()
	}
	for i, p := range m.Parameters {
		if t.In(i+1) != p.Type {
			return bad()
		}
	}

	switch {
	case m.ReturnType == nil:
		if t.NumOut() != 1 || t.Out(0) != errorType {
			return bad()
		}
	default:
		if t.NumOut() != 2 || t.Out(0) != m.ReturnType || t.Out(1) != errorType {
			return bad()
		}
	}
	return nil
}

// Runner executes calls behind per-endpoint breakers and applies fallbacks.
type Runner struct {
	breakers *Breakers
	log      *logger.Logger
}

// NewRunner creates a runner. A nil breaker set disables circuit breaking.
func NewRunner(breakers *Breakers, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Global()
	}
	return &Runner{breakers: breakers, log: log.WithComponent("resilience")}
}

// Breakers returns the runner's breaker set.
func (r *Runner) Breakers() *Breakers {
	return r.breakers
}

// Run executes call for endpoint. On failure, including a rejection by an
// open breaker, the fallback produces the result; a fallback result that is
// itself deferred is awaited. Without a fallback the failure is returned.
func (r *Runner) Run(ctx context.Context, endpoint string, args []any, call shape.Call, fallback contract.FallbackFunc) (any, error) {
	v, err := r.guarded(ctx, endpoint, call)
	if err == nil {
		return v, nil
	}
	if fallback == nil {
		return nil, err
	}

	r.log.WithEndpoint(endpoint).WithError(err).Warn("call failed, using fallback")

	v, ferr := fallback(ctx, args, err)
	if ferr != nil {
		return nil, ferr
	}
	if a, ok := v.(shape.Awaitable); ok {
		return a.Await(ctx)
	}
	return v, nil
}

func (r *Runner) guarded(ctx context.Context, endpoint string, call shape.Call) (any, error) {
	if r.breakers == nil {
		return call(ctx)
	}

	b := r.breakers.Get(endpoint)
	if !b.Allow() {
		return nil, &OpenError{Endpoint: endpoint, State: b.State()}
	}

	v, err := call(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case CountsAsFailure(err):
		b.RecordFailure()
	default:
		b.RecordIgnored()
	}
	return v, err
}

// CountsAsFailure reports whether err indicates an unhealthy endpoint:
// transport and read failures and 5xx responses. Caller mistakes,
// cancellations and 4xx responses leave the breaker untouched.
func CountsAsFailure(err error) bool {
	if remote, ok := errors.AsRemote(err); ok {
		return remote.IsServerError()
	}
	switch errors.GetKind(err) {
	case errors.Transport:
		return errors.GetReason(err) != errors.ReasonCancelled
	case errors.Configuration, errors.RequestEncoding:
		return false
	}
	return true
}
