package client

import (
	"context"
	"reflect"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
)

// Call invokes m and returns its result as T. T must be the method's
// declared return type; methods returning nothing accept any interface T
// and yield its zero value.
func Call[T any](ctx context.Context, c *Client, m *contract.Method, args ...any) (T, error) {
	var zero T
	if m == nil {
		return zero, errors.NewConfigurationError("", "nil method")
	}

	want := reflect.TypeFor[T]()
	declared := m.ReturnType
	if declared != want && !(declared == nil && want.Kind() == reflect.Interface) {
		return zero, errors.Configurationf(m.ID(), "declared return type is %v, not %v", declared, want)
	}

	v, err := c.Invoke(ctx, m, args...)
	if err != nil || v == nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, errors.Configurationf(m.ID(), "handler produced %T, want %v", v, want)
	}
	return out, nil
}
