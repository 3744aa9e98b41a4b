package handler

import (
	"context"
	"reflect"

	"github.com/PentesterFlow/OpenClient/internal/transport"
	"github.com/PentesterFlow/OpenClient/pkg/shape"
)

var responseType = reflect.TypeFor[*transport.Response]()

var noneFactory = Factory{
	Name:    "none",
	Accepts: func(t reflect.Type) bool { return t == nil },
	Build:   newExchange,
}

var rawFactory = Factory{
	Name:    "response",
	Accepts: func(t reflect.Type) bool { return t == responseType },
	Build:   newExchange,
}

var decodedFactory = Factory{
	Name:    "decoded",
	Accepts: func(t reflect.Type) bool { return t != nil },
	Build:   newExchange,
}

// exchange sends the request and reads the response into t. A nil t reads
// nothing; *transport.Response is returned unread and the caller closes it.
type exchange struct {
	t      reflect.Type
	target *Target
}

func newExchange(t reflect.Type, target *Target) (Handler, error) {
	return &exchange{t: t, target: target}, nil
}

func (h *exchange) Handle(ctx context.Context, args []any) (any, error) {
	resp, err := h.target.Executor.Exchange(ctx, h.target.Method, args)
	if err != nil {
		return nil, err
	}
	return h.read(resp)
}

func (h *exchange) HandleAsync(ctx context.Context, args []any) *shape.Promise {
	p := shape.NewPromise()
	pending := h.target.Executor.ExchangeAsync(ctx, h.target.Method, args)
	go func() {
		o := <-pending
		if o.Err != nil {
			p.Complete(nil, o.Err)
			return
		}
		p.Complete(h.read(o.Response))
	}()
	return p
}

func (h *exchange) read(resp *transport.Response) (any, error) {
	if h.t == responseType {
		return resp, nil
	}
	result, err := h.target.Reader.Read(resp, h.t)
	if err != nil {
		return nil, err
	}
	if !result.Present {
		return nil, nil
	}
	return result.Value, nil
}
