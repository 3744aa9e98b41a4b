package transport

import (
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/PentesterFlow/OpenClient/internal/errors"
)

// Retrying re-sends requests that fail with a retryable transport error.
// Responses whose status is listed in statuses are retried too; when the
// budget runs out the last such response is returned as-is so the reader
// reports it as a remote error.
func Retrying(retrier *errors.Retrier, statuses ...int) Middleware {
	retryStatus := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		retryStatus[s] = true
	}

	return func(next Transport) Transport {
		return Func(func(ctx context.Context, req *Request) (*Response, error) {
			var statusErr error

			resp, result := errors.DoWithResult(ctx, retrier, req.URL, func(ctx context.Context) (*Response, error) {
				statusErr = nil

				out, err := next.Do(ctx, req)
				if err != nil || !retryStatus[out.StatusCode] {
					return out, err
				}

				body, _ := io.ReadAll(out.Body)
				out.Body.Close()
				out.Body = io.NopCloser(bytes.NewReader(body))
				statusErr = errors.NewTransportError(req.URL, errors.ReasonRateLimited, "retryable status "+strconv.Itoa(out.StatusCode), nil)
				return out, statusErr
			})

			if result.Success {
				return resp, nil
			}
			if resp != nil && statusErr != nil && result.LastError == statusErr {
				return resp, nil
			}
			return nil, result.LastError
		})
	}
}
