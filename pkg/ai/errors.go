package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrTimeout marks a model call that exceeded its time budget.
var ErrTimeout = errors.New("ai: model call timed out")

// TransportError means the model could not be reached or refused the request.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ai %s: transport error (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ai %s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether a retry could succeed: network failures,
// timeouts, rate limiting and server errors.
func (e *TransportError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// SchemaError means the model replied but the reply did not fit the schema.
// Raw keeps the reply for debug logging only.
type SchemaError struct {
	Op  string
	Raw string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("ai %s: invalid structured output: %v", e.Op, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transport failure worth one more try.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}

// IsSchema reports whether err is a structured output failure.
func IsSchema(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// WrapCallError classifies an error returned by a backend call. Caller
// cancellation passes through untouched; a deadline hit while the caller is
// still waiting becomes a TransportError wrapping ErrTimeout.
func WrapCallError(ctx context.Context, op string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransportError{Op: op, StatusCode: statusCode, Err: fmt.Errorf("%w: %w", ErrTimeout, err)}
	}
	return &TransportError{Op: op, StatusCode: statusCode, Err: err}
}
