package ai

import (
	"context"
	"errors"
	"time"

	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures a BreakerClient.
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32        // probes allowed while half-open
	Interval         time.Duration // closed-state counter reset period
	Timeout          time.Duration // open-state duration before probing
	FailureThreshold uint32        // consecutive transport failures that open the breaker
}

// BreakerClient wraps a GraphAIClient with a circuit breaker. Only transport
// failures count against the breaker; schema failures mean the backend is up.
type BreakerClient struct {
	next GraphAIClient
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps next. Zero settings fall back to 5 consecutive
// failures and a 30s open state.
func NewBreakerClient(next GraphAIClient, s BreakerSettings) *BreakerClient {
	if s.Name == "" {
		s.Name = "llm"
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	threshold := s.FailureThreshold

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var te *TransportError
			return !errors.As(err, &te)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("[AI] Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &BreakerClient{next: next, cb: cb}
}

// State returns the current breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) wrap(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransportError{Op: op, Err: err}
	}
	return err
}

func (b *BreakerClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...GenerateOption,
) (string, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.GenerateCompletion(ctx, prompt, opts...)
	})
	if err != nil {
		return "", b.wrap("completion", err)
	}
	return res.(string), nil
}

func (b *BreakerClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...GenerateOption,
) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.GenerateCompletionWithFormat(ctx, name, description, prompt, out, opts...)
	})
	return b.wrap(name, err)
}

func (b *BreakerClient) ResetMetrics() {
	b.next.ResetMetrics()
}

func (b *BreakerClient) GetMetrics() ModelMetrics {
	return b.next.GetMetrics()
}
