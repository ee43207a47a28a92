// Package ledger meters paid operations in credits. Every paid operation
// reserves its cost up front and settles the reservation exactly once:
// commit when the result was delivered, release (refund) otherwise.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/metrics"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationSettled  = errors.New("reservation already settled")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
)

// InsufficientCreditsError is returned by Reserve when the balance does not
// cover the amount. Nothing is reserved in that case.
type InsufficientCreditsError struct {
	UserID    string
	Needed    int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Needed, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Status is the settlement state of a reservation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusReleased  Status = "released"
)

// Reservation holds credits taken from a balance until it is settled.
type Reservation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Feature   string    `json:"feature"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger is a per-user credit balance with reserve / commit / release
// semantics. Implementations must make Reserve atomic: two concurrent
// reservations can never both succeed against a balance that only covers one.
type Ledger interface {
	Reserve(ctx context.Context, userID string, amount int64, feature string) (*Reservation, error)
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error

	Balance(ctx context.Context, userID string) (int64, error)
	Grant(ctx context.Context, userID string, amount int64, reason string) (int64, error)

	// ReleaseExpired refunds reservations still pending after olderThan and
	// returns how many were released.
	ReleaseExpired(ctx context.Context, olderThan time.Duration) (int, error)
}

const settleTimeout = 10 * time.Second

func newReservationID() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	return "res_" + id, nil
}

// WithReservation reserves amount, runs fn and settles the reservation: it
// commits when fn succeeds and releases when fn fails or panics. Settling
// ignores cancellation of ctx so a disconnected client is still refunded.
//
// A failed commit after fn succeeded is logged and not reported; the
// reservation stays pending and the expiry sweeper refunds it.
func WithReservation[T any](
	ctx context.Context,
	l Ledger,
	userID string,
	amount int64,
	feature string,
	fn func(ctx context.Context) (T, error),
) (result T, err error) {
	res, err := l.Reserve(ctx, userID, amount, feature)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("reserve_failed", feature).Inc()
		return result, err
	}
	metrics.LedgerOperations.WithLabelValues("reserve", feature).Inc()

	settle := func(op string, do func(context.Context, string) error) {
		settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		defer cancel()
		if serr := do(settleCtx, res.ID); serr != nil {
			logger.Error("[Ledger] Failed to settle reservation", "op", op, "reservation", res.ID, "user", userID, "err", serr)
			return
		}
		metrics.LedgerOperations.WithLabelValues(op, feature).Inc()
	}

	defer func() {
		if p := recover(); p != nil {
			settle("release", l.Release)
			panic(p)
		}
	}()

	result, err = fn(ctx)
	if err != nil {
		settle("release", l.Release)
		var zero T
		return zero, err
	}
	settle("commit", l.Commit)
	return result, nil
}
