package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the ledger needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxLedger stores balances in the profiles table and reservations in
// credit_reservations. Every state change is a single statement, so the
// balance is never read and written in separate round trips.
type PgxLedger struct {
	db DB
}

// NewPgxLedger creates a ledger on top of a pgx pool or connection.
func NewPgxLedger(db DB) *PgxLedger {
	return &PgxLedger{db: db}
}

func (l *PgxLedger) Reserve(ctx context.Context, userID string, amount int64, feature string) (*Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	id, err := newReservationID()
	if err != nil {
		return nil, err
	}

	res := &Reservation{
		ID:      id,
		UserID:  userID,
		Amount:  amount,
		Feature: feature,
		Status:  StatusPending,
	}
	var remaining int64
	err = l.db.QueryRow(ctx, reserveSQL, id, userID, amount, feature).Scan(&res.CreatedAt, &remaining)
	if err == nil {
		logger.Debug("[Ledger] Reserved credits", "reservation", id, "user", userID, "amount", amount, "remaining", remaining)
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reserve credits: %w", err)
	}

	// the conditional debit matched nothing; read the balance for the error only
	available, berr := l.Balance(ctx, userID)
	if berr != nil {
		return nil, fmt.Errorf("reserve credits: %w", berr)
	}
	return nil, &InsufficientCreditsError{UserID: userID, Needed: amount, Available: available}
}

func (l *PgxLedger) Commit(ctx context.Context, reservationID string) error {
	var userID string
	err := l.db.QueryRow(ctx, commitSQL, reservationID).Scan(&userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return l.settleError(ctx, reservationID)
}

func (l *PgxLedger) Release(ctx context.Context, reservationID string) error {
	var balance int64
	err := l.db.QueryRow(ctx, releaseSQL, reservationID).Scan(&balance)
	if err == nil {
		logger.Debug("[Ledger] Released reservation", "reservation", reservationID, "balance", balance)
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("release reservation: %w", err)
	}
	return l.settleError(ctx, reservationID)
}

// settleError explains why a settle statement matched no pending row.
func (l *PgxLedger) settleError(ctx context.Context, reservationID string) error {
	var status string
	err := l.db.QueryRow(ctx, reservationStatusSQL, reservationID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("load reservation: %w", err)
	}
	return ErrReservationSettled
}

func (l *PgxLedger) Balance(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := l.db.QueryRow(ctx, balanceSQL, userID).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return credits, nil
}

func (l *PgxLedger) Grant(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var credits int64
	if err := l.db.QueryRow(ctx, grantSQL, userID, amount, reason).Scan(&credits); err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	logger.Info("[Ledger] Granted credits", "user", userID, "amount", amount, "reason", reason, "balance", credits)
	return credits, nil
}

func (l *PgxLedger) ReleaseExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	var released int64
	if err := l.db.QueryRow(ctx, releaseExpiredSQL, olderThan.Milliseconds()).Scan(&released); err != nil {
		return 0, fmt.Errorf("release expired reservations: %w", err)
	}
	return int(released), nil
}

const reserveSQL = `
WITH debit AS (
    UPDATE profiles
    SET credits = credits - $3, updated_at = now()
    WHERE user_id = $2 AND credits >= $3
    RETURNING user_id, credits
), reservation AS (
    INSERT INTO credit_reservations (id, user_id, amount, feature, status)
    SELECT $1, debit.user_id, $3, $4, 'pending' FROM debit
    RETURNING created_at
)
SELECT reservation.created_at, debit.credits FROM reservation, debit;
`

const commitSQL = `
UPDATE credit_reservations
SET status = 'committed', settled_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING user_id;
`

const releaseSQL = `
WITH settled AS (
    UPDATE credit_reservations
    SET status = 'released', settled_at = now()
    WHERE id = $1 AND status = 'pending'
    RETURNING user_id, amount
)
UPDATE profiles AS p
SET credits = p.credits + settled.amount, updated_at = now()
FROM settled
WHERE p.user_id = settled.user_id
RETURNING p.credits;
`

const reservationStatusSQL = `
SELECT status FROM credit_reservations WHERE id = $1;
`

const balanceSQL = `
SELECT credits FROM profiles WHERE user_id = $1;
`

const grantSQL = `
WITH upsert AS (
    INSERT INTO profiles (user_id, credits)
    VALUES ($1, $2)
    ON CONFLICT (user_id) DO UPDATE
    SET credits = profiles.credits + EXCLUDED.credits, updated_at = now()
    RETURNING credits
), audit AS (
    INSERT INTO credit_grants (user_id, amount, reason)
    VALUES ($1, $2, $3)
)
SELECT credits FROM upsert;
`

const releaseExpiredSQL = `
WITH expired AS (
    UPDATE credit_reservations
    SET status = 'released', settled_at = now()
    WHERE status = 'pending'
      AND created_at < now() - ($1::bigint * interval '1 millisecond')
    RETURNING user_id, amount
), refunds AS (
    SELECT user_id, sum(amount) AS amount, count(*) AS n
    FROM expired
    GROUP BY user_id
), credited AS (
    UPDATE profiles AS p
    SET credits = p.credits + refunds.amount, updated_at = now()
    FROM refunds
    WHERE p.user_id = refunds.user_id
)
SELECT coalesce(sum(n), 0)::bigint FROM refunds;
`
