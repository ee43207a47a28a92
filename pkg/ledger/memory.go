package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps balances in process. It backs tests and the offline
// CLI. All state changes happen under one mutex and no I/O runs while it
// is held.
type MemoryLedger struct {
	mu           sync.Mutex
	balances     map[string]int64
	reservations map[string]*Reservation

	now func() time.Time
}

// NewMemoryLedger creates a ledger with the given starting balances.
func NewMemoryLedger(balances map[string]int64) *MemoryLedger {
	m := &MemoryLedger{
		balances:     make(map[string]int64, len(balances)),
		reservations: make(map[string]*Reservation),
		now:          time.Now,
	}
	for user, credits := range balances {
		m.balances[user] = credits
	}
	return m
}

func (m *MemoryLedger) Reserve(ctx context.Context, userID string, amount int64, feature string) (*Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := newReservationID()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.balances[userID]
	if available < amount {
		return nil, &InsufficientCreditsError{UserID: userID, Needed: amount, Available: available}
	}
	m.balances[userID] = available - amount

	res := &Reservation{
		ID:        id,
		UserID:    userID,
		Amount:    amount,
		Feature:   feature,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}
	m.reservations[id] = res

	out := *res
	return &out, nil
}

func (m *MemoryLedger) Commit(ctx context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.pending(reservationID)
	if err != nil {
		return err
	}
	res.Status = StatusCommitted
	return nil
}

func (m *MemoryLedger) Release(ctx context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.pending(reservationID)
	if err != nil {
		return err
	}
	res.Status = StatusReleased
	m.balances[res.UserID] += res.Amount
	return nil
}

// pending must be called with mu held.
func (m *MemoryLedger) pending(reservationID string) (*Reservation, error) {
	res, ok := m.reservations[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	if res.Status != StatusPending {
		return nil, ErrReservationSettled
	}
	return res, nil
}

func (m *MemoryLedger) Balance(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *MemoryLedger) Grant(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	return m.balances[userID], nil
}

func (m *MemoryLedger) ReleaseExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	released := 0
	for _, res := range m.reservations {
		if res.Status == StatusPending && res.CreatedAt.Before(cutoff) {
			res.Status = StatusReleased
			m.balances[res.UserID] += res.Amount
			released++
		}
	}
	return released, nil
}

// Reservation returns a copy of a reservation, mainly for tests.
func (m *MemoryLedger) Reservation(reservationID string) (Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return Reservation{}, false
	}
	return *res, true
}

// Pending returns the number of unsettled reservations.
func (m *MemoryLedger) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, res := range m.reservations {
		if res.Status == StatusPending {
			n++
		}
	}
	return n
}
