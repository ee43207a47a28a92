package store

import (
	"context"
	"time"
)

// Analysis is the persisted record of a delivered graph. The graph itself
// lives in object storage under ObjectKey.
type Analysis struct {
	RequestID     string    `json:"request_id" db:"request_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Feature       string    `json:"feature" db:"feature"`
	ObjectKey     string    `json:"object_key" db:"object_key"`
	Entities      int       `json:"entities" db:"entities"`
	Relationships int       `json:"relationships" db:"relationships"`
	Complexity    float64   `json:"complexity" db:"complexity"`
	Credits       int64     `json:"credits" db:"credits"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// AnalysisStorage records analyses. Saving is idempotent on RequestID so a
// redelivered queue message does not create a second row.
type AnalysisStorage interface {
	SaveAnalysis(ctx context.Context, a Analysis) error
	ListAnalyses(ctx context.Context, userID string, limit int) ([]Analysis, error)
	GetAnalysis(ctx context.Context, userID string, requestID string) (*Analysis, error)
}
