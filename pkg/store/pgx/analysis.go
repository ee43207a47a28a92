package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when an analysis does not exist for the user.
var ErrNotFound = errors.New("analysis not found")

// DB is the subset of pgxpool.Pool the storage needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AnalysisDBStorage implements store.AnalysisStorage on Postgres.
type AnalysisDBStorage struct {
	conn DB
}

func NewAnalysisDBStorage(conn DB) *AnalysisDBStorage {
	return &AnalysisDBStorage{conn: conn}
}

const defaultListLimit = 50

func (s *AnalysisDBStorage) SaveAnalysis(ctx context.Context, a store.Analysis) error {
	tag, err := s.conn.Exec(ctx, saveAnalysisSQL,
		a.RequestID,
		a.UserID,
		a.Feature,
		a.ObjectKey,
		a.Entities,
		a.Relationships,
		a.Complexity,
		a.Credits,
	)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		logger.Debug("[Store] Analysis already recorded", "request_id", a.RequestID)
	}
	return nil
}

func (s *AnalysisDBStorage) ListAnalyses(ctx context.Context, userID string, limit int) ([]store.Analysis, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	rows, err := s.conn.Query(ctx, listAnalysesSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[store.Analysis])
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return out, nil
}

func (s *AnalysisDBStorage) GetAnalysis(ctx context.Context, userID string, requestID string) (*store.Analysis, error) {
	rows, err := s.conn.Query(ctx, getAnalysisSQL, userID, requestID)
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[store.Analysis])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

const saveAnalysisSQL = `
INSERT INTO analyses (request_id, user_id, feature, object_key, entities, relationships, complexity, credits)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (request_id) DO NOTHING;
`

const analysisColumns = `
request_id, user_id, feature, object_key, entities, relationships, complexity, credits, created_at
`

const listAnalysesSQL = `
SELECT ` + analysisColumns + `
FROM analyses
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`

const getAnalysisSQL = `
SELECT ` + analysisColumns + `
FROM analyses
WHERE user_id = $1 AND request_id = $2;
`
