package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/narrativeiq/backend/internal/storage"
	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/store"
)

// AnalysisQueue carries delivered graphs to the worker for persistence.
const AnalysisQueue = "analysis_queue"

var ErrInvalidMessage = errors.New("invalid analysis message")

// QueueAnalysisMsg is published once a paid request has committed.
type QueueAnalysisMsg struct {
	RequestID string        `json:"request_id"`
	UserID    string        `json:"user_id"`
	Feature   string        `json:"feature"`
	Credits   int64         `json:"credits"`
	Graph     *common.Graph `json:"graph"`
	CreatedAt time.Time     `json:"created_at"`
}

// ObjectWriter stores JSON documents.
type ObjectWriter interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// PublishAnalysis serializes msg onto the analysis queue.
func PublishAnalysis(ctx context.Context, ch Publisher, msg QueueAnalysisMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal analysis message: %w", err)
	}
	if err := PublishFIFO(ctx, ch, AnalysisQueue, body, nil); err != nil {
		return fmt.Errorf("publish analysis message: %w", err)
	}
	return nil
}

// ProcessAnalysisMessage writes the graph to object storage and records the
// analysis row. Both writes are keyed by request id, so redelivery is safe.
func ProcessAnalysisMessage(
	ctx context.Context,
	objects ObjectWriter,
	analyses store.AnalysisStorage,
	body []byte,
) error {
	var data QueueAnalysisMsg
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if data.RequestID == "" || data.UserID == "" || data.Graph == nil {
		return fmt.Errorf("%w: missing request id, user id or graph", ErrInvalidMessage)
	}

	key := storage.AnalysisKey(data.UserID, data.RequestID)
	if err := objects.PutJSON(ctx, key, data.Graph); err != nil {
		return fmt.Errorf("store analysis graph: %w", err)
	}

	createdAt := data.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := analyses.SaveAnalysis(ctx, store.Analysis{
		RequestID:     data.RequestID,
		UserID:        data.UserID,
		Feature:       data.Feature,
		ObjectKey:     key,
		Entities:      data.Graph.Summary.EntityTotal,
		Relationships: data.Graph.Summary.EdgeCount,
		Complexity:    data.Graph.Summary.Complexity,
		Credits:       data.Credits,
		CreatedAt:     createdAt,
	})
	if err != nil {
		return err
	}

	logger.Info("[Queue] Stored analysis", "request_id", data.RequestID, "user_id", data.UserID, "key", key)
	return nil
}
