package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/narrativeiq/backend/pkg/ai"
	"github.com/narrativeiq/backend/pkg/graph"
	"github.com/narrativeiq/backend/pkg/leaselock"
	"github.com/narrativeiq/backend/pkg/ledger"
	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/render"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type insufficientCreditsResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	CreditsNeeded  int64  `json:"credits_needed"`
	CurrentCredits int64  `json:"current_credits"`
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{
		Error:   "invalid_input",
		Message: message,
	})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func internalError(c echo.Context, requestID string) error {
	return c.JSON(http.StatusInternalServerError, errorResponse{
		Error:     "internal_error",
		Message:   "Internal server error",
		RequestID: requestID,
	})
}

// respondError maps a pipeline or ledger failure to its HTTP response.
// Internal details never reach the client.
func respondError(c echo.Context, requestID string, err error) error {
	var (
		insufficient *ledger.InsufficientCreditsError
		input        *graph.InputError
		transport    *ai.TransportError
	)

	switch {
	case errors.As(err, &insufficient):
		return c.JSON(http.StatusPaymentRequired, insufficientCreditsResponse{
			Error:          "insufficient_credits",
			Message:        "Not enough credits for this operation",
			CreditsNeeded:  insufficient.Needed,
			CurrentCredits: insufficient.Available,
		})
	case errors.As(err, &input):
		return badRequest(c, input.Reason)
	case errors.Is(err, leaselock.ErrBusy):
		return c.JSON(http.StatusConflict, errorResponse{
			Error:   "duplicate_request",
			Message: "A request with this Idempotency-Key is already in progress",
		})
	case errors.Is(err, ai.ErrTimeout):
		logger.Warn("[Server] Structuring pass timed out", "request_id", requestID, "err", err)
		return c.JSON(http.StatusGatewayTimeout, errorResponse{
			Error:     "timeout",
			Message:   "The analysis took too long, please retry",
			Retryable: true,
			RequestID: requestID,
		})
	case ai.IsRetryable(err), errors.Is(err, context.Canceled):
		logger.Warn("[Server] Language model unavailable", "request_id", requestID, "err", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{
			Error:     "upstream_unavailable",
			Message:   "The analysis service is temporarily unavailable, please retry",
			Retryable: true,
			RequestID: requestID,
		})
	case ai.IsSchema(err), errors.Is(err, render.ErrRender), errors.As(err, &transport):
		logger.Warn("[Server] Upstream produced an unusable result", "request_id", requestID, "err", err)
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:     "processing_failed",
			Message:   "Processing failed",
			RequestID: requestID,
		})
	case errors.Is(err, graph.ErrInvalidGraph):
		logger.Error("[Server] Built graph violated an invariant", "request_id", requestID, "err", err)
	default:
		logger.Error("[Server] Request failed", "request_id", requestID, "err", err)
	}

	return internalError(c, requestID)
}
