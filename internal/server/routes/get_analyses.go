package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/narrativeiq/backend/internal/server/middleware"
	"github.com/narrativeiq/backend/internal/storage"
	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/store"
	storepgx "github.com/narrativeiq/backend/pkg/store/pgx"

	"github.com/labstack/echo/v4"
)

// GetAnalysesHandler lists the caller's most recent analyses.
func GetAnalysesHandler(c echo.Context) error {
	type getAnalysesResponse struct {
		Analyses []store.Analysis `json:"analyses"`
	}

	ac := c.(*middleware.AppContext)
	if ac.User == nil {
		return unauthorized(c)
	}
	if ac.App.Analyses == nil {
		return c.JSON(http.StatusOK, getAnalysesResponse{Analyses: []store.Analysis{}})
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive number")
		}
		limit = n
	}

	analyses, err := ac.App.Analyses.ListAnalyses(c.Request().Context(), ac.User.UserID, limit)
	if err != nil {
		logger.Error("Failed to list analyses", "user_id", ac.User.UserID, "err", err)
		return internalError(c, "")
	}
	if analyses == nil {
		analyses = []store.Analysis{}
	}

	return c.JSON(http.StatusOK, getAnalysesResponse{Analyses: analyses})
}

// GetAnalysisDownloadHandler returns a short lived link to the stored graph
// of one of the caller's analyses.
func GetAnalysisDownloadHandler(c echo.Context) error {
	type getAnalysisDownloadResponse struct {
		Analysis *store.Analysis `json:"analysis"`
		URL      string          `json:"url"`
	}

	ac := c.(*middleware.AppContext)
	if ac.User == nil {
		return unauthorized(c)
	}
	id := c.Param("id")
	if ac.App.Analyses == nil || ac.App.S3 == nil || !util.IsRequestID(id) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "Analysis not found"})
	}

	ctx := c.Request().Context()
	analysis, err := ac.App.Analyses.GetAnalysis(ctx, ac.User.UserID, id)
	if errors.Is(err, storepgx.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "Analysis not found"})
	}
	if err != nil {
		logger.Error("Failed to load analysis", "request_id", id, "err", err)
		return internalError(c, "")
	}

	url, err := storage.GenerateDownloadLink(ctx, ac.App.S3, analysis.ObjectKey)
	if err != nil {
		logger.Error("Failed to sign download link", "key", analysis.ObjectKey, "err", err)
		return internalError(c, "")
	}

	return c.JSON(http.StatusOK, getAnalysisDownloadResponse{Analysis: analysis, URL: url})
}
