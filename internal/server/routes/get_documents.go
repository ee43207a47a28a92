package routes

import (
	"net/http"
	"strings"

	"github.com/narrativeiq/backend/internal/server/middleware"
	"github.com/narrativeiq/backend/internal/storage"
	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetDocumentsHandler lists the document keys usable as document_key.
func GetDocumentsHandler(c echo.Context) error {
	type document struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	type getDocumentsResponse struct {
		Documents []document `json:"documents"`
	}

	ac := c.(*middleware.AppContext)
	if ac.User == nil {
		return unauthorized(c)
	}
	docs := make([]document, 0)
	if ac.App.Documents == nil {
		return c.JSON(http.StatusOK, getDocumentsResponse{Documents: docs})
	}

	prefix := storage.DocumentPrefix(ac.User.UserID)
	keys, err := ac.App.Documents.ListKeys(c.Request().Context(), prefix)
	if err != nil {
		logger.Error("Failed to list documents", "user_id", ac.User.UserID, "err", err)
		return internalError(c, "")
	}
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		docs = append(docs, document{Key: k, Name: name})
	}

	return c.JSON(http.StatusOK, getDocumentsResponse{Documents: docs})
}
