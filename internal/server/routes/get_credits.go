package routes

import (
	"net/http"

	"github.com/narrativeiq/backend/internal/server/middleware"
	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

type creditsResponse struct {
	UserID  string `json:"user_id"`
	Credits int64  `json:"credits"`
}

func GetCreditsHandler(c echo.Context) error {
	user, err := middleware.CurrentUser(c)
	if err != nil {
		return unauthorized(c)
	}
	ac := c.(*middleware.AppContext)

	balance, err := ac.App.Ledger.Balance(c.Request().Context(), user.UserID)
	if err != nil {
		logger.Error("Failed to read balance", "user_id", user.UserID, "err", err)
		return internalError(c, "")
	}

	return c.JSON(http.StatusOK, creditsResponse{
		UserID:  user.UserID,
		Credits: balance,
	})
}
