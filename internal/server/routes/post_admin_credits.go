package routes

import (
	"errors"
	"net/http"

	"github.com/narrativeiq/backend/internal/server/middleware"
	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/ledger"
	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GrantCreditsHandler adds credits to a user's balance. It is the entry
// point for payment confirmations and manual top-ups.
func GrantCreditsHandler(c echo.Context) error {
	type grantCreditsBody struct {
		UserID string `json:"user_id" validate:"required,max=128"`
		Amount int64  `json:"amount" validate:"required,min=1,max=1000000"`
		Reason string `json:"reason" validate:"required,max=256"`
	}

	ac := c.(*middleware.AppContext)
	if ac.User == nil {
		return unauthorized(c)
	}

	data := new(grantCreditsBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	reason := util.SanitizePostgresText(data.Reason)
	balance, err := ac.App.Ledger.Grant(c.Request().Context(), data.UserID, data.Amount, reason)
	if errors.Is(err, ledger.ErrInvalidAmount) {
		return badRequest(c, "amount must be positive")
	}
	if err != nil {
		logger.Error("Failed to grant credits", "user_id", data.UserID, "err", err)
		return internalError(c, "")
	}

	logger.Info("[Server] Granted credits",
		"user_id", data.UserID,
		"amount", data.Amount,
		"reason", reason,
		"granted_by", ac.User.UserID,
	)

	return c.JSON(http.StatusOK, creditsResponse{
		UserID:  data.UserID,
		Credits: balance,
	})
}
