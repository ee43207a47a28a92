package routes

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/narrativeiq/backend/internal/server/middleware"
	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/render"

	"github.com/labstack/echo/v4"
)

// CreateMindmapImageHandler builds, lays out and renders the narrative graph
// and responds with the image as an attachment. The credits are only
// committed once the image was rendered.
func CreateMindmapImageHandler(c echo.Context) error {
	type createMindmapImageBody struct {
		mindmapBody
		Style render.Style `json:"style"`
	}

	ac := c.(*middleware.AppContext)
	if ac.User == nil {
		return unauthorized(c)
	}

	data := new(createMindmapImageBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if data.Style.Format == "" {
		data.Style.Format = "png"
	}

	requestID := util.NewRequestID()
	cost := ac.App.Costs.MindmapImage

	var img *render.Image
	renderImage := func(ctx context.Context, out *pipelineOutput) error {
		var err error
		img, err = ac.App.Renderer.Render(ctx, out.positioned, data.Style)
		return err
	}

	run, err := runPaid(c, requestID, featureMindmapImage, cost, &data.mindmapBody, true, renderImage)
	if err != nil {
		return respondError(c, requestID, err)
	}

	h := c.Response().Header()
	h.Set("X-Request-ID", run.requestID)
	h.Set("X-Layout-Seed", strconv.FormatUint(run.output.positioned.Seed, 10))
	h.Set("X-Credits-Charged", strconv.FormatInt(cost, 10))
	if run.creditsRemaining != nil {
		h.Set("X-Credits-Remaining", strconv.FormatInt(*run.creditsRemaining, 10))
	}
	h.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "mindmap-"+run.requestID+"."+img.Extension()))

	return c.Blob(http.StatusOK, img.ContentType, img.Data)
}
