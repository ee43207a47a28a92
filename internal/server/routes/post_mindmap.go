package routes

import (
	"net/http"

	"github.com/narrativeiq/backend/internal/server/middleware"
	"github.com/narrativeiq/backend/internal/util"

	"github.com/labstack/echo/v4"
)

// CreateMindmapHandler builds the narrative graph of a text and returns it
// as React Flow nodes and edges. Positions are included when options.layout
// is set.
func CreateMindmapHandler(c echo.Context) error {
	ac := c.(*middleware.AppContext)
	if ac.User == nil {
		return unauthorized(c)
	}

	data := new(mindmapBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	requestID := util.NewRequestID()
	cost := ac.App.Costs.Mindmap

	run, err := runPaid(c, requestID, featureMindmap, cost, data, data.Options.Layout, nil)
	if err != nil {
		return respondError(c, requestID, err)
	}

	g := run.output.result.Graph
	nodes, edges := toFlow(g, run.output.positioned)
	resp := mindmapResponse{
		RequestID:        run.requestID,
		Nodes:            nodes,
		Edges:            edges,
		Metrics:          g.Summary,
		Synopsis:         g.Synopsis,
		Themes:           g.Themes,
		Truncated:        run.output.result.Truncated,
		CreditsCharged:   cost,
		CreditsRemaining: run.creditsRemaining,
	}
	if pg := run.output.positioned; pg != nil {
		seed := pg.Seed
		resp.Seed = &seed
	}

	return c.JSON(http.StatusOK, resp)
}
