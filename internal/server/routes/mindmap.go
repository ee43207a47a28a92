package routes

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/narrativeiq/backend/internal/queue"
	"github.com/narrativeiq/backend/internal/server/middleware"
	"github.com/narrativeiq/backend/internal/storage"
	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/graph"
	"github.com/narrativeiq/backend/pkg/leaselock"
	"github.com/narrativeiq/backend/pkg/ledger"
	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

const (
	featureMindmap      = "mindmap"
	featureMindmapImage = "mindmap_image"

	maxIdempotencyKeyLen = 128
	publishTimeout       = 5 * time.Second
)

type mindmapOptions struct {
	Layout      bool    `json:"layout"`
	Seed        *uint64 `json:"seed"`
	Iterations  int     `json:"iterations" validate:"omitempty,min=1,max=2000"`
	MinMentions int     `json:"min_mentions" validate:"omitempty,min=1,max=50"`
}

type mindmapBody struct {
	Text        string         `json:"text"`
	DocumentKey string         `json:"document_key" validate:"omitempty,max=1024"`
	Options     mindmapOptions `json:"options"`
}

type flowNodeData struct {
	Label       string            `json:"label"`
	Type        common.EntityType `json:"type"`
	Aliases     []string          `json:"aliases"`
	Mentions    int               `json:"mentions"`
	Source      common.Provenance `json:"source"`
	Description string            `json:"description,omitempty"`
}

type flowNode struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Data     flowNodeData     `json:"data"`
	Position *common.Position `json:"position,omitempty"`
}

type flowEdgeData struct {
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
}

type flowEdge struct {
	ID     string       `json:"id"`
	Source string       `json:"source"`
	Target string       `json:"target"`
	Label  string       `json:"label"`
	Data   flowEdgeData `json:"data"`
}

type mindmapResponse struct {
	RequestID        string         `json:"request_id"`
	Nodes            []flowNode     `json:"nodes"`
	Edges            []flowEdge     `json:"edges"`
	Metrics          common.Summary `json:"metrics"`
	Synopsis         string         `json:"synopsis,omitempty"`
	Themes           []string       `json:"themes"`
	Seed             *uint64        `json:"seed,omitempty"`
	Truncated        bool           `json:"truncated,omitempty"`
	CreditsCharged   int64          `json:"credits_charged"`
	CreditsRemaining *int64         `json:"credits_remaining,omitempty"`
}

// pipelineOutput is what a paid run produced before its reservation commits.
type pipelineOutput struct {
	result     *graph.Result
	positioned *common.PositionedGraph
}

// paidRun describes a committed request.
type paidRun struct {
	requestID        string
	output           *pipelineOutput
	creditsRemaining *int64
}

// loadText returns the narrative text of the request. A document key must
// point below the caller's own document prefix.
func loadText(ctx context.Context, app *middleware.App, userID string, body *mindmapBody) (string, error) {
	if body.DocumentKey == "" {
		return body.Text, nil
	}
	if body.Text != "" {
		return "", &graph.InputError{Reason: "send either text or document_key, not both"}
	}
	if app.Documents == nil {
		return "", &graph.InputError{Reason: "documents are not available"}
	}

	key := body.DocumentKey
	if path.Clean(key) != key || !strings.HasPrefix(key, storage.DocumentPrefix(userID)) {
		return "", &graph.InputError{Reason: "document_key is not one of your documents"}
	}

	maxBytes := app.MaxDocumentBytes
	if maxBytes <= 0 {
		maxBytes = 4 * graph.DefaultMaxInputChars
	}
	text, err := app.Documents.GetText(ctx, key, maxBytes)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return "", &graph.InputError{Reason: "document not found"}
	case errors.Is(err, storage.ErrObjectTooLarge):
		return "", &graph.InputError{Reason: "document is too large"}
	case errors.Is(err, storage.ErrNotText):
		return "", &graph.InputError{Reason: "document is not plain UTF-8 text"}
	case err != nil:
		return "", fmt.Errorf("load document: %w", err)
	}
	return text, nil
}

// runPaid validates the request, then reserves cost and runs the pipeline
// under the reservation. finish, when set, runs after the graph is built and
// laid out and is part of the paid work. Nothing is reserved for requests
// that fail validation.
func runPaid(
	c echo.Context,
	requestID string,
	feature string,
	cost int64,
	body *mindmapBody,
	layout bool,
	finish func(ctx context.Context, out *pipelineOutput) error,
) (*paidRun, error) {
	ac := c.(*middleware.AppContext)
	app := ac.App
	user := ac.User
	ctx := c.Request().Context()

	idemKey := c.Request().Header.Get("Idempotency-Key")
	if len(idemKey) > maxIdempotencyKeyLen {
		return nil, &graph.InputError{Reason: "Idempotency-Key is too long"}
	}

	text, err := loadText(ctx, app, user.UserID, body)
	if err != nil {
		return nil, err
	}
	if err := app.Graph.ValidateInput(text); err != nil {
		return nil, err
	}

	var out *pipelineOutput
	run := func(ctx context.Context) error {
		var err error
		out, err = ledger.WithReservation(ctx, app.Ledger, user.UserID, cost, feature,
			func(ctx context.Context) (*pipelineOutput, error) {
				res, err := app.Graph.GenerateGraph(ctx, text, graph.GenerateOptions{
					MinMentions: body.Options.MinMentions,
				})
				if err != nil {
					return nil, err
				}
				o := &pipelineOutput{result: res}
				if layout {
					o.positioned, err = app.Layout.Layout(ctx, res.Graph, graph.LayoutOptions{
						Seed:       body.Options.Seed,
						Iterations: body.Options.Iterations,
					})
					if err != nil {
						return nil, fmt.Errorf("layout: %w", err)
					}
				}
				if finish != nil {
					if err := finish(ctx, o); err != nil {
						return nil, err
					}
				}
				return o, nil
			})
		return err
	}

	if idemKey != "" && app.Leases != nil {
		err = app.Leases.WithLease(ctx, "idem:"+user.UserID+":"+idemKey, leaselock.Options{}, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	pr := &paidRun{requestID: requestID, output: out}
	if balance, err := app.Ledger.Balance(ctx, user.UserID); err == nil {
		pr.creditsRemaining = &balance
	} else {
		logger.Warn("[Server] Failed to read balance after commit", "request_id", requestID, "err", err)
	}

	publishAnalysis(ctx, app, queue.QueueAnalysisMsg{
		RequestID: requestID,
		UserID:    user.UserID,
		Feature:   feature,
		Credits:   cost,
		Graph:     out.result.Graph,
		CreatedAt: time.Now().UTC(),
	})
	return pr, nil
}

// publishAnalysis hands the delivered graph to the worker. The request has
// already been paid for, so a failure is only logged.
func publishAnalysis(ctx context.Context, app *middleware.App, msg queue.QueueAnalysisMsg) {
	if app.Publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := queue.PublishAnalysis(pubCtx, app.Publisher, msg); err != nil {
		logger.Error("[Server] Failed to queue analysis", "request_id", msg.RequestID, "err", err)
	}
}

func toFlow(g *common.Graph, pg *common.PositionedGraph) ([]flowNode, []flowEdge) {
	nodes := make([]flowNode, 0, len(g.Entities))
	for _, e := range g.Entities {
		n := flowNode{
			ID:   e.ID,
			Type: string(e.Type),
			Data: flowNodeData{
				Label:       e.Name,
				Type:        e.Type,
				Aliases:     e.Aliases,
				Mentions:    e.Mentions,
				Source:      e.Source,
				Description: e.Description,
			},
		}
		if pg != nil {
			if p, ok := pg.Positions[e.ID]; ok {
				n.Position = &p
			}
		}
		nodes = append(nodes, n)
	}

	edges := make([]flowEdge, 0, len(g.Relationships))
	for i, r := range g.Relationships {
		edges = append(edges, flowEdge{
			ID:     fmt.Sprintf("edge_%d", i),
			Source: r.SourceID,
			Target: r.TargetID,
			Label:  r.Label,
			Data:   flowEdgeData{Type: r.Type, Weight: r.Weight},
		})
	}
	return nodes, edges
}
