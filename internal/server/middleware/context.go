package middleware

import (
	"context"

	"github.com/narrativeiq/backend/internal/queue"
	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/graph"
	"github.com/narrativeiq/backend/pkg/leaselock"
	"github.com/narrativeiq/backend/pkg/ledger"
	"github.com/narrativeiq/backend/pkg/render"
	"github.com/narrativeiq/backend/pkg/store"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// GraphGenerator runs the narrative pipeline.
type GraphGenerator interface {
	ValidateInput(text string) error
	GenerateGraph(ctx context.Context, text string, opts graph.GenerateOptions) (*graph.Result, error)
}

// GraphLayouter positions a built graph.
type GraphLayouter interface {
	Layout(ctx context.Context, g *common.Graph, opts graph.LayoutOptions) (*common.PositionedGraph, error)
}

// LeaseLocker guards a key for the duration of fn.
type LeaseLocker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// DocumentReader reads user documents from object storage.
type DocumentReader interface {
	GetText(ctx context.Context, key string, maxBytes int64) (string, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Costs are the credit prices of the paid routes.
type Costs struct {
	Mindmap      int64
	MindmapImage int64
}

// App holds the collaborators shared by all handlers. Optional fields may be
// nil: without Leases the Idempotency-Key header is ignored, without
// Publisher analyses are not persisted and without S3 no download links are
// signed.
type App struct {
	Graph     GraphGenerator
	Layout    GraphLayouter
	Renderer  render.Renderer
	Ledger    ledger.Ledger
	Leases    LeaseLocker
	Documents DocumentReader
	Analyses  store.AnalysisStorage
	Publisher queue.Publisher
	S3        *s3.Client
	Key       keyfunc.Keyfunc

	Costs            Costs
	MaxDocumentBytes int64

	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
